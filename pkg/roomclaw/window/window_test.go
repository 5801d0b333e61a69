package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/markup"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func newTestWindow(t *testing.T, totalLines int) *Window {
	t.Helper()
	return New("w1", numberedLines(totalLines), Options{
		Source:     "test://content",
		SourceType: "test",
		ScrollSize: 20,
		MaxLines:   50,
	}, testLogger())
}

func checkBounds(t *testing.T, w *Window) {
	t.Helper()
	top, bottom := w.Viewport()
	total := w.TotalLines()
	if total < 1 {
		total = 1
	}
	if top < 1 || top > bottom || bottom > total {
		t.Errorf("viewport invariant violated: 1 <= %d <= %d <= %d", top, bottom, total)
	}
}

func TestScrollDown(t *testing.T) {
	w := newTestWindow(t, 100)

	t.Run("initial viewport", func(t *testing.T) {
		if top, bottom := w.Viewport(); top != 1 || bottom != 20 {
			t.Errorf("initial viewport = (%d,%d), want (1,20)", top, bottom)
		}
	})

	t.Run("one step", func(t *testing.T) {
		w.ScrollDown()
		if top, bottom := w.Viewport(); top != 20 || bottom != 40 {
			t.Errorf("after scrollDown = (%d,%d), want (20,40)", top, bottom)
		}
		checkBounds(t, w)
	})

	t.Run("clamped at end stays put", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			w.ScrollDown()
		}
		top1, bottom1 := w.Viewport()
		if bottom1 != 100 {
			t.Errorf("expected bottom clamped to 100, got %d", bottom1)
		}
		w.ScrollDown()
		if top2, bottom2 := w.Viewport(); top2 != top1 || bottom2 != bottom1 {
			t.Errorf("clamped viewport moved: (%d,%d) -> (%d,%d)", top1, bottom1, top2, bottom2)
		}
		checkBounds(t, w)
	})
}

func TestScrollUpAndToLine(t *testing.T) {
	w := newTestWindow(t, 100)
	w.ScrollToLine(50)
	if top, _ := w.Viewport(); top != 50 {
		t.Errorf("scrollToLine top = %d, want 50", top)
	}
	checkBounds(t, w)

	w.ScrollUp()
	if top, _ := w.Viewport(); top != 30 {
		t.Errorf("after scrollUp top = %d, want 30", top)
	}
	checkBounds(t, w)

	t.Run("scrollToLine clamps to leave a scroll step", func(t *testing.T) {
		w.ScrollToLine(99)
		if top, _ := w.Viewport(); top != 80 {
			t.Errorf("top = %d, want 80 (total-scrollSize)", top)
		}
		checkBounds(t, w)
	})

	t.Run("scrollUp past start clamps to 1", func(t *testing.T) {
		w.ScrollToLine(1)
		w.ScrollUp()
		if top, _ := w.Viewport(); top != 1 {
			t.Errorf("top = %d, want 1", top)
		}
		checkBounds(t, w)
	})
}

func TestScrollClearsMinimizedAndResetsCounter(t *testing.T) {
	w := newTestWindow(t, 100)
	w.Minimize()
	if w.Mode() != ModeMinimized {
		t.Fatal("expected minimized")
	}
	w.Tick()
	w.Tick()
	w.ScrollDown()
	if w.Mode() != ModeNormal {
		t.Error("scroll should clear minimized")
	}
	if w.AutoCloseLeft() != DefaultAutoCloseTurns {
		t.Errorf("auto-close counter = %d, want reset to %d", w.AutoCloseLeft(), DefaultAutoCloseTurns)
	}
}

func TestResize(t *testing.T) {
	w := newTestWindow(t, 100)
	w.Resize(10)
	if top, bottom := w.Viewport(); top != 1 || bottom != 10 {
		t.Errorf("resize(10) viewport = (%d,%d), want (1,10)", top, bottom)
	}

	t.Run("span bounded by maxLines", func(t *testing.T) {
		w.Resize(500)
		if top, bottom := w.Viewport(); bottom-top+1 > 50 {
			t.Errorf("span %d exceeds maxLines 50", bottom-top+1)
		}
		checkBounds(t, w)
	})

	t.Run("span bounded by content", func(t *testing.T) {
		small := New("w2", numberedLines(5), Options{ScrollSize: 20}, testLogger())
		small.Resize(10)
		if top, bottom := small.Viewport(); top != 1 || bottom != 5 {
			t.Errorf("viewport = (%d,%d), want (1,5)", top, bottom)
		}
		checkBounds(t, small)
	})
}

func TestMaximize(t *testing.T) {
	w := newTestWindow(t, 100)

	t.Run("reports the maxLines limit", func(t *testing.T) {
		if limited := w.Maximize(); !limited {
			t.Error("100 lines > maxLines 50: expected limited=true")
		}
		if w.Mode() != ModeMaximized {
			t.Error("expected maximized")
		}
	})

	t.Run("small content not limited", func(t *testing.T) {
		small := New("w2", numberedLines(5), Options{}, testLogger())
		if limited := small.Maximize(); limited {
			t.Error("expected limited=false for small content")
		}
	})

	t.Run("minimize clears maximized", func(t *testing.T) {
		w.Minimize()
		if w.Mode() != ModeMinimized {
			t.Error("expected minimized")
		}
	})
}

func TestLifecycle(t *testing.T) {
	t.Run("unpinned window expires", func(t *testing.T) {
		w := New("w1", "x", Options{AutoClose: 2}, testLogger())
		if w.Tick() {
			t.Error("should not expire after first tick")
		}
		if !w.Tick() {
			t.Error("should expire after second tick")
		}
	})

	t.Run("pinned never expires", func(t *testing.T) {
		w := New("w1", "x", Options{AutoClose: 1, Pinned: true}, testLogger())
		for i := 0; i < 10; i++ {
			if w.Tick() {
				t.Fatal("pinned window expired")
			}
		}
	})

	t.Run("system never expires", func(t *testing.T) {
		w := New("w1", "x", Options{AutoClose: 1, System: true}, testLogger())
		for i := 0; i < 10; i++ {
			if w.Tick() {
				t.Fatal("system window expired")
			}
		}
	})

	t.Run("unpin restarts countdown", func(t *testing.T) {
		w := New("w1", "x", Options{AutoClose: 3, Pinned: true}, testLogger())
		w.Unpin()
		if w.AutoCloseLeft() != 3 {
			t.Errorf("auto-close = %d, want 3", w.AutoCloseLeft())
		}
	})

	t.Run("relax clears maximized on plain windows only", func(t *testing.T) {
		plain := New("w1", numberedLines(5), Options{}, testLogger())
		plain.Maximize()
		plain.Relax()
		if plain.Mode() != ModeNormal {
			t.Error("plain window should relax")
		}

		sys := New("w2", numberedLines(5), Options{System: true}, testLogger())
		sys.Maximize()
		sys.Relax()
		if sys.Mode() != ModeMaximized {
			t.Error("system window should stay maximized")
		}
	})
}

func TestRender(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent without events", func(t *testing.T) {
		w := newTestWindow(t, 100)
		first := markup.Serialize(w.Render(ctx, 0))
		second := markup.Serialize(w.Render(ctx, 0))
		if first != second {
			t.Errorf("render not idempotent:\n%s\n%s", first, second)
		}
	})

	t.Run("normal mode carries viewport bounds", func(t *testing.T) {
		w := newTestWindow(t, 100)
		n := w.Render(ctx, 0)
		if v, _ := n.Get("topLine"); v != "1" {
			t.Errorf("topLine = %q", v)
		}
		if v, _ := n.Get("bottomLine"); v != "20" {
			t.Errorf("bottomLine = %q", v)
		}
		if n.HasFlag("maximized") || n.HasFlag("minimized") {
			t.Error("normal mode must omit display-state flags")
		}
	})

	t.Run("maximized shows full content, no bounds", func(t *testing.T) {
		w := newTestWindow(t, 30)
		w.Maximize()
		n := w.Render(ctx, 0)
		if !n.HasFlag("maximized") {
			t.Error("missing maximized flag")
		}
		if _, ok := n.Get("topLine"); ok {
			t.Error("maximized render must omit viewport bounds")
		}
		text, _ := n.Text()
		if !strings.Contains(text, "line 30") {
			t.Error("maximized render should include the last line")
		}
	})

	t.Run("truncation appends warning within budget", func(t *testing.T) {
		w := newTestWindow(t, 100)
		budget := 100
		n := w.Render(ctx, budget)
		text, _ := n.Text()
		if len(text) > budget {
			t.Errorf("rendered %d chars, budget %d", len(text), budget)
		}
		if !strings.HasSuffix(text, truncationWarning) {
			t.Error("expected truncation warning suffix")
		}
	})

	t.Run("query pair renders before content", func(t *testing.T) {
		w := newTestWindow(t, 10)
		w.ShowQuery("needle", "3 matches")
		n := w.Render(ctx, 0)
		text, _ := n.Text()
		if !strings.HasPrefix(text, "query: needle") {
			t.Errorf("query header missing: %q", text)
		}
	})

	t.Run("auto-close attributes", func(t *testing.T) {
		w := New("w1", "x", Options{AutoClose: 3}, testLogger())
		n := w.Render(ctx, 0)
		if v, _ := n.Get("autoCloseInTurns"); v != "3" {
			t.Errorf("autoCloseInTurns = %q", v)
		}
		w.Tick()
		w.Tick()
		n = w.Render(ctx, 0)
		if !n.HasFlag("aboutToClose") {
			t.Error("expected aboutToClose flag at <=1 turns")
		}

		pinned := New("w2", "x", Options{Pinned: true}, testLogger())
		n = pinned.Render(ctx, 0)
		if _, ok := n.Get("autoCloseInTurns"); ok {
			t.Error("pinned window must omit auto-close attributes")
		}
	})

	t.Run("custom attributes never overwrite reserved", func(t *testing.T) {
		w := newTestWindow(t, 10)
		w.SetCustom("id", "spoofed")
		w.SetCustom("origin", "tool")
		n := w.Render(ctx, 0)
		if v, _ := n.Get("id"); v != "w1" {
			t.Errorf("reserved id overwritten: %q", v)
		}
		if v, _ := n.Get("origin"); v != "tool" {
			t.Errorf("custom attribute missing: %q", v)
		}
	})
}

func TestAutoRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh replaces content and re-clamps", func(t *testing.T) {
		calls := 0
		w := New("w1", numberedLines(100), Options{
			ScrollSize:  20,
			AutoRefresh: true,
			Refresh: func(ctx context.Context) (string, error) {
				calls++
				return numberedLines(10), nil
			},
		}, testLogger())
		w.ScrollToLine(80)
		w.Render(ctx, 0)
		if calls != 1 {
			t.Fatalf("refresh calls = %d", calls)
		}
		checkBounds(t, w)
		if w.TotalLines() != 10 {
			t.Errorf("content not replaced: %d lines", w.TotalLines())
		}
	})

	t.Run("refresh failure keeps stale content", func(t *testing.T) {
		w := New("w1", "stale", Options{
			AutoRefresh: true,
			Refresh: func(ctx context.Context) (string, error) {
				return "", errors.New("fetch failed")
			},
		}, testLogger())
		n := w.Render(ctx, 0)
		text, _ := n.Text()
		if text != "stale" {
			t.Errorf("content = %q, want stale kept", text)
		}
	})
}

func TestIDSource(t *testing.T) {
	ids := NewIDSource()
	a, b := ids.Next(), ids.Next()
	if a == b {
		t.Errorf("ids not unique: %q %q", a, b)
	}
	if a != "w1" || b != "w2" {
		t.Errorf("unexpected ids: %q %q", a, b)
	}
}

package store

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, "notes/today.txt", "first\n", WriteOverwrite); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, "notes/today.txt", "second\n", WriteAppend); err != nil {
		t.Fatalf("append: %v", err)
	}

	info, err := s.Read(ctx, "notes/today.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if info.Content != "first\nsecond\n" {
		t.Errorf("content = %q", info.Content)
	}
	if !strings.HasPrefix(info.ContentType, "text/plain") {
		t.Errorf("contentType = %q", info.ContentType)
	}
	if info.ModTime.IsZero() {
		t.Error("modTime missing")
	}

	t.Run("overwrite replaces", func(t *testing.T) {
		if err := s.Write(ctx, "notes/today.txt", "fresh", WriteOverwrite); err != nil {
			t.Fatal(err)
		}
		info, err := s.Read(ctx, "notes/today.txt")
		if err != nil {
			t.Fatal(err)
		}
		if info.Content != "fresh" {
			t.Errorf("content = %q", info.Content)
		}
	})
}

func TestTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, locator := range []string{"../escape.txt", "a/../../escape.txt", "/etc/passwd"} {
		t.Run(locator, func(t *testing.T) {
			if err := s.Write(ctx, locator, "x", WriteOverwrite); err == nil {
				t.Errorf("expected rejection for %q", locator)
			}
			if _, err := s.Read(ctx, locator); err == nil {
				t.Errorf("expected read rejection for %q", locator)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := strings.Join([]string{
		"alpha",
		"bravo",
		"needle one",
		"charlie",
		"delta",
		"NEEDLE two",
		"echo",
	}, "\n")
	if err := s.Write(ctx, "hay.txt", content, WriteOverwrite); err != nil {
		t.Fatal(err)
	}

	t.Run("fixed match is case-insensitive with context", func(t *testing.T) {
		matches, err := s.Search(ctx, "hay.txt", "needle", SearchFixed)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("matches = %d, want 2", len(matches))
		}
		first := matches[0]
		if first.Line != 3 {
			t.Errorf("line = %d, want 3", first.Line)
		}
		if len(first.Before) != 2 || first.Before[0] != "alpha" {
			t.Errorf("before = %v", first.Before)
		}
		if len(first.After) != 2 || first.After[1] != "delta" {
			t.Errorf("after = %v", first.After)
		}
	})

	t.Run("regex mode", func(t *testing.T) {
		matches, err := s.Search(ctx, "hay.txt", `^needle \w+$`, SearchRegex)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(matches) != 1 || matches[0].Line != 3 {
			t.Errorf("matches = %+v", matches)
		}
	})

	t.Run("bad regex is an error", func(t *testing.T) {
		if _, err := s.Search(ctx, "hay.txt", `([`, SearchRegex); err == nil {
			t.Error("expected compile error")
		}
	})
}

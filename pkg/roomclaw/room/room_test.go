package room

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/markup"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/memory"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/tasks"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/window"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeArchive struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeArchive) AppendArchive(_ context.Context, agentID, roomID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, text)
	return nil
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]string
	results []memory.Result
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{indexed: make(map[string]string)}
}

func (f *fakeIndex) IndexItem(_ context.Context, itemID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[itemID] = text
	return nil
}

func (f *fakeIndex) Search(_ context.Context, query string, k int, exclude func(string) bool) ([]memory.Result, error) {
	var out []memory.Result
	for _, r := range f.results {
		if exclude != nil && exclude(r.ItemID) {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

type testEnv struct {
	archive *fakeArchive
	index   *fakeIndex
	queue   *tasks.Queue
	svc     Services
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		archive: &fakeArchive{},
		index:   newFakeIndex(),
		queue:   tasks.NewQueue(1, 64, testLogger()),
	}
	env.svc = Services{
		AgentID: "agent-bot",
		AdminID: "user-admin",
		Archive: env.archive,
		Index:   env.index,
		Tasks:   env.queue,
		Windows: window.NewIDSource(),
		Logger:  testLogger(),
		Now:     func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) },
	}
	return env
}

func members() []channels.Member {
	return []channels.Member{
		{ID: "agent-bot", Name: "Bot"},
		{ID: "user-admin", Name: "Ana"},
		{ID: "user-2", Name: "Bo"},
	}
}

func TestAddEventPersistence(t *testing.T) {
	env := newTestEnv(t)
	r := New("room1", "sys1", false, env.svc)

	r.AddEvent(markup.NewMessage("user-2", "hello there", time.Now()), true)
	r.AddEvent(markup.NewText("note", "indexed only"), false)
	env.queue.Close()

	if len(env.archive.entries) != 1 {
		t.Fatalf("archive entries = %d, want 1", len(env.archive.entries))
	}
	if !strings.Contains(env.archive.entries[0], "hello there") {
		t.Errorf("archived text = %q", env.archive.entries[0])
	}
	if len(env.index.indexed) != 1 {
		t.Fatalf("indexed items = %d, want 1", len(env.index.indexed))
	}
	for _, text := range env.index.indexed {
		if text != "indexed only" {
			t.Errorf("indexed payload = %q", text)
		}
	}
}

func TestRenderDrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()
	r := New("room1", "sys1", false, env.svc)

	r.AddEvent(markup.NewMessage("user-2", "first", time.Now()), true)
	r.AddEvent(markup.NewMessage("user-2", "second", time.Now()), true)

	frag := r.Render(context.Background(), members(), 1, "test", false, false)
	if r.PendingCount() != 0 {
		t.Errorf("pending = %d after render, want 0", r.PendingCount())
	}
	if r.HistoryLen() != 2 {
		t.Errorf("history = %d, want 2", r.HistoryLen())
	}

	var newEvents *markup.Node
	for _, c := range frag.Children() {
		if c.Tag == "newEvents" {
			newEvents = c
		}
	}
	if newEvents == nil {
		t.Fatal("newEvents block missing")
	}
	text, _ := newEvents.Text()
	if !strings.Contains(text, "first") || !strings.Contains(text, "second") {
		t.Errorf("newEvents payload = %q", text)
	}
	if !newEvents.IsRaw() {
		t.Error("newEvents must be raw-serialized")
	}
}

func TestPreviewNeverMutates(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()
	r := New("room1", "sys1", false, env.svc)

	r.AddEvent(markup.NewMessage("user-2", "queued", time.Now()), true)
	r.Render(context.Background(), members(), 1, "boot", false, false)
	r.AddEvent(markup.NewMessage("user-2", "still queued", time.Now()), true)

	pendingBefore := r.PendingCount()
	historyBefore := r.HistoryLen()

	r.Render(context.Background(), members(), 2, "preview", false, true)
	r.Render(context.Background(), members(), 2, "preview", false, true)

	if r.PendingCount() != pendingBefore {
		t.Errorf("preview drained pending: %d -> %d", pendingBefore, r.PendingCount())
	}
	if r.HistoryLen() != historyBefore {
		t.Errorf("preview mutated history: %d -> %d", historyBefore, r.HistoryLen())
	}
}

func TestMemoryRoomWakeMarker(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()

	t.Run("memory room gets a marker on fresh cycles", func(t *testing.T) {
		r := New("memory", "sys1", true, env.svc)
		r.Render(context.Background(), nil, 7, "scheduled wakeup", false, false)
		if r.HistoryLen() != 1 {
			t.Fatalf("history = %d, want 1 wake marker", r.HistoryLen())
		}
		frag := r.Render(context.Background(), nil, 7, "scheduled wakeup", true, false)
		if r.HistoryLen() != 1 {
			t.Errorf("continuation added a marker: history = %d", r.HistoryLen())
		}
		_ = frag
	})

	t.Run("ordinary rooms get no marker", func(t *testing.T) {
		r := New("room1", "sys1", false, env.svc)
		r.Render(context.Background(), members(), 7, "scheduled wakeup", false, false)
		if r.HistoryLen() != 0 {
			t.Errorf("history = %d, want 0", r.HistoryLen())
		}
	})
}

func TestMemberTags(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()
	r := New("room1", "sys1", false, env.svc)

	frag := r.Render(context.Background(), members(), 1, "x", false, false)
	var memberList *markup.Node
	for _, c := range frag.Children() {
		if c.Tag == "members" {
			memberList = c
		}
	}
	if memberList == nil {
		t.Fatal("members element missing")
	}
	tagged := map[string]*markup.Node{}
	for _, m := range memberList.Children() {
		id, _ := m.Get("id")
		tagged[id] = m
	}
	if !tagged["agent-bot"].HasFlag("self") {
		t.Error("agent member missing self flag")
	}
	if !tagged["user-admin"].HasFlag("admin") {
		t.Error("admin member missing admin flag")
	}
	if tagged["user-2"].HasFlag("self") || tagged["user-2"].HasFlag("admin") {
		t.Error("plain member wrongly tagged")
	}
}

func TestDirectMessageFlag(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()

	t.Run("two members, no name", func(t *testing.T) {
		r := New("dm1", "sys1", false, env.svc)
		frag := r.Render(context.Background(), members()[:2], 1, "x", false, false)
		if !frag.HasFlag("directMessage") {
			t.Error("expected directMessage flag")
		}
	})

	t.Run("named room is not a DM", func(t *testing.T) {
		r := New("room1", "sys1", false, env.svc)
		r.SetName("general")
		frag := r.Render(context.Background(), members()[:2], 1, "x", false, false)
		if frag.HasFlag("directMessage") {
			t.Error("named room flagged as DM")
		}
	})

	t.Run("three members is not a DM", func(t *testing.T) {
		r := New("room2", "sys1", false, env.svc)
		frag := r.Render(context.Background(), members(), 1, "x", false, false)
		if frag.HasFlag("directMessage") {
			t.Error("three-member room flagged as DM")
		}
	})
}

func TestRelatedMemoriesFooter(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()
	env.index.results = []memory.Result{
		{ItemID: "old#1", Text: "an older related note", Score: 0.9},
		{ItemID: "room1#1", Text: "should be excluded", Score: 0.8},
	}

	t.Run("footer carries matches and excludes recent items", func(t *testing.T) {
		r := New("room1", "sys1", false, env.svc)
		r.AddEvent(markup.NewMessage("user-2", "hello", time.Now()), true)
		frag := r.Render(context.Background(), members(), 1, "x", false, false)

		var footer *markup.Node
		for _, c := range frag.Children() {
			if c.Tag == "relatedMemories" {
				footer = c
			}
		}
		if footer == nil {
			t.Fatal("footer missing")
		}
		for _, m := range footer.Children() {
			if id, _ := m.Get("id"); id == "room1#1" {
				t.Error("recent item not excluded from footer")
			}
		}
	})

	t.Run("memory room omits the footer", func(t *testing.T) {
		r := New("memory", "sys1", true, env.svc)
		frag := r.Render(context.Background(), nil, 1, "x", false, false)
		for _, c := range frag.Children() {
			if c.Tag == "relatedMemories" {
				t.Error("memory room must not carry a footer")
			}
		}
	})
}

func TestFunctionResultRecords(t *testing.T) {
	env := newTestEnv(t)
	r := New("memory", "sys1", true, env.svc)

	r.AddFunctionResult("open_window", `{"locator":"a.txt"}`, "opened w3")
	r.AddFunctionResult(MessageSendTool, `{"text":"hi"}`, "sent")
	env.queue.Close()

	if got := r.PendingCount(); got != 1 {
		t.Fatalf("pending = %d, want 1 (send_message not double-recorded)", got)
	}
	if len(env.archive.entries) != 1 {
		t.Fatalf("archive entries = %d, want 1", len(env.archive.entries))
	}
	if !strings.Contains(env.archive.entries[0], "open_window") {
		t.Errorf("archived = %q", env.archive.entries[0])
	}
}

func TestRenderWindowFollowsTail(t *testing.T) {
	env := newTestEnv(t)
	defer env.queue.Close()
	r := New("room1", "sys1", false, env.svc)

	for i := 0; i < 50; i++ {
		r.AddEvent(markup.NewMessage("user-2", "msg", time.Now()), true)
	}
	r.Render(context.Background(), members(), 1, "x", false, false)

	_, bottom := r.Window().Viewport()
	if bottom != r.Window().TotalLines() {
		t.Errorf("window bottom = %d, want total %d", bottom, r.Window().TotalLines())
	}
	if !r.Window().Pinned() || !r.Window().System() {
		t.Error("owned window must stay pinned and system-flagged")
	}
}

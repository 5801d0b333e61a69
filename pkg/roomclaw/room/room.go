// Package room – room.go holds per-conversation state: the pending event
// queue, the append-only history, and the renderer that assembles the
// room's snapshot fragment (member list, owned history window, new events,
// related-memory footer) for the agent's context.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/markup"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/memory"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/tasks"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/window"
)

const (
	// MessageSendTool is the tool whose effect is already visible as a
	// chat-message event; its results are not double-recorded.
	MessageSendTool = "send_message"

	// recentQueryItems is how many trailing history items seed the
	// relevance query (and are excluded from its candidates).
	recentQueryItems = 5

	// footerMatches is how many related memories a room fragment carries.
	footerMatches = 3

	// DefaultWindowBudget is the per-room character budget for the owned
	// history window.
	DefaultWindowBudget = 24000
)

// Archiver persists serialized events durably, keyed by agent identity.
type Archiver interface {
	AppendArchive(ctx context.Context, agentID, roomID, text string) error
}

// Index is the relevance index consulted for the related-memory footer.
type Index interface {
	IndexItem(ctx context.Context, itemID, text string) error
	Search(ctx context.Context, query string, k int, exclude func(itemID string) bool) ([]memory.Result, error)
}

// Services bundles the collaborators shared by every room of one agent.
type Services struct {
	AgentID      string // the agent's own member id on the platform
	AdminID      string // configured administrator member id
	Archive      Archiver
	Index        Index
	Tasks        *tasks.Queue
	Windows      *window.IDSource
	WindowBudget int
	Logger       *slog.Logger
	Now          func() time.Time
}

func (s *Services) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// entry pairs a history node with its relevance-index id.
type entry struct {
	node   *markup.Node
	itemID string
}

// Room is one conversation's event queue, history, and renderer. Rooms are
// created lazily on first reference and never destroyed.
type Room struct {
	id         string
	systemID   string
	name       string
	memoryRoom bool

	svc    Services
	logger *slog.Logger

	mu      sync.Mutex // guards pending and seq
	pending []entry
	seq     int

	history []entry

	win     *window.Window
	winOpts window.Options
}

// New creates a room. The owned history window is always pinned,
// system-flagged, and marked auto-refreshing.
func New(id, systemID string, memoryRoom bool, svc Services) *Room {
	if svc.WindowBudget <= 0 {
		svc.WindowBudget = DefaultWindowBudget
	}
	r := &Room{
		id:         id,
		systemID:   systemID,
		memoryRoom: memoryRoom,
		svc:        svc,
		logger:     svc.Logger.With("component", "room", "room_id", id),
	}
	r.winOpts = window.Options{
		Source:      "history://" + id,
		SourceType:  "history",
		ContentType: "markup",
		Pinned:      true,
		System:      true,
		AutoRefresh: true,
	}
	r.win = window.New(svc.Windows.Next(), "", r.winOpts, svc.Logger)
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Name returns the assigned room name, if any.
func (r *Room) Name() string { return r.name }

// SetName records the platform's display name for the room.
func (r *Room) SetName(name string) { r.name = name }

// IsMemoryRoom reports whether this is the agent's private memory room.
func (r *Room) IsMemoryRoom() bool { return r.memoryRoom }

// Window returns the owned history window.
func (r *Room) Window() *window.Window { return r.win }

// PendingCount returns the size of the pending event queue.
func (r *Room) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// HistoryLen returns the history length.
func (r *Room) HistoryLen() int { return len(r.history) }

// AddEvent enqueues an event. When persist is set the serialized node is
// appended to the durable archive; otherwise its text payload is submitted
// to the relevance index. Both paths are asynchronous and best-effort:
// submission failure is logged, never surfaced to the caller.
func (r *Room) AddEvent(node *markup.Node, persist bool) {
	r.mu.Lock()
	r.seq++
	e := entry{node: node, itemID: fmt.Sprintf("%s#%d", r.id, r.seq)}
	r.pending = append(r.pending, e)
	r.mu.Unlock()

	serialized := markup.Serialize(node)
	if persist {
		if err := r.svc.Tasks.Submit("archive", func(ctx context.Context) error {
			if r.svc.Archive == nil {
				return nil
			}
			return r.svc.Archive.AppendArchive(ctx, r.svc.AgentID, r.id, serialized)
		}); err != nil {
			r.logger.Warn("archive submit rejected", "error", err)
		}
		return
	}
	itemID, payload := e.itemID, textPayload(node)
	if err := r.svc.Tasks.Submit("index", func(ctx context.Context) error {
		if r.svc.Index == nil {
			return nil
		}
		return r.svc.Index.IndexItem(ctx, itemID, payload)
	}); err != nil {
		r.logger.Warn("index submit rejected", "error", err)
	}
}

// AddModelResponse records the model's free text as a thought.
func (r *Room) AddModelResponse(text string) {
	if text == "" {
		return
	}
	n := markup.New("thought").
		Attr("timestamp", r.svc.now().UTC().Format(time.RFC3339))
	n.Protect("timestamp")
	n.SetText(text, false)
	r.AddEvent(n, true)
}

// AddFunctionResult records one tool invocation paired with its result.
// The message-send tool is skipped: its effect is already visible as a
// chat-message event.
func (r *Room) AddFunctionResult(name, argsJSON, result string) {
	if name == MessageSendTool {
		return
	}
	n := markup.New("functionResult").
		Attr("name", name).
		Attr("timestamp", r.svc.now().UTC().Format(time.RFC3339))
	n.Protect("timestamp")
	n.Add(
		markup.NewText("args", argsJSON),
		markup.NewText("result", result),
	)
	r.AddEvent(n, true)
}

// Render assembles this room's snapshot fragment. Preview renders operate
// on a snapshot of history and never drain the pending queue or touch the
// owned window; otherwise pending events are drained into history and the
// window viewport is advanced to cover them.
func (r *Room) Render(ctx context.Context, members []channels.Member, turnID int, wakeReason string, continuation, preview bool) *markup.Node {
	var hist []entry
	var drained []entry

	if preview {
		hist = make([]entry, len(r.history))
		copy(hist, r.history)
	} else {
		r.mu.Lock()
		drained = r.pending
		r.pending = nil
		r.mu.Unlock()

		if !continuation && r.memoryRoom {
			marker := markup.NewEvent("wakeup", r.svc.now()).
				Attr("reason", wakeReason).
				AttrInt("turn", turnID)
			drained = append(drained, entry{node: marker})
		}
		r.history = append(r.history, drained...)
		hist = r.history
	}

	nodes := make([]*markup.Node, len(hist))
	for i, e := range hist {
		nodes[i] = e.node
	}
	content := markup.SerializeList(nodes)

	win := r.win
	if preview {
		// A throwaway window keeps preview renders free of side effects.
		win = window.New(r.win.ID(), content, r.winOpts, r.svc.Logger)
		win.ShowTail(0)
	} else {
		r.win.SetContent(content)
		newLines := 0
		if len(drained) > 0 {
			newNodes := make([]*markup.Node, len(drained))
			for i, e := range drained {
				newNodes[i] = e.node
			}
			newLines = countLines(markup.SerializeList(newNodes))
		}
		r.win.ShowTail(newLines)
	}

	roomNode := markup.New("room").Attr("id", r.id)
	if r.name != "" {
		roomNode.Attr("name", r.name)
	}
	// Rooms with at most two members and no assigned name behave as DMs.
	if r.name == "" && len(members) <= 2 {
		roomNode.SetFlag("directMessage")
	}

	memberList := markup.New("members")
	for _, m := range members {
		mn := markup.New("member").Attr("id", m.ID)
		if m.Name != "" {
			mn.Attr("name", m.Name)
		}
		if m.ID == r.svc.AgentID {
			mn.SetFlag("self")
		}
		if r.svc.AdminID != "" && m.ID == r.svc.AdminID {
			mn.SetFlag("admin")
		}
		memberList.Add(mn)
	}
	roomNode.Add(memberList)

	roomNode.Add(win.Render(ctx, r.svc.WindowBudget))

	if len(drained) > 0 {
		newNodes := make([]*markup.Node, len(drained))
		for i, e := range drained {
			newNodes[i] = e.node
		}
		ne := markup.New("newEvents")
		ne.SetText(markup.SerializeList(newNodes), true)
		roomNode.Add(ne)
	}

	if footer := r.relatedMemories(ctx, hist); footer != nil {
		roomNode.Add(footer)
	}
	return roomNode
}

// relatedMemories builds the footer of top relevance matches seeded by the
// trailing history items, which are themselves excluded from candidates.
// Omitted entirely for the memory room.
func (r *Room) relatedMemories(ctx context.Context, hist []entry) *markup.Node {
	if r.memoryRoom || r.svc.Index == nil || len(hist) == 0 {
		return nil
	}
	start := len(hist) - recentQueryItems
	if start < 0 {
		start = 0
	}
	recent := hist[start:]

	var query string
	excluded := make(map[string]bool, len(recent))
	for _, e := range recent {
		if query != "" {
			query += "\n"
		}
		query += textPayload(e.node)
		if e.itemID != "" {
			excluded[e.itemID] = true
		}
	}

	results, err := r.svc.Index.Search(ctx, query, footerMatches, func(itemID string) bool {
		return excluded[itemID]
	})
	if err != nil {
		r.logger.Warn("relevance search failed", "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}
	footer := markup.New("relatedMemories")
	for _, res := range results {
		footer.Add(markup.NewText("memory", res.Text).
			Attr("id", res.ItemID).
			Attr("score", strconv.FormatFloat(res.Score, 'f', 3, 64)))
	}
	return footer
}

// textPayload extracts the indexable text of a node: its text content when
// present, otherwise its serialized form.
func textPayload(n *markup.Node) string {
	if text, ok := n.Text(); ok && text != "" {
		return text
	}
	return markup.Serialize(n)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	return n
}

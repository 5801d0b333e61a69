// Package window – window.go implements the scrollable content container the
// agent uses to expose external or historical content to the model. A window
// holds a text body, a 1-based inclusive line viewport, a display mode, and
// lifecycle counters; rendering emits a markup element with the visible
// slice and the window's state attributes.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/markup"
)

// Display modes.
type Mode int

const (
	ModeNormal Mode = iota
	ModeMaximized
	ModeMinimized
)

const (
	// DefaultMaxLines caps how many lines a viewport may span.
	DefaultMaxLines = 200

	// DefaultScrollSize is how many lines one scroll step moves.
	DefaultScrollSize = 20

	// DefaultAutoCloseTurns is how many wake cycles an unpinned window
	// survives without interaction.
	DefaultAutoCloseTurns = 3

	// truncationWarning is appended verbatim when a render exceeds its
	// character budget.
	truncationWarning = "\n[window content truncated: character budget reached]"
)

// RefreshFunc re-fetches a window's content. It may perform I/O and must
// honor ctx cancellation.
type RefreshFunc func(ctx context.Context) (string, error)

// CloseEventFunc produces the event emitted when a window auto-closes.
type CloseEventFunc func(w *Window) *markup.Node

// IDSource hands out process-unique window identifiers. It is injected at
// construction; there is no package-level counter.
type IDSource struct {
	mu   sync.Mutex
	next int
}

// NewIDSource creates an id source starting at 1.
func NewIDSource() *IDSource {
	return &IDSource{}
}

// Next returns the next window id.
func (s *IDSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("w%d", s.next)
}

// Options configures a new window. Zero values take defaults.
type Options struct {
	Source      string // opaque content locator
	SourceType  string // e.g. "file", "history", "web"
	ContentType string // e.g. "text", "markup"
	MaxLines    int
	ScrollSize  int
	AutoClose   int // turns until auto-close when unpinned
	Pinned      bool
	System      bool
	AutoRefresh bool
	Refresh     RefreshFunc
	OnClose     CloseEventFunc
}

// Window is a stateful, scrollable content container.
type Window struct {
	id          string
	source      string
	sourceType  string
	contentType string

	content string
	lines   []string

	mode        Mode
	top, bottom int // 1-based, inclusive
	maxLines    int
	scrollSize  int

	pinned bool
	system bool

	autoClose        int
	initialAutoClose int

	refresh     RefreshFunc
	autoRefresh bool
	onClose     CloseEventFunc

	query       string
	queryResult string
	hasQuery    bool

	custom []markup.Attr

	logger *slog.Logger
}

// New creates a window with the given id and content.
func New(id, content string, opts Options, logger *slog.Logger) *Window {
	w := &Window{
		id:          id,
		source:      opts.Source,
		sourceType:  opts.SourceType,
		contentType: opts.ContentType,
		maxLines:    opts.MaxLines,
		scrollSize:  opts.ScrollSize,
		autoClose:   opts.AutoClose,
		pinned:      opts.Pinned,
		system:      opts.System,
		autoRefresh: opts.AutoRefresh,
		refresh:     opts.Refresh,
		onClose:     opts.OnClose,
		logger:      logger.With("component", "window", "window_id", id),
	}
	if w.contentType == "" {
		w.contentType = "text"
	}
	if w.maxLines <= 0 {
		w.maxLines = DefaultMaxLines
	}
	if w.scrollSize <= 0 {
		w.scrollSize = DefaultScrollSize
	}
	if w.autoClose <= 0 {
		w.autoClose = DefaultAutoCloseTurns
	}
	w.initialAutoClose = w.autoClose
	w.setContent(content)
	w.top = 1
	w.bottom = min(max(1, w.TotalLines()), w.scrollSize)
	return w
}

// ID returns the window identifier.
func (w *Window) ID() string { return w.id }

// Source returns the opaque content locator.
func (w *Window) Source() string { return w.source }

// Mode returns the current display mode.
func (w *Window) Mode() Mode { return w.mode }

// Pinned reports whether the window is pinned.
func (w *Window) Pinned() bool { return w.pinned }

// System reports whether the window is system-owned.
func (w *Window) System() bool { return w.system }

// AutoCloseLeft returns the remaining turns before auto-close.
func (w *Window) AutoCloseLeft() int { return w.autoClose }

// Viewport returns the current top and bottom lines.
func (w *Window) Viewport() (top, bottom int) { return w.top, w.bottom }

// TotalLines returns the line count of the content.
func (w *Window) TotalLines() int { return len(w.lines) }

// Content returns the full content.
func (w *Window) Content() string { return w.content }

// SetContent replaces the content and re-clamps the viewport.
func (w *Window) SetContent(content string) {
	w.setContent(content)
	w.clampTop()
}

func (w *Window) setContent(content string) {
	w.content = content
	if content == "" {
		w.lines = nil
		return
	}
	w.lines = strings.Split(content, "\n")
}

// SetCustom sets a free-form attribute merged into the rendered element.
// Reserved attribute names are never overwritten at render time.
func (w *Window) SetCustom(name, value string) {
	for i, a := range w.custom {
		if a.Name == name {
			w.custom[i].Value = value
			return
		}
	}
	w.custom = append(w.custom, markup.Attr{Name: name, Value: value})
}

// ScrollUp moves the viewport up by one scroll step. Clears Minimized and
// resets the auto-close counter.
func (w *Window) ScrollUp() {
	w.top -= w.scrollSize
	w.anchorTop()
	w.wake()
}

// ScrollDown moves the viewport down by one scroll step. Clears Minimized
// and resets the auto-close counter. Already clamped at the end of the
// content, the viewport stays put.
func (w *Window) ScrollDown() {
	w.bottom += w.scrollSize
	w.anchorBottom()
	w.wake()
}

// Resize sets the viewport span to n lines (bounded by maxLines and the
// content length), preserving the top line where possible.
func (w *Window) Resize(n int) {
	span := min(n, min(w.maxLines, max(1, w.TotalLines())))
	if span < 1 {
		span = 1
	}
	w.bottom = w.top + span - 1
	total := max(1, w.TotalLines())
	if w.bottom > total {
		w.bottom = total
		w.top = max(1, w.bottom-span+1)
	}
	w.wake()
}

// ScrollToLine positions the viewport top at line n (clamped so a full
// scroll step remains visible).
func (w *Window) ScrollToLine(n int) {
	total := w.TotalLines()
	limit := max(1, total-w.scrollSize)
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	w.top = n
	w.anchorTop()
	w.wake()
}

// ShowTail positions the viewport so the trailing span covers at least the
// given number of lines plus one scroll step.
func (w *Window) ShowTail(lines int) {
	total := max(1, w.TotalLines())
	w.bottom = total
	w.top = max(1, total-(lines+w.scrollSize)+1)
	if span := w.bottom - w.top + 1; span > w.maxLines {
		w.top = w.bottom - w.maxLines + 1
	}
}

// Maximize shows the full content (up to maxLines). Returns true when the
// content exceeds maxLines, so the caller can warn that the limit was hit.
func (w *Window) Maximize() (limited bool) {
	w.mode = ModeMaximized
	w.anchorTop()
	w.resetAutoClose()
	return w.TotalLines() > w.maxLines
}

// Minimize collapses the window.
func (w *Window) Minimize() {
	w.mode = ModeMinimized
	w.resetAutoClose()
}

// Pin marks the window pinned; pinned windows never auto-close.
func (w *Window) Pin() { w.pinned = true }

// Unpin clears the pin and restarts the auto-close countdown.
func (w *Window) Unpin() {
	w.pinned = false
	w.resetAutoClose()
}

// ShowQuery attaches a query/result pair rendered before the content.
func (w *Window) ShowQuery(query, result string) {
	w.query = query
	w.queryResult = result
	w.hasQuery = true
	w.resetAutoClose()
}

// ClearQuery removes the query/result pair.
func (w *Window) ClearQuery() {
	w.query = ""
	w.queryResult = ""
	w.hasQuery = false
	w.resetAutoClose()
}

// Tick advances the auto-close countdown by one turn. Returns true when the
// window expired and should be closed. Pinned and system windows never
// expire.
func (w *Window) Tick() bool {
	if w.pinned || w.system {
		return false
	}
	w.autoClose--
	return w.autoClose <= 0
}

// Relax clears Maximized on non-system, unpinned windows. Called once per
// wake cycle after the decrement pass.
func (w *Window) Relax() {
	if w.system || w.pinned {
		return
	}
	if w.mode == ModeMaximized {
		w.mode = ModeNormal
	}
}

// CloseEvent produces the close event for this window, or nil when no
// factory is set.
func (w *Window) CloseEvent() *markup.Node {
	if w.onClose == nil {
		return nil
	}
	return w.onClose(w)
}

// Render emits the window element. When auto-refresh is enabled the content
// is re-fetched first (refresh failure keeps the stale content and is
// logged). Rendered text beyond charBudget is truncated with a warning.
func (w *Window) Render(ctx context.Context, charBudget int) *markup.Node {
	if w.autoRefresh && w.refresh != nil {
		content, err := w.refresh(ctx)
		if err != nil {
			w.logger.Warn("window refresh failed", "source", w.source, "error", err)
		} else {
			w.SetContent(content)
		}
	}

	var text string
	switch w.mode {
	case ModeMaximized:
		text = w.content
	case ModeMinimized:
		text = ""
	default:
		text = w.visibleSlice()
	}
	if w.hasQuery {
		header := fmt.Sprintf("query: %s\n%s\n\n", w.query, w.queryResult)
		text = header + text
	}
	if charBudget > 0 && len(text) > charBudget {
		cut := charBudget - len(truncationWarning)
		if cut < 0 {
			cut = 0
		}
		text = text[:cut] + truncationWarning
	}

	n := markup.New("window").
		Attr("id", w.id).
		Attr("source", w.source).
		Attr("sourceType", w.sourceType).
		Attr("contentType", w.contentType).
		AttrInt("lines", w.TotalLines()).
		AttrInt("chars", len(w.content))
	switch w.mode {
	case ModeMaximized:
		n.SetFlag("maximized")
	case ModeMinimized:
		n.SetFlag("minimized")
	default:
		n.AttrInt("topLine", w.top)
		n.AttrInt("bottomLine", w.bottom)
	}
	if w.system {
		n.SetFlag("system")
	}
	if w.pinned {
		n.SetFlag("pinned")
	}
	if w.autoRefresh {
		n.SetFlag("autorefresh")
	}
	if w.refresh != nil {
		n.SetFlag("refreshable")
	}
	if !w.pinned {
		if w.autoClose > 1 {
			n.AttrInt("autoCloseInTurns", w.autoClose)
		} else {
			n.SetFlag("aboutToClose")
		}
	}
	// Custom attributes merge in without overwriting reserved keys.
	for _, a := range w.custom {
		if _, exists := n.Get(a.Name); exists {
			continue
		}
		n.Attr(a.Name, a.Value)
	}
	if text != "" {
		n.SetText(text, true)
	}
	return n
}

// visibleSlice returns the line range [top, bottom] of the content.
func (w *Window) visibleSlice() string {
	if len(w.lines) == 0 {
		return ""
	}
	top := w.top
	bottom := w.bottom
	if top < 1 {
		top = 1
	}
	if bottom > len(w.lines) {
		bottom = len(w.lines)
	}
	if top > bottom {
		return ""
	}
	return strings.Join(w.lines[top-1:bottom], "\n")
}

// wake clears Minimized and restarts the auto-close countdown after a
// viewport interaction.
func (w *Window) wake() {
	if w.mode == ModeMinimized {
		w.mode = ModeNormal
	}
	w.resetAutoClose()
}

func (w *Window) resetAutoClose() {
	w.autoClose = w.initialAutoClose
}

// anchorTop clamps the viewport keeping the top line authoritative.
func (w *Window) anchorTop() {
	total := max(1, w.TotalLines())
	if w.top < 1 {
		w.top = 1
	}
	if w.top > total {
		w.top = total
	}
	w.bottom = w.top + w.scrollSize
	if w.bottom > total {
		w.bottom = total
	}
	if span := w.bottom - w.top + 1; span > w.maxLines {
		w.bottom = w.top + w.maxLines - 1
	}
}

// anchorBottom clamps the viewport keeping the bottom line authoritative.
func (w *Window) anchorBottom() {
	total := max(1, w.TotalLines())
	if w.bottom > total {
		w.bottom = total
	}
	if w.bottom < 1 {
		w.bottom = 1
	}
	w.top = w.bottom - w.scrollSize
	if w.top < 1 {
		w.top = 1
	}
	if span := w.bottom - w.top + 1; span > w.maxLines {
		w.top = w.bottom - w.maxLines + 1
	}
}

// clampTop re-clamps after a content change, preserving the viewport shape.
func (w *Window) clampTop() {
	total := max(1, w.TotalLines())
	if w.top > total {
		w.top = total
	}
	if w.top < 1 {
		w.top = 1
	}
	if w.bottom > total {
		w.bottom = total
	}
	if w.bottom < w.top {
		w.bottom = w.top
	}
	if span := w.bottom - w.top + 1; span > w.maxLines {
		w.bottom = w.top + w.maxLines - 1
	}
}

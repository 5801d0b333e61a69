// Package agent – tools.go registers the built-in tool set: messaging,
// window manipulation, memory search, scheduling, and the scratch pad.
// Every tool returns a plain string result; errors become result strings
// at the dispatch layer so the protocol never stalls on a bad call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/llm"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/markup"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/store"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/window"
)

const (
	// scratchLocator is the scratch pad's file-store location.
	scratchLocator = "scratch.md"

	// searchMemoryDefaultK is the default match count for search_memory.
	searchMemoryDefaultK = 5
)

// Tool pairs an advertised definition with its handler.
type Tool struct {
	Def     llm.ToolDefinition
	Handler func(ctx context.Context, args map[string]any) (string, error)
}

// register adds one tool; registration order fixes the advertised order.
func (a *Agent) register(name, description string, params map[string]any, handler func(ctx context.Context, args map[string]any) (string, error)) {
	a.tools[name] = Tool{
		Def: llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        name,
				Description: description,
				Parameters:  params,
			},
		},
		Handler: handler,
	}
	a.toolOrder = append(a.toolOrder, name)
}

// toolDefinitions returns the advertised tool set in registration order.
func (a *Agent) toolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(a.toolOrder))
	for _, name := range a.toolOrder {
		defs = append(defs, a.tools[name].Def)
	}
	return defs
}

func params(required []string, props map[string]any) map[string]any {
	p := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		p["required"] = required
	}
	return p
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func (a *Agent) registerBuiltins() {
	a.tools = make(map[string]Tool)

	a.register("send_message",
		"Send a chat message to a room.",
		params([]string{"room_id", "text"}, map[string]any{
			"room_id": strProp("Target room identifier."),
			"text":    strProp("Message body."),
		}),
		a.toolSendMessage)

	a.register("open_window",
		"Open a window over a file so its content appears in your context. Unpinned windows auto-close after a few turns.",
		params([]string{"locator"}, map[string]any{
			"locator": strProp("File path relative to your file store."),
			"lines":   intProp("Viewport height in lines (optional)."),
			"pinned":  boolProp("Keep the window open until explicitly closed (optional)."),
		}),
		a.toolOpenWindow)

	a.register("close_window",
		"Close an open window.",
		params([]string{"window_id"}, map[string]any{
			"window_id": strProp("Window identifier."),
		}),
		a.toolCloseWindow)

	a.register("scroll_window",
		"Scroll a window up or down one step, or jump to a specific line.",
		params([]string{"window_id"}, map[string]any{
			"window_id": strProp("Window identifier."),
			"direction": strProp(`"up" or "down".`),
			"to_line":   intProp("Jump the viewport top to this line (overrides direction)."),
		}),
		a.toolScrollWindow)

	a.register("resize_window",
		"Change a window's viewport height.",
		params([]string{"window_id", "lines"}, map[string]any{
			"window_id": strProp("Window identifier."),
			"lines":     intProp("New viewport height in lines."),
		}),
		a.toolResizeWindow)

	a.register("maximize_window",
		"Show a window's full content, up to its line limit, until the end of this turn.",
		params([]string{"window_id"}, map[string]any{
			"window_id": strProp("Window identifier."),
		}),
		a.toolMaximizeWindow)

	a.register("minimize_window",
		"Collapse a window to its header only.",
		params([]string{"window_id"}, map[string]any{
			"window_id": strProp("Window identifier."),
		}),
		a.toolMinimizeWindow)

	a.register("pin_window",
		"Pin a window so it never auto-closes.",
		params([]string{"window_id"}, map[string]any{
			"window_id": strProp("Window identifier."),
		}),
		a.toolPinWindow)

	a.register("unpin_window",
		"Unpin a window, restarting its auto-close countdown.",
		params([]string{"window_id"}, map[string]any{
			"window_id": strProp("Window identifier."),
		}),
		a.toolUnpinWindow)

	a.register("search_window",
		"Search a window's content and jump the viewport to the first match.",
		params([]string{"window_id", "query"}, map[string]any{
			"window_id": strProp("Window identifier."),
			"query":     strProp("Case-insensitive substring to find."),
		}),
		a.toolSearchWindow)

	a.register("search_memory",
		"Search your long-term memory for related items.",
		params([]string{"query"}, map[string]any{
			"query": strProp("Free-text query."),
			"k":     intProp("Maximum matches to return (optional)."),
		}),
		a.toolSearchMemory)

	a.register("schedule_wakeup",
		"Schedule a future wakeup, either once after a delay or on a standing cron expression.",
		params([]string{"reason"}, map[string]any{
			"reason":        strProp("Why you want to wake up; shown as the wake reason."),
			"delay_seconds": intProp("Wake once after this many seconds."),
			"cron":          strProp(`Standing schedule as a cron expression (e.g. "0 9 * * *").`),
		}),
		a.toolScheduleWakeup)

	a.register("write_scratch",
		"Write to your scratch pad; it stays visible in your context as a pinned window.",
		params([]string{"text"}, map[string]any{
			"text":   strProp("Text to write."),
			"append": boolProp("Append instead of overwriting (optional)."),
		}),
		a.toolWriteScratch)

	a.register("sleep",
		"End your activity for this turn, optionally noting why the next wakeup happens.",
		params(nil, map[string]any{
			"reason": strProp("Carried as the next cycle's wake reason (optional)."),
		}),
		a.toolSleep)
}

func (a *Agent) toolSendMessage(ctx context.Context, args map[string]any) (string, error) {
	roomID, text := strArg(args, "room_id"), strArg(args, "text")
	if roomID == "" || text == "" {
		return "", errors.New("room_id and text are required")
	}
	if a.channel == nil {
		return "", errors.New("no chat channel is connected")
	}
	if err := a.channel.SendMessage(ctx, roomID, text); err != nil {
		return "", fmt.Errorf("sending to %s: %w", roomID, err)
	}
	// The sent message becomes a room event directly; platforms do not
	// reliably echo the agent's own messages back.
	a.Room(roomID).AddEvent(markup.NewMessage(a.svc.AgentID, text, a.now()), false)
	return fmt.Sprintf("sent to %s", roomID), nil
}

func (a *Agent) toolOpenWindow(ctx context.Context, args map[string]any) (string, error) {
	locator := strArg(args, "locator")
	if locator == "" {
		return "", errors.New("locator is required")
	}
	if a.files == nil {
		return "", errors.New("no file store is configured")
	}
	info, err := a.files.Read(ctx, locator)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", locator, err)
	}

	opts := window.Options{
		Source:      locator,
		SourceType:  "file",
		ContentType: info.ContentType,
		Pinned:      boolArg(args, "pinned"),
		Refresh: func(ctx context.Context) (string, error) {
			fresh, err := a.files.Read(ctx, locator)
			if err != nil {
				return "", err
			}
			return fresh.Content, nil
		},
		OnClose: windowCloseEvent(a.now),
	}
	if lines, ok := intArg(args, "lines"); ok && lines > 0 {
		opts.ScrollSize = lines
	}

	w := window.New(a.ids.Next(), info.Content, opts, a.logger)
	a.windowsMu.Lock()
	a.windows = append(a.windows, w)
	a.windowsMu.Unlock()

	a.logger.Info("window opened", "window_id", w.ID(), "locator", locator)
	return fmt.Sprintf("opened window %s over %s (%d lines)", w.ID(), locator, w.TotalLines()), nil
}

// windowCloseEvent builds the OnClose factory recorded in the memory room
// when an unpinned window expires.
func windowCloseEvent(now func() time.Time) window.CloseEventFunc {
	return func(w *window.Window) *markup.Node {
		return markup.NewEvent("windowClosed", now()).
			Attr("window", w.ID()).
			Attr("source", w.Source())
	}
}

func (a *Agent) toolCloseWindow(_ context.Context, args map[string]any) (string, error) {
	id := strArg(args, "window_id")
	a.windowsMu.Lock()
	defer a.windowsMu.Unlock()
	for i, w := range a.windows {
		if w.ID() == id {
			a.windows = append(a.windows[:i], a.windows[i+1:]...)
			return fmt.Sprintf("closed window %s", id), nil
		}
	}
	if w := a.lookupWindow(id); w != nil {
		return "", fmt.Errorf("window %s is system-owned and cannot be closed", id)
	}
	return "", fmt.Errorf("no window %s", id)
}

func (a *Agent) toolScrollWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	if n, ok := intArg(args, "to_line"); ok {
		w.ScrollToLine(n)
	} else {
		switch strArg(args, "direction") {
		case "up":
			w.ScrollUp()
		case "down":
			w.ScrollDown()
		default:
			return "", errors.New(`direction must be "up" or "down" (or pass to_line)`)
		}
	}
	top, bottom := w.Viewport()
	return fmt.Sprintf("window %s now shows lines %d-%d of %d", w.ID(), top, bottom, w.TotalLines()), nil
}

func (a *Agent) toolResizeWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	lines, ok := intArg(args, "lines")
	if !ok || lines <= 0 {
		return "", errors.New("lines must be a positive integer")
	}
	w.Resize(lines)
	top, bottom := w.Viewport()
	return fmt.Sprintf("window %s resized, showing lines %d-%d", w.ID(), top, bottom), nil
}

func (a *Agent) toolMaximizeWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	if limited := w.Maximize(); limited {
		return fmt.Sprintf("window %s maximized; content exceeds the line limit, scroll to see the rest", w.ID()), nil
	}
	return fmt.Sprintf("window %s maximized", w.ID()), nil
}

func (a *Agent) toolMinimizeWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	w.Minimize()
	return fmt.Sprintf("window %s minimized", w.ID()), nil
}

func (a *Agent) toolPinWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	w.Pin()
	return fmt.Sprintf("window %s pinned", w.ID()), nil
}

func (a *Agent) toolUnpinWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	if w.System() {
		return "", fmt.Errorf("window %s is system-owned and stays pinned", w.ID())
	}
	w.Unpin()
	return fmt.Sprintf("window %s unpinned; it will auto-close in %d turns unless used", w.ID(), w.AutoCloseLeft()), nil
}

func (a *Agent) toolSearchWindow(_ context.Context, args map[string]any) (string, error) {
	w, err := a.findWindow(strArg(args, "window_id"))
	if err != nil {
		return "", err
	}
	query := strArg(args, "query")
	if query == "" {
		return "", errors.New("query is required")
	}

	needle := strings.ToLower(query)
	var hits []int
	for i, line := range strings.Split(w.Content(), "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			hits = append(hits, i+1)
		}
	}
	if len(hits) == 0 {
		w.ShowQuery(query, "no matches")
		return fmt.Sprintf("no matches for %q in window %s", query, w.ID()), nil
	}

	summary := fmt.Sprintf("%d matches at lines %s", len(hits), joinInts(hits, 8))
	w.ShowQuery(query, summary)
	w.ScrollToLine(hits[0])
	return fmt.Sprintf("window %s: %s; viewport moved to line %d", w.ID(), summary, hits[0]), nil
}

func joinInts(ns []int, limit int) string {
	var b strings.Builder
	for i, n := range ns {
		if i == limit {
			fmt.Fprintf(&b, ", +%d more", len(ns)-limit)
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", n)
	}
	return b.String()
}

func (a *Agent) toolSearchMemory(ctx context.Context, args map[string]any) (string, error) {
	if a.svc.Index == nil {
		return "", errors.New("no memory index is configured")
	}
	query := strArg(args, "query")
	if query == "" {
		return "", errors.New("query is required")
	}
	k, ok := intArg(args, "k")
	if !ok || k <= 0 {
		k = searchMemoryDefaultK
	}

	results, err := a.svc.Index.Search(ctx, query, k, nil)
	if err != nil {
		return "", fmt.Errorf("memory search: %w", err)
	}
	if len(results) == 0 {
		return "no memories matched", nil
	}
	out := markup.New("memories").Attr("query", query)
	for _, res := range results {
		out.Add(markup.NewText("memory", res.Text).Attr("id", res.ItemID))
	}
	return markup.Serialize(out), nil
}

func (a *Agent) toolScheduleWakeup(_ context.Context, args map[string]any) (string, error) {
	if a.scheduler == nil {
		return "", errors.New("no scheduler is configured")
	}
	reason := strArg(args, "reason")
	if reason == "" {
		return "", errors.New("reason is required")
	}
	if spec := strArg(args, "cron"); spec != "" {
		id, err := a.scheduler.ScheduleCron(spec, reason)
		if err != nil {
			return "", fmt.Errorf("cron schedule: %w", err)
		}
		return fmt.Sprintf("standing wakeup %s registered for %q", id, spec), nil
	}
	delay, ok := intArg(args, "delay_seconds")
	if !ok || delay <= 0 {
		return "", errors.New("pass delay_seconds or cron")
	}
	a.scheduler.ScheduleOnce(time.Duration(delay)*time.Second, reason)
	return fmt.Sprintf("wakeup scheduled in %ds", delay), nil
}

func (a *Agent) toolWriteScratch(ctx context.Context, args map[string]any) (string, error) {
	text := strArg(args, "text")
	if text == "" {
		return "", errors.New("text is required")
	}
	if a.files == nil {
		return "", errors.New("no file store is configured")
	}

	mode := store.WriteOverwrite
	if boolArg(args, "append") {
		mode = store.WriteAppend
		text += "\n"
	}
	if err := a.files.Write(ctx, scratchLocator, text, mode); err != nil {
		return "", fmt.Errorf("writing scratch pad: %w", err)
	}

	a.windowsMu.Lock()
	defer a.windowsMu.Unlock()
	if a.scratch == nil {
		a.scratch = window.New(a.ids.Next(), "", window.Options{
			Source:      scratchLocator,
			SourceType:  "file",
			ContentType: "text/markdown",
			Pinned:      true,
			System:      true,
			AutoRefresh: true,
			Refresh: func(ctx context.Context) (string, error) {
				info, err := a.files.Read(ctx, scratchLocator)
				if err != nil {
					return "", err
				}
				return info.Content, nil
			},
		}, a.logger)
	}
	return fmt.Sprintf("scratch pad updated (window %s)", a.scratch.ID()), nil
}

func (a *Agent) toolSleep(_ context.Context, args map[string]any) (string, error) {
	if reason := strArg(args, "reason"); reason != "" {
		a.noteReason(reason)
	}
	return "acknowledged; stop calling tools to end this turn", nil
}

// findWindow resolves a window id across the ad-hoc list, the scratch pad,
// and every room's owned history window.
func (a *Agent) findWindow(id string) (*window.Window, error) {
	if id == "" {
		return nil, errors.New("window_id is required")
	}
	a.windowsMu.Lock()
	for _, w := range a.windows {
		if w.ID() == id {
			a.windowsMu.Unlock()
			return w, nil
		}
	}
	if a.scratch != nil && a.scratch.ID() == id {
		w := a.scratch
		a.windowsMu.Unlock()
		return w, nil
	}
	a.windowsMu.Unlock()

	if w := a.lookupWindow(id); w != nil {
		return w, nil
	}
	return nil, fmt.Errorf("no window %s", id)
}

// lookupWindow checks the room-owned history windows.
func (a *Agent) lookupWindow(id string) *window.Window {
	if a.memoryRoom.Window().ID() == id {
		return a.memoryRoom.Window()
	}
	a.roomsMu.Lock()
	defer a.roomsMu.Unlock()
	for _, r := range a.rooms {
		if r.Window().ID() == id {
			return r.Window()
		}
	}
	return nil
}

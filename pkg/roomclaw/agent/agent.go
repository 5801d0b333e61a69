// Package agent – agent.go runs the wake-cycle loop: assemble the full
// multi-room context, call the completion service, execute tool calls in
// bounded rounds, and settle windows afterwards. At most one cycle runs at
// a time; wake requests arriving mid-cycle coalesce into the next one.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/llm"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/markup"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/room"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/store"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/tasks"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/window"
)

const (
	// defaultWakeReason labels cycles that fire without a recorded cause.
	defaultWakeReason = "unscheduled wakeup"

	// typingTimeout bounds how long platforms keep the indicator alive.
	typingTimeout = 30 * time.Second
)

// ErrBusy is returned by Wake when a cycle is already running. The wake
// reason is still recorded and carried into the next cycle.
var ErrBusy = errors.New("agent: cycle already running")

// Completer produces chat completions. *llm.Client satisfies it; tests
// substitute fakes.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error)
}

// WakeScheduler registers future wakeups on behalf of the schedule tool.
type WakeScheduler interface {
	// ScheduleOnce wakes the agent once after the delay.
	ScheduleOnce(delay time.Duration, reason string)

	// ScheduleCron registers a standing cron wakeup and returns its id.
	ScheduleCron(spec, reason string) (string, error)
}

// Options carries the agent's collaborators. Completer is required; every
// other collaborator is optional and its absence degrades the matching
// tools or context sections.
type Options struct {
	Config    Config
	Completer Completer
	Channel   channels.Channel
	Archive   room.Archiver
	Index     room.Index
	Files     *store.FileStore
	Queue     *tasks.Queue
	Scheduler WakeScheduler
	Logger    *slog.Logger
	Now       func() time.Time
}

// Agent is one chat-platform presence: a set of rooms, a private memory
// room, ad-hoc windows, and the wake-cycle loop that drives them.
type Agent struct {
	cfg       AgentConfig
	completer Completer
	channel   channels.Channel
	files     *store.FileStore
	queue     *tasks.Queue
	scheduler WakeScheduler
	logger    *slog.Logger
	now       func() time.Time

	svc room.Services

	cycleMu sync.Mutex // single-flight wake cycle

	reasonMu      sync.Mutex
	pendingReason string

	roomsMu    sync.Mutex
	rooms      map[string]*room.Room
	memoryRoom *room.Room

	// windowsMu guards the ad-hoc window list; window internals are only
	// touched inside a cycle.
	windowsMu sync.Mutex
	windows   []*window.Window
	scratch   *window.Window
	ids       *window.IDSource

	tools     map[string]Tool
	toolOrder []string

	turn  int
	sigCh chan struct{}
}

// New builds an agent from its options.
func New(opts Options) (*Agent, error) {
	if opts.Completer == nil {
		return nil, errors.New("agent: completer is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Config.Agent
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 10
	}
	if cfg.MemoryRoomID == "" {
		cfg.MemoryRoomID = "memory"
	}
	if opts.Queue == nil {
		opts.Queue = tasks.NewQueue(opts.Config.Tasks.Workers, opts.Config.Tasks.Depth, opts.Logger)
	}

	a := &Agent{
		cfg:       cfg,
		completer: opts.Completer,
		channel:   opts.Channel,
		files:     opts.Files,
		queue:     opts.Queue,
		scheduler: opts.Scheduler,
		logger:    opts.Logger.With("component", "agent"),
		now:       opts.Now,
		rooms:     make(map[string]*room.Room),
		ids:       window.NewIDSource(),
		sigCh:     make(chan struct{}, 1),
	}

	agentID := cfg.Name
	if opts.Channel != nil {
		agentID = opts.Channel.Name() + ":" + cfg.Name
	}
	a.svc = room.Services{
		AgentID:      agentID,
		AdminID:      cfg.AdminID,
		Archive:      opts.Archive,
		Index:        opts.Index,
		Tasks:        opts.Queue,
		Windows:      a.ids,
		WindowBudget: cfg.WindowBudget,
		Logger:       opts.Logger,
		Now:          opts.Now,
	}
	a.memoryRoom = room.New(cfg.MemoryRoomID, agentID, true, a.svc)
	a.registerBuiltins()
	return a, nil
}

// ID returns the agent's platform member id.
func (a *Agent) ID() string { return a.svc.AgentID }

// MemoryRoom returns the agent's private memory room.
func (a *Agent) MemoryRoom() *room.Room { return a.memoryRoom }

// Room returns the room for id, creating it on first reference.
func (a *Agent) Room(id string) *room.Room {
	a.roomsMu.Lock()
	defer a.roomsMu.Unlock()
	if id == a.memoryRoom.ID() {
		return a.memoryRoom
	}
	r, ok := a.rooms[id]
	if !ok {
		r = room.New(id, a.svc.AgentID, false, a.svc)
		a.rooms[id] = r
		a.logger.Info("room created", "room_id", id)
	}
	return r
}

// roomIDs returns the known room ids in stable sorted order, memory room
// excluded.
func (a *Agent) roomIDs() []string {
	a.roomsMu.Lock()
	defer a.roomsMu.Unlock()
	ids := make([]string, 0, len(a.rooms))
	for id := range a.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleEvent ingests one platform event into its room and records a wake
// reason. Events sent by the agent itself are dropped: the send tool
// already recorded them.
func (a *Agent) HandleEvent(ev *channels.Event) {
	if ev == nil || ev.SenderID == a.svc.AgentID {
		return
	}
	r := a.Room(ev.RoomID)
	if ev.RoomName != "" {
		r.SetName(ev.RoomName)
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}
	switch ev.Type {
	case channels.EventMessage:
		n := markup.NewMessage(ev.SenderID, ev.Text, ts)
		if ev.SenderName != "" {
			n.Attr("fromName", ev.SenderName)
		}
		if ev.ReplyTo != "" {
			n.Attr("replyTo", ev.ReplyTo)
		}
		r.AddEvent(n, false)
	case channels.EventJoin, channels.EventLeave:
		r.AddEvent(markup.NewEvent(string(ev.Type), ts).Attr("member", ev.SenderID), false)
	default:
		a.logger.Warn("unknown event type dropped", "type", ev.Type)
		return
	}
	a.noteReason(fmt.Sprintf("new %s in room %s", ev.Type, ev.RoomID))
}

// Signal records a wake reason and nudges the run loop. Safe from any
// goroutine; if a cycle is running the reason coalesces into the next one.
func (a *Agent) Signal(reason string) {
	a.noteReason(reason)
	select {
	case a.sigCh <- struct{}{}:
	default:
	}
}

func (a *Agent) noteReason(reason string) {
	if reason == "" {
		return
	}
	a.reasonMu.Lock()
	defer a.reasonMu.Unlock()
	if a.pendingReason == "" {
		a.pendingReason = reason
		return
	}
	// Coalesce: keep every cause visible in the wake marker.
	if !strings.Contains(a.pendingReason, reason) {
		a.pendingReason += "; " + reason
	}
}

func (a *Agent) takeReason() string {
	a.reasonMu.Lock()
	defer a.reasonMu.Unlock()
	reason := a.pendingReason
	a.pendingReason = ""
	if reason == "" {
		reason = defaultWakeReason
	}
	return reason
}

// Run drives the agent until the context ends: connect the channel, ingest
// events, and fire wake cycles on signals and the periodic ticker.
func (a *Agent) Run(ctx context.Context) error {
	var recv <-chan *channels.Event
	if a.channel != nil {
		if err := a.channel.Connect(ctx); err != nil {
			return fmt.Errorf("connecting channel: %w", err)
		}
		defer func() {
			if err := a.channel.Disconnect(); err != nil {
				a.logger.Warn("channel disconnect failed", "error", err)
			}
		}()
		recv = a.channel.Receive()
	}

	interval := time.Duration(a.cfg.WakeIntervalSeconds) * time.Second
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	a.logger.Info("agent running", "agent_id", a.svc.AgentID, "wake_interval", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-recv:
			if !ok {
				return errors.New("agent: event stream closed")
			}
			a.HandleEvent(ev)
			a.wakeLogged(ctx)
		case <-a.sigCh:
			a.wakeLogged(ctx)
		case <-tick:
			a.noteReason("scheduled wakeup")
			a.wakeLogged(ctx)
		}
	}
}

func (a *Agent) wakeLogged(ctx context.Context) {
	if err := a.Wake(ctx, ""); err != nil && !errors.Is(err, ErrBusy) {
		a.logger.Error("wake cycle failed", "error", err)
	}
}

// Wake runs one cycle now. If a cycle is already in flight the reason is
// recorded for the next cycle and ErrBusy is returned.
func (a *Agent) Wake(ctx context.Context, reason string) error {
	a.noteReason(reason)
	if !a.cycleMu.TryLock() {
		return ErrBusy
	}
	defer a.cycleMu.Unlock()
	return a.cycle(ctx)
}

// cycle is one full wake: context build, completion, bounded tool rounds,
// window settling. Any error aborts the cycle; queued events survive for
// the next one.
func (a *Agent) cycle(ctx context.Context) (err error) {
	if a.cfg.CycleTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.CycleTimeoutSeconds)*time.Second)
		defer cancel()
	}

	a.turn++
	turn := a.turn
	reason := a.takeReason()
	started := a.now()
	a.logger.Info("cycle start", "turn", turn, "reason", reason)

	typing := a.typingOn(ctx)
	defer func() {
		a.typingOff(typing)
		a.settleWindows()
		if r := recover(); r != nil {
			err = fmt.Errorf("agent: cycle panic: %v", r)
		}
		a.logger.Info("cycle end", "turn", turn, "duration", time.Since(started), "error", err != nil)
	}()

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: a.systemPrompt()},
		{Role: llm.RoleUser, Content: a.buildContext(ctx, turn, reason, false)},
	}
	if a.cfg.Directive != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: a.cfg.Directive})
	}

	resp, err := a.completer.Complete(ctx, msgs, a.toolDefinitions())
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}
	a.memoryRoom.AddModelResponse(resp.Content)

	rounds := 0
	for len(resp.ToolCalls) > 0 {
		if rounds >= a.cfg.MaxToolIterations {
			a.memoryRoom.AddEvent(
				markup.NewEvent("throttled", a.now()).
					Attr("reason", "tool iteration limit reached").
					AttrInt("turn", turn),
				true)
			a.logger.Warn("tool iterations throttled", "turn", turn, "limit", a.cfg.MaxToolIterations)
			break
		}
		rounds++

		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for i, tc := range resp.ToolCalls {
			result := a.dispatchCall(ctx, tc, i, resp.Content)
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Content:    result,
			})
		}

		// The context message is replaced, never appended: each round
		// sees exactly one current snapshot of every room.
		msgs[1] = llm.Message{
			Role:    llm.RoleUser,
			Content: a.buildContext(ctx, turn, reason, true),
		}

		resp, err = a.completer.Complete(ctx, msgs, a.toolDefinitions())
		if err != nil {
			return fmt.Errorf("completion (round %d): %w", rounds, err)
		}
		a.memoryRoom.AddModelResponse(resp.Content)
	}
	return nil
}

// dispatchCall applies the call-discipline checks and executes one tool
// call. The result string goes back to the model verbatim.
func (a *Agent) dispatchCall(ctx context.Context, tc llm.ToolCall, position int, freeText string) string {
	name := tc.Function.Name
	switch {
	case a.cfg.SerializeToolCalls && position > 0:
		a.logger.Warn("parallel tool call rejected", "tool", name)
		return rejection("serialized-calls",
			"parallel tool calls are disallowed; issue one call, read its result, then decide the next")
	case a.cfg.RequireReasoning && strings.TrimSpace(freeText) == "":
		a.logger.Warn("unreasoned tool call rejected", "tool", name)
		return rejection("reasoning-required",
			"state your reasoning as free text before calling tools")
	}

	result := a.executeTool(ctx, tc)
	a.memoryRoom.AddFunctionResult(name, tc.Function.Arguments, result)
	return result
}

// executeTool runs one tool call, converting every failure mode into a
// result string so the protocol keeps moving.
func (a *Agent) executeTool(ctx context.Context, tc llm.ToolCall) (out string) {
	name := tc.Function.Name
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("tool panicked", "tool", name, "panic", r)
			out = fmt.Sprintf("error: tool %s panicked: %v", name, r)
		}
	}()

	tool, ok := a.tools[name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}
	args, err := tc.Function.Args()
	if err != nil {
		return "error: " + err.Error()
	}

	a.logger.Debug("tool call", "tool", name, "args", tc.Function.Arguments)
	result, err := tool.Handler(ctx, args)
	if err != nil {
		a.logger.Warn("tool failed", "tool", name, "error", err)
		return "error: " + err.Error()
	}
	return result
}

// rejection formats a structured tool-call rejection.
func rejection(kind, text string) string {
	n := markup.NewText("rejected", text).Attr("kind", kind)
	return markup.Serialize(n)
}

// systemPrompt combines persona and guide into the stable system message.
func (a *Agent) systemPrompt() string {
	parts := []string{a.cfg.Persona}
	if a.cfg.Guide != "" {
		parts = append(parts, a.cfg.Guide)
	}
	return strings.Join(parts, "\n\n")
}

// buildContext assembles the full context text: room fragments in stable
// order, the memory room, the scratch window, the trailing reminder, and
// the ad-hoc windows. Deterministic for a fixed agent state.
func (a *Agent) buildContext(ctx context.Context, turn int, reason string, continuation bool) string {
	var parts []string

	for _, id := range a.roomIDs() {
		r := a.Room(id)
		members := a.roomMembers(ctx, id)
		parts = append(parts, markup.Serialize(r.Render(ctx, members, turn, reason, continuation, false)))
	}
	parts = append(parts, markup.Serialize(a.memoryRoom.Render(ctx, nil, turn, reason, continuation, false)))

	a.windowsMu.Lock()
	scratch := a.scratch
	open := make([]*window.Window, len(a.windows))
	copy(open, a.windows)
	a.windowsMu.Unlock()

	if scratch != nil {
		parts = append(parts, markup.Serialize(scratch.Render(ctx, a.windowBudget())))
	}
	if a.cfg.Reminder != "" {
		parts = append(parts, markup.Serialize(markup.NewText("reminder", a.cfg.Reminder)))
	}
	for _, w := range open {
		parts = append(parts, markup.Serialize(w.Render(ctx, a.windowBudget())))
	}
	return strings.Join(parts, "\n")
}

func (a *Agent) windowBudget() int {
	if a.cfg.WindowBudget > 0 {
		return a.cfg.WindowBudget
	}
	return room.DefaultWindowBudget
}

// roomMembers fetches membership, degrading to nil on failure.
func (a *Agent) roomMembers(ctx context.Context, roomID string) []channels.Member {
	if a.channel == nil {
		return nil
	}
	members, err := a.channel.Members(ctx, roomID)
	if err != nil {
		a.logger.Warn("member lookup failed", "room_id", roomID, "error", err)
		return nil
	}
	return members
}

// typingOn turns the typing indicator on in every room with pending events
// and returns the ids it touched.
func (a *Agent) typingOn(ctx context.Context) []string {
	if a.channel == nil {
		return nil
	}
	var on []string
	for _, id := range a.roomIDs() {
		if a.Room(id).PendingCount() == 0 {
			continue
		}
		if err := a.channel.SetTyping(ctx, id, true, typingTimeout); err != nil {
			a.logger.Debug("typing on failed", "room_id", id, "error", err)
			continue
		}
		on = append(on, id)
	}
	return on
}

// typingOff clears the indicator everywhere it was set, even when the
// cycle aborted. Uses a fresh context: the cycle's may already be dead.
func (a *Agent) typingOff(roomIDs []string) {
	if a.channel == nil || len(roomIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range roomIDs {
		if err := a.channel.SetTyping(ctx, id, false, 0); err != nil {
			a.logger.Debug("typing off failed", "room_id", id, "error", err)
		}
	}
}

// settleWindows ends the turn for every ad-hoc window: expired ones close
// with a close event in the memory room, survivors relax out of maximized
// mode.
func (a *Agent) settleWindows() {
	a.windowsMu.Lock()
	defer a.windowsMu.Unlock()

	kept := a.windows[:0]
	for _, w := range a.windows {
		if w.Tick() {
			if ev := w.CloseEvent(); ev != nil {
				a.memoryRoom.AddEvent(ev, true)
			}
			a.logger.Debug("window auto-closed", "window_id", w.ID())
			continue
		}
		w.Relax()
		kept = append(kept, w)
	}
	a.windows = kept
}

// Close releases the agent's owned resources.
func (a *Agent) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
}

// Package console implements a local terminal adapter: a readline REPL
// where every typed line becomes a message event in a single room. Useful
// for development and for running an agent without a chat platform.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
)

const (
	// RoomID is the single room the console exposes.
	RoomID = "console"

	userID   = "user"
	userName = "you"
)

// Console implements channels.Channel over a local readline loop.
type Console struct {
	agentName string
	logger    *slog.Logger

	rl     *readline.Instance
	events chan *channels.Event
	done   chan struct{}
}

// New creates a console adapter. agentName must match the agent's
// configured name so membership self-detection lines up.
func New(agentName string, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		agentName: agentName,
		logger:    logger.With("component", "console"),
		events:    make(chan *channels.Event, 64),
		done:      make(chan struct{}),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// selfID mirrors the agent's member id construction.
func (c *Console) selfID() string { return "console:" + c.agentName }

// Connect starts the readline loop.
func (c *Console) Connect(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return fmt.Errorf("console: starting readline: %w", err)
	}
	c.rl = rl
	go c.readLoop(ctx)
	c.logger.Info("console ready", "room_id", RoomID)
	return nil
}

// Disconnect stops the readline loop.
func (c *Console) Disconnect() error {
	close(c.done)
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Receive returns the incoming event stream.
func (c *Console) Receive() <-chan *channels.Event {
	return c.events
}

// SendMessage prints the agent's message above the prompt.
func (c *Console) SendMessage(_ context.Context, roomID, text string) error {
	if roomID != RoomID {
		return fmt.Errorf("console: unknown room %q", roomID)
	}
	if c.rl == nil {
		return errors.New("console: not connected")
	}
	fmt.Fprintf(c.rl.Stdout(), "%s> %s\n", c.agentName, text)
	return nil
}

// SetTyping is a no-op on the console.
func (c *Console) SetTyping(context.Context, string, bool, time.Duration) error {
	return nil
}

// Members returns the two parties of the console room.
func (c *Console) Members(_ context.Context, roomID string) ([]channels.Member, error) {
	if roomID != RoomID {
		return nil, fmt.Errorf("console: unknown room %q", roomID)
	}
	return []channels.Member{
		{ID: c.selfID(), Name: c.agentName},
		{ID: userID, Name: userName},
	}, nil
}

func (c *Console) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			// ^C clears the line; ^D or a closed terminal ends input.
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			close(c.events)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		ev := &channels.Event{
			Type:       channels.EventMessage,
			RoomID:     RoomID,
			SenderID:   userID,
			SenderName: userName,
			Text:       line,
			Timestamp:  time.Now(),
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Package discord implements the Discord adapter using discordgo. Each
// Discord channel (guild text channel or DM) maps to one room; the gateway
// reconnects automatically via discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
)

// messageLimit is Discord's hard per-message character cap.
const messageLimit = 2000

// memberPageSize bounds the membership lookup per room.
const memberPageSize = 100

// Config holds the Discord adapter configuration.
type Config struct {
	// Token is the bot token.
	Token string `yaml:"token"`

	// GuildID restricts the adapter to one guild. Empty allows all.
	GuildID string `yaml:"guild_id"`
}

// Discord implements channels.Channel over the Discord gateway.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	events    chan *channels.Event
	connected atomic.Bool
}

// New creates a Discord adapter.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		logger: logger.With("component", "discord"),
		events: make(chan *channels.Event, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onMemberAdd)
	session.AddHandler(d.onMemberRemove)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return err
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord disconnected")
	return nil
}

// Receive returns the incoming event stream.
func (d *Discord) Receive() <-chan *channels.Event {
	return d.events
}

// SendMessage posts text to a channel, splitting at the 2000-char limit.
func (d *Discord) SendMessage(_ context.Context, roomID, text string) error {
	if d.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	for _, chunk := range splitMessage(text, messageLimit) {
		if _, err := d.session.ChannelMessageSend(roomID, chunk); err != nil {
			return fmt.Errorf("discord: sending to %s: %w", roomID, err)
		}
	}
	return nil
}

// SetTyping triggers the typing indicator. Discord auto-expires it after a
// few seconds, so turning it off is a no-op.
func (d *Discord) SetTyping(_ context.Context, roomID string, on bool, _ time.Duration) error {
	if d.session == nil || !on {
		return nil
	}
	return d.session.ChannelTyping(roomID)
}

// Members resolves the room membership: DM recipients plus the bot, or the
// first page of guild members for guild channels.
func (d *Discord) Members(_ context.Context, roomID string) ([]channels.Member, error) {
	if d.session == nil {
		return nil, fmt.Errorf("discord: not connected")
	}
	ch, err := d.session.State.Channel(roomID)
	if err != nil {
		if ch, err = d.session.Channel(roomID); err != nil {
			return nil, fmt.Errorf("discord: resolving channel %s: %w", roomID, err)
		}
	}

	if ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM {
		self := d.session.State.User
		members := []channels.Member{{ID: self.ID, Name: self.Username}}
		for _, u := range ch.Recipients {
			members = append(members, channels.Member{ID: u.ID, Name: u.Username})
		}
		return members, nil
	}

	guildMembers, err := d.session.GuildMembers(ch.GuildID, "", memberPageSize)
	if err != nil {
		return nil, fmt.Errorf("discord: listing guild members: %w", err)
	}
	members := make([]channels.Member, 0, len(guildMembers))
	for _, m := range guildMembers {
		name := m.Nick
		if name == "" && m.User != nil {
			name = m.User.Username
		}
		members = append(members, channels.Member{ID: m.User.ID, Name: name})
	}
	return members, nil
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot {
		return
	}
	if d.cfg.GuildID != "" && m.GuildID != "" && m.GuildID != d.cfg.GuildID {
		return
	}

	ev := &channels.Event{
		Type:       channels.EventMessage,
		RoomID:     m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Text:       m.Content,
		Timestamp:  m.Timestamp,
	}
	if ch, err := s.State.Channel(m.ChannelID); err == nil {
		ev.RoomName = ch.Name
	}
	if m.ReferencedMessage != nil {
		ev.ReplyTo = m.ReferencedMessage.ID
	}
	d.deliver(ev)
}

func (d *Discord) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if d.cfg.GuildID != "" && m.GuildID != d.cfg.GuildID {
		return
	}
	d.deliver(&channels.Event{
		Type:       channels.EventJoin,
		RoomID:     m.GuildID,
		SenderID:   m.User.ID,
		SenderName: m.User.Username,
		Timestamp:  time.Now(),
	})
}

func (d *Discord) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if d.cfg.GuildID != "" && m.GuildID != d.cfg.GuildID {
		return
	}
	d.deliver(&channels.Event{
		Type:       channels.EventLeave,
		RoomID:     m.GuildID,
		SenderID:   m.User.ID,
		SenderName: m.User.Username,
		Timestamp:  time.Now(),
	})
}

func (d *Discord) deliver(ev *channels.Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("event buffer full, dropping event", "room_id", ev.RoomID, "type", ev.Type)
	}
}

// splitMessage breaks text into chunks of at most maxLen, preferring line
// boundaries.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut <= 0 {
			cut = maxLen
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

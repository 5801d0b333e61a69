// Package whatsapp implements the WhatsApp adapter using whatsmeow — a
// native Go WhatsApp Web API library. First login renders a QR code in the
// terminal; the session persists in a local SQLite database afterwards.
// Each chat (group or DM) maps to one room, keyed by its JID.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session store.

	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
)

// Config holds the WhatsApp adapter configuration.
type Config struct {
	// DBPath is the SQLite file for whatsmeow session persistence.
	DBPath string `yaml:"db_path"`
}

// WhatsApp implements channels.Channel over whatsmeow.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger
	client *whatsmeow.Client

	events    chan *channels.Event
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp adapter.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "whatsapp.db"
	}
	return &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
		events: make(chan *channels.Event, 256),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and connects, running the QR login flow
// when no linked session exists.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DBPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: creating session store: %w", err)
	}
	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("whatsapp: getting device: %w", err)
	}
	store.SetOSInfo("RoomClaw", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true

	if w.client.Store.ID == nil {
		return w.loginWithQR(w.ctx)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp connected", "jid", w.client.Store.ID.String())
	return nil
}

// Disconnect closes the connection.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.logger.Info("whatsapp disconnected")
	return nil
}

// Receive returns the incoming event stream.
func (w *WhatsApp) Receive() <-chan *channels.Event {
	return w.events
}

// SendMessage posts text to a chat.
func (w *WhatsApp) SendMessage(ctx context.Context, roomID, text string) error {
	if !w.connected.Load() {
		return fmt.Errorf("whatsapp: not connected")
	}
	jid, err := parseJID(roomID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid JID %q: %w", roomID, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := w.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("whatsapp: sending message: %w", err)
	}
	return nil
}

// SetTyping toggles the composing indicator for a chat.
func (w *WhatsApp) SetTyping(ctx context.Context, roomID string, on bool, _ time.Duration) error {
	if !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(roomID)
	if err != nil {
		return err
	}
	state := types.ChatPresenceComposing
	if !on {
		state = types.ChatPresencePaused
	}
	return w.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// Members lists group participants, or the two parties of a DM.
func (w *WhatsApp) Members(ctx context.Context, roomID string) ([]channels.Member, error) {
	if !w.connected.Load() {
		return nil, fmt.Errorf("whatsapp: not connected")
	}
	jid, err := parseJID(roomID)
	if err != nil {
		return nil, err
	}

	if jid.Server == types.GroupServer {
		info, err := w.client.GetGroupInfo(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: group info for %s: %w", roomID, err)
		}
		members := make([]channels.Member, 0, len(info.Participants))
		for _, p := range info.Participants {
			members = append(members, channels.Member{ID: p.JID.String(), Name: p.DisplayName})
		}
		return members, nil
	}

	self := w.client.Store.ID
	return []channels.Member{
		{ID: self.ToNonAD().String()},
		{ID: jid.String()},
	}, nil
}

func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessage(evt)
	case *events.GroupInfo:
		w.handleGroupChange(evt)
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp gateway connected")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp gateway disconnected")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Warn("whatsapp session logged out, re-link required")
	}
}

func (w *WhatsApp) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	// Status broadcasts are not rooms.
	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}
	text := extractText(evt.Message)
	if text == "" {
		return
	}

	w.deliver(&channels.Event{
		Type:       channels.EventMessage,
		RoomID:     evt.Info.Chat.String(),
		SenderID:   evt.Info.Sender.ToNonAD().String(),
		SenderName: evt.Info.PushName,
		Text:       text,
		Timestamp:  evt.Info.Timestamp,
	})
}

func (w *WhatsApp) handleGroupChange(evt *events.GroupInfo) {
	for _, jid := range evt.Join {
		w.deliver(&channels.Event{
			Type:      channels.EventJoin,
			RoomID:    evt.JID.String(),
			SenderID:  jid.String(),
			Timestamp: evt.Timestamp,
		})
	}
	for _, jid := range evt.Leave {
		w.deliver(&channels.Event{
			Type:      channels.EventLeave,
			RoomID:    evt.JID.String(),
			SenderID:  jid.String(),
			Timestamp: evt.Timestamp,
		})
	}
}

func (w *WhatsApp) deliver(ev *channels.Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("event buffer full, dropping event", "room_id", ev.RoomID, "type", ev.Type)
	}
}

// getDevice retrieves the existing linked device or creates a fresh one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR renders login QR codes in the terminal until the phone links
// or the codes run out.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connecting for QR login: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			fmt.Fprintln(os.Stdout, "Scan this QR code with WhatsApp (Linked Devices):")
			qrterminal.GenerateWithConfig(evt.Code, qrterminal.Config{
				Level:     qrterminal.L,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
		case "success":
			w.connected.Store(true)
			w.logger.Info("whatsapp linked", "jid", w.client.Store.ID.String())
			return nil
		default:
			w.logger.Warn("whatsapp QR login event", "event", evt.Event)
		}
	}
	return fmt.Errorf("whatsapp: QR login did not complete")
}

// extractText pulls the text body out of the supported message shapes.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// parseJID accepts a full JID or a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

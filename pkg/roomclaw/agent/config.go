// Package agent – config.go holds the top-level YAML configuration and its
// defaults. Sections for the completion client, the embedding provider, and
// the memory store reuse the config types of those packages directly.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/llm"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/memory"
)

// Config is the full agent configuration loaded from roomclaw.yaml.
type Config struct {
	// Agent configures identity and the wake-cycle behavior.
	Agent AgentConfig `yaml:"agent"`

	// LLM configures the completion-service client.
	LLM llm.Config `yaml:"llm"`

	// Embedding configures the embedding provider for the relevance index.
	Embedding memory.EmbeddingConfig `yaml:"embedding"`

	// Memory configures the durable memory store.
	Memory MemoryConfig `yaml:"memory"`

	// Store configures the agent's file store.
	Store StoreConfig `yaml:"store"`

	// Channel configures the chat-platform adapter.
	Channel ChannelConfig `yaml:"channel"`

	// Tasks configures the background task queue.
	Tasks TasksConfig `yaml:"tasks"`

	// Schedules are standing cron wakeups.
	Schedules []ScheduleConfig `yaml:"schedules"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// AgentConfig configures the agent's identity and loop behavior.
type AgentConfig struct {
	// Name is the agent's display name.
	Name string `yaml:"name"`

	// AdminID is the platform member id treated as administrator.
	AdminID string `yaml:"admin_id"`

	// Persona is the system-prompt persona text.
	Persona string `yaml:"persona"`

	// Guide is appended to the system prompt after the persona; it
	// explains the markup dialect and the window tools.
	Guide string `yaml:"guide"`

	// Reminder is the trailing operating reminder placed after the room
	// fragments in every context build. Empty disables it.
	Reminder string `yaml:"reminder"`

	// Directive, when set, is appended as an extra user message after
	// the context on every fresh cycle.
	Directive string `yaml:"directive"`

	// MemoryRoomID names the agent's private memory room.
	MemoryRoomID string `yaml:"memory_room_id"`

	// MaxToolIterations bounds tool rounds within one wake cycle.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// SerializeToolCalls rejects all but the first call of a multi-call
	// response, forcing one call per round.
	SerializeToolCalls bool `yaml:"serialize_tool_calls"`

	// RequireReasoning rejects tool calls unaccompanied by free text.
	RequireReasoning bool `yaml:"require_reasoning"`

	// CycleTimeoutSeconds bounds one wake cycle; 0 means no timeout.
	CycleTimeoutSeconds int `yaml:"cycle_timeout_seconds"`

	// WakeIntervalSeconds is the periodic wakeup cadence; 0 disables it.
	WakeIntervalSeconds int `yaml:"wake_interval_seconds"`

	// WindowBudget is the per-window character budget in context builds.
	WindowBudget int `yaml:"window_budget"`
}

// MemoryConfig configures the durable store location.
type MemoryConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// StoreConfig configures the agent file store.
type StoreConfig struct {
	// Root is the directory all file locators resolve under.
	Root string `yaml:"root"`
}

// ChannelConfig selects and configures the chat-platform adapter.
type ChannelConfig struct {
	// Type is the adapter: "discord", "whatsapp" or "console".
	Type string `yaml:"type"`

	Discord  DiscordConfig  `yaml:"discord"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	// Token is the bot token. Prefer the vault or keyring over this.
	Token string `yaml:"token"`

	// GuildID restricts the adapter to one guild when set.
	GuildID string `yaml:"guild_id"`
}

// WhatsAppConfig configures the WhatsApp adapter.
type WhatsAppConfig struct {
	// DBPath is the whatsmeow session database file.
	DBPath string `yaml:"db_path"`
}

// TasksConfig sizes the background task queue.
type TasksConfig struct {
	Workers int `yaml:"workers"`
	Depth   int `yaml:"depth"`
}

// ScheduleConfig is one standing cron wakeup.
type ScheduleConfig struct {
	// Cron is a standard cron expression ("0 9 * * *") or a descriptor
	// like "@hourly".
	Cron string `yaml:"cron"`

	// Reason is surfaced as the wake reason when the schedule fires.
	Reason string `yaml:"reason"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON switches the handler from text to JSON output.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration with working defaults for a local
// console agent.
func DefaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			Name:                "roomclaw",
			Persona:             "You are a helpful assistant living across several chat rooms.",
			MemoryRoomID:        "memory",
			MaxToolIterations:   10,
			SerializeToolCalls:  true,
			RequireReasoning:    false,
			WakeIntervalSeconds: 300,
		},
		LLM:       llm.DefaultConfig(),
		Embedding: memory.DefaultEmbeddingConfig(),
		Memory:    MemoryConfig{Path: "roomclaw.db"},
		Store:     StoreConfig{Root: "files"},
		Channel:   ChannelConfig{Type: "console", WhatsApp: WhatsAppConfig{DBPath: "whatsapp.db"}},
		Tasks:     TasksConfig{Workers: 2, Depth: 256},
		Log:       LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for any
// section the file leaves out.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

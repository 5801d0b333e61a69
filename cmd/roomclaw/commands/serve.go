package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/agent"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels/console"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels/discord"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/channels/whatsapp"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/llm"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/memory"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/scheduler"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/store"
	"github.com/jholhewres/roomclaw/pkg/roomclaw/tasks"
)

// newServeCmd creates the `roomclaw serve` command that runs the agent.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent against its configured channel",
		Long: `Run the RoomClaw agent: connect the chat channel, watch rooms, and
drive wake cycles until interrupted.

Examples:
  roomclaw serve
  roomclaw serve --channel console
  roomclaw serve --config ./roomclaw.yaml`,
		RunE: runServe,
	}

	cmd.Flags().String("channel", "", "override the configured channel (discord, whatsapp, console)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	loadEnvFiles()

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if override, _ := cmd.Flags().GetString("channel"); override != "" {
		cfg.Channel.Type = override
	}

	logger := buildLogger(cmd, cfg)
	agent.ResolveAPIKey(cfg, logger)
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	// Durable memory: archive + relevance index in one SQLite store.
	mem, err := memory.Open(cfg.Memory.Path, memory.NewProvider(cfg.Embedding), logger)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer mem.Close()

	files, err := store.NewFileStore(cfg.Store.Root, logger)
	if err != nil {
		return fmt.Errorf("opening file store: %w", err)
	}

	channel, err := buildChannel(cfg, logger)
	if err != nil {
		return err
	}

	queue := tasks.NewQueue(cfg.Tasks.Workers, cfg.Tasks.Depth, logger)
	sched := scheduler.New(nil, logger) // wake func wired below

	ag, err := agent.New(agent.Options{
		Config:    *cfg,
		Completer: llm.NewClient(cfg.LLM, logger),
		Channel:   channel,
		Archive:   mem,
		Index:     mem,
		Files:     files,
		Queue:     queue,
		Scheduler: sched,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}
	defer ag.Close()

	sched.SetWake(ag.Signal)
	for _, sc := range cfg.Schedules {
		if _, err := sched.ScheduleCron(sc.Cron, sc.Reason); err != nil {
			logger.Error("invalid standing schedule", "cron", sc.Cron, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	logger.Info("roomclaw running, press Ctrl+C to stop",
		"agent", cfg.Agent.Name,
		"channel", cfg.Channel.Type,
	)
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	return nil
}

// buildChannel constructs the configured platform adapter.
func buildChannel(cfg *agent.Config, logger *slog.Logger) (channels.Channel, error) {
	switch cfg.Channel.Type {
	case "discord":
		return discord.New(discord.Config{
			Token:   cfg.Channel.Discord.Token,
			GuildID: cfg.Channel.Discord.GuildID,
		}, logger), nil
	case "whatsapp":
		return whatsapp.New(whatsapp.Config{
			DBPath: cfg.Channel.WhatsApp.DBPath,
		}, logger), nil
	case "console", "":
		return console.New(cfg.Agent.Name, logger), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Channel.Type)
	}
}

// buildLogger assembles the slog handler per config and the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *agent.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Log.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// resolveConfig loads the config from the --config flag or a discovered
// file, pointing at the setup wizard when none exists.
func resolveConfig(cmd *cobra.Command) (*agent.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" {
		cfg, err := agent.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := findConfigFile(); found != "" {
		cfg, err := agent.LoadConfig(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	return nil, fmt.Errorf("no configuration file found; run 'roomclaw setup' first")
}

// findConfigFile probes the standard config locations.
func findConfigFile() string {
	candidates := []string{
		"roomclaw.yaml",
		"roomclaw.yml",
		"config.yaml",
		"config.yml",
		"configs/roomclaw.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files; existing env vars are never overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

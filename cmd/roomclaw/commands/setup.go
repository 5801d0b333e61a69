package commands

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/agent"
)

// newSetupCmd creates the `roomclaw setup` interactive wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes the initial roomclaw.yaml.
The API key is stored in the encrypted vault or the OS keyring — never in
plaintext unless you explicitly choose the config file.

Examples:
  roomclaw setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := agent.DefaultConfig()

	var (
		apiKey     string
		keyStorage string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Description("Shown as the agent's display name in rooms.").
				Value(&cfg.Agent.Name),
			huh.NewInput().
				Title("Administrator member id").
				Description("Platform id of the person who administers this agent (optional).").
				Value(&cfg.Agent.AdminID),
			huh.NewText().
				Title("Persona").
				Description("The agent's system-prompt persona.").
				Value(&cfg.Agent.Persona),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Chat channel").
				Options(
					huh.NewOption("Console (local terminal)", "console"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("WhatsApp", "whatsapp"),
				).
				Value(&cfg.Channel.Type),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Completion model").
				Value(&cfg.LLM.Model),
			huh.NewInput().
				Title("API base URL").
				Value(&cfg.LLM.BaseURL),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewSelect[string]().
				Title("Where should the API key be stored?").
				Options(
					huh.NewOption("Encrypted vault (recommended)", "vault"),
					huh.NewOption("OS keyring", "keyring"),
					huh.NewOption("Config file (plaintext)", "config"),
				).
				Value(&keyStorage),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}

	if cfg.Channel.Type == "discord" {
		var token, guild string
		discordForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewInput().
				Title("Guild id (optional, restricts the bot to one server)").
				Value(&guild),
		))
		if err := discordForm.Run(); err != nil {
			return fmt.Errorf("setup aborted: %w", err)
		}
		cfg.Channel.Discord.Token = token
		cfg.Channel.Discord.GuildID = guild
	}

	if apiKey != "" {
		if err := storeAPIKey(&cfg, apiKey, keyStorage); err != nil {
			return err
		}
	}

	path := "roomclaw.yaml"
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s. Start the agent with: roomclaw serve\n", path)
	return nil
}

// storeAPIKey places the key in the chosen backend.
func storeAPIKey(cfg *agent.Config, apiKey, storage string) error {
	switch storage {
	case "vault":
		vault := agent.NewVault(agent.VaultFile)
		password, err := agent.ReadPassword("Choose a vault master password: ")
		if err != nil {
			return fmt.Errorf("reading vault password: %w", err)
		}
		if vault.Exists() {
			if err := vault.Unlock(password); err != nil {
				return fmt.Errorf("unlocking existing vault: %w", err)
			}
		} else if err := vault.Create(password); err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		defer vault.Lock()
		if err := vault.Set("api_key", apiKey); err != nil {
			return fmt.Errorf("storing key in vault: %w", err)
		}
		fmt.Println("API key stored in the encrypted vault.")
	case "keyring":
		if !agent.KeyringAvailable() {
			return fmt.Errorf("OS keyring is not available; rerun setup and pick the vault")
		}
		if err := agent.StoreKeyring("api_key", apiKey); err != nil {
			return fmt.Errorf("storing key in keyring: %w", err)
		}
		fmt.Println("API key stored in the OS keyring.")
	default:
		cfg.LLM.APIKey = apiKey
		fmt.Println("API key written to the config file in plaintext. Consider 'roomclaw config set-key' later.")
	}
	return nil
}

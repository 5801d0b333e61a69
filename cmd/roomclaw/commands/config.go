package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/agent"
)

// newConfigCmd creates the `roomclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the agent configuration",
		Long: `Manage the RoomClaw configuration file and stored secrets.

Examples:
  roomclaw config init
  roomclaw config show
  roomclaw config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := "roomclaw.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists; remove it first or edit it in place", path)
			}
			cfg := agent.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "***"
			}
			if cfg.Embedding.APIKey != "" {
				cfg.Embedding.APIKey = "***"
			}
			if cfg.Channel.Discord.Token != "" {
				cfg.Channel.Discord.Token = "***"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("rendering config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	var useKeyring bool

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the API key in the vault or OS keyring",
		Long: `Prompts for the API key and stores it in the encrypted vault
(default) or the OS keyring with --keyring. Either backend takes
precedence over plaintext keys in the config file.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			apiKey, err := agent.ReadPassword("API key: ")
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			if apiKey == "" {
				return fmt.Errorf("empty key")
			}

			if useKeyring {
				if !agent.KeyringAvailable() {
					return fmt.Errorf("OS keyring is not available on this system")
				}
				if err := agent.StoreKeyring("api_key", apiKey); err != nil {
					return fmt.Errorf("storing key in keyring: %w", err)
				}
				fmt.Println("API key stored in the OS keyring.")
				return nil
			}

			vault := agent.NewVault(agent.VaultFile)
			password, err := agent.ReadPassword("Vault master password: ")
			if err != nil {
				return fmt.Errorf("reading vault password: %w", err)
			}
			if vault.Exists() {
				if err := vault.Unlock(password); err != nil {
					return err
				}
			} else if err := vault.Create(password); err != nil {
				return fmt.Errorf("creating vault: %w", err)
			}
			defer vault.Lock()
			if err := vault.Set("api_key", apiKey); err != nil {
				return fmt.Errorf("storing key in vault: %w", err)
			}
			fmt.Printf("API key stored in %s.\n", vault.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&useKeyring, "keyring", false, "store the key in the OS keyring instead of the vault")
	return cmd
}

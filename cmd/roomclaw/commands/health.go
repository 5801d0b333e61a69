package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/roomclaw/pkg/roomclaw/memory"
)

// newHealthCmd creates the `roomclaw health` command. Used by Docker
// HEALTHCHECK and monitoring.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the agent's configuration and stores are usable",
		Long:  `Verifies the configuration loads and the memory database opens, and prints a JSON status line. Exits non-zero when a check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := map[string]string{"status": "ok"}

			cfg, err := resolveConfig(cmd)
			if err != nil {
				status["status"] = "error"
				status["config"] = err.Error()
				printStatus(status)
				return fmt.Errorf("unhealthy")
			}
			status["channel"] = cfg.Channel.Type

			mem, err := memory.Open(cfg.Memory.Path, nil, nil)
			if err != nil {
				status["status"] = "error"
				status["memory"] = err.Error()
				printStatus(status)
				return fmt.Errorf("unhealthy")
			}
			mem.Close()

			printStatus(status)
			return nil
		},
	}
}

func printStatus(status map[string]string) {
	out, _ := json.Marshal(status)
	fmt.Fprintln(os.Stdout, string(out))
}

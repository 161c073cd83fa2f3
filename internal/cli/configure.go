package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/sylva/internal/config"
	"github.com/harun/sylva/internal/observability"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up sylva.
The wizard starts from the current configuration and asks for the data
directory, memory backend, rules directory, metrics endpoint and log level.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	base, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	wizard := config.NewWizardIO(cmd.InOrStdin(), cmd.OutOrStdout())
	cfg, err := wizard.Run(base)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Agents.Regulatory.Enabled {
		if err := os.MkdirAll(cfg.Agents.Regulatory.RulesDir, 0o755); err != nil {
			return fmt.Errorf("failed to create rules directory: %w", err)
		}
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	recordAudit(cmd.Context(), cfg, observability.AuditEvent{
		Type:   "config",
		Action: "saved",
		Target: loader.GetConfigPath(),
		Metadata: map[string]any{
			"backend":    cfg.Memory.Backend,
			"regulatory": cfg.Agents.Regulatory.Enabled,
			"metrics":    cfg.Metrics.Enabled,
		},
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "\nYou can now start sylva with: sylva start")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/sylva/internal/config"
	"github.com/harun/sylva/internal/daemon"
	"github.com/harun/sylva/internal/observability"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sylva",
	Short: "Sylva - agent coordination substrate",
	Long: `Sylva runs cooperating agents on top of a topic-based message bus and a
shared key/value memory with expiring entries. The daemon hosts the agents;
the memory and rules commands work on the durable store and rule files
directly.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	daemon.Version = version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sylva/sylva.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads and validates the config named by --config, applying
// the --log-level override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func lifecycleFor(cfg *config.Config) *daemon.LifecycleManager {
	return daemon.NewLifecycleManager(
		cfg.Daemon.PIDFile,
		filepath.Join(cfg.DataDir, "status.json"),
		quietLogger(),
	)
}

// recordAudit appends a cli event to the audit trail. Audit failures are
// logged and never fail the command.
func recordAudit(ctx context.Context, cfg *config.Config, event observability.AuditEvent) {
	if ctx == nil {
		ctx = context.Background()
	}
	event.Actor = "cli"
	audit, err := observability.OpenAuditLog(cfg.DataDir)
	if err != nil {
		log := quietLogger()
		log.Warn().Err(err).Msg("Failed to open audit log")
		return
	}
	defer audit.Close()
	audit.Record(ctx, event)
}

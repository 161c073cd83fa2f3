package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/sylva/internal/daemon"
	"github.com/harun/sylva/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sylva daemon",
	Long: `Start the sylva daemon in the foreground. It runs the message bus, the
shared memory sweeper and the configured agents until it receives SIGINT or
SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if lifecycleFor(cfg).IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", cfg.Daemon.PIDFile)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// quietLogger is used by commands that touch components directly.
func quietLogger() zerolog.Logger {
	if logLevel == "" {
		return zerolog.Nop()
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: rootCmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
}

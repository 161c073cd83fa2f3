package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/sylva/internal/config"
	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/pkg/memory"
)

var (
	memoryTTL     time.Duration
	memoryPattern string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit the shared agent memory",
	Long: `Operate directly on the configured memory store. With the sqlite
backend this is the same file the daemon uses.`,
}

var memoryGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the value stored under KEY as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(cmd *cobra.Command, ctx context.Context, cfg *config.Config, mem *memory.AgentMemory, args []string) error {
		value, err := mem.Get(ctx, args[0])
		if errors.Is(err, memory.ErrNotFound) {
			return fmt.Errorf("key %q not found", args[0])
		}
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		ttl, err := mem.TTL(ctx, args[0])
		if err == nil && ttl > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", ttl.Round(time.Second))
		}
		return nil
	}),
}

var memorySetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store VALUE under KEY",
	Long: `Store VALUE under KEY. VALUE is parsed as JSON when it is valid JSON and
stored as a plain string otherwise.`,
	Args: cobra.ExactArgs(2),
	RunE: withMemory(func(cmd *cobra.Command, ctx context.Context, cfg *config.Config, mem *memory.AgentMemory, args []string) error {
		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			value = args[1]
		}
		if err := mem.Set(ctx, args[0], value, memoryTTL); err != nil {
			return err
		}
		event := observability.AuditEvent{Type: "memory", Action: "set", Target: args[0]}
		if memoryTTL > 0 {
			event.Metadata = map[string]any{"ttl": memoryTTL.String()}
		}
		recordAudit(ctx, cfg, event)
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
		return nil
	}),
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Remove KEY",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(cmd *cobra.Command, ctx context.Context, cfg *config.Config, mem *memory.AgentMemory, args []string) error {
		if err := mem.Delete(ctx, args[0]); err != nil {
			return err
		}
		recordAudit(ctx, cfg, observability.AuditEvent{Type: "memory", Action: "delete", Target: args[0]})
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	}),
}

var memoryKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List live keys",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(cmd *cobra.Command, ctx context.Context, cfg *config.Config, mem *memory.AgentMemory, args []string) error {
		keys, err := mem.Keys(ctx, memoryPattern)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	}),
}

var memoryCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries now",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(cmd *cobra.Command, ctx context.Context, cfg *config.Config, mem *memory.AgentMemory, args []string) error {
		n, err := mem.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		recordAudit(ctx, cfg, observability.AuditEvent{
			Type:     "memory",
			Action:   "cleanup",
			Metadata: map[string]any{"removed": n},
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", n)
		return nil
	}),
}

func init() {
	memorySetCmd.Flags().DurationVar(&memoryTTL, "ttl", 0, "time to live (0 keeps the entry until deleted)")
	memoryKeysCmd.Flags().StringVar(&memoryPattern, "pattern", "*", `key pattern ("*", "prefix*", "*suffix" or exact)`)

	memoryCmd.AddCommand(memoryGetCmd, memorySetCmd, memoryDeleteCmd, memoryKeysCmd, memoryCleanupCmd)
	rootCmd.AddCommand(memoryCmd)
}

type memoryRunFunc func(cmd *cobra.Command, ctx context.Context, cfg *config.Config, mem *memory.AgentMemory, args []string) error

// withMemory opens the configured backend without a sweeper and fails
// instead of falling back, so edits never land in a throwaway store.
func withMemory(fn memoryRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		backend, err := memory.OpenBackend(memory.Config{
			Backend: cfg.Memory.Backend,
			Path:    cfg.Memory.Path,
		}, memory.BackendOptions{})
		if err != nil {
			return fmt.Errorf("failed to open memory: %w", err)
		}
		mem := memory.New(backend, memory.Options{DisableSweep: true, Logger: quietLogger()})
		defer mem.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fn(cmd, ctx, cfg, mem, args)
	}
}

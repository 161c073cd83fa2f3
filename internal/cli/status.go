package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/sylva/internal/daemon"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the sylva daemon from its PID file and the
last status snapshot it wrote.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status snapshot")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	lm := lifecycleFor(cfg)

	if !lm.IsRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, _ := lm.GetPID()
	status, err := lm.ReadStatus()
	if err != nil {
		fmt.Fprintln(out, "Status: running")
		fmt.Fprintf(out, "PID: %d\n", pid)
		return nil
	}

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(out, pid, status)
	return nil
}

func printStatus(out io.Writer, pid int, status daemon.Status) {
	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	fmt.Fprintf(out, "Version: %s\n", status.Version)
	if !status.StartTime.IsZero() {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(status.UpdatedAt.Sub(status.StartTime)))
	}
	fmt.Fprintf(out, "Bus: running=%t pending=%d published=%d delivered=%d handler_errors=%d\n",
		status.Bus.Running, status.Bus.Pending, status.Bus.Published, status.Bus.Delivered, status.Bus.HandlerErrors)
	fmt.Fprintf(out, "Memory: backend=%s sweeps=%d expired_removed=%d\n",
		status.Memory.Backend, status.Memory.Sweeps, status.Memory.ExpiredRemoved)
	fmt.Fprintf(out, "Rules: %d in %d sets\n", status.Rules, status.RuleSets)
	fmt.Fprintf(out, "Schedules: %d\n", status.Schedules)
	for _, a := range status.Agents {
		fmt.Fprintf(out, "Agent %s: %s queue=%d processed=%d failed=%d", a.Name, a.State, a.QueueLength, a.Processed, a.Failed)
		if a.LastError != "" {
			fmt.Fprintf(out, " last_error=%q", a.LastError)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Updated: %s\n", status.UpdatedAt.Format(time.RFC3339))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

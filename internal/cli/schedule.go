package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/sylva/internal/config"
	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/pkg/bus"
	"github.com/harun/sylva/pkg/schedule"
)

var (
	scheduleEvery          time.Duration
	scheduleAt             string
	scheduleCron           string
	scheduleTZ             string
	schedulePayload        string
	schedulePriority       string
	scheduleDisabled       bool
	scheduleDeleteAfterRun bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled bus publications",
	Long: `Scheduled jobs publish a fixed payload to a topic at a time, on an
interval or on a cron expression. The daemon loads the job store at start,
so edits are refused while it is running.`,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svc, err := openSchedule()
		if err != nil {
			return err
		}

		jobs := svc.ListJobs()
		out := cmd.OutOrStdout()
		if len(jobs) == 0 {
			fmt.Fprintln(out, "No scheduled jobs")
			return nil
		}
		for _, job := range jobs {
			state := "enabled"
			if !job.Enabled {
				state = "disabled"
			}
			next := "-"
			if job.State.NextRun != nil {
				next = job.State.NextRun.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%s  %-20s %-8s %-24s %-16s next %s\n",
				job.ID, job.Name, state, job.Topic, describeSpec(job.Spec), next)
		}
		return nil
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add NAME TOPIC",
	Short: "Add a job publishing to TOPIC",
	Long: `Add a job publishing to TOPIC. Exactly one of --at, --every or --cron
selects when it runs. --payload is a JSON object.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags()
		if err != nil {
			return err
		}

		var payload bus.Payload
		if schedulePayload != "" {
			if err := json.Unmarshal([]byte(schedulePayload), &payload); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}
		}

		priority := bus.PriorityNormal
		if schedulePriority != "" {
			if priority, err = bus.ParsePriority(schedulePriority); err != nil {
				return err
			}
		}

		cfg, svc, err := openSchedule()
		if err != nil {
			return err
		}
		if err := refuseWhileRunning(cfg); err != nil {
			return err
		}

		job, err := svc.AddJob(schedule.AddParams{
			Name:           args[0],
			Enabled:        !scheduleDisabled,
			DeleteAfterRun: scheduleDeleteAfterRun,
			Spec:           spec,
			Topic:          args[1],
			Payload:        payload,
			Priority:       priority,
		})
		if err != nil {
			return err
		}
		recordAudit(cmd.Context(), cfg, observability.AuditEvent{
			Type:     "schedule",
			Action:   "job_added",
			Target:   job.ID,
			Metadata: map[string]any{"name": job.Name, "topic": job.Topic},
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", job.ID, job.Name)
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, svc, err := openSchedule()
		if err != nil {
			return err
		}
		if err := refuseWhileRunning(cfg); err != nil {
			return err
		}
		if err := svc.RemoveJob(args[0]); err != nil {
			return err
		}
		recordAudit(cmd.Context(), cfg, observability.AuditEvent{Type: "schedule", Action: "job_removed", Target: args[0]})
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

func init() {
	f := scheduleAddCmd.Flags()
	f.StringVar(&scheduleAt, "at", "", "run once at this RFC 3339 time")
	f.DurationVar(&scheduleEvery, "every", 0, "run on a fixed interval")
	f.StringVar(&scheduleCron, "cron", "", `five-field cron expression or descriptor such as "@daily"`)
	f.StringVar(&scheduleTZ, "tz", "", "time zone for --cron")
	f.StringVar(&schedulePayload, "payload", "", "message payload as a JSON object")
	f.StringVar(&schedulePriority, "priority", "", "message priority (low, normal, high, urgent)")
	f.BoolVar(&scheduleDisabled, "disabled", false, "add the job without enabling it")
	f.BoolVar(&scheduleDeleteAfterRun, "delete-after-run", false, "remove a one-shot job after it succeeds")

	scheduleCmd.AddCommand(scheduleListCmd, scheduleAddCmd, scheduleRemoveCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func specFromFlags() (schedule.Spec, error) {
	set := 0
	for _, on := range []bool{scheduleAt != "", scheduleEvery != 0, scheduleCron != ""} {
		if on {
			set++
		}
	}
	if set != 1 {
		return schedule.Spec{}, fmt.Errorf("exactly one of --at, --every or --cron is required")
	}

	switch {
	case scheduleAt != "":
		at, err := time.Parse(time.RFC3339, scheduleAt)
		if err != nil {
			return schedule.Spec{}, fmt.Errorf("invalid --at time: %w", err)
		}
		return schedule.Spec{Kind: schedule.KindAt, At: at}, nil
	case scheduleEvery != 0:
		return schedule.Spec{Kind: schedule.KindEvery, Every: scheduleEvery}, nil
	default:
		return schedule.Spec{Kind: schedule.KindCron, Expr: scheduleCron, TZ: scheduleTZ}, nil
	}
}

func describeSpec(spec schedule.Spec) string {
	switch spec.Kind {
	case schedule.KindAt:
		return "at " + spec.At.Local().Format("2006-01-02 15:04")
	case schedule.KindEvery:
		return "every " + spec.Every.String()
	case schedule.KindCron:
		if spec.TZ != "" {
			return spec.Expr + " " + spec.TZ
		}
		return spec.Expr
	default:
		return string(spec.Kind)
	}
}

// openSchedule loads the job store without arming any timers.
func openSchedule() (*config.Config, *schedule.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Schedule.Enabled {
		return nil, nil, fmt.Errorf("scheduling is disabled in the configuration")
	}
	svc, err := schedule.NewService(schedule.Options{
		StorePath: cfg.Schedule.StorePath,
		Logger:    quietLogger(),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}

func refuseWhileRunning(cfg *config.Config) error {
	if lifecycleFor(cfg).IsRunning() {
		return fmt.Errorf("daemon is running; stop it before editing schedules")
	}
	return nil
}

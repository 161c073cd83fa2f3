package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that spec can produce run times.
func (spec Spec) Validate() error {
	_, err := spec.Next(time.Now(), false)
	return err
}

// Next returns the first run time after now. A zero time means a one-shot
// spec has already fired (ran) and there is nothing left to schedule.
func (spec Spec) Next(now time.Time, ran bool) (time.Time, error) {
	switch spec.Kind {
	case KindAt:
		return nextAt(spec, ran)
	case KindEvery:
		return nextEvery(spec, now)
	case KindCron:
		return nextCron(spec, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %q", spec.Kind)
	}
}

func nextAt(spec Spec, ran bool) (time.Time, error) {
	if spec.At.IsZero() {
		return time.Time{}, fmt.Errorf("'at' schedule requires a time")
	}
	if ran {
		return time.Time{}, nil
	}
	return spec.At, nil
}

// nextEvery aligns to Anchor when set so restarts keep the same phase.
func nextEvery(spec Spec, now time.Time) (time.Time, error) {
	if spec.Every <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
	}
	if spec.Anchor == nil {
		return now.Add(spec.Every), nil
	}

	anchor := *spec.Anchor
	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		return anchor, nil
	}
	periods := elapsed / spec.Every
	return anchor.Add((periods + 1) * spec.Every), nil
}

func nextCron(spec Spec, now time.Time) (time.Time, error) {
	if spec.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires an expression")
	}

	sched, err := cronParser.Parse(spec.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if spec.TZ != "" {
		loc, err := time.LoadLocation(spec.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	return sched.Next(now), nil
}

// Package schedule publishes bus messages on a timetable.
//
// A Job names a topic, a payload and a Spec: a one-shot time ("at"), a fixed
// interval optionally aligned to an anchor ("every"), or a five-field cron
// expression with an optional time zone ("cron"). Jobs persist to a JSON
// file so a restarted daemon resumes them.
//
// Invariants:
//   - A job never runs concurrently with itself; a tick that arrives while
//     the previous run is still publishing is skipped.
//   - One-shot jobs are disabled after they run, or deleted when
//     DeleteAfterRun is set and the run succeeded.
//   - Timers only exist between Start and Stop. A Service that was never
//     started can still add, update and remove jobs, which is how the CLI
//     edits the store offline.
//
// Usage:
//
//	svc, err := schedule.NewService(schedule.Options{
//		StorePath: filepath.Join(dataDir, "schedules.json"),
//		Publisher: b,
//	})
//	svc.Start()
//	defer svc.Stop()
//	svc.AddJob(schedule.AddParams{
//		Name:    "nightly-check",
//		Enabled: true,
//		Spec:    schedule.Spec{Kind: schedule.KindCron, Expr: "0 2 * * *"},
//		Topic:   "regulation.check",
//		Payload: bus.Payload{"subject_id": "district-4", "facts": map[string]any{}},
//	})
package schedule

// Package agent runs a named worker that turns bus messages into tasks and
// executes them one at a time.
//
// Invariants:
//   - An agent is either Stopped or Running; Run/Start on a running agent is a no-op.
//   - Tasks execute in FIFO order, exactly one at a time per agent.
//   - A task handler error is logged and the task dropped; the loop continues.
//   - A panic escaping a task ends the loop; Run recovers it, records an
//     ExecutionError and the agent returns to Stopped. Nothing is re-raised.
//   - Result messages carry the originating message id as correlation id.
//
// Usage:
//
//	a := agent.New(agent.Config{Name: "scorer", ResultTopic: "parcel.scored"}, b)
//	a.Handle("score", scoreParcel)
//	_ = a.Subscribe("parcel.created", agent.TaskFromMessage("score"))
//	a.Start(ctx)
//	defer a.Close()
package agent

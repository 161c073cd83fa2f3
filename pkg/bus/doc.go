// Package bus provides the in-process publish/subscribe message bus shared by
// all agents.
//
// Invariants:
//   - A single dispatcher goroutine drains one shared queue, so asynchronously
//     published messages are delivered in enqueue order across all topics.
//   - Each handler invocation is isolated: an error or panic is logged and
//     delivery continues with the next handler.
//   - The subscriber registry is snapshotted before every dispatch, so handlers
//     may subscribe or unsubscribe while being invoked.
//   - Messages are immutable once created; Payload() hands out copies.
//
// Usage:
//
//	b := bus.New(bus.Config{Logger: logger})
//	_ = b.Start()
//	defer b.Stop()
//	_ = b.Subscribe("parcel.*", "scorer", func(ctx context.Context, msg bus.Message) error {
//		return nil
//	})
//	id, _ := b.Publish("parcel.created", bus.Payload{"parcel_id": "P-1"}, nil)
//	_ = id
package bus

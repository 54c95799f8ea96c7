// Package buffer provides the bounded frame queue between audio capture
// and processing.
//
// Queue is a fixed-size circular buffer guarded by a sync.Cond. It
// supports two producer policies:
//
//   - Block: Push waits for space. Used for recorded files, where
//     nothing may be lost and the producer can be slowed down.
//
//   - DropWhenFull: Push never waits; when the queue is full the new
//     item is discarded and a drop counter is incremented. Used for live
//     capture, where the audio callback must not stall.
//
// Consumers call Next until it returns ErrDone. CloseWrite lets the
// consumer drain what is queued; CloseWithError unblocks everyone
// immediately.
//
// Example usage:
//
//	q := buffer.NewQueue[pcm.Frame](64, buffer.DropWhenFull)
//	go capture(func(f pcm.Frame) { q.Push(f) })
//	for {
//		f, err := q.Next()
//		if err != nil {
//			break
//		}
//		process(f)
//	}
package buffer

package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrDone is returned by Next when the queue is closed for writing and
// empty.
var ErrDone = errors.New("buffer: queue done")

// Policy decides what Push does when the queue is full.
type Policy uint8

const (
	// Block waits for space.
	Block Policy = iota

	// DropWhenFull discards the new item.
	DropWhenFull
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropWhenFull:
		return "drop"
	}
	return fmt.Sprintf("policy(%d)", p)
}

// Queue is a thread-safe bounded FIFO.
type Queue[T any] struct {
	cond   *sync.Cond
	policy Policy

	mu         sync.Mutex
	buf        []T
	head, tail int64
	closeWrite bool
	closeErr   error

	dropped atomic.Uint64
}

// NewQueue returns a queue holding at most size items.
func NewQueue[T any](size int, policy Policy) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	q := &Queue[T]{
		buf:    make([]T, size),
		policy: policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds v to the tail of the queue. It reports whether v was
// queued; false with a nil error means v was dropped.
func (q *Queue[T]) Push(v T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.writeErrLocked(); err != nil {
		return false, err
	}
	size := int64(len(q.buf))
	for q.tail-q.head == size {
		if q.policy == DropWhenFull {
			q.dropped.Add(1)
			return false, nil
		}
		q.cond.Wait()
		if err := q.writeErrLocked(); err != nil {
			return false, err
		}
	}
	q.buf[q.tail%size] = v
	q.tail++
	q.cond.Signal()
	return true, nil
}

func (q *Queue[T]) writeErrLocked() error {
	if q.closeErr != nil {
		return fmt.Errorf("buffer: write to closed queue: %w", q.closeErr)
	}
	if q.closeWrite {
		return fmt.Errorf("buffer: write to closed queue: %w", io.ErrClosedPipe)
	}
	return nil
}

// Next removes and returns the head of the queue, blocking until an item
// is available. It returns ErrDone once the queue is closed for writing
// and drained.
func (q *Queue[T]) Next() (v T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == q.tail {
		if q.closeErr != nil {
			return v, fmt.Errorf("buffer: read from closed queue: %w", q.closeErr)
		}
		if q.closeWrite {
			return v, ErrDone
		}
		q.cond.Wait()
	}
	if q.closeErr != nil {
		return v, fmt.Errorf("buffer: read from closed queue: %w", q.closeErr)
	}
	i := q.head % int64(len(q.buf))
	v = q.buf[i]
	var zero T
	q.buf[i] = zero
	q.head++
	q.cond.Signal()
	return v, nil
}

// CloseWrite stops further pushes; queued items can still be read.
func (q *Queue[T]) CloseWrite() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeWrite {
		return nil
	}
	q.closeWrite = true
	q.cond.Broadcast()
	return nil
}

// CloseWithError closes both sides and unblocks all waiters with err.
// A nil err means io.ErrClosedPipe.
func (q *Queue[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return nil
	}
	q.closeErr = err
	q.closeWrite = true
	q.cond.Broadcast()
	return nil
}

// Close is CloseWithError(io.ErrClosedPipe).
func (q *Queue[T]) Close() error {
	return q.CloseWithError(io.ErrClosedPipe)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// Cap returns the queue size.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// Dropped returns the number of items discarded by DropWhenFull.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Policy returns the full-queue policy.
func (q *Queue[T]) Policy() Policy { return q.policy }

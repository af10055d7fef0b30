package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and single-node development.
// Deliveries that are never acknowledged stay in flight; the outbox relay is
// what recovers them after a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Delivery
	inflight map[string]Delivery
	dead     []DeadLetter
	seq      uint64
	notify   chan struct{}
	block    time.Duration
}

// NewMemoryQueue creates an empty queue whose Receive waits at most block.
func NewMemoryQueue(block time.Duration) *MemoryQueue {
	if block <= 0 {
		block = time.Second
	}
	return &MemoryQueue{
		inflight: make(map[string]Delivery),
		notify:   make(chan struct{}, 1),
		block:    block,
	}
}

// Enqueue appends body to the queue.
func (q *MemoryQueue) Enqueue(_ context.Context, body []byte) error {
	q.mu.Lock()
	q.seq++
	q.pending = append(q.pending, Delivery{
		ID:   strconv.FormatUint(q.seq, 10),
		Body: append([]byte(nil), body...),
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive takes up to max pending messages, waiting up to the block interval.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(q.block)
	defer timer.Stop()

	for {
		if out := q.take(max); len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) take(max int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	out := make([]Delivery, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	for _, d := range out {
		q.inflight[d.ID] = d
	}
	if len(q.pending) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return out
}

// Ack removes d from the in-flight set.
func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	delete(q.inflight, d.ID)
	q.mu.Unlock()
	return nil
}

// DeadLetter records d with reason and removes it from the in-flight set.
func (q *MemoryQueue) DeadLetter(_ context.Context, d Delivery, reason string) error {
	q.mu.Lock()
	delete(q.inflight, d.ID)
	q.dead = append(q.dead, DeadLetter{Delivery: d, Reason: reason, At: time.Now().UTC()})
	q.mu.Unlock()
	return nil
}

// DeadLetters returns a copy of everything dead-lettered so far.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Outstanding is the number of messages pending or in flight.
func (q *MemoryQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

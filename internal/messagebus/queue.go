package messagebus

import (
	"context"
	"sync"
)

// Queue is a FIFO shared by all workers. A capacity of zero means unbounded.
type Queue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	ready    chan struct{}
}

func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

func (q *Queue) Push(msg Message) error {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop blocks until a message is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()

			// Pass the wake-up on so a second waiter sees the rest.
			if remaining > 0 {
				q.signal()
			}
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

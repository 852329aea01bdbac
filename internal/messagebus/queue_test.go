package messagebus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(testEvent{Name: name}))
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		msg, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, msg.(testEvent).Name)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(0)
	got := make(chan Message, 1)

	go func() {
		msg, err := q.Pop(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(testEvent{Name: "late"}))

	select {
	case msg := <-got:
		assert.Equal(t, "late", msg.(testEvent).Name)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueue_MultipleWaitersAllServed(t *testing.T) {
	q := NewQueue(0)
	got := make(chan Message, 3)

	for i := 0; i < 3; i++ {
		go func() {
			msg, err := q.Pop(context.Background())
			if err == nil {
				got <- msg
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(testEvent{}))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never received a message", i)
		}
	}
}

func TestQueue_PopHonoursCancellation(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Capacity(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Push(testEvent{}))
	assert.ErrorIs(t, q.Push(testEvent{}), ErrQueueFull)
}

package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meko-christian/mbwatch/internal/channel"
)

func receiveTask(t *testing.T, q *Queue) Task {
	t.Helper()
	select {
	case task := <-q.C():
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("no task arrived")
		return nil
	}
}

func requireNoTask(t *testing.T, q *Queue) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	select {
	case task := <-q.C():
		t.Fatalf("unexpected task %T", task)
	default:
	}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := 0; i < 10; i++ {
		q.Put(SyncTask{Pairs: []channel.Endpoint{{Mailbox: string(rune('a' + i))}}})
	}

	for i := 0; i < 10; i++ {
		task := receiveTask(t, q).(SyncTask)
		require.Equal(t, string(rune('a'+i)), task.Pairs[0].Mailbox, "strict enqueue order")
	}
	requireNoTask(t, q)
}

func TestQueueMixedProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			q.Put(LocalTask{})
		}
		close(done)
	}()
	go func() {
		for i := 0; i < 100; i++ {
			q.Put(SyncTask{})
		}
	}()

	received := 0
	for received < 200 {
		receiveTask(t, q)
		received++
	}
	<-done
	requireNoTask(t, q)
}

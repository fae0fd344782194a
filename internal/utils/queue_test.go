package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockingQueueFIFO(t *testing.T) {
	q := CreateBlockingQueue[int]()
	for i := range 5 {
		q.Enqueue(i)
	}
	require.Equal(t, 5, q.Len())
	for i := range 5 {
		require.Equal(t, i, q.Dequeue())
	}
	require.Equal(t, 0, q.Len())
}

func TestBlockingQueueBlocks(t *testing.T) {
	q := CreateBlockingQueue[string]()
	got := make(chan string)
	go func() { got <- q.Dequeue() }()

	select {
	case <-got:
		t.Fatal("dequeue returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue("hello")
	select {
	case v := <-got:
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestBlockingQueueConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 200
	q := CreateBlockingQueue[[2]int]()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				q.Enqueue([2]int{p, i})
			}
		})
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for range producers * perProducer {
		item := q.Dequeue()
		// each producer's items come out in the order it queued them
		require.Equal(t, last[item[0]]+1, item[1])
		last[item[0]] = item[1]
	}
	wg.Wait()
	require.Equal(t, 0, q.Len())
}

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushDrainKeepsOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 100, q.Len())

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready notification")
	}

	items := q.Drain()
	require.Len(t, items, 100)
	for i, v := range items {
		assert.Equal(t, i, v)
	}
	assert.Empty(t, q.Drain())
}

func TestPushAfterClose(t *testing.T) {
	q := New[string]()
	require.True(t, q.Push("a"))
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Push("b"))
	assert.Equal(t, []string{"a"}, q.Drain())

	select {
	case <-q.Done():
	default:
		t.Fatal("done should be closed")
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	got := make([]int, 0, producers*perProducer)
	last := make(map[int]int)
	deadline := time.After(5 * time.Second)
	for len(got) < producers*perProducer {
		select {
		case <-q.Ready():
			for _, v := range q.Drain() {
				p := v / perProducer
				if prev, ok := last[p]; ok {
					require.Greater(t, v, prev, "per-producer order must hold")
				}
				last[p] = v
				got = append(got, v)
			}
		case <-deadline:
			t.Fatalf("received %d items before timeout", len(got))
		}
	}
	wg.Wait()
	assert.Len(t, got, producers*perProducer)
}

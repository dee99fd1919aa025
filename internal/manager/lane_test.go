package manager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, q.Enqueue(func() { got = append(got, i) }))
	}
	assert.Equal(t, 3, q.Len())

	for {
		j, ok := q.TryDequeue()
		if !ok {
			break
		}
		j()
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Equal(t, 0, q.Len())
}

func TestJobQueue_Close(t *testing.T) {
	q := newJobQueue()
	require.True(t, q.Enqueue(func() {}))
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(func() {}), "closed queue rejects jobs")

	_, ok := q.TryDequeue()
	assert.True(t, ok, "queued jobs survive Close")

	// Wait is closed once any pending signal is consumed.
	for range q.Wait() {
	}
}

func TestLane_DrainsOnStop(t *testing.T) {
	l := startLane("Item")

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	l.stop()
	<-l.done

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.False(t, l.submit(func() {}))
}

func TestLane_JobCanSubmitFollowUp(t *testing.T) {
	l := startLane("Item")
	done := make(chan struct{})

	require.True(t, l.submit(func() {
		l.submit(func() { close(done) })
	}))
	<-done

	l.stop()
	<-l.done
}

package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *MainLoop {
	t.Helper()
	l := NewMainLoop()
	go l.Run()
	select {
	case <-l.Started():
	case <-time.After(time.Second):
		t.Fatal("main loop did not start")
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestMainLoop_IsCurrentOnlyInsideLoop(t *testing.T) {
	l := startLoop(t)

	assert.False(t, l.IsCurrent())

	var inside bool
	Invoke(l, func() { inside = l.IsCurrent() })
	assert.True(t, inside)
}

func TestMainLoop_RunsTasksInOrder(t *testing.T) {
	l := startLoop(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	Invoke(l, func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDispatch_RunsSynchronouslyWhenCurrent(t *testing.T) {
	l := startLoop(t)

	var order []string
	Invoke(l, func() {
		Dispatch(l, func() { order = append(order, "dispatched") })
		order = append(order, "after")
	})

	assert.Equal(t, []string{"dispatched", "after"}, order)
}

func TestDispatch_PostsWhenNotCurrent(t *testing.T) {
	l := startLoop(t)

	ran := make(chan bool, 1)
	Dispatch(l, func() { ran <- l.IsCurrent() })

	select {
	case onLoop := <-ran:
		assert.True(t, onLoop)
	case <-time.After(time.Second):
		t.Fatal("dispatched task did not run")
	}
}

func TestMainLoop_CloseDrainsQueuedTasks(t *testing.T) {
	l := NewMainLoop()
	go l.Run()
	<-l.Started()

	ran := make(chan struct{})
	l.Post(func() { close(ran) })
	require.NoError(t, l.Close())

	select {
	case <-ran:
	default:
		t.Fatal("queued task was dropped on close")
	}
}

func TestMainLoop_PostAfterStopRunsOnCaller(t *testing.T) {
	l := NewMainLoop()
	go l.Run()
	<-l.Started()
	require.NoError(t, l.Close())

	var ran bool
	l.Post(func() { ran = true })

	assert.True(t, ran)
}

func TestMainLoop_RecoversFromPanickingTask(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })

	var ran bool
	Invoke(l, func() { ran = true })
	assert.True(t, ran)
}

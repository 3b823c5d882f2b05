package runtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubQueue_StartsInPausedState(t *testing.T) {
	sq := NewSubQueue[int](10)
	defer sq.Close()

	sq.Enqueue(42)

	select {
	case <-sq.Chan():
		t.Fatal("should not receive value while paused")
	case <-time.After(50 * time.Millisecond):
		// Expected: no value received
	}
}

func TestSubQueue_ResumeDeliversQueued(t *testing.T) {
	sq := NewSubQueue[int](10)
	defer sq.Close()

	sq.Enqueue(1)
	sq.Enqueue(2)
	sq.Enqueue(3)

	sq.SetPaused(false)

	assert.Equal(t, 1, <-sq.Chan())
	assert.Equal(t, 2, <-sq.Chan())
	assert.Equal(t, 3, <-sq.Chan())
}

func TestSubQueue_PrimeGoesFirst(t *testing.T) {
	sq := NewSubQueue[string](4)
	defer sq.Close()

	sq.Enqueue("live")
	sq.Prime("replayed")
	sq.SetPaused(false)

	assert.Equal(t, "replayed", <-sq.Chan())
	assert.Equal(t, "live", <-sq.Chan())
}

func TestSubQueue_EnqueueDequeueOrder(t *testing.T) {
	sq := NewSubQueue[int](10)
	defer sq.Close()

	sq.SetPaused(false)

	for i := 0; i < 5; i++ {
		sq.Enqueue(i)
	}

	for i := 0; i < 5; i++ {
		select {
		case val := <-sq.Chan():
			assert.Equal(t, i, val)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for value %d", i)
		}
	}
}

func TestSubQueue_CloseStopsDispatcher(t *testing.T) {
	sq := NewSubQueue[int](10)
	sq.SetPaused(false)

	sq.Enqueue(1)
	<-sq.Chan()

	sq.Close()

	select {
	case _, ok := <-sq.Chan():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	select {
	case <-sq.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for done")
	}
}

func TestSubQueue_CloseUnblocksSlowReader(t *testing.T) {
	sq := NewSubQueue[int](1)
	sq.SetPaused(false)

	// Fill the buffer and leave one more pending in the dispatcher.
	sq.Enqueue(1)
	sq.Enqueue(2)
	time.Sleep(20 * time.Millisecond)

	sq.Close()

	select {
	case <-sq.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not exit while the reader was idle")
	}
}

func TestSubQueue_FinishDrainsThenCloses(t *testing.T) {
	sq := NewSubQueue[int](10)

	sq.Enqueue(1)
	sq.Enqueue(2)
	sq.Finish()

	var got []int
	for v := range sq.Chan() {
		got = append(got, v)
	}

	assert.Equal(t, []int{1, 2}, got)
}

func TestSubQueue_EnqueueAfterFinishIsDropped(t *testing.T) {
	sq := NewSubQueue[int](10)
	sq.Finish()
	sq.Enqueue(7)

	_, ok := <-sq.Chan()
	assert.False(t, ok)
}

func TestSubQueue_EnqueueAfterClose(t *testing.T) {
	sq := NewSubQueue[int](10)
	sq.SetPaused(false)
	sq.Close()

	require.NotPanics(t, func() {
		sq.Enqueue(42)
	})
}

func TestSubQueue_PauseAndResume(t *testing.T) {
	sq := NewSubQueue[int](10)
	defer sq.Close()

	sq.SetPaused(false)

	sq.Enqueue(1)
	assert.Equal(t, 1, <-sq.Chan())

	sq.SetPaused(true)
	sq.Enqueue(2)

	select {
	case <-sq.Chan():
		t.Fatal("should not receive while paused")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}

	sq.SetPaused(false)

	select {
	case val := <-sq.Chan():
		assert.Equal(t, 2, val)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for value after resume")
	}
}

func TestSubQueue_ConcurrentEnqueue(t *testing.T) {
	sq := NewSubQueue[int](100)
	defer sq.Close()

	sq.SetPaused(false)

	numGoroutines := 10
	itemsPerGoroutine := 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func(goroutineID int) {
			defer wg.Done()
			for i := 0; i < itemsPerGoroutine; i++ {
				sq.Enqueue(goroutineID*100 + i)
			}
		}(g)
	}
	wg.Wait()

	received := make(map[int]struct{})
	for len(received) < numGoroutines*itemsPerGoroutine {
		select {
		case val := <-sq.Chan():
			received[val] = struct{}{}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout after %d values", len(received))
		}
	}

	assert.Len(t, received, numGoroutines*itemsPerGoroutine)
}

func TestSubQueue_BufferSize(t *testing.T) {
	for _, bufSize := range []int{1, 5, 100} {
		t.Run(fmt.Sprintf("buffer_%d", bufSize), func(t *testing.T) {
			sq := NewSubQueue[int](bufSize)
			defer sq.Close()

			sq.SetPaused(false)

			for i := 0; i < bufSize*2; i++ {
				sq.Enqueue(i)
			}

			for i := 0; i < bufSize*2; i++ {
				select {
				case val := <-sq.Chan():
					assert.Equal(t, i, val)
				case <-time.After(time.Second):
					t.Fatalf("timeout at index %d", i)
				}
			}
		})
	}
}

func TestSubQueue_CloseWhilePaused(t *testing.T) {
	sq := NewSubQueue[int](10)

	sq.Enqueue(1)
	sq.Enqueue(2)

	sq.Close()

	select {
	case _, ok := <-sq.Chan():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestSubQueue_MultipleCloses(t *testing.T) {
	sq := NewSubQueue[int](10)
	sq.SetPaused(false)

	sq.Close()

	require.NotPanics(t, func() {
		sq.Close()
		sq.Finish()
	})
}

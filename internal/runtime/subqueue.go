package runtime

import (
	"sync"
)

// SubQueue decouples a producer from one subscriber. Producers never block:
// events are appended to an unbounded queue and a dispatcher goroutine moves
// them, in order, into the subscriber's buffered channel.
type SubQueue[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []T
	closed    bool
	finishing bool

	outCh chan T        // consumer reads from this
	stop  chan struct{} // closed by Close to abandon a pending send
	done  chan struct{} // closed once outCh is closed

	paused bool // gate dispatch until the replayed value is sent
}

func NewSubQueue[T any](outBuf int) *SubQueue[T] {
	sq := &SubQueue[T]{
		outCh:  make(chan T, outBuf),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		paused: true,
	}
	sq.cond = sync.NewCond(&sq.mu)
	go sq.dispatch()
	return sq
}

// Chan is the channel exposed to the subscriber.
func (sq *SubQueue[T]) Chan() <-chan T { return sq.outCh }

// Done is closed after the subscriber channel has been closed.
func (sq *SubQueue[T]) Done() <-chan struct{} { return sq.done }

// Enqueue appends ev and wakes the dispatcher. It is a no-op once the queue
// is closed or finishing.
func (sq *SubQueue[T]) Enqueue(ev T) {
	sq.mu.Lock()
	if !sq.closed && !sq.finishing {
		sq.queue = append(sq.queue, ev)
		sq.cond.Signal()
	}
	sq.mu.Unlock()
}

// Prime pushes ev straight into the subscriber channel, ahead of anything
// queued. Use only while paused and when the channel buffer has room.
func (sq *SubQueue[T]) Prime(ev T) {
	sq.outCh <- ev
}

// SetPaused gates dispatching.
func (sq *SubQueue[T]) SetPaused(v bool) {
	sq.mu.Lock()
	sq.paused = v
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// Finish delivers everything already queued, then closes the channel.
func (sq *SubQueue[T]) Finish() {
	sq.mu.Lock()
	sq.finishing = true
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// Close drops queued events and closes the channel. Safe to call repeatedly.
func (sq *SubQueue[T]) Close() {
	sq.mu.Lock()
	if !sq.closed {
		sq.closed = true
		close(sq.stop)
		sq.cond.Broadcast()
	}
	sq.mu.Unlock()
}

func (sq *SubQueue[T]) ready() bool {
	if sq.closed {
		return true
	}
	if len(sq.queue) == 0 {
		return sq.finishing
	}
	return !sq.paused || sq.finishing
}

func (sq *SubQueue[T]) dispatch() {
	defer close(sq.done)
	defer close(sq.outCh)

	for {
		sq.mu.Lock()
		for !sq.ready() {
			sq.cond.Wait()
		}
		if sq.closed || len(sq.queue) == 0 {
			sq.mu.Unlock()
			return
		}
		ev := sq.queue[0]
		var zero T
		sq.queue[0] = zero
		sq.queue = sq.queue[1:]
		sq.mu.Unlock()

		select {
		case sq.outCh <- ev:
		case <-sq.stop:
			return
		}
	}
}

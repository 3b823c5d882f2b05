package runtime

import (
	goruntime "runtime"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Dispatcher is an execution context that some OS registration APIs are
// pinned to.
type Dispatcher interface {
	// IsCurrent reports whether the caller is running on the dispatcher.
	IsCurrent() bool
	// Post schedules fn to run on the dispatcher.
	Post(fn func())
}

// Dispatch runs fn right away when already on d, otherwise schedules it.
func Dispatch(d Dispatcher, fn func()) {
	if d.IsCurrent() {
		fn()
		return
	}
	d.Post(fn)
}

// Invoke runs fn on d and waits for it to return.
func Invoke(d Dispatcher, fn func()) {
	if d.IsCurrent() {
		fn()
		return
	}
	done := make(chan struct{})
	d.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

// MainLoop runs posted tasks one at a time on a single goroutine locked to
// its OS thread.
type MainLoop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	closed  bool
	stopped bool

	owner   atomic.Int64 // thread or goroutine id of the loop, 0 when not running
	started chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewMainLoop() *MainLoop {
	l := &MainLoop{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *MainLoop) IsCurrent() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == currentOwnerID()
}

// Post queues fn. Once the loop has stopped there is no thread left to honor,
// so fn runs on the caller.
func (l *MainLoop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		log.Debug("Main loop stopped, running task on caller")
		fn()
		return
	}
	l.tasks = append(l.tasks, fn)
	l.cond.Signal()
	l.mu.Unlock()
}

// Run executes tasks until Close is called and the queue is drained.
func (l *MainLoop) Run() {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	l.owner.Store(currentOwnerID())
	close(l.started)
	defer close(l.done)
	defer l.owner.Store(0)

	for {
		l.mu.Lock()
		for !l.closed && len(l.tasks) == 0 {
			l.cond.Wait()
		}
		if len(l.tasks) == 0 {
			l.stopped = true
			l.mu.Unlock()
			return
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.runTask(task)
	}
}

func (l *MainLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Main loop task panicked")
		}
	}()
	task()
}

// Started is closed once Run has claimed its thread.
func (l *MainLoop) Started() <-chan struct{} { return l.started }

// Close stops the loop after the queued tasks have run and waits for it.
func (l *MainLoop) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.cond.Broadcast()
		l.mu.Unlock()
	})

	select {
	case <-l.started:
		<-l.done
	default:
		l.mu.Lock()
		l.stopped = true
		pending := l.tasks
		l.tasks = nil
		l.mu.Unlock()
		for _, task := range pending {
			l.runTask(task)
		}
	}
	return nil
}

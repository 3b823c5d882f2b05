package netmon

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/metrics"
	"github.com/dmdmdm-nz/netreachd/internal/runtime"
)

// Messages passed to the ErrorHandler. They are stable so log filters and
// tests can tell the failure origin apart.
const (
	ErrMsgReceiverAlreadyUnregistered = "receiver was already unregistered"
	ErrMsgNetworkCallback             = "could not unregister network callback"
	ErrMsgReceiver                    = "could not unregister receiver"

	errMsgRegisterReceiver = "could not register receiver"
	errMsgRegisterCallback = "could not register network callback"
)

// Strategy observes link-level connectivity through one OS delivery
// mechanism. Each Observe call is an independent subscription with its own
// registration; the returned cancel func and ctx cancellation both release
// it, at most once.
type Strategy interface {
	Name() string
	Observe(ctx context.Context, device Device) (<-chan connectivity.Snapshot, func())
}

// subscription owns the delivery queue of one Observe call and runs its
// release exactly once.
type subscription struct {
	id      uuid.UUID
	queue   *runtime.SubQueue[connectivity.Snapshot]
	once    sync.Once
	release func()
	done    chan struct{}

	strategy string
	distinct bool
	mu       sync.Mutex
	last     connectivity.Snapshot
	emitted  bool
}

func newSubscription(strategy string, distinct bool) *subscription {
	return &subscription{
		id:       uuid.New(),
		queue:    runtime.NewSubQueue[connectivity.Snapshot](8),
		done:     make(chan struct{}),
		strategy: strategy,
		distinct: distinct,
	}
}

func (s *subscription) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"strategy":     s.strategy,
		"subscription": s.id,
	})
}

// emit queues snapshot, dropping it when distinct is set and it equals the
// previous one. The lock keeps queue order equal to emission order.
func (s *subscription) emit(snapshot connectivity.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.distinct && s.emitted && s.last.Equal(snapshot) {
		return
	}
	s.last = snapshot
	s.emitted = true
	metrics.SnapshotsEmitted.WithLabelValues(s.strategy, snapshot.State().String()).Inc()
	s.queue.Enqueue(snapshot)
}

// start opens the stream and arranges for ctx cancellation to call cancel.
func (s *subscription) start(ctx context.Context, release func()) (<-chan connectivity.Snapshot, func()) {
	s.release = release
	metrics.ActiveSubscriptions.WithLabelValues(s.strategy).Inc()
	s.queue.SetPaused(false)
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.done:
		}
	}()
	return s.queue.Chan(), s.cancel
}

// fail completes the stream with the empty snapshot after a registration
// error so the consumer still receives a value.
func (s *subscription) fail() (<-chan connectivity.Snapshot, func()) {
	s.queue.Enqueue(connectivity.Default())
	s.queue.Finish()
	s.once.Do(func() { close(s.done) })
	return s.queue.Chan(), func() {}
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		close(s.done)
		s.queue.Close()
		if s.release != nil {
			s.release()
			metrics.ActiveSubscriptions.WithLabelValues(s.strategy).Dec()
		}
		s.logger().Debug("Subscription released")
	})
}

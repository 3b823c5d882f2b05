package netmon

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/runtime"
)

// Service runs one strategy subscription and fans its snapshots out to any
// number of subscribers. New subscribers get the latest snapshot first.
type Service struct {
	device   Device
	strategy Strategy

	mu        sync.RWMutex
	latest    connectivity.Snapshot
	hasLatest bool

	subsMu           sync.Mutex
	subs             map[int]*runtime.SubQueue[connectivity.Snapshot]
	nextSubscriberID int
	closed           bool
}

func NewService(device Device, strategy Strategy) *Service {
	return &Service{
		device:   device,
		strategy: strategy,
		latest:   connectivity.Default(),
		subs:     make(map[int]*runtime.SubQueue[connectivity.Snapshot]),
	}
}

// Current returns the latest snapshot, or the empty one before the first.
func (s *Service) Current() connectivity.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Service) Subscribe() (<-chan connectivity.Snapshot, func()) {
	s.mu.RLock()
	latest, hasLatest := s.latest, s.hasLatest
	s.mu.RUnlock()

	sub := runtime.NewSubQueue[connectivity.Snapshot](8)

	// Register paused so live snapshots queue up behind the replay.
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		sub.Close()
		return sub.Chan(), func() {}
	}
	id := s.nextSubscriberID
	s.nextSubscriberID++
	s.subs[id] = sub
	s.subsMu.Unlock()

	if hasLatest {
		sub.Prime(latest)
	}
	sub.SetPaused(false)

	unsub := func() {
		s.subsMu.Lock()
		if q, ok := s.subs[id]; ok {
			delete(s.subs, id)
			q.Close()
		}
		s.subsMu.Unlock()
	}
	return sub.Chan(), unsub
}

func (s *Service) Start(ctx context.Context) error {
	logger := log.WithField("strategy", s.strategy.Name())
	logger.Info("Starting connectivity monitoring service")

	ch, cancel := s.strategy.Observe(ctx, s.device)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping connectivity monitoring service")
			return nil
		case snapshot, ok := <-ch:
			if !ok {
				logger.Warn("Connectivity stream ended")
				<-ctx.Done()
				return nil
			}
			s.publish(snapshot)
		}
	}
}

func (s *Service) Close() error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, q := range s.subs {
		q.Close()
		delete(s.subs, id)
	}
	return nil
}

func (s *Service) publish(snapshot connectivity.Snapshot) {
	s.mu.Lock()
	previous, hadPrevious := s.latest, s.hasLatest
	s.latest = snapshot
	s.hasLatest = true
	s.mu.Unlock()

	if !hadPrevious || previous.State() != snapshot.State() || previous.TypeName() != snapshot.TypeName() {
		log.WithFields(log.Fields{
			"state":     snapshot.State(),
			"detailed":  snapshot.DetailedState(),
			"type":      snapshot.TypeName(),
			"interface": snapshot.ExtraInfo(),
			"failover":  snapshot.Failover(),
		}).Info("Connectivity changed")
	} else {
		log.WithField("snapshot", snapshot).Trace("Connectivity snapshot")
	}

	s.broadcast(snapshot)
}

func (s *Service) broadcast(snapshot connectivity.Snapshot) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.Enqueue(snapshot)
	}
}

package netmon

import (
	"sync"

	"github.com/pkg/errors"
)

// registry tracks receiver and callback handles for a device.
type registry struct {
	mu        sync.Mutex
	receivers map[*Receiver]map[Action]struct{}
	callbacks map[*NetworkCallback]struct{}
}

func newRegistry() *registry {
	return &registry{
		receivers: make(map[*Receiver]map[Action]struct{}),
		callbacks: make(map[*NetworkCallback]struct{}),
	}
}

func (r *registry) addReceiver(rc *Receiver, actions []Action) error {
	if rc == nil {
		return errors.New("receiver is nil")
	}
	if len(actions) == 0 {
		return errors.New("no actions to register for")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.receivers[rc]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "receiver %s", rc.ID())
	}
	set := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	r.receivers[rc] = set
	return nil
}

func (r *registry) removeReceiver(rc *Receiver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.receivers[rc]; !ok {
		if rc == nil {
			return errors.Wrap(ErrNotRegistered, "receiver is nil")
		}
		return errors.Wrapf(ErrNotRegistered, "receiver %s", rc.ID())
	}
	delete(r.receivers, rc)
	return nil
}

func (r *registry) addCallback(cb *NetworkCallback) error {
	if cb == nil {
		return errors.New("network callback is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[cb]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "network callback %s", cb.ID())
	}
	r.callbacks[cb] = struct{}{}
	return nil
}

func (r *registry) removeCallback(cb *NetworkCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[cb]; !ok {
		if cb == nil {
			return errors.Wrap(ErrNotRegistered, "network callback is nil")
		}
		return errors.Wrapf(ErrNotRegistered, "network callback %s", cb.ID())
	}
	delete(r.callbacks, cb)
	return nil
}

func (r *registry) receiverCount(action Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.receivers {
		if _, ok := set[action]; ok {
			n++
		}
	}
	return n
}

func (r *registry) callbackCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// broadcast delivers action to every receiver registered for it.
func (r *registry) broadcast(action Action) {
	r.mu.Lock()
	targets := make([]*Receiver, 0, len(r.receivers))
	for rc, set := range r.receivers {
		if _, ok := set[action]; ok {
			targets = append(targets, rc)
		}
	}
	r.mu.Unlock()

	for _, rc := range targets {
		rc.Receive(action)
	}
}

func (r *registry) notifyAvailable(n Network) {
	for _, cb := range r.callbackList() {
		cb.OnAvailable(n)
	}
}

func (r *registry) notifyLost(n Network) {
	for _, cb := range r.callbackList() {
		cb.OnLost(n)
	}
}

func (r *registry) callbackList() []*NetworkCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*NetworkCallback, 0, len(r.callbacks))
	for cb := range r.callbacks {
		out = append(out, cb)
	}
	return out
}

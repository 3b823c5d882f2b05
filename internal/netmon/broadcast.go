package netmon

import (
	"context"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/metrics"
	"github.com/dmdmdm-nz/netreachd/internal/runtime"
)

// BroadcastStrategy listens for connectivity-change broadcasts. Receiver
// registration and deregistration must happen on the dispatcher; Observe and
// cancel may be called from any goroutine.
type BroadcastStrategy struct {
	dispatcher runtime.Dispatcher
	errors     errhandler.ErrorHandler
}

var _ Strategy = (*BroadcastStrategy)(nil)

func NewBroadcastStrategy(dispatcher runtime.Dispatcher, handler errhandler.ErrorHandler) *BroadcastStrategy {
	return &BroadcastStrategy{dispatcher: dispatcher, errors: handler}
}

func (s *BroadcastStrategy) Name() string { return "broadcast" }

func (s *BroadcastStrategy) Observe(ctx context.Context, device Device) (<-chan connectivity.Snapshot, func()) {
	sub := newSubscription(s.Name(), false)

	receiver := NewReceiver(func(Action) {
		sub.emit(capture(device))
	})

	var err error
	runtime.Invoke(s.dispatcher, func() {
		err = device.RegisterReceiver(receiver, ActionConnectivityChange)
	})
	if err != nil {
		s.errors.HandleError(err, errMsgRegisterReceiver)
		return sub.fail()
	}

	// The connectivity broadcast is sticky: a new receiver sees the current
	// state straight away.
	sub.emit(capture(device))
	sub.logger().Debug("Receiver registered")

	return sub.start(ctx, func() {
		runtime.Dispatch(s.dispatcher, func() {
			s.tryToUnregisterReceiver(device, receiver)
		})
	})
}

func (s *BroadcastStrategy) tryToUnregisterReceiver(device Device, receiver *Receiver) {
	if err := device.UnregisterReceiver(receiver); err != nil {
		metrics.DeregistrationFailures.WithLabelValues("receiver").Inc()
		s.errors.HandleError(err, ErrMsgReceiverAlreadyUnregistered)
	}
}

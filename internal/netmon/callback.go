package netmon

import (
	"context"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/metrics"
)

// CallbackStrategy registers a network callback and emits a fresh snapshot
// whenever a network becomes available or is lost. Repeated equal snapshots
// are suppressed.
type CallbackStrategy struct {
	errors errhandler.ErrorHandler
}

var _ Strategy = (*CallbackStrategy)(nil)

func NewCallbackStrategy(handler errhandler.ErrorHandler) *CallbackStrategy {
	return &CallbackStrategy{errors: handler}
}

func (s *CallbackStrategy) Name() string { return "callback" }

func (s *CallbackStrategy) Observe(ctx context.Context, device Device) (<-chan connectivity.Snapshot, func()) {
	sub := newSubscription(s.Name(), true)

	cb := newCapturingCallback(device, sub)
	if err := device.RegisterNetworkCallback(cb); err != nil {
		s.errors.HandleError(err, errMsgRegisterCallback)
		return sub.fail()
	}

	sub.emit(capture(device))
	sub.logger().Debug("Network callback registered")

	return sub.start(ctx, func() {
		_ = tryToUnregisterCallback(device, cb, s.errors)
	})
}

func newCapturingCallback(device Device, sub *subscription) *NetworkCallback {
	onChange := func(Network) { sub.emit(capture(device)) }
	return NewNetworkCallback(onChange, onChange)
}

func tryToUnregisterCallback(cm ConnectivityManager, cb *NetworkCallback, handler errhandler.ErrorHandler) error {
	err := cm.UnregisterNetworkCallback(cb)
	if err != nil {
		metrics.DeregistrationFailures.WithLabelValues("network_callback").Inc()
		handler.HandleError(err, ErrMsgNetworkCallback)
	}
	return err
}

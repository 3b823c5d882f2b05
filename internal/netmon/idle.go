package netmon

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/metrics"
)

// IdleState is the power-saving state as seen by this process.
type IdleState int

const (
	NotIdle IdleState = iota
	IdleExempted
	IdleActive
)

func (s IdleState) String() string {
	switch s {
	case IdleExempted:
		return "IDLE_EXEMPTED"
	case IdleActive:
		return "IDLE_ACTIVE"
	default:
		return "NOT_IDLE"
	}
}

// IdleStateOf queries pm. The result is never cached.
func IdleStateOf(pm PowerManager, packageName string) IdleState {
	if !pm.IsDeviceIdleMode() {
		return NotIdle
	}
	if pm.IsIgnoringBatteryOptimizations(packageName) {
		return IdleExempted
	}
	return IdleActive
}

// IsIdleMode reports whether network callbacks are currently suppressed for
// packageName.
func IsIdleMode(pm PowerManager, packageName string) bool {
	return IdleStateOf(pm, packageName) == IdleActive
}

// IdleReceiverPolicy decides how long the idle-mode receiver stays
// registered.
type IdleReceiverPolicy int

const (
	// PersistIdleReceiver keeps the receiver for the whole subscription.
	PersistIdleReceiver IdleReceiverPolicy = iota
	// ReleaseIdleReceiverWhenExempt skips or drops the receiver once the
	// package is on the allow-list, since its callbacks are never suppressed.
	ReleaseIdleReceiverWhenExempt
)

func (p IdleReceiverPolicy) String() string {
	if p == ReleaseIdleReceiverWhenExempt {
		return "release-when-exempt"
	}
	return "persist"
}

// IdleAwareStrategy is a CallbackStrategy that also listens for idle-mode
// broadcasts, because the OS holds back network callbacks while idle.
type IdleAwareStrategy struct {
	errors errhandler.ErrorHandler
	policy IdleReceiverPolicy
}

var _ Strategy = (*IdleAwareStrategy)(nil)

func NewIdleAwareStrategy(handler errhandler.ErrorHandler, policy IdleReceiverPolicy) *IdleAwareStrategy {
	return &IdleAwareStrategy{errors: handler, policy: policy}
}

func (s *IdleAwareStrategy) Name() string { return "idle-aware" }

// registration guards one handle so it is unregistered at most once.
type registration struct {
	once   sync.Once
	err    error
	remove func() error
}

func (r *registration) release() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() { r.err = r.remove() })
	return r.err
}

func (s *IdleAwareStrategy) Observe(ctx context.Context, device Device) (<-chan connectivity.Snapshot, func()) {
	sub := newSubscription(s.Name(), true)

	cb := newCapturingCallback(device, sub)
	if err := device.RegisterNetworkCallback(cb); err != nil {
		s.errors.HandleError(err, errMsgRegisterCallback)
		return sub.fail()
	}
	callbackReg := &registration{remove: func() error {
		return tryToUnregisterCallback(device, cb, s.errors)
	}}

	var receiverReg *registration
	if s.wantsIdleReceiver(device) {
		reg := &registration{}
		receiver := NewReceiver(func(Action) {
			s.onIdleModeChanged(device, sub)
			if s.policy == ReleaseIdleReceiverWhenExempt &&
				device.IsIgnoringBatteryOptimizations(device.PackageName()) {
				_ = reg.release()
			}
		})
		reg.remove = func() error {
			return s.tryToUnregisterReceiver(device, receiver)
		}
		if err := device.RegisterReceiver(receiver, ActionDeviceIdleModeChanged); err != nil {
			// Callbacks still work outside idle mode, so keep going.
			s.errors.HandleError(err, errMsgRegisterReceiver)
		} else {
			receiverReg = reg
		}
	}

	sub.emit(capture(device))
	sub.logger().WithField("idleReceiver", receiverReg != nil).Debug("Network callback registered")

	return sub.start(ctx, func() {
		// Each handle is released independently; one failing must not keep
		// the other registered.
		err := multierr.Append(callbackReg.release(), receiverReg.release())
		if err != nil {
			sub.logger().WithError(err).
				WithField("failures", len(multierr.Errors(err))).
				Debug("Subscription released with errors")
		}
	})
}

func (s *IdleAwareStrategy) wantsIdleReceiver(device Device) bool {
	if s.policy != ReleaseIdleReceiverWhenExempt {
		return true
	}
	return !device.IsIgnoringBatteryOptimizations(device.PackageName())
}

// onIdleModeChanged emits the empty snapshot while idle, since the link is
// unusable for this process, and the live snapshot otherwise.
func (s *IdleAwareStrategy) onIdleModeChanged(device Device, sub *subscription) {
	if IsIdleMode(device, device.PackageName()) {
		sub.emit(connectivity.Default())
		return
	}
	sub.emit(capture(device))
}

func (s *IdleAwareStrategy) tryToUnregisterReceiver(device Device, receiver *Receiver) error {
	err := device.UnregisterReceiver(receiver)
	if err != nil {
		metrics.DeregistrationFailures.WithLabelValues("idle_receiver").Inc()
		s.errors.HandleError(err, ErrMsgReceiver)
	}
	return err
}

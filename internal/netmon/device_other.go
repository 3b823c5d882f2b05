//go:build !linux && !darwin

package netmon

import (
	goruntime "runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

const pollInterval = 5 * time.Second

var errDeviceClosed = errors.New("device closed")

// pollingDevice compares consecutive snapshots on platforms without a change
// notification API.
type pollingDevice struct {
	baseDevice

	mu     sync.Mutex
	closed bool
	stop   func()
}

// NewDevice opens the OS connectivity facility for packageName.
func NewDevice(packageName string) (Device, error) {
	d := &pollingDevice{
		baseDevice: baseDevice{
			registry:    newRegistry(),
			powerSource: nopPower{},
			packageName: packageName,
			release:     goruntime.GOOS,
		},
	}
	log.WithField("interval", pollInterval).Debug("Polling device opened")
	return d, nil
}

func (d *pollingDevice) RegisterReceiver(r *Receiver, actions ...Action) error {
	if err := d.addReceiver(r, actions); err != nil {
		return err
	}
	if err := d.reconcile(); err != nil {
		_ = d.removeReceiver(r)
		return err
	}
	return nil
}

func (d *pollingDevice) UnregisterReceiver(r *Receiver) error {
	if err := d.removeReceiver(r); err != nil {
		return err
	}
	return d.settle()
}

func (d *pollingDevice) RegisterNetworkCallback(cb *NetworkCallback) error {
	if err := d.addCallback(cb); err != nil {
		return err
	}
	if err := d.reconcile(); err != nil {
		_ = d.removeCallback(cb)
		return err
	}
	return nil
}

func (d *pollingDevice) UnregisterNetworkCallback(cb *NetworkCallback) error {
	if err := d.removeCallback(cb); err != nil {
		return err
	}
	return d.settle()
}

func (d *pollingDevice) reconcile() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}

	want := d.receiverCount(ActionConnectivityChange) > 0 || d.callbackCount() > 0
	switch {
	case want && d.stop == nil:
		d.stop = d.poll()
	case !want && d.stop != nil:
		d.stop()
		d.stop = nil
	}
	return nil
}

// settle reconciles after an unregistration. Once the device is closed
// every subscription is already stopped.
func (d *pollingDevice) settle() error {
	if err := d.reconcile(); err != nil && !errors.Is(err, errDeviceClosed) {
		return err
	}
	return nil
}

func (d *pollingDevice) poll() func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		last := capture(d)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				current := capture(d)
				if current.Equal(last) {
					continue
				}
				d.broadcast(ActionConnectivityChange)

				n := Network{Name: current.ExtraInfo()}
				wasUp := last.State() == connectivity.Connected
				isUp := current.State() == connectivity.Connected
				if isUp && !wasUp {
					d.notifyAvailable(n)
				} else if !isUp && wasUp {
					d.notifyLost(Network{Name: last.ExtraInfo()})
				}
				last = current
			}
		}
	}()
	return sync.OnceFunc(func() { close(done) })
}

func (d *pollingDevice) Snapshot() (connectivity.Snapshot, error) {
	return gatewaySnapshot()
}

func (d *pollingDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	return d.powerSource.Close()
}

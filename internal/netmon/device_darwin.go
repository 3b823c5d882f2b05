//go:build darwin

package netmon

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

var errDeviceClosed = errors.New("device closed")

// darwinDevice reads interface and route changes from an AF_ROUTE socket.
// The socket is open only while a receiver or callback is registered.
type darwinDevice struct {
	baseDevice

	mu     sync.Mutex
	closed bool
	stop   func()

	// up tracks IFF_UP per interface index so callbacks see edges only.
	upMu sync.Mutex
	up   map[int]bool
}

// NewDevice opens the OS connectivity facility for packageName.
func NewDevice(packageName string) (Device, error) {
	release, err := unix.Sysctl("kern.osrelease")
	if err != nil {
		return nil, errors.Wrap(err, "sysctl kern.osrelease")
	}
	d := &darwinDevice{
		baseDevice: baseDevice{
			registry:    newRegistry(),
			powerSource: nopPower{},
			packageName: packageName,
			release:     release,
		},
		up: make(map[int]bool),
	}
	log.WithField("release", release).Debug("Darwin device opened")
	return d, nil
}

func (d *darwinDevice) RegisterReceiver(r *Receiver, actions ...Action) error {
	if err := d.addReceiver(r, actions); err != nil {
		return err
	}
	if err := d.reconcile(); err != nil {
		_ = d.removeReceiver(r)
		return err
	}
	return nil
}

func (d *darwinDevice) UnregisterReceiver(r *Receiver) error {
	if err := d.removeReceiver(r); err != nil {
		return err
	}
	return d.settle()
}

func (d *darwinDevice) RegisterNetworkCallback(cb *NetworkCallback) error {
	if err := d.addCallback(cb); err != nil {
		return err
	}
	if err := d.reconcile(); err != nil {
		_ = d.removeCallback(cb)
		return err
	}
	return nil
}

func (d *darwinDevice) UnregisterNetworkCallback(cb *NetworkCallback) error {
	if err := d.removeCallback(cb); err != nil {
		return err
	}
	return d.settle()
}

func (d *darwinDevice) reconcile() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}

	want := d.receiverCount(ActionConnectivityChange) > 0 || d.callbackCount() > 0
	switch {
	case want && d.stop == nil:
		stop, err := d.watchRouteSocket()
		if err != nil {
			return err
		}
		d.stop = stop
	case !want && d.stop != nil:
		d.stop()
		d.stop = nil
	}
	return nil
}

// settle reconciles after an unregistration. Once the device is closed
// every subscription is already stopped.
func (d *darwinDevice) settle() error {
	if err := d.reconcile(); err != nil && !errors.Is(err, errDeviceClosed) {
		return err
	}
	return nil
}

func (d *darwinDevice) watchRouteSocket() (func(), error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, errors.Wrap(err, "open route socket")
	}

	d.seedInterfaces()
	done := make(chan struct{})

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := unix.Read(fd, buf)
			if err != nil {
				select {
				case <-done:
					return
				default:
					log.WithError(err).Warn("Error reading from route socket")
					continue
				}
			}

			msgs, err := route.ParseRIB(route.RIBTypeRoute, buf[:n])
			if err != nil {
				log.WithError(err).Trace("Failed to parse routing message")
				continue
			}
			for _, m := range msgs {
				d.handleMessage(m)
			}
		}
	}()

	log.Debug("Watching route socket")
	return sync.OnceFunc(func() {
		close(done)
		unix.Close(fd)
	}), nil
}

func (d *darwinDevice) handleMessage(m route.Message) {
	switch msg := m.(type) {
	case *route.InterfaceMessage:
		isUp := msg.Flags&unix.IFF_UP != 0
		n := Network{Index: msg.Index, Name: msg.Name}
		log.WithFields(log.Fields{
			"ifIndex": msg.Index,
			"flags":   msg.Flags,
		}).Trace("Received interface event")

		d.upMu.Lock()
		was := d.up[msg.Index]
		d.up[msg.Index] = isUp
		d.upMu.Unlock()

		d.broadcast(ActionConnectivityChange)
		if isUp && !was {
			d.notifyAvailable(n)
		} else if !isUp && was {
			d.notifyLost(n)
		}

	case *route.InterfaceAddrMessage:
		d.broadcast(ActionConnectivityChange)

	case *route.RouteMessage:
		if !isDefaultRouteMessage(msg) {
			return
		}
		d.broadcast(ActionConnectivityChange)
		n := Network{Index: msg.Index}
		if iface, err := net.InterfaceByIndex(msg.Index); err == nil {
			n.Name = iface.Name
		}
		switch msg.Type {
		case unix.RTM_ADD:
			d.notifyAvailable(n)
		case unix.RTM_DELETE:
			d.notifyLost(n)
		}
	}
}

func isDefaultRouteMessage(msg *route.RouteMessage) bool {
	if len(msg.Addrs) <= unix.RTAX_DST {
		return false
	}
	switch a := msg.Addrs[unix.RTAX_DST].(type) {
	case *route.Inet4Addr:
		return a.IP == [4]byte{}
	case *route.Inet6Addr:
		return a.IP == [16]byte{}
	}
	return false
}

// seedInterfaces records the current up state so the first message for an
// interface is not mistaken for an edge.
func (d *darwinDevice) seedInterfaces() {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}
	d.upMu.Lock()
	defer d.upMu.Unlock()
	for _, iface := range ifaces {
		d.up[iface.Index] = iface.Flags&net.FlagUp != 0
	}
}

func (d *darwinDevice) Snapshot() (connectivity.Snapshot, error) {
	return gatewaySnapshot()
}

func (d *darwinDevice) Close() error {
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

//go:build linux

package netmon

import (
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

var errDeviceClosed = errors.New("device closed")

// linuxDevice sources broadcasts and network callbacks from rtnetlink and
// idle state from logind. Each netlink subscription runs only while someone
// is registered for it.
type linuxDevice struct {
	baseDevice

	mu        sync.Mutex
	closed    bool
	linkStop  func()
	routeStop func()
	idleStop  func()
}

// NewDevice opens the OS connectivity facility for packageName.
func NewDevice(packageName string) (Device, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, errors.Wrap(err, "uname")
	}

	d := &linuxDevice{
		baseDevice: baseDevice{
			registry:    newRegistry(),
			powerSource: newPowerSource(),
			packageName: packageName,
			release:     unix.ByteSliceToString(uts.Release[:]),
		},
	}
	log.WithFields(log.Fields{
		"release": d.release,
		"package": packageName,
	}).Debug("Linux device opened")
	return d, nil
}

func (d *linuxDevice) RegisterReceiver(r *Receiver, actions ...Action) error {
	if err := d.addReceiver(r, actions); err != nil {
		return err
	}
	if err := d.reconcile(); err != nil {
		_ = d.removeReceiver(r)
		return err
	}
	return nil
}

func (d *linuxDevice) UnregisterReceiver(r *Receiver) error {
	if err := d.removeReceiver(r); err != nil {
		return err
	}
	return d.settle()
}

func (d *linuxDevice) RegisterNetworkCallback(cb *NetworkCallback) error {
	if err := d.addCallback(cb); err != nil {
		return err
	}
	if err := d.reconcile(); err != nil {
		_ = d.removeCallback(cb)
		return err
	}
	return nil
}

func (d *linuxDevice) UnregisterNetworkCallback(cb *NetworkCallback) error {
	if err := d.removeCallback(cb); err != nil {
		return err
	}
	return d.settle()
}

// reconcile starts or stops the subscriptions to match the registrations.
func (d *linuxDevice) reconcile() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}

	if err := toggle(&d.linkStop, d.receiverCount(ActionConnectivityChange) > 0, d.watchLinks); err != nil {
		return err
	}
	if err := toggle(&d.routeStop, d.callbackCount() > 0, d.watchRoutes); err != nil {
		return err
	}
	return toggle(&d.idleStop, d.receiverCount(ActionDeviceIdleModeChanged) > 0, func() (func(), error) {
		return d.watchIdle(func() { d.broadcast(ActionDeviceIdleModeChanged) })
	})
}

// settle reconciles after an unregistration. Once the device is closed
// every subscription is already stopped.
func (d *linuxDevice) settle() error {
	if err := d.reconcile(); err != nil && !errors.Is(err, errDeviceClosed) {
		return err
	}
	return nil
}

func toggle(stop *func(), want bool, start func() (func(), error)) error {
	switch {
	case want && *stop == nil:
		s, err := start()
		if err != nil {
			return err
		}
		*stop = s
	case !want && *stop != nil:
		(*stop)()
		*stop = nil
	}
	return nil
}

// watchLinks turns link and address updates into connectivity broadcasts.
func (d *linuxDevice) watchLinks() (func(), error) {
	linkCh := make(chan netlink.LinkUpdate)
	addrCh := make(chan netlink.AddrUpdate)
	done := make(chan struct{})

	if err := netlink.LinkSubscribe(linkCh, done); err != nil {
		close(done)
		return nil, errors.Wrap(err, "subscribe to link updates")
	}
	if err := netlink.AddrSubscribe(addrCh, done); err != nil {
		close(done)
		return nil, errors.Wrap(err, "subscribe to address updates")
	}
	log.Debug("Watching link updates")

	// netlink closes the channels once done is closed; read until then so
	// its receive goroutines never block on a send.
	go func() {
		for u := range linkCh {
			if isClosed(done) {
				continue
			}
			log.WithFields(log.Fields{
				"interface": u.Link.Attrs().Name,
				"operState": u.Link.Attrs().OperState,
			}).Trace("Link update")
			d.broadcast(ActionConnectivityChange)
		}
	}()
	go func() {
		for u := range addrCh {
			if isClosed(done) {
				continue
			}
			log.WithFields(log.Fields{
				"ifIndex": u.LinkIndex,
				"addr":    u.LinkAddress.String(),
				"new":     u.NewAddr,
			}).Trace("Address update")
			d.broadcast(ActionConnectivityChange)
		}
	}()

	return sync.OnceFunc(func() { close(done) }), nil
}

// watchRoutes reports default routes coming and going as network
// availability transitions.
func (d *linuxDevice) watchRoutes() (func(), error) {
	ch := make(chan netlink.RouteUpdate)
	done := make(chan struct{})

	if err := netlink.RouteSubscribe(ch, done); err != nil {
		close(done)
		return nil, errors.Wrap(err, "subscribe to route updates")
	}
	log.Debug("Watching route updates")

	go func() {
		for u := range ch {
			if isClosed(done) || !isDefaultRoute(u.Route) {
				continue
			}
			n := Network{Index: u.LinkIndex, Name: linkName(u.LinkIndex)}
			switch u.Type {
			case unix.RTM_NEWROUTE:
				log.WithField("interface", n.Name).Debug("Default route added")
				d.notifyAvailable(n)
			case unix.RTM_DELROUTE:
				log.WithField("interface", n.Name).Debug("Default route removed")
				d.notifyLost(n)
			}
		}
	}()

	return sync.OnceFunc(func() { close(done) }), nil
}

func (d *linuxDevice) Snapshot() (connectivity.Snapshot, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return connectivity.Default(), errors.Wrap(err, "list routes")
	}

	defaults := make([]netlink.Route, 0, 2)
	for _, r := range routes {
		if isDefaultRoute(r) && r.LinkIndex > 0 {
			defaults = append(defaults, r)
		}
	}
	sort.SliceStable(defaults, func(i, j int) bool {
		return defaults[i].Priority < defaults[j].Priority
	})

	seen := make(map[int]bool, len(defaults))
	links := make([]linkInfo, 0, len(defaults))
	for _, r := range defaults {
		if seen[r.LinkIndex] {
			continue
		}
		seen[r.LinkIndex] = true

		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			log.WithError(err).WithField("ifIndex", r.LinkIndex).Trace("Failed to get link by index")
			continue
		}
		links = append(links, describeLink(link))
	}

	return snapshotFromLinks(links), nil
}

func describeLink(link netlink.Link) linkInfo {
	attrs := link.Attrs()
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	hasAddr := false
	if err == nil {
		for _, a := range addrs {
			if a.IP != nil && a.IP.IsGlobalUnicast() {
				hasAddr = true
				break
			}
		}
	}

	// Tunnels commonly report an unknown operstate while passing traffic.
	up := attrs.OperState == netlink.OperUp ||
		(attrs.OperState == netlink.OperUnknown && attrs.Flags&net.FlagUp != 0)

	return linkInfo{
		Name:      attrs.Name,
		Kind:      link.Type(),
		Up:        up,
		HasAddr:   hasAddr,
		Wireless:  isWireless(attrs.Name),
		OperState: attrs.OperState.String(),
	}
}

func isWireless(name string) bool {
	_, err := os.Stat(filepath.Join("/sys/class/net", name, "wireless"))
	return err == nil
}

func isDefaultRoute(r netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0 && r.Dst.IP.IsUnspecified()
}

func linkName(index int) string {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return ""
	}
	return link.Attrs().Name
}

func (d *linuxDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, stop := range []*func(){&d.linkStop, &d.routeStop, &d.idleStop} {
		if *stop != nil {
			(*stop)()
			*stop = nil
		}
	}
	d.mu.Unlock()

	return d.powerSource.Close()
}

func isClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

//go:build !linux

package netmon

import (
	"net"

	"github.com/jackpal/gateway"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

// gatewaySnapshot orders interfaces so the one holding the default route
// comes first, followed by the other up interfaces with addresses.
func gatewaySnapshot() (connectivity.Snapshot, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return connectivity.Default(), errors.Wrap(err, "list interfaces")
	}

	primary, err := gateway.DiscoverInterface()
	if err != nil {
		log.WithError(err).Trace("No default gateway")
		primary = nil
	}

	var first []linkInfo
	var rest []linkInfo
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		info, owns := describeInterface(iface, primary)
		if owns {
			first = append(first, info)
		} else if primary != nil && info.Up && info.HasAddr {
			rest = append(rest, info)
		}
	}

	return snapshotFromLinks(append(first, rest...)), nil
}

func describeInterface(iface net.Interface, primary net.IP) (linkInfo, bool) {
	info := linkInfo{
		Name:      iface.Name,
		Up:        iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0,
		OperState: operState(iface.Flags),
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return info, false
	}
	owns := false
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.IsGlobalUnicast() {
			info.HasAddr = true
		}
		if primary != nil && ipNet.IP.Equal(primary) {
			owns = true
		}
	}
	return info, owns
}

func operState(flags net.Flags) string {
	switch {
	case flags&net.FlagRunning != 0:
		return "up"
	case flags&net.FlagUp != 0:
		return "dormant"
	default:
		return "down"
	}
}

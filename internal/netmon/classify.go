package netmon

import (
	"strings"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

var (
	wifiPrefixes     = []string{"wlan", "wlp", "wl", "ath", "ra", "awdl"}
	vpnPrefixes      = []string{"tun", "tap", "wg", "utun", "ppp", "ipsec", "gpd", "tailscale", "zt"}
	mobilePrefixes   = []string{"wwan", "rmnet", "ccmni", "pdp_ip", "usb"}
	ethernetPrefixes = []string{"en", "eth", "em", "eno", "ens", "enp", "br", "bond", "veth"}
	vpnKinds         = map[string]bool{"tun": true, "tuntap": true, "wireguard": true, "ipip": true, "gre": true, "gretap": true, "ip6tnl": true, "sit": true, "vti": true, "xfrm": true}
)

// classifyInterface maps a link to a connectivity type. kind is the driver
// kind when the platform reports one ("wireguard", "device", ...).
func classifyInterface(name, kind string, wireless bool) int {
	switch {
	case name == "lo" || name == "lo0" || kind == "loopback":
		return connectivity.TypeLoopback
	case wireless:
		return connectivity.TypeWifi
	case vpnKinds[kind]:
		return connectivity.TypeVPN
	case hasAnyPrefix(name, vpnPrefixes):
		return connectivity.TypeVPN
	case hasAnyPrefix(name, mobilePrefixes):
		return connectivity.TypeMobile
	case hasAnyPrefix(name, wifiPrefixes):
		return connectivity.TypeWifi
	case hasAnyPrefix(name, ethernetPrefixes):
		return connectivity.TypeEthernet
	}
	return connectivity.UnknownType
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// linkInfo is the platform-neutral view of one interface used to build a
// snapshot.
type linkInfo struct {
	Name      string
	Kind      string
	Up        bool
	HasAddr   bool
	Wireless  bool
	OperState string
}

// snapshotFromLinks builds a snapshot from candidate links ordered by
// preference. The first usable link wins; picking a later one is a failover.
func snapshotFromLinks(links []linkInfo) connectivity.Snapshot {
	if len(links) == 0 {
		return connectivity.Default()
	}

	for i, l := range links {
		if !l.Up || !l.HasAddr {
			continue
		}
		return linkSnapshot(l).
			State(connectivity.Connected).
			DetailedState(connectivity.DetailedConnected).
			Available(true).
			Failover(i > 0).
			Build()
	}

	for _, l := range links {
		if l.Up {
			return linkSnapshot(l).
				State(connectivity.Connecting).
				DetailedState(connectivity.DetailedObtainingIPAddr).
				Available(true).
				Build()
		}
	}

	return linkSnapshot(links[0]).
		State(connectivity.Disconnected).
		DetailedState(connectivity.DetailedDisconnected).
		Build()
}

func linkSnapshot(l linkInfo) *connectivity.Builder {
	typ := classifyInterface(l.Name, l.Kind, l.Wireless)
	b := connectivity.NewBuilder().
		Type(typ).
		TypeName(connectivity.TypeName(typ)).
		Reason(strings.ToLower(l.OperState)).
		ExtraInfo(l.Name)
	if l.Kind != "" {
		b.SubTypeName(l.Kind)
	}
	return b
}

package advertise

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dmdmdm-nz/zeroconf"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/pkg/version"
)

const (
	ServiceType = "_netreachd._tcp"
	Domain      = "local."

	maxAttempts  = 5
	retryBackoff = 3 * time.Second
)

// registration is what Advertiser needs from a running mDNS responder.
type registration interface {
	Shutdown()
}

// registerFunc publishes the service record. It can be overridden in tests
// so no multicast traffic is sent.
var registerFunc = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Advertiser announces the API over DNS-SD while it runs.
type Advertiser struct {
	instance      string
	port          int
	interfaceName string

	mu     sync.Mutex
	server registration
}

// NewAdvertiser returns an Advertiser for the API listening on port. An empty
// interfaceName announces on every multicast capable interface.
func NewAdvertiser(port int, interfaceName string) *Advertiser {
	return &Advertiser{
		instance:      instanceName(),
		port:          port,
		interfaceName: interfaceName,
	}
}

// Start registers the service and keeps it published until ctx is done.
func (a *Advertiser) Start(ctx context.Context) error {
	ifaces, err := a.interfaces()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		server, err := registerFunc(a.instance, ServiceType, Domain, a.port, TXTRecords(), ifaces)
		if err == nil {
			a.mu.Lock()
			a.server = server
			a.mu.Unlock()
			lastErr = nil
			break
		}

		lastErr = err
		log.WithFields(log.Fields{
			"attempt": attempt,
			"service": ServiceType,
		}).WithError(err).Debug("Failed to register mDNS service")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryBackoff):
		}
	}
	if lastErr != nil {
		return errors.Wrap(lastErr, "register mDNS service")
	}

	log.WithFields(log.Fields{
		"instance": a.instance,
		"service":  ServiceType,
		"port":     a.port,
	}).Info("Advertising API over mDNS")

	<-ctx.Done()
	a.shutdown()
	return nil
}

func (a *Advertiser) Close() error {
	a.shutdown()
	return nil
}

func (a *Advertiser) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.interfaceName == "" {
		return nil, nil
	}
	iface, err := interfaceByName(a.interfaceName)
	if err != nil {
		return nil, err
	}
	return []net.Interface{*iface}, nil
}

// interfaceByName returns the named interface. It must be up.
func interfaceByName(name string) (*net.Interface, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %s not found", name)
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("interface %s is not up", name)
	}
	return iface, nil
}

// TXTRecords describes the endpoints a browser can reach on the instance.
func TXTRecords() []string {
	return []string{
		"version=" + version.Version,
		"connectivity=/connectivity",
		"internet=/internet",
		"ws=/ws/connectivity",
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "netreachd"
	}
	return "netreachd on " + host
}

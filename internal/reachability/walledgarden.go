package reachability

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/sync/semaphore"

	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/metrics"
	"github.com/dmdmdm-nz/netreachd/internal/runtime"
)

const (
	// DefaultHost answers 204 No Content when reached without interception.
	DefaultHost = "http://clients3.google.com/generate_204"

	DefaultMaxProbes = 8

	// ErrMsgConnection is passed to the ErrorHandler when a probe fails.
	ErrMsgConnection = "could not establish connection with walled garden host"

	httpPrefix  = "http://"
	httpsPrefix = "https://"
)

// ErrInvalidArgument is wrapped by every argument validation error.
var ErrInvalidArgument = errors.New("invalid argument")

// Strategy decides whether the internet is actually reachable.
type Strategy interface {
	DefaultHost() string
	// Observe probes host every interval after initialDelay and streams the
	// result whenever it changes. Arguments are validated before anything
	// is scheduled.
	Observe(ctx context.Context, initialDelay, interval time.Duration, host string, port int,
		timeout time.Duration, handler errhandler.ErrorHandler) (<-chan bool, func(), error)
	// Check probes host once.
	Check(ctx context.Context, host string, port int, timeout time.Duration,
		handler errhandler.ErrorHandler) (bool, error)
}

// Prober performs a single reachability probe. Failures are reported to
// handler and count as unreachable.
type Prober interface {
	IsConnected(ctx context.Context, host string, port int, timeout time.Duration, handler errhandler.ErrorHandler) bool
}

// WalledGardenStrategy treats the internet as reachable when a known URL
// answers exactly 204. Captive portals answer with a redirect or a login page
// instead.
type WalledGardenStrategy struct {
	clock  clock.Clock
	pool   *semaphore.Weighted
	prober Prober
}

var _ Strategy = (*WalledGardenStrategy)(nil)

type Option func(*WalledGardenStrategy)

// WithClock replaces the clock driving the probe schedule.
func WithClock(c clock.Clock) Option {
	return func(s *WalledGardenStrategy) { s.clock = c }
}

// WithMaxProbes bounds the number of probes in flight across subscriptions.
func WithMaxProbes(n int64) Option {
	return func(s *WalledGardenStrategy) {
		if n > 0 {
			s.pool = semaphore.NewWeighted(n)
		}
	}
}

func WithProber(p Prober) Option {
	return func(s *WalledGardenStrategy) { s.prober = p }
}

func NewWalledGardenStrategy(opts ...Option) *WalledGardenStrategy {
	s := &WalledGardenStrategy{
		clock:  clock.New(),
		pool:   semaphore.NewWeighted(DefaultMaxProbes),
		prober: HTTPProber{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WalledGardenStrategy) DefaultHost() string { return DefaultHost }

func (s *WalledGardenStrategy) Observe(ctx context.Context, initialDelay, interval time.Duration, host string, port int,
	timeout time.Duration, handler errhandler.ErrorHandler) (<-chan bool, func(), error) {
	if initialDelay < 0 {
		return nil, nil, invalid("initialDelay is not a positive number")
	}
	if interval <= 0 {
		return nil, nil, invalid("interval is not a positive number")
	}
	if err := checkGeneral(host, port, timeout, handler); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	queue := runtime.NewSubQueue[bool](1)
	queue.SetPaused(false)

	logger := log.WithFields(log.Fields{
		"host":     host,
		"port":     port,
		"interval": interval,
	})
	logger.Debug("Observing internet reachability")

	go func() {
		defer queue.Close()
		defer logger.Debug("Stopped observing internet reachability")

		if initialDelay > 0 {
			timer := s.clock.Timer(initialDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		ticker := s.clock.Ticker(interval)
		defer ticker.Stop()

		var last, emitted bool
		probe := func() {
			connected, err := s.probe(ctx, host, port, timeout, handler)
			if err != nil || ctx.Err() != nil {
				return
			}
			if emitted && connected == last {
				return
			}
			last, emitted = connected, true
			logger.WithField("connected", connected).Debug("Internet reachability changed")
			queue.Enqueue(connected)
		}

		probe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()

	return queue.Chan(), cancel, nil
}

func (s *WalledGardenStrategy) Check(ctx context.Context, host string, port int, timeout time.Duration,
	handler errhandler.ErrorHandler) (bool, error) {
	if err := checkGeneral(host, port, timeout, handler); err != nil {
		return false, err
	}
	return s.probe(ctx, host, port, timeout, handler)
}

// probe runs one probe inside the shared pool. The error is non-nil only when
// ctx ended before a slot was free.
func (s *WalledGardenStrategy) probe(ctx context.Context, host string, port int, timeout time.Duration,
	handler errhandler.ErrorHandler) (bool, error) {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return false, errors.Wrap(err, "wait for probe slot")
	}
	defer s.pool.Release(1)
	return s.prober.IsConnected(ctx, host, port, timeout, handler), nil
}

func invalid(msg string) error {
	return errors.Wrap(ErrInvalidArgument, msg)
}

func checkGeneral(host string, port int, timeout time.Duration, handler errhandler.ErrorHandler) error {
	if strings.TrimSpace(host) == "" {
		return invalid("host is null or empty")
	}
	if port <= 0 {
		return invalid("port is not a positive number")
	}
	if timeout <= 0 {
		return invalid("timeout is not a positive number")
	}
	if handler == nil {
		return invalid("errorHandler is null")
	}
	return nil
}

// AdjustHost prefixes host with http:// unless it already names a scheme.
func AdjustHost(host string) string {
	if !strings.HasPrefix(host, httpPrefix) && !strings.HasPrefix(host, httpsPrefix) {
		return httpPrefix + host
	}
	return host
}

// HTTPProber sends a single uncached GET without following redirects.
type HTTPProber struct{}

func (HTTPProber) IsConnected(ctx context.Context, host string, port int, timeout time.Duration,
	handler errhandler.ErrorHandler) bool {
	start := time.Now()
	connected, err := probeOnce(ctx, host, port, timeout)
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.Probes.WithLabelValues(metrics.ProbeError).Inc()
		handler.HandleError(err, ErrMsgConnection)
		return false
	case connected:
		metrics.Probes.WithLabelValues(metrics.ProbeReachable).Inc()
	default:
		metrics.Probes.WithLabelValues(metrics.ProbeUnreachable).Inc()
	}
	return connected
}

func probeOnce(ctx context.Context, host string, port int, timeout time.Duration) (bool, error) {
	target, err := probeURL(host, port)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, errors.Wrap(err, "build probe request")
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := newProbeClient(timeout).Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "probe %s", target)
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"url":    target,
		"status": resp.StatusCode,
	}).Trace("Probe response")
	return resp.StatusCode == http.StatusNoContent, nil
}

// probeURL keeps the scheme, path and query of the adjusted host and replaces
// the port.
func probeURL(host string, port int) (string, error) {
	u, err := url.Parse(AdjustHost(host))
	if err != nil {
		return "", errors.Wrap(err, "parse host")
	}
	name := u.Hostname()
	if name == "" {
		return "", errors.Errorf("no host name in %q", host)
	}
	if net.ParseIP(name) == nil {
		if name, err = idna.Lookup.ToASCII(name); err != nil {
			return "", errors.Wrapf(err, "convert host %q", u.Hostname())
		}
	}

	u.Host = net.JoinHostPort(name, strconv.Itoa(port))
	u.User = nil
	u.Fragment = ""
	return u.String(), nil
}

func newProbeClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DisableKeepAlives:     true,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

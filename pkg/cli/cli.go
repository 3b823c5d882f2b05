package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmdmdm-nz/netreachd/internal/netmon"
	"github.com/dmdmdm-nz/netreachd/internal/reachability"
	"github.com/dmdmdm-nz/netreachd/pkg/version"
)

// Config holds the application configuration from CLI flags
type Config struct {
	Port     int
	Host     string
	LogLevel string

	Strategy           string
	PackageName        string
	IdlePolicy         string
	CallbackMinVersion string
	IdleMinVersion     string

	ProbeHost         string
	ProbePort         int
	ProbeTimeout      time.Duration
	ProbeInterval     time.Duration
	ProbeInitialDelay time.Duration
	MaxProbes         int64

	Advertise      bool
	AdvertiseIface string

	ShowVersion bool
}

// ParseFlags parses command line arguments and returns a Config
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("netreachd version %s (commit: %s, built at: %s)\n",
			version.Version,
			version.CommitHash,
			version.BuildTime)
		os.Exit(0)
	}

	return cfg
}

// Parse reads args into a Config. Usage errors are written to output.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("netreachd", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.IntVar(&cfg.Port, "port", 60205, "Port to listen on")
	fs.StringVar(&cfg.Host, "host", "127.0.0.1", "Host to bind to")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	fs.StringVar(&cfg.Strategy, "strategy", string(netmon.KindAuto), "Network observing strategy (auto, broadcast, callback, idle)")
	fs.StringVar(&cfg.PackageName, "package-name", "netreachd", "Name used to look up the idle inhibitor allow-list")
	fs.StringVar(&cfg.IdlePolicy, "idle-policy", "persist", "Idle receiver policy (persist, release-when-exempt)")
	fs.StringVar(&cfg.CallbackMinVersion, "callback-min-version", netmon.DefaultCallbackMinVersion, "Lowest platform version using network callbacks")
	fs.StringVar(&cfg.IdleMinVersion, "idle-min-version", netmon.DefaultIdleMinVersion, "Lowest platform version with idle mode")

	fs.StringVar(&cfg.ProbeHost, "probe-host", reachability.DefaultHost, "Walled garden URL expected to answer 204")
	fs.IntVar(&cfg.ProbePort, "probe-port", 80, "Port used for walled garden probes")
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", 2*time.Second, "Connect and read timeout of a probe")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", 2*time.Second, "Interval between probes on streaming endpoints")
	fs.DurationVar(&cfg.ProbeInitialDelay, "probe-initial-delay", 0, "Delay before the first probe on streaming endpoints")
	fs.Int64Var(&cfg.MaxProbes, "max-probes", reachability.DefaultMaxProbes, "Maximum number of probes in flight")

	fs.BoolVar(&cfg.Advertise, "advertise", false, "Advertise the API over mDNS")
	fs.StringVar(&cfg.AdvertiseIface, "advertise-iface", "", "Interface to advertise on (default: all)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SelectorConfig converts the strategy flags.
func (c *Config) SelectorConfig() (netmon.SelectorConfig, error) {
	sel := netmon.DefaultSelectorConfig()

	kind, err := netmon.ParseStrategyKind(c.Strategy)
	if err != nil {
		return sel, err
	}
	policy, err := netmon.ParseIdleReceiverPolicy(c.IdlePolicy)
	if err != nil {
		return sel, err
	}

	sel.Kind = kind
	sel.IdlePolicy = policy
	sel.CallbackMinVersion = c.CallbackMinVersion
	sel.IdleMinVersion = c.IdleMinVersion
	return sel, nil
}

// ReachabilitySettings converts the probe flags.
func (c *Config) ReachabilitySettings() reachability.Settings {
	settings := reachability.DefaultSettings()
	settings.Strategy = reachability.NewWalledGardenStrategy(reachability.WithMaxProbes(c.MaxProbes))
	settings.Host = c.ProbeHost
	settings.Port = c.ProbePort
	settings.Timeout = c.ProbeTimeout
	settings.Interval = c.ProbeInterval
	settings.InitialDelay = c.ProbeInitialDelay
	return settings
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Host: %s, Port: %d, LogLevel: %s, Strategy: %s, PackageName: %s, IdlePolicy: %s, "+
		"ProbeHost: %s, ProbePort: %d, ProbeTimeout: %s, ProbeInterval: %s, ProbeInitialDelay: %s, MaxProbes: %d, Advertise: %t",
		c.Host, c.Port, c.LogLevel, c.Strategy, c.PackageName, c.IdlePolicy,
		c.ProbeHost, c.ProbePort, c.ProbeTimeout, c.ProbeInterval, c.ProbeInitialDelay, c.MaxProbes, c.Advertise)
}

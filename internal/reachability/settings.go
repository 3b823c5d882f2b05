package reachability

import (
	"context"
	"time"

	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
)

// Settings bundles the arguments of an observation or check.
type Settings struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Host         string
	Port         int
	Timeout      time.Duration
	ErrorHandler errhandler.ErrorHandler
	Strategy     Strategy
}

func DefaultSettings() Settings {
	strategy := NewWalledGardenStrategy()
	return Settings{
		InitialDelay: 0,
		Interval:     2 * time.Second,
		Host:         strategy.DefaultHost(),
		Port:         80,
		Timeout:      2 * time.Second,
		ErrorHandler: errhandler.NewLogHandler("reachability"),
		Strategy:     strategy,
	}
}

// ObserveSettings starts an observation with s.
func ObserveSettings(ctx context.Context, s Settings) (<-chan bool, func(), error) {
	return s.Strategy.Observe(ctx, s.InitialDelay, s.Interval, s.Host, s.Port, s.Timeout, s.ErrorHandler)
}

// CheckSettings probes once with s.
func CheckSettings(ctx context.Context, s Settings) (bool, error) {
	return s.Strategy.Check(ctx, s.Host, s.Port, s.Timeout, s.ErrorHandler)
}

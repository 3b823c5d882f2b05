package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/advertise"
	"github.com/dmdmdm-nz/netreachd/internal/api"
	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/netmon"
	"github.com/dmdmdm-nz/netreachd/internal/runtime"
	"github.com/dmdmdm-nz/netreachd/pkg/cli"
)

func main() {
	// Parse command line flags
	cfg := cli.ParseFlags()

	// Configure logging
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Infof("Config: %s", cfg)

	selector, err := cfg.SelectorConfig()
	if err != nil {
		log.WithError(err).Fatal("Invalid strategy configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	device, err := netmon.NewDevice(cfg.PackageName)
	if err != nil {
		log.WithError(err).Fatal("Failed to open network device")
	}

	mainLoop := runtime.NewMainLoop()
	strategy := netmon.NewStrategy(device, selector, mainLoop, errhandler.NewLogHandler("netmon"))
	netmonSvc := netmon.NewService(device, strategy)
	apiSvc := api.NewService(cfg.Host, cfg.Port, netmonSvc, cfg.ReachabilitySettings())

	// Start in dependency order: mainloop → netmon → api → advertise. Workers close in
	// reverse, so the main loop drains pending deregistrations last.
	super := runtime.NewSupervisor()
	super.Add("mainloop", func(ctx context.Context) error {
		go mainLoop.Run()
		<-ctx.Done()
		return nil
	}, func() error {
		if err := mainLoop.Close(); err != nil {
			return err
		}
		return device.Close()
	})
	super.Add("netmon", func(ctx context.Context) error { return netmonSvc.Start(ctx) }, netmonSvc.Close)
	super.Add("api", func(ctx context.Context) error { return apiSvc.Start(ctx) }, apiSvc.Close)
	if cfg.Advertise {
		advertiser := advertise.NewAdvertiser(cfg.Port, cfg.AdvertiseIface)
		super.Add("advertise", advertiser.Start, advertiser.Close)
	}

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(ctx); err != nil {
		log.WithError(err).Error("Supervisor wait failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

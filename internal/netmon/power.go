package netmon

// powerSource is the platform power manager behind a device.
type powerSource interface {
	PowerManager
	// watchIdle calls onChange whenever the idle state may have changed until
	// the returned stop func is called.
	watchIdle(onChange func()) (stop func(), err error)
	Close() error
}

// nopPower is used where the OS has no idle mode, or it cannot be queried.
type nopPower struct{}

func (nopPower) IsDeviceIdleMode() bool                    { return false }
func (nopPower) IsIgnoringBatteryOptimizations(string) bool { return false }
func (nopPower) watchIdle(func()) (func(), error)           { return func() {}, nil }
func (nopPower) Close() error                               { return nil }

// baseDevice carries the bookkeeping shared by the platform devices.
type baseDevice struct {
	*registry
	powerSource

	packageName string
	release     string
}

func (d *baseDevice) PackageName() string     { return d.packageName }
func (d *baseDevice) PlatformVersion() string { return d.release }

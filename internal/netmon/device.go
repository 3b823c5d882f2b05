package netmon

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

// Action names a class of system broadcast a Receiver can listen for.
type Action string

const (
	ActionConnectivityChange    Action = "CONNECTIVITY_CHANGE"
	ActionDeviceIdleModeChanged Action = "DEVICE_IDLE_MODE_CHANGED"
)

var (
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("already registered")
)

// Receiver is a registration handle for system broadcasts.
type Receiver struct {
	id        uuid.UUID
	onReceive func(Action)
}

func NewReceiver(onReceive func(Action)) *Receiver {
	return &Receiver{id: uuid.New(), onReceive: onReceive}
}

func (r *Receiver) ID() uuid.UUID { return r.id }

// Receive delivers a broadcast. Devices call it outside of their locks.
func (r *Receiver) Receive(action Action) {
	if r.onReceive != nil {
		r.onReceive(action)
	}
}

// Network identifies the link a NetworkCallback transition refers to.
type Network struct {
	Index int
	Name  string
}

// NetworkCallback is a registration handle for network availability
// transitions.
type NetworkCallback struct {
	id          uuid.UUID
	onAvailable func(Network)
	onLost      func(Network)
}

func NewNetworkCallback(onAvailable, onLost func(Network)) *NetworkCallback {
	return &NetworkCallback{id: uuid.New(), onAvailable: onAvailable, onLost: onLost}
}

func (c *NetworkCallback) ID() uuid.UUID { return c.id }

func (c *NetworkCallback) OnAvailable(n Network) {
	if c.onAvailable != nil {
		c.onAvailable(n)
	}
}

func (c *NetworkCallback) OnLost(n Network) {
	if c.onLost != nil {
		c.onLost(n)
	}
}

// ConnectivityManager queries link state and manages network callbacks.
type ConnectivityManager interface {
	Snapshot() (connectivity.Snapshot, error)
	RegisterNetworkCallback(cb *NetworkCallback) error
	UnregisterNetworkCallback(cb *NetworkCallback) error
}

// PowerManager answers power-saving questions. Answers are read from the OS
// on every call.
type PowerManager interface {
	IsDeviceIdleMode() bool
	IsIgnoringBatteryOptimizations(packageName string) bool
}

// Device is the OS connectivity and power facility the strategies observe.
type Device interface {
	ConnectivityManager
	PowerManager

	RegisterReceiver(r *Receiver, actions ...Action) error
	UnregisterReceiver(r *Receiver) error

	// PackageName identifies this process to the power manager allow-list.
	PackageName() string
	// PlatformVersion is the OS release string used for strategy selection.
	PlatformVersion() string

	Close() error
}

// capture reads the current snapshot, falling back to the empty one.
func capture(cm ConnectivityManager) connectivity.Snapshot {
	s, err := cm.Snapshot()
	if err != nil {
		return connectivity.Default()
	}
	return s
}

package netmon

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"

	"github.com/dmdmdm-nz/netreachd/internal/connectivity"
)

// fakeDevice is an in-memory Device. Broadcasts and callbacks are triggered
// through the embedded registry.
type fakeDevice struct {
	*registry

	mu       sync.Mutex
	snapshot connectivity.Snapshot
	snapErr  error
	idle     bool
	exempt   bool
	release  string

	registerReceiverErr    error
	registerCallbackErr    error
	unregisterReceiverErr  error
	unregisterCallbackErr  error
	unregisterReceiverHits int
	unregisterCallbackHits int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		registry: newRegistry(),
		snapshot: wifiSnapshot(),
		release:  "6.8.0",
	}
}

func (d *fakeDevice) Snapshot() (connectivity.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot, d.snapErr
}

func (d *fakeDevice) setSnapshot(s connectivity.Snapshot) {
	d.mu.Lock()
	d.snapshot = s
	d.mu.Unlock()
}

func (d *fakeDevice) setIdle(idle, exempt bool) {
	d.mu.Lock()
	d.idle, d.exempt = idle, exempt
	d.mu.Unlock()
}

func (d *fakeDevice) RegisterReceiver(r *Receiver, actions ...Action) error {
	d.mu.Lock()
	err := d.registerReceiverErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.addReceiver(r, actions)
}

func (d *fakeDevice) UnregisterReceiver(r *Receiver) error {
	d.mu.Lock()
	d.unregisterReceiverHits++
	err := d.unregisterReceiverErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.removeReceiver(r)
}

func (d *fakeDevice) RegisterNetworkCallback(cb *NetworkCallback) error {
	d.mu.Lock()
	err := d.registerCallbackErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.addCallback(cb)
}

func (d *fakeDevice) UnregisterNetworkCallback(cb *NetworkCallback) error {
	d.mu.Lock()
	d.unregisterCallbackHits++
	err := d.unregisterCallbackErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.removeCallback(cb)
}

func (d *fakeDevice) IsDeviceIdleMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

func (d *fakeDevice) IsIgnoringBatteryOptimizations(string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exempt
}

func (d *fakeDevice) PackageName() string     { return "com.example.app" }
func (d *fakeDevice) PlatformVersion() string { return d.release }
func (d *fakeDevice) Close() error            { return nil }

func (d *fakeDevice) hits() (receivers, callbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unregisterReceiverHits, d.unregisterCallbackHits
}

// fakeDispatcher runs posted tasks inline unless hold is set, in which case
// they wait for flush.
type fakeDispatcher struct {
	mu      sync.Mutex
	current bool
	hold    bool
	posted  int
	pending []func()
}

func (f *fakeDispatcher) IsCurrent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeDispatcher) Post(fn func()) {
	f.mu.Lock()
	f.posted++
	if f.hold {
		f.pending = append(f.pending, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

func (f *fakeDispatcher) setHold(v bool) {
	f.mu.Lock()
	f.hold = v
	f.mu.Unlock()
}

func (f *fakeDispatcher) postedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posted
}

func (f *fakeDispatcher) flush() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

type mockErrorHandler struct {
	mock.Mock
}

func (m *mockErrorHandler) HandleError(err error, message string) {
	m.Called(err, message)
}

var errBoom = errors.New("boom")

func wifiSnapshot() connectivity.Snapshot {
	return connectivity.NewBuilder().
		State(connectivity.Connected).
		DetailedState(connectivity.DetailedConnected).
		Type(connectivity.TypeWifi).
		TypeName("WIFI").
		Available(true).
		ExtraInfo("wlan0").
		Build()
}

func ethernetSnapshot() connectivity.Snapshot {
	return connectivity.NewBuilder().
		State(connectivity.Connected).
		DetailedState(connectivity.DetailedConnected).
		Type(connectivity.TypeEthernet).
		TypeName("ETHERNET").
		Available(true).
		ExtraInfo("eth0").
		Build()
}

func recv(t *testing.T, ch <-chan connectivity.Snapshot) connectivity.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for snapshot")
		}
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return connectivity.Snapshot{}
}

func expectNone(t *testing.T, ch <-chan connectivity.Snapshot) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if ok {
			t.Fatalf("unexpected snapshot %s", s)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, ch <-chan connectivity.Snapshot) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for channel to close")
		}
	}
}

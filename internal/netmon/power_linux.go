//go:build linux

package netmon

import (
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	logindDest      = "org.freedesktop.login1"
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager   = "org.freedesktop.login1.Manager"
	propsInterface  = "org.freedesktop.DBus.Properties"
	propsChanged    = "PropertiesChanged"
	idleHintProp    = "IdleHint"
	idleInhibitWhat = "idle"
)

// logindPower reads idle state from systemd-logind. A session is idle when
// logind's IdleHint is set; a package is exempt while it holds an idle
// inhibitor lock under its own name.
type logindPower struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu sync.Mutex
}

// inhibitor mirrors one a(ssssuu) entry of ListInhibitors.
type inhibitor struct {
	What string
	Who  string
	Why  string
	Mode string
	UID  uint32
	PID  uint32
}

// newPowerSource connects to the system bus, falling back to a power manager
// that is never idle.
func newPowerSource() powerSource {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.WithError(err).Debug("System bus unavailable, idle mode disabled")
		return nopPower{}
	}
	return &logindPower{
		conn: conn,
		obj:  conn.Object(logindDest, logindPath),
	}
}

func (p *logindPower) IsDeviceIdleMode() bool {
	v, err := p.obj.GetProperty(logindManager + "." + idleHintProp)
	if err != nil {
		log.WithError(err).Trace("Failed to read IdleHint")
		return false
	}
	idle, _ := v.Value().(bool)
	return idle
}

func (p *logindPower) IsIgnoringBatteryOptimizations(packageName string) bool {
	inhibitors, err := p.listInhibitors()
	if err != nil {
		log.WithError(err).Trace("Failed to list inhibitors")
		return false
	}
	for _, in := range inhibitors {
		if in.Who != packageName {
			continue
		}
		for _, what := range strings.Split(in.What, ":") {
			if what == idleInhibitWhat {
				return true
			}
		}
	}
	return false
}

func (p *logindPower) listInhibitors() ([]inhibitor, error) {
	var out []inhibitor
	if err := p.obj.Call(logindManager+".ListInhibitors", 0).Store(&out); err != nil {
		return nil, errors.Wrap(err, "ListInhibitors")
	}
	return out, nil
}

func (p *logindPower) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember(propsChanged),
		dbus.WithMatchArg(0, logindManager),
	}
}

func (p *logindPower) watchIdle(onChange func()) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.AddMatchSignal(p.matchOptions()...); err != nil {
		return nil, errors.Wrap(err, "subscribe to logind properties")
	}

	signals := make(chan *dbus.Signal, 8)
	done := make(chan struct{})
	p.conn.Signal(signals)

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if idleHintChanged(sig) {
					log.Debug("logind IdleHint changed")
					onChange()
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			p.conn.RemoveSignal(signals)
			if err := p.conn.RemoveMatchSignal(p.matchOptions()...); err != nil {
				log.WithError(err).Debug("Failed to remove logind signal match")
			}
		})
	}
	return stop, nil
}

// idleHintChanged inspects a PropertiesChanged(s, a{sv}, as) signal.
func idleHintChanged(sig *dbus.Signal) bool {
	if sig == nil || sig.Name != propsInterface+"."+propsChanged || len(sig.Body) < 3 {
		return false
	}
	if iface, _ := sig.Body[0].(string); iface != logindManager {
		return false
	}
	if changed, ok := sig.Body[1].(map[string]dbus.Variant); ok {
		if _, ok := changed[idleHintProp]; ok {
			return true
		}
	}
	if invalidated, ok := sig.Body[2].([]string); ok {
		for _, name := range invalidated {
			if name == idleHintProp {
				return true
			}
		}
	}
	return false
}

func (p *logindPower) Close() error {
	return p.conn.Close()
}

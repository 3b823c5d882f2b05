package netmon

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/errhandler"
	"github.com/dmdmdm-nz/netreachd/internal/runtime"
)

// StrategyKind names a strategy variant, or auto for version-based selection.
type StrategyKind string

const (
	KindAuto      StrategyKind = "auto"
	KindBroadcast StrategyKind = "broadcast"
	KindCallback  StrategyKind = "callback"
	KindIdleAware StrategyKind = "idle"
)

const (
	DefaultCallbackMinVersion = "3.0.0"
	DefaultIdleMinVersion     = "4.0.0"
)

type SelectorConfig struct {
	Kind               StrategyKind
	CallbackMinVersion string
	IdleMinVersion     string
	IdlePolicy         IdleReceiverPolicy
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Kind:               KindAuto,
		CallbackMinVersion: DefaultCallbackMinVersion,
		IdleMinVersion:     DefaultIdleMinVersion,
		IdlePolicy:         PersistIdleReceiver,
	}
}

// ParseStrategyKind accepts the names used on the command line.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAuto, KindBroadcast, KindCallback, KindIdleAware:
		return k, nil
	case "":
		return KindAuto, nil
	default:
		return "", errors.Errorf("unknown strategy %q", s)
	}
}

// ParseIdleReceiverPolicy accepts "persist" and "release-when-exempt".
func ParseIdleReceiverPolicy(s string) (IdleReceiverPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "persist":
		return PersistIdleReceiver, nil
	case "release-when-exempt":
		return ReleaseIdleReceiverWhenExempt, nil
	default:
		return PersistIdleReceiver, errors.Errorf("unknown idle receiver policy %q", s)
	}
}

var leadingVersion = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// ParsePlatformVersion extracts major.minor.patch from an OS release string
// such as "6.8.0-45-generic" or "5.15.153.1-microsoft-standard-WSL2".
func ParsePlatformVersion(release string) (*semver.Version, error) {
	m := leadingVersion.FindStringSubmatch(strings.TrimSpace(release))
	if m == nil {
		return nil, errors.Errorf("no version in platform release %q", release)
	}
	parts := []string{m[1], "0", "0"}
	if m[2] != "" {
		parts[1] = m[2]
	}
	if m[3] != "" {
		parts[2] = m[3]
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, errors.Wrapf(err, "parse platform release %q", release)
	}
	return v, nil
}

// NewStrategy picks the strategy variant once, at construction time.
func NewStrategy(device Device, cfg SelectorConfig, dispatcher runtime.Dispatcher, handler errhandler.ErrorHandler) Strategy {
	kind := selectKind(device.PlatformVersion(), cfg)

	log.WithFields(log.Fields{
		"requested": cfg.Kind,
		"selected":  kind,
		"platform":  device.PlatformVersion(),
	}).Info("Selected network observing strategy")

	switch kind {
	case KindIdleAware:
		return NewIdleAwareStrategy(handler, cfg.IdlePolicy)
	case KindCallback:
		return NewCallbackStrategy(handler)
	default:
		return NewBroadcastStrategy(dispatcher, handler)
	}
}

func selectKind(release string, cfg SelectorConfig) StrategyKind {
	if cfg.Kind != KindAuto && cfg.Kind != "" {
		return cfg.Kind
	}

	v, err := ParsePlatformVersion(release)
	if err != nil {
		log.WithError(err).Debug("Falling back to broadcast strategy")
		return KindBroadcast
	}

	if atLeast(v, cfg.IdleMinVersion) {
		return KindIdleAware
	}
	if atLeast(v, cfg.CallbackMinVersion) {
		return KindCallback
	}
	return KindBroadcast
}

func atLeast(v *semver.Version, min string) bool {
	if min == "" {
		return false
	}
	c, err := semver.NewConstraint(">= " + min)
	if err != nil {
		log.WithError(err).WithField("constraint", min).Warn("Invalid version constraint")
		return false
	}
	return c.Check(v)
}

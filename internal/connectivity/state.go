package connectivity

// State is the coarse link state.
type State int

const (
	Connected State = iota
	Connecting
	Disconnected
	Disconnecting
	Suspended
	Unknown
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Connecting:
		return "CONNECTING"
	case Disconnected:
		return "DISCONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	case Suspended:
		return "SUSPENDED"
	default:
		return "UNKNOWN"
	}
}

// DetailedState is the fine-grained link state.
type DetailedState int

const (
	DetailedIdle DetailedState = iota
	DetailedScanning
	DetailedConnecting
	DetailedAuthenticating
	DetailedObtainingIPAddr
	DetailedConnected
	DetailedSuspended
	DetailedDisconnecting
	DetailedDisconnected
	DetailedFailed
	DetailedBlocked
	DetailedVerifyingPoorLink
	DetailedCaptivePortalCheck
)

var detailedStateNames = map[DetailedState]string{
	DetailedIdle:               "IDLE",
	DetailedScanning:           "SCANNING",
	DetailedConnecting:         "CONNECTING",
	DetailedAuthenticating:     "AUTHENTICATING",
	DetailedObtainingIPAddr:    "OBTAINING_IPADDR",
	DetailedConnected:          "CONNECTED",
	DetailedSuspended:          "SUSPENDED",
	DetailedDisconnecting:      "DISCONNECTING",
	DetailedDisconnected:       "DISCONNECTED",
	DetailedFailed:             "FAILED",
	DetailedBlocked:            "BLOCKED",
	DetailedVerifyingPoorLink:  "VERIFYING_POOR_LINK",
	DetailedCaptivePortalCheck: "CAPTIVE_PORTAL_CHECK",
}

func (d DetailedState) String() string {
	if name, ok := detailedStateNames[d]; ok {
		return name
	}
	return "UNKNOWN"
}

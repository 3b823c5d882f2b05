package connectivity

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

const (
	UnknownType    = -1
	UnknownSubType = -1

	noneName = "NONE"
)

// Transport type identifiers.
const (
	TypeMobile   = 0
	TypeWifi     = 1
	TypeEthernet = 9
	TypeVPN      = 17
	TypeLoopback = 100
)

// TypeName returns the canonical name for a transport type identifier.
func TypeName(t int) string {
	switch t {
	case TypeMobile:
		return "MOBILE"
	case TypeWifi:
		return "WIFI"
	case TypeEthernet:
		return "ETHERNET"
	case TypeVPN:
		return "VPN"
	case TypeLoopback:
		return "LOOPBACK"
	default:
		return noneName
	}
}

// Snapshot describes the link state of the device at one instant. It is
// immutable once built and comparable with ==.
type Snapshot struct {
	state         State
	detailedState DetailedState
	typ           int
	subType       int
	available     bool
	failover      bool
	roaming       bool
	typeName      string
	subTypeName   string
	reason        string
	extraInfo     string
}

// Default returns the empty snapshot used when the OS state is unknown.
func Default() Snapshot {
	return Snapshot{
		state:         Disconnected,
		detailedState: DetailedIdle,
		typ:           UnknownType,
		subType:       UnknownSubType,
		typeName:      noneName,
		subTypeName:   noneName,
	}
}

func (s Snapshot) State() State                 { return s.state }
func (s Snapshot) DetailedState() DetailedState { return s.detailedState }
func (s Snapshot) Type() int                    { return s.typ }
func (s Snapshot) SubType() int                 { return s.subType }
func (s Snapshot) Available() bool              { return s.available }
func (s Snapshot) Failover() bool               { return s.failover }
func (s Snapshot) Roaming() bool                { return s.roaming }
func (s Snapshot) TypeName() string             { return s.typeName }
func (s Snapshot) SubTypeName() string          { return s.subTypeName }
func (s Snapshot) Reason() string               { return s.reason }
func (s Snapshot) ExtraInfo() string            { return s.extraInfo }

// Equal reports whether every field of s and other matches.
func (s Snapshot) Equal(other Snapshot) bool {
	return s == other
}

// Hash returns an FNV-1a hash over all fields. Equal snapshots hash equally.
func (s Snapshot) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	writeBool := func(v bool) {
		if v {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}
	writeString := func(v string) {
		writeInt(int64(len(v)))
		_, _ = h.Write([]byte(v))
	}

	writeInt(int64(s.state))
	writeInt(int64(s.detailedState))
	writeInt(int64(s.typ))
	writeInt(int64(s.subType))
	writeBool(s.available)
	writeBool(s.failover)
	writeBool(s.roaming)
	writeString(s.typeName)
	writeString(s.subTypeName)
	writeString(s.reason)
	writeString(s.extraInfo)
	return h.Sum64()
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Connectivity{state=%s, detailedState=%s, type=%d, subType=%d, "+
		"available=%t, failover=%t, roaming=%t, typeName='%s', subTypeName='%s', "+
		"reason='%s', extraInfo='%s'}",
		s.state, s.detailedState, s.typ, s.subType,
		s.available, s.failover, s.roaming, s.typeName, s.subTypeName,
		s.reason, s.extraInfo)
}

// Builder assembles a Snapshot. Unset fields keep their Default values.
type Builder struct {
	s Snapshot
}

func NewBuilder() *Builder {
	return &Builder{s: Default()}
}

func (b *Builder) State(v State) *Builder                 { b.s.state = v; return b }
func (b *Builder) DetailedState(v DetailedState) *Builder { b.s.detailedState = v; return b }
func (b *Builder) Type(v int) *Builder                    { b.s.typ = v; return b }
func (b *Builder) SubType(v int) *Builder                 { b.s.subType = v; return b }
func (b *Builder) Available(v bool) *Builder              { b.s.available = v; return b }
func (b *Builder) Failover(v bool) *Builder               { b.s.failover = v; return b }
func (b *Builder) Roaming(v bool) *Builder                { b.s.roaming = v; return b }
func (b *Builder) TypeName(v string) *Builder             { b.s.typeName = v; return b }
func (b *Builder) SubTypeName(v string) *Builder          { b.s.subTypeName = v; return b }
func (b *Builder) Reason(v string) *Builder               { b.s.reason = v; return b }
func (b *Builder) ExtraInfo(v string) *Builder            { b.s.extraInfo = v; return b }

// Build returns the snapshot. The builder may be reused; later changes do not
// affect snapshots already built.
func (b *Builder) Build() Snapshot {
	return b.s
}

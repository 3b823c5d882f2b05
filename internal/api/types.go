package api

import "github.com/dmdmdm-nz/netreachd/internal/connectivity"

type ConnectivityInfo struct {
	State         string `json:"state"`
	DetailedState string `json:"detailedState"`
	Type          int    `json:"type"`
	SubType       int    `json:"subType"`
	Available     bool   `json:"available"`
	Failover      bool   `json:"failover"`
	Roaming       bool   `json:"roaming"`
	TypeName      string `json:"typeName"`
	SubTypeName   string `json:"subTypeName"`
	Reason        string `json:"reason"`
	ExtraInfo     string `json:"extraInfo"`
}

func NewConnectivityInfo(s connectivity.Snapshot) ConnectivityInfo {
	return ConnectivityInfo{
		State:         s.State().String(),
		DetailedState: s.DetailedState().String(),
		Type:          s.Type(),
		SubType:       s.SubType(),
		Available:     s.Available(),
		Failover:      s.Failover(),
		Roaming:       s.Roaming(),
		TypeName:      s.TypeName(),
		SubTypeName:   s.SubTypeName(),
		Reason:        s.Reason(),
		ExtraInfo:     s.ExtraInfo(),
	}
}

type InternetInfo struct {
	Connected bool   `json:"connected"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
}

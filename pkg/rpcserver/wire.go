package rpcserver

import (
	"encoding/json"
	"time"

	"kubeportal/pkg/forward"
	"kubeportal/pkg/forwarder"
)

// forwardWire is the flat wire representation of a forward.Definition
// (type tag + all optional fields), plus the live status fields projected
// from a running forwarder when one exists: active, bytesTransferred,
// connectionCount, startTime as ISO-8601.
type forwardWire struct {
	Name      string `json:"name"`
	Group     string `json:"group"`
	LocalPort int    `json:"localPort"`
	Enabled   bool   `json:"enabled"`
	Type      string `json:"type"`

	RemoteHost string `json:"remoteHost,omitempty"`
	RemotePort int    `json:"remotePort,omitempty"`

	Context     string `json:"context,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	Service     string `json:"service,omitempty"`
	ServicePort int    `json:"servicePort,omitempty"`

	Active           bool   `json:"active"`
	BytesTransferred uint64 `json:"bytesTransferred"`
	ConnectionCount  int64  `json:"connectionCount"`
	StartTime        string `json:"startTime,omitempty"`
}

// toWire converts a definition plus its optional live stats into the wire
// shape. stats is nil when the forward has no running forwarder.
func toWire(def forward.Definition, stats *forwarder.Stats) forwardWire {
	w := forwardWire{
		Name:        def.Name,
		Group:       def.Group,
		LocalPort:   def.LocalPort,
		Enabled:     def.Enabled,
		Type:        string(def.Type),
		RemoteHost:  def.RemoteHost,
		RemotePort:  def.RemotePort,
		Context:     def.Context,
		Namespace:   def.Namespace,
		Service:     def.Service,
		ServicePort: def.ServicePort,
	}

	if stats != nil {
		w.Active = stats.Active
		w.BytesTransferred = stats.BytesTransferred
		w.ConnectionCount = stats.ConnectionCount

		if !stats.StartTime.IsZero() {
			w.StartTime = stats.StartTime.UTC().Format(time.RFC3339)
		}
	}

	return w
}

// toDefinition converts the wire shape back into a forward.Definition for
// CreateForward. Validation happens downstream in the manager.
func (w forwardWire) toDefinition() forward.Definition {
	return forward.Definition{
		Name:        w.Name,
		Group:       w.Group,
		LocalPort:   w.LocalPort,
		Enabled:     w.Enabled,
		Type:        forward.Type(w.Type),
		RemoteHost:  w.RemoteHost,
		RemotePort:  w.RemotePort,
		Context:     w.Context,
		Namespace:   w.Namespace,
		Service:     w.Service,
		ServicePort: w.ServicePort,
	}
}

// mutationResponse is the {success, error} envelope returned by every
// mutation RPC where a semantic failure (not-found, invalid, bind
// conflict) is possible, as opposed to an HTTP-level error for malformed
// requests or internal bugs.
type mutationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// applyConfigResponse extends mutationResponse with the merge counts
// ApplyConfig reports.
type applyConfigResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
}

// deleteGroupResponse extends mutationResponse with the count DeleteGroup
// reports.
type deleteGroupResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Deleted int    `json:"deleted"`
}

// groupStatusWire is one entry of the ListGroups response: whether the
// group is enabled (any member enabled) plus member counts.
type groupStatusWire struct {
	Enabled            bool `json:"enabled"`
	TotalForwardCount  int  `json:"totalForwardCount"`
	ActiveForwardCount int  `json:"activeForwardCount"`
}

// statusResponse is GetStatus's response.
type statusResponse struct {
	Running            bool    `json:"running"`
	Version            string  `json:"version"`
	ActiveForwardCount int     `json:"activeForwardCount"`
	TotalForwardCount  int     `json:"totalForwardCount"`
	UptimeSeconds      float64 `json:"uptimeSeconds"`
}

// applyConfigRequest is ApplyConfig's request body.
type applyConfigRequest struct {
	ConfigJSON    json.RawMessage `json:"configJson"`
	TargetGroup   string          `json:"targetGroup,omitempty"`
	RemoveMissing bool            `json:"removeMissing"`
}

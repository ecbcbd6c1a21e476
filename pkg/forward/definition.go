// Package forward implements the forward definition model: a typed,
// validated, JSON-serializable description of one port forward, in either
// of its two variants (socket, kubernetes).
package forward

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the two forward variants.
type Type string

const (
	// TypeSocket forwards to a raw remote TCP endpoint.
	TypeSocket Type = "socket"
	// TypeKubernetes forwards to a pod selected from a Kubernetes Service.
	TypeKubernetes Type = "kubernetes"
)

// DefaultGroup is the group a definition is assigned to when none is given.
const DefaultGroup = "default"

// Definition is the common representation of a port forward. The type tag
// is carried both in-memory (Type) and on the wire (the "type" JSON field);
// which fields are meaningful depends on its value.
type Definition struct {
	Name      string `json:"name" validate:"required"`
	Group     string `json:"group"`
	LocalPort int    `json:"localPort" validate:"required,min=1,max=65535"`
	Enabled   bool   `json:"enabled"`
	Type      Type   `json:"type" validate:"required,oneof=socket kubernetes"`

	// socket fields.
	RemoteHost string `json:"remoteHost,omitempty" validate:"required_if=Type socket"`
	RemotePort int    `json:"remotePort,omitempty"`

	// kubernetes fields.
	Context     string `json:"context,omitempty" validate:"required_if=Type kubernetes"`
	Namespace   string `json:"namespace,omitempty" validate:"required_if=Type kubernetes"`
	Service     string `json:"service,omitempty" validate:"required_if=Type kubernetes"`
	ServicePort int    `json:"servicePort,omitempty"`
}

// routingKey captures the fields that determine where traffic is routed.
// Two definitions with an equal routingKey need no forwarder restart even
// if other fields (group, enabled) differ.
type routingKey struct {
	localPort int
	typ       Type

	remoteHost string
	remotePort int

	context     string
	namespace   string
	service     string
	servicePort int
}

// RoutingKey returns a comparable value summarizing this definition's
// routing-relevant fields. The manager uses it to decide whether an
// AddOrUpdate requires restarting the running forwarder.
func (d Definition) RoutingKey() any {
	return routingKey{
		localPort:   d.LocalPort,
		typ:         d.Type,
		remoteHost:  d.RemoteHost,
		remotePort:  d.RemotePort,
		context:     d.Context,
		namespace:   d.Namespace,
		service:     d.Service,
		servicePort: d.ServicePort,
	}
}

// UnmarshalJSON rejects unknown "type" values outright rather than
// accepting them silently: the manager treats anything that made it into
// the registry as startable, so an unrecognized type must never get there.
func (d *Definition) UnmarshalJSON(data []byte) error {
	type alias Definition

	aux := &struct{ *alias }{alias: (*alias)(d)}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("decoding forward definition: %w", err)
	}

	switch d.Type {
	case TypeSocket, TypeKubernetes:
		return nil
	default:
		return fmt.Errorf("%w: unknown forward type %q", ErrValidation, d.Type)
	}
}

package forward

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared across every call; go-playground/validator's docs
// recommend caching one instance rather than constructing it per call.
var validate = validator.New()

// Validate checks a definition against the common and variant-specific
// rules: required fields, port ranges, and the oneof type tag.
// An empty Group is normalized to DefaultGroup before validation.
func (d *Definition) Validate() error {
	if d.Group == "" {
		d.Group = DefaultGroup
	}

	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	switch d.Type {
	case TypeSocket:
		if d.RemotePort < 1 || d.RemotePort > 65535 {
			return fmt.Errorf("%w: remotePort must be between 1 and 65535", ErrValidation)
		}
	case TypeKubernetes:
		if d.ServicePort < 1 || d.ServicePort > 65535 {
			return fmt.Errorf("%w: servicePort must be between 1 and 65535", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown forward type %q", ErrValidation, d.Type)
	}

	return nil
}

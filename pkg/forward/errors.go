package forward

import "errors"

// ErrValidation is returned (wrapped) when a definition fails validation.
// A definition failing validation never enters the registry.
var ErrValidation = errors.New("validation error")

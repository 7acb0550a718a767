package commission

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks deal terms that cannot drive payment generation.
var ErrConfiguration = errors.New("commission: invalid deal configuration")

// ErrUnknownBroker indicates a template row that references a broker outside the active roster.
var ErrUnknownBroker = errors.New("commission: broker not in active roster")

// ErrDuplicateBroker indicates a broker listed twice in one commission template.
var ErrDuplicateBroker = errors.New("commission: broker listed more than once in template")

// ConfigurationError is fatal to the operation on one deal and to nothing else.
type ConfigurationError struct {
	DealID int64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("commission: deal %d: %s", e.DealID, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, ErrConfiguration).
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// ReferenceError describes a skipped template row. It is returned as data, never thrown.
type ReferenceError struct {
	BrokerID int64
	Err      error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("commission: template broker %d: %v", e.BrokerID, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

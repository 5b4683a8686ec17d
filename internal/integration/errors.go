package integration

import "errors"

var (
	// ErrUnknownKind is returned for a kind without a registered factory.
	ErrUnknownKind = errors.New("unknown integration kind")

	// ErrUnsupportedCapability is returned when a client of some kind is
	// asked for a capability that kind does not provide.
	ErrUnsupportedCapability = errors.New("unsupported integration capability")

	// ErrMissingSecret is returned when a client needs a credential the
	// integration does not have.
	ErrMissingSecret = errors.New("missing integration secret")
)

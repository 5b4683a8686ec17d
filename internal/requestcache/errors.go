package requestcache

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by NewHandler for an incomplete configuration.
var ErrInvalidConfig = errors.New("invalid cache handler configuration")

// FetchError reports a failed upstream fetch for one integration.
type FetchError struct {
	Query           string
	IntegrationID   string
	IntegrationName string
	Err             error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for integration %s (%s): %v", e.Query, e.IntegrationID, e.IntegrationName, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

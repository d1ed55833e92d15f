package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a tower does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidBounds is returned for malformed bounding boxes.
	ErrInvalidBounds = errors.New("invalid bounds")
)

// DataSourceError wraps a failure of the point data source so callers can
// tell backend failures apart from cancellation and designed outcomes.
type DataSourceError struct {
	Op  string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: %v", e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// NewDataSourceError wraps err unless it is nil or already a DataSourceError.
func NewDataSourceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var dsErr *DataSourceError
	if errors.As(err, &dsErr) {
		return err
	}
	return &DataSourceError{Op: op, Err: err}
}

// IsDataSourceError reports whether err carries a DataSourceError.
func IsDataSourceError(err error) bool {
	var dsErr *DataSourceError
	return errors.As(err, &dsErr)
}

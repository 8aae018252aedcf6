package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Block access errors
	ErrNotFound        = errors.New("resource not found")
	ErrMissingKey      = fmt.Errorf("%w: data block key", ErrNotFound)
	ErrSectionNotFound = fmt.Errorf("%w: section", ErrMissingKey)
	ErrNameNotFound    = fmt.Errorf("%w: name", ErrMissingKey)
	ErrWrongType       = errors.New("value has wrong type")
	ErrDuplicate       = errors.New("value already present")

	// Parameter errors
	ErrOutOfRange = errors.New("parameter outside its range")
	ErrDimension  = errors.New("dimension mismatch")

	// Numerical errors
	ErrNotPositiveDefinite = errors.New("matrix is not positive definite")
	ErrSingular            = errors.New("matrix is singular")
	ErrIntegration         = errors.New("integration did not converge")
)

// Error constructors with context
func NewMissingKeyError(section, name string, sectionExists bool) error {
	if !sectionExists {
		return fmt.Errorf("%w: %s (looking up %s)", ErrSectionNotFound, section, name)
	}
	return fmt.Errorf("%w: %s in section %s", ErrNameNotFound, name, section)
}

func NewWrongTypeError(section, name, want, got string) error {
	return fmt.Errorf("%w: %s/%s is %s, not %s", ErrWrongType, section, name, got, want)
}

func NewDimensionError(what string, want, got int) error {
	return fmt.Errorf("%w: %s has length %d, expected %d", ErrDimension, what, got, want)
}

// Error checking helpers
func IsMissingKey(err error) bool {
	return errors.Is(err, ErrMissingKey)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrNotPositiveDefinite) ||
		errors.Is(err, ErrSingular) ||
		errors.Is(err, ErrIntegration)
}

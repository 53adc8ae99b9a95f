package service

import (
	"errors"
	"fmt"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

// persistenceError marks storage failures as ErrPersistence. Domain errors returned by
// repositories (not found, invalid state, conflict, validation) pass through unchanged.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrPersistence)
}

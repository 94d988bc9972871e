// Package store persists certificate records. Every store returns
// pkg/platform/sentinel errors; services translate them.
//
// Bind failures wrap two errors so callers can match either the sentinel or
// the precise cause:
//
//	errors.Is(err, sentinel.ErrAlreadyUsed)   // and models.ErrAlreadyMinted
//	errors.Is(err, sentinel.ErrInvalidState)  // and models.ErrAddressMismatch
package store

import (
	"fmt"

	"certledger/internal/certificate/models"
	"certledger/pkg/platform/sentinel"
)

func errAlreadyMinted() error {
	return fmt.Errorf("%w: %w", sentinel.ErrAlreadyUsed, models.ErrAlreadyMinted)
}

func errAddressMismatch() error {
	return fmt.Errorf("%w: %w", sentinel.ErrInvalidState, models.ErrAddressMismatch)
}

func bindError(err error) error {
	switch err {
	case models.ErrAlreadyMinted:
		return errAlreadyMinted()
	case models.ErrAddressMismatch:
		return errAddressMismatch()
	default:
		return err
	}
}

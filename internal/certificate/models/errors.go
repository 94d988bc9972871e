package models

import "errors"

// Bind precondition failures. Stores wrap these with the matching sentinel.
var (
	ErrAlreadyMinted   = errors.New("certificate already minted")
	ErrAddressMismatch = errors.New("wallet address does not match certificate owner")
)

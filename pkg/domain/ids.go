// Package domain holds identifier types shared across bounded contexts.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "certledger/pkg/domain-errors"
)

// CertificateID identifies a certificate record. Assigned once at creation.
type CertificateID uuid.UUID

// InstitutionID identifies an issuing institution. Owned by the auth service.
type InstitutionID uuid.UUID

// PlanID names a subscription plan in the plan catalog ("trial", "pro", ...).
type PlanID string

// TokenID is the ledger token identifier in decimal form.
type TokenID string

// ContentHash is the content address returned by the content store.
type ContentHash string

func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id InstitutionID) String() string { return uuid.UUID(id).String() }
func (id InstitutionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id PlanID) String() string { return string(id) }
func (t TokenID) String() string { return string(t) }
func (h ContentHash) String() string { return string(h) }
func (t TokenID) IsZero() bool { return t == "" }
func (h ContentHash) IsZero() bool { return h == "" }

// ParseCertificateID parses a UUID string into a CertificateID.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate id")
	return CertificateID(u), err
}

// ParseInstitutionID parses a UUID string into an InstitutionID.
func ParseInstitutionID(s string) (InstitutionID, error) {
	u, err := parseUUID(s, "institution id")
	return InstitutionID(u), err
}

// ParseTokenID accepts an unsigned decimal integer of at most 78 digits
// (the width of a uint256).
func ParseTokenID(s string) (TokenID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token id is required")
	}
	if len(s) > 78 || !IsDecimal(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token id must be a decimal integer")
	}
	return TokenID(s), nil
}

// ParseContentHash accepts a printable token of at most 128 bytes.
func ParseContentHash(s string) (ContentHash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "content hash is required")
	}
	if len(s) > 128 || !utf8.ValidString(s) || strings.ContainsAny(s, " \t\r\n/\x00") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid content hash")
	}
	return ContentHash(s), nil
}

// IsDecimal reports whether s is a non-empty string of ASCII digits.
func IsDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

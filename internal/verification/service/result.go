package service

import (
	"strings"

	"github.com/google/uuid"

	"certledger/internal/certificate/models"
	"certledger/internal/ledger"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// Kind selects which identifier a verification looks up.
type Kind string

const (
	KindID          Kind = "id"
	KindContentHash Kind = "contentHash"
	KindTokenID     Kind = "tokenId"
)

// ParseKind validates an explicit kind, or infers one from the identifier
// when raw is empty: a UUID is an id, all digits a token id, anything else a
// content hash.
func ParseKind(raw, identifier string) (Kind, error) {
	switch Kind(strings.TrimSpace(raw)) {
	case KindID:
		return KindID, nil
	case KindContentHash:
		return KindContentHash, nil
	case KindTokenID:
		return KindTokenID, nil
	case "":
	default:
		return "", dErrors.New(dErrors.CodeValidation, "kind must be one of id, contentHash, tokenId")
	}
	identifier = strings.TrimSpace(identifier)
	if _, err := uuid.Parse(identifier); err == nil {
		return KindID, nil
	}
	if id.IsDecimal(identifier) {
		return KindTokenID, nil
	}
	return KindContentHash, nil
}

// Source names which systems contributed to a verification answer.
type Source string

const (
	SourceBackend    Source = "backend"
	SourceBoth       Source = "both"
	SourceBlockchain Source = "blockchain"
)

// Discrepancies between the store record and the ledger token.
const (
	DiscrepancyTokenMissing    = "token_missing_on_ledger"
	DiscrepancyRevokedOnLedger = "revoked_on_ledger"
	DiscrepancyRevokedOffChain = "revoked_off_chain"
	DiscrepancyContentMismatch = "content_hash_mismatch"
)

// Result is a verification answer. Certificate is nil for ledger-only
// answers; Ledger is nil when the ledger was not consulted or had no token.
type Result struct {
	Valid       bool
	Source      Source
	Certificate *models.Certificate
	Ledger      *ledger.Token
	Degraded    bool
	Discrepancy string
}

// merge ANDs the record and token validity: a revocation on either side
// invalidates the certificate.
func merge(cert *models.Certificate, token *ledger.Token) *Result {
	res := &Result{
		Valid:       cert.IsValid && token.IsValid,
		Source:      SourceBoth,
		Certificate: cert,
		Ledger:      token,
	}
	switch {
	case token.ContentHash != "" && token.ContentHash != cert.ContentHash:
		res.Valid = false
		res.Discrepancy = DiscrepancyContentMismatch
	case cert.IsValid && !token.IsValid:
		res.Discrepancy = DiscrepancyRevokedOnLedger
	case !cert.IsValid && token.IsValid:
		res.Discrepancy = DiscrepancyRevokedOffChain
	}
	return res
}

package models

import (
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// MintState tracks the one-way binding of a certificate to a ledger token.
type MintState string

const (
	MintStateUnminted MintState = "unminted"
	MintStateMinted   MintState = "minted"
)

func (s MintState) IsValid() bool {
	return s == MintStateUnminted || s == MintStateMinted
}

// Binding is the ledger token a certificate was minted to. Present only once
// the certificate is minted and immutable afterwards.
type Binding struct {
	TokenID  id.TokenID
	MintedTo id.WalletAddress
	MintedAt time.Time
	TxHash   string
}

// Certificate is the off-chain record of an issued credential.
type Certificate struct {
	ID              id.CertificateID
	StudentAddress  id.WalletAddress
	StudentName     string
	CourseName      string
	Grade           string
	ContentHash     id.ContentHash
	CompletionDate  time.Time
	CertificateType string
	IssuerID        id.InstitutionID
	IssuerName      string
	IssuedAt        time.Time

	IsValid   bool
	RevokedAt *time.Time
	RevokedBy string

	MintState MintState
	Binding   *Binding
}

// NewCertificate builds an unminted, valid certificate. The id is assigned
// by the store on Create.
func NewCertificate(draft Draft, contentHash id.ContentHash, issuedAt time.Time) (*Certificate, error) {
	if contentHash.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "content hash is required")
	}
	if draft.StudentAddress.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "student address is required")
	}
	if draft.IssuerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "issuer is required")
	}
	return &Certificate{
		StudentAddress:  draft.StudentAddress,
		StudentName:     draft.StudentName,
		CourseName:      draft.CourseName,
		Grade:           draft.Grade,
		ContentHash:     contentHash,
		CompletionDate:  draft.CompletionDate,
		CertificateType: draft.CertificateType,
		IssuerID:        draft.IssuerID,
		IssuerName:      draft.IssuerName,
		IssuedAt:        issuedAt,
		IsValid:         true,
		MintState:       MintStateUnminted,
	}, nil
}

// Draft is the validated issuance payload before content addressing.
type Draft struct {
	StudentAddress  id.WalletAddress
	StudentName     string
	CourseName      string
	Grade           string
	CompletionDate  time.Time
	CertificateType string
	IssuerID        id.InstitutionID
	IssuerName      string
}

func (c *Certificate) IsMinted() bool {
	return c.MintState == MintStateMinted
}

// TokenID returns the bound token, or the zero value when unminted.
func (c *Certificate) TokenID() id.TokenID {
	if c.Binding == nil {
		return ""
	}
	return c.Binding.TokenID
}

// CanBind checks the bind preconditions in order: already minted first,
// then owner match.
func (c *Certificate) CanBind(wallet id.WalletAddress) error {
	if c.IsMinted() {
		return ErrAlreadyMinted
	}
	if !id.SameAddress(string(c.StudentAddress), string(wallet)) {
		return ErrAddressMismatch
	}
	return nil
}

// ApplyBind performs the unminted -> minted transition.
func (c *Certificate) ApplyBind(b Binding) error {
	if err := c.CanBind(b.MintedTo); err != nil {
		return err
	}
	if b.TokenID.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "token id is required to bind")
	}
	c.MintState = MintStateMinted
	c.Binding = &b
	return nil
}

// Revoke marks the certificate invalid. Revoking twice keeps the first
// revocation's time and actor.
func (c *Certificate) Revoke(actor string, at time.Time) {
	if !c.IsValid {
		return
	}
	c.IsValid = false
	c.RevokedAt = &at
	c.RevokedBy = actor
}

// CheckInvariants verifies tokenId <=> minted and related record rules.
func (c *Certificate) CheckInvariants() error {
	if !c.MintState.IsValid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown mint state %q", c.MintState)
	}
	if c.IsMinted() != (c.Binding != nil && !c.Binding.TokenID.IsZero()) {
		return dErrors.New(dErrors.CodeInvariantViolation, "token id must be present iff minted")
	}
	if c.Binding != nil && !id.SameAddress(string(c.Binding.MintedTo), string(c.StudentAddress)) {
		return dErrors.New(dErrors.CodeInvariantViolation, "minted-to address must match student address")
	}
	if c.IsValid != (c.RevokedAt == nil) {
		return dErrors.New(dErrors.CodeInvariantViolation, "revocation time must be present iff invalid")
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (c *Certificate) Clone() *Certificate {
	if c == nil {
		return nil
	}
	out := *c
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	if c.Binding != nil {
		b := *c.Binding
		out.Binding = &b
	}
	return &out
}

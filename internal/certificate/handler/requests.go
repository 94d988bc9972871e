package handler

import (
	"encoding/base64"
	"strings"

	issuanceservice "certledger/internal/issuance/service"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// IssueRequest is the issuance body. The artifact is base64 encoded (std or
// URL alphabet, padding optional).
type IssueRequest struct {
	issuanceservice.Payload
	Artifact         string `json:"artifact"`
	ArtifactFilename string `json:"artifactFilename,omitempty"`

	artifact []byte
}

// Validate decodes the artifact only; field rules are applied by issuance so
// that precondition order is preserved.
func (r *IssueRequest) Validate() error {
	raw := strings.TrimSpace(r.Artifact)
	if raw == "" {
		return nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(raw); err == nil {
			r.artifact = data
			return nil
		}
	}
	return dErrors.New(dErrors.CodeValidation, "artifact must be base64 encoded")
}

func (r *IssueRequest) toArtifact() issuanceservice.Artifact {
	return issuanceservice.Artifact{Data: r.artifact, Filename: strings.TrimSpace(r.ArtifactFilename)}
}

type MintRequest struct {
	WalletAddress string `json:"walletAddress"`
}

func (r *MintRequest) Validate() error {
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
	if r.WalletAddress == "" {
		return dErrors.New(dErrors.CodeMissingField, "walletAddress is required")
	}
	return nil
}

type RevokeRequest struct {
	Reason            string `json:"reason"`
	PropagateToLedger bool   `json:"propagateToLedger"`
}

func (r *RevokeRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 512 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 512 characters")
	}
	return nil
}

type ReconcileRequest struct {
	TokenID string `json:"tokenId"`

	tokenID id.TokenID
}

func (r *ReconcileRequest) Validate() error {
	t, err := id.ParseTokenID(r.TokenID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "tokenId must be a decimal integer")
	}
	r.tokenID = t
	return nil
}

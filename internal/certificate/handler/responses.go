package handler

import (
	"time"

	"certledger/internal/certificate/models"
	certservice "certledger/internal/certificate/service"
	"certledger/internal/ledger"
	mintservice "certledger/internal/minting/service"
	quotamodels "certledger/internal/quota/models"
	verifyservice "certledger/internal/verification/service"
)

// CertificateResponse is the one wire shape of a certificate record.
type CertificateResponse struct {
	ID              string     `json:"id"`
	StudentAddress  string     `json:"studentAddress"`
	StudentName     string     `json:"studentName"`
	CourseName      string     `json:"courseName"`
	Grade           string     `json:"grade"`
	ContentHash     string     `json:"contentHash"`
	CompletionDate  string     `json:"completionDate"`
	CertificateType string     `json:"certificateType"`
	IssuerID        string     `json:"issuerId"`
	IssuerName      string     `json:"issuerName"`
	IssuedAt        time.Time  `json:"issuedAt"`
	IsValid         bool       `json:"isValid"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
	MintState       string     `json:"mintState"`
	TokenID         string     `json:"tokenId,omitempty"`
	MintedToAddress string     `json:"mintedToAddress,omitempty"`
	MintedAt        *time.Time `json:"mintedAt,omitempty"`
	TxHash          string     `json:"txHash,omitempty"`
}

func toCertificateResponse(c *models.Certificate) *CertificateResponse {
	if c == nil {
		return nil
	}
	resp := &CertificateResponse{
		ID:              c.ID.String(),
		StudentAddress:  c.StudentAddress.String(),
		StudentName:     c.StudentName,
		CourseName:      c.CourseName,
		Grade:           c.Grade,
		ContentHash:     c.ContentHash.String(),
		CompletionDate:  c.CompletionDate.Format("2006-01-02"),
		CertificateType: c.CertificateType,
		IssuerID:        c.IssuerID.String(),
		IssuerName:      c.IssuerName,
		IssuedAt:        c.IssuedAt,
		IsValid:         c.IsValid,
		RevokedAt:       c.RevokedAt,
		MintState:       string(c.MintState),
	}
	if b := c.Binding; b != nil {
		mintedAt := b.MintedAt
		resp.TokenID = b.TokenID.String()
		resp.MintedToAddress = b.MintedTo.String()
		resp.MintedAt = &mintedAt
		resp.TxHash = b.TxHash
	}
	return resp
}

type certificateEnvelope struct {
	Certificate *CertificateResponse `json:"certificate"`
}

// CertificateListResponse is the only list shape.
type CertificateListResponse struct {
	Certificates []*CertificateResponse `json:"certificates"`
}

func toCertificateList(certs []*models.Certificate) CertificateListResponse {
	out := make([]*CertificateResponse, 0, len(certs))
	for _, c := range certs {
		out = append(out, toCertificateResponse(c))
	}
	return CertificateListResponse{Certificates: out}
}

type MintResponse struct {
	Certificate *CertificateResponse `json:"certificate"`
	TokenID     string               `json:"tokenId"`
	TxHash      string               `json:"txHash,omitempty"`
}

func toMintResponse(r *mintservice.Result) MintResponse {
	return MintResponse{
		Certificate: toCertificateResponse(r.Certificate),
		TokenID:     r.TokenID.String(),
		TxHash:      r.TxHash,
	}
}

type LedgerTokenResponse struct {
	TokenID     string     `json:"tokenId"`
	Owner       string     `json:"owner"`
	StudentName string     `json:"studentName,omitempty"`
	CourseName  string     `json:"courseName,omitempty"`
	ContentHash string     `json:"contentHash"`
	IsValid     bool       `json:"isValid"`
	MintedAt    *time.Time `json:"mintedAt,omitempty"`
	TxHash      string     `json:"txHash,omitempty"`
}

func toLedgerResponse(t *ledger.Token) *LedgerTokenResponse {
	if t == nil {
		return nil
	}
	resp := &LedgerTokenResponse{
		TokenID:     t.TokenID.String(),
		Owner:       t.Owner.String(),
		StudentName: t.StudentName,
		CourseName:  t.CourseName,
		ContentHash: t.ContentHash.String(),
		IsValid:     t.IsValid,
		TxHash:      t.TxHash,
	}
	if !t.MintedAt.IsZero() {
		mintedAt := t.MintedAt
		resp.MintedAt = &mintedAt
	}
	return resp
}

type VerifyResponse struct {
	Valid       bool                 `json:"valid"`
	Source      string               `json:"source"`
	Certificate *CertificateResponse `json:"certificate,omitempty"`
	Ledger      *LedgerTokenResponse `json:"ledger,omitempty"`
	Degraded    bool                 `json:"degraded,omitempty"`
	Discrepancy string               `json:"discrepancy,omitempty"`
}

func toVerifyResponse(r *verifyservice.Result) VerifyResponse {
	return VerifyResponse{
		Valid:       r.Valid,
		Source:      string(r.Source),
		Certificate: toCertificateResponse(r.Certificate),
		Ledger:      toLedgerResponse(r.Ledger),
		Degraded:    r.Degraded,
		Discrepancy: r.Discrepancy,
	}
}

type RevokeResponse struct {
	Certificate  *CertificateResponse `json:"certificate"`
	LedgerTxHash string               `json:"ledgerTxHash,omitempty"`
	LedgerError  string               `json:"ledgerError,omitempty"`
}

func toRevokeResponse(r *certservice.RevokeResult) RevokeResponse {
	return RevokeResponse{
		Certificate:  toCertificateResponse(r.Certificate),
		LedgerTxHash: r.LedgerTxHash,
		LedgerError:  r.LedgerError,
	}
}

type UsageResponse struct {
	Usage *quotamodels.UsagePeriod `json:"usage"`
	Plan  *quotamodels.Plan        `json:"plan,omitempty"`
}

// Package ledger is the contract with the external token ledger and its
// adapters: an HTTP gateway client and an in-memory ledger for development.
package ledger

import (
	"context"
	"time"

	id "certledger/pkg/domain"
)

// Token is the ledger's view of a minted certificate token.
type Token struct {
	TokenID     id.TokenID       `json:"tokenId"`
	Owner       id.WalletAddress `json:"owner"`
	StudentName string           `json:"studentName"`
	CourseName  string           `json:"courseName"`
	ContentHash id.ContentHash   `json:"contentHash"`
	IsValid     bool             `json:"isValid"`
	MintedAt    time.Time        `json:"mintedAt"`
	TxHash      string           `json:"txHash,omitempty"`
}

// MintRequest carries what the ledger records on the token.
type MintRequest struct {
	StudentAddress id.WalletAddress
	StudentName    string
	CourseName     string
	ContentHash    id.ContentHash
}

// MintReceipt is returned once the mint transaction is accepted.
type MintReceipt struct {
	TokenID id.TokenID
	TxHash  string
}

// Client is the ledger contract. Errors are *upstream.Error values; a token
// that does not exist is upstream.ErrorNotFound.
type Client interface {
	Mint(ctx context.Context, req MintRequest) (*MintReceipt, error)
	Get(ctx context.Context, tokenID id.TokenID) (*Token, error)
	FindByContentHash(ctx context.Context, hash id.ContentHash) (*Token, error)
	Revoke(ctx context.Context, tokenID id.TokenID) (txHash string, err error)
}

const upstreamName = "ledger"

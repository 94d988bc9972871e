// Package reconcile finishes certificate binds whose ledger mint succeeded
// but whose store write did not, and runs periodic usage housekeeping.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	id "certledger/pkg/domain"
)

// PendingBind is a minted token still waiting to be bound to its
// certificate. It is keyed by certificate id on the queue.
type PendingBind struct {
	CertificateID id.CertificateID `json:"certificateId"`
	TokenID       id.TokenID       `json:"tokenId"`
	WalletAddress id.WalletAddress `json:"walletAddress"`
	TxHash        string           `json:"txHash,omitempty"`
	MintedAt      time.Time        `json:"mintedAt"`
}

// Queue accepts pending binds for asynchronous completion.
type Queue interface {
	Enqueue(ctx context.Context, pb PendingBind) error
}

func (pb PendingBind) marshal() ([]byte, error) {
	return json.Marshal(pb)
}

func unmarshalPendingBind(data []byte) (PendingBind, error) {
	var pb PendingBind
	if err := json.Unmarshal(data, &pb); err != nil {
		return PendingBind{}, fmt.Errorf("decode pending bind: %w", err)
	}
	return pb, nil
}

package ledger

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/upstream"
)

// HTTPClient talks to a ledger gateway: a signing service that submits and
// reads token transactions on the caller's behalf.
//
// Reads are retried on transport errors and 5xx. Writes are never retried
// here: a repeated mint could create a second token.
type HTTPClient struct {
	reads  *resty.Client
	writes *resty.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	build := func() *resty.Client {
		c := resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json")
		if apiKey != "" {
			c.SetAuthToken(apiKey)
		}
		return c
	}

	reads := build().
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests
		})

	return &HTTPClient{reads: reads, writes: build()}
}

type mintBody struct {
	To          string `json:"to"`
	StudentName string `json:"studentName"`
	CourseName  string `json:"courseName"`
	ContentHash string `json:"contentHash"`
}

type mintResult struct {
	TokenID string `json:"tokenId"`
	TxHash  string `json:"txHash"`
}

type tokenResult struct {
	TokenID     string    `json:"tokenId"`
	Owner       string    `json:"owner"`
	StudentName string    `json:"studentName"`
	CourseName  string    `json:"courseName"`
	ContentHash string    `json:"contentHash"`
	IsValid     bool      `json:"isValid"`
	MintedAt    time.Time `json:"mintedAt"`
	TxHash      string    `json:"txHash"`
}

type revokeResult struct {
	TxHash string `json:"txHash"`
}

func (c *HTTPClient) Mint(ctx context.Context, req MintRequest) (*MintReceipt, error) {
	var out mintResult
	resp, err := c.writes.R().
		SetContext(ctx).
		SetBody(mintBody{
			To:          req.StudentAddress.String(),
			StudentName: req.StudentName,
			CourseName:  req.CourseName,
			ContentHash: req.ContentHash.String(),
		}).
		SetResult(&out).
		Post("/v1/tokens")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	tokenID, perr := id.ParseTokenID(out.TokenID)
	if perr != nil {
		return nil, upstream.NewError(upstream.ErrorBadData, upstreamName, "mint response has no valid token id", perr)
	}
	return &MintReceipt{TokenID: tokenID, TxHash: out.TxHash}, nil
}

func (c *HTTPClient) Get(ctx context.Context, tokenID id.TokenID) (*Token, error) {
	var out tokenResult
	resp, err := c.reads.R().
		SetContext(ctx).
		SetPathParam("tokenId", tokenID.String()).
		SetResult(&out).
		Get("/v1/tokens/{tokenId}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return out.toToken()
}

func (c *HTTPClient) FindByContentHash(ctx context.Context, hash id.ContentHash) (*Token, error) {
	var out tokenResult
	resp, err := c.reads.R().
		SetContext(ctx).
		SetQueryParam("contentHash", hash.String()).
		SetResult(&out).
		Get("/v1/tokens")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return out.toToken()
}

func (c *HTTPClient) Revoke(ctx context.Context, tokenID id.TokenID) (string, error) {
	var out revokeResult
	resp, err := c.writes.R().
		SetContext(ctx).
		SetPathParam("tokenId", tokenID.String()).
		SetResult(&out).
		Post("/v1/tokens/{tokenId}/revoke")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}
	return out.TxHash, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return upstream.FromTransport(upstreamName, err)
	}
	if resp.IsError() {
		return upstream.FromStatus(upstreamName, resp.StatusCode(), resp.String())
	}
	return nil
}

func (r tokenResult) toToken() (*Token, error) {
	tokenID, err := id.ParseTokenID(r.TokenID)
	if err != nil {
		return nil, upstream.NewError(upstream.ErrorBadData, upstreamName, "token has no valid id", err)
	}
	owner, err := id.ParseWalletAddress(r.Owner)
	if err != nil {
		return nil, upstream.NewError(upstream.ErrorBadData, upstreamName, "token has no valid owner", err)
	}
	return &Token{
		TokenID:     tokenID,
		Owner:       owner,
		StudentName: r.StudentName,
		CourseName:  r.CourseName,
		ContentHash: id.ContentHash(r.ContentHash),
		IsValid:     r.IsValid,
		MintedAt:    r.MintedAt,
		TxHash:      r.TxHash,
	}, nil
}

package content

import (
	"bytes"
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	id "certledger/pkg/domain"
	"certledger/pkg/platform/upstream"
)

// IPFSClient uploads through an IPFS-compatible HTTP API (/api/v0/add).
type IPFSClient struct {
	client *resty.Client
}

func NewIPFSClient(baseURL string, timeout time.Duration) *IPFSClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &IPFSClient{client: c}
}

type addResult struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Upload pins the artifact. Adding is idempotent on the node side so the
// request may be retried.
func (c *IPFSClient) Upload(ctx context.Context, data []byte, filename string) (id.ContentHash, error) {
	if filename == "" {
		filename = "certificate"
	}
	var out addResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("pin", "true").
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetResult(&out).
		Post("/api/v0/add")
	if err != nil {
		return "", upstream.FromTransport(upstreamName, err)
	}
	if resp.IsError() {
		return "", upstream.FromStatus(upstreamName, resp.StatusCode(), resp.String())
	}
	hash, perr := id.ParseContentHash(out.Hash)
	if perr != nil {
		return "", upstream.NewError(upstream.ErrorBadData, upstreamName, "add response has no hash", perr)
	}
	return hash, nil
}

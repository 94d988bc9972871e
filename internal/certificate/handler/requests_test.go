package handler

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certledger/pkg/domain-errors"
)

func TestIssueRequestArtifactDecoding(t *testing.T) {
	doc := []byte{0xfb, 0xff, 0x01, 'p', 'd', 'f'}
	for name, enc := range map[string]*base64.Encoding{
		"std":     base64.StdEncoding,
		"raw std": base64.RawStdEncoding,
		"url":     base64.URLEncoding,
		"raw url": base64.RawURLEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			req := IssueRequest{Artifact: enc.EncodeToString(doc)}
			require.NoError(t, req.Validate())
			assert.Equal(t, doc, req.toArtifact().Data)
		})
	}

	t.Run("empty artifact is left to issuance", func(t *testing.T) {
		req := IssueRequest{}
		require.NoError(t, req.Validate())
		assert.Empty(t, req.toArtifact().Data)
	})
}

func TestRevokeRequestValidate(t *testing.T) {
	req := RevokeRequest{Reason: "  duplicate  "}
	require.NoError(t, req.Validate())
	assert.Equal(t, "duplicate", req.Reason)

	long := RevokeRequest{Reason: strings.Repeat("r", 513)}
	assert.True(t, dErrors.HasCode(long.Validate(), dErrors.CodeValidation))
}

func TestReconcileRequestValidate(t *testing.T) {
	req := ReconcileRequest{TokenID: " 42 "}
	require.NoError(t, req.Validate())
	assert.Equal(t, "42", req.tokenID.String())

	bad := ReconcileRequest{TokenID: "-1"}
	assert.True(t, dErrors.HasCode(bad.Validate(), dErrors.CodeValidation))
}

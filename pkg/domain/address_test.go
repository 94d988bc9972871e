package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certledger/pkg/domain-errors"
)

func TestParseWalletAddress(t *testing.T) {
	t.Run("canonicalizes case and prefix", func(t *testing.T) {
		addr, err := ParseWalletAddress("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
		require.NoError(t, err)
		assert.Equal(t, WalletAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"), addr)

		bare, err := ParseWalletAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
		require.NoError(t, err)
		assert.Equal(t, addr, bare)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, in := range []string{"", "0x", "0x123", "0xzzzzzz6053f3e94c9b9a09f33669435e7ef1beaed", "not an address"} {
			_, err := ParseWalletAddress(in)
			require.Error(t, err, in)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), in)
		}
	})
}

func TestSameAddress(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", true},
		{"mixed case", "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", true},
		{"missing prefix", "ab5801a7d398351b8be11c439e05c5b3259aec9b", "0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B", true},
		{"different", "0xab5801a7d398351b8be11c439e05c5b3259aec9b", "0xab5801a7d398351b8be11c439e05c5b3259aec9c", false},
		{"malformed never matches", "garbage", "garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameAddress(tt.a, tt.b))
		})
	}
}

// Vectors from EIP-55.
func TestChecksum(t *testing.T) {
	for _, want := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	} {
		addr, err := ParseWalletAddress(want)
		require.NoError(t, err)
		assert.Equal(t, want, addr.Checksum())
	}
}

package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "certledger/pkg/domain-errors"
)

// WalletAddress is a ledger account address held in canonical form:
// "0x" followed by 40 lower-case hex digits. Compare with SameAddress or ==.
type WalletAddress string

func (a WalletAddress) String() string { return string(a) }
func (a WalletAddress) IsZero() bool { return a == "" }

// ParseWalletAddress validates s and returns its canonical form.
// Input is accepted in any letter case, with or without the 0x prefix.
func ParseWalletAddress(s string) (WalletAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "wallet address is required")
	}
	body := s
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		body = body[2:]
	}
	if len(body) != 40 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "wallet address must be 20 bytes of hex")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "wallet address must be hex encoded")
	}
	return WalletAddress("0x" + strings.ToLower(body)), nil
}

// SameAddress is the single address-equality rule: case-insensitive and
// tolerant of a missing 0x prefix. Malformed input never matches.
func SameAddress(a, b string) bool {
	pa, err := ParseWalletAddress(a)
	if err != nil {
		return false
	}
	pb, err := ParseWalletAddress(b)
	if err != nil {
		return false
	}
	return pa == pb
}

// Checksum renders the address in EIP-55 mixed case for display.
func (a WalletAddress) Checksum() string {
	canonical, err := ParseWalletAddress(string(a))
	if err != nil {
		return string(a)
	}
	body := string(canonical)[2:]

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(body))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(body)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

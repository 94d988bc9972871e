//go:build go1.18

package domain

import "testing"

// FuzzParseWalletAddress checks that parsing never panics and that every
// accepted address is canonical and stable under re-parsing.
func FuzzParseWalletAddress(f *testing.F) {
	f.Add("")
	f.Add("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	f.Add("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	f.Add("0x")
	f.Add("'; DROP TABLE certificates;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseWalletAddress(input)
		if err != nil {
			return
		}
		again, err := ParseWalletAddress(string(addr))
		if err != nil {
			t.Fatalf("canonical address failed to re-parse: %v", err)
		}
		if again != addr {
			t.Fatalf("re-parse changed address: %q -> %q", addr, again)
		}
		if !SameAddress(input, addr.Checksum()) {
			t.Fatalf("checksum form does not match input %q", input)
		}
	})
}

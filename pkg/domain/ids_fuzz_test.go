package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseAccount checks that parsing never panics and that accepted
// accounts are stable under re-parsing.
func FuzzParseAccount(f *testing.F) {
	f.Add(checksummed)
	f.Add("0x0000000000000000000000000000000000000000")
	f.Add("")
	f.Add("0x")
	f.Add("not-an-address")

	f.Fuzz(func(t *testing.T, input string) {
		a, err := ParseAccount(input)
		if err != nil {
			return
		}
		again, err := ParseAccount(a.String())
		if err != nil {
			t.Fatalf("checksummed account failed to re-parse: %v", err)
		}
		if again != a {
			t.Fatalf("re-parse changed account: %q -> %q", a, again)
		}
	})
}

func FuzzParseProductID(f *testing.F) {
	f.Add("PROD-001")
	f.Add("")
	f.Add(string([]byte{0x00, 0x01}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseProductID(input)
		if err != nil {
			return
		}
		if !utf8.ValidString(id.String()) {
			t.Fatal("accepted invalid UTF-8")
		}
		if len(id) == 0 || len(id) > MaxProductIDLength {
			t.Fatalf("accepted id with length %d", len(id))
		}
	})
}

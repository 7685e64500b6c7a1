package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	dErrors "provenance/pkg/domain-errors"
)

// MaxProductIDLength bounds product identifiers so they fit in scan payloads.
const MaxProductIDLength = 128

// Account is a ledger account identifier in EIP-55 checksummed form.
type Account string

// ProductID is the identifier chosen by the minting party.
type ProductID string

func (a Account) String() string   { return string(a) }
func (p ProductID) String() string { return string(p) }

// IsZero reports whether the account is unset.
func (a Account) IsZero() bool { return a == "" }

// ParseAccount validates a 0x-prefixed 20-byte hex address and returns its
// checksummed form. All-lowercase and all-uppercase inputs are accepted;
// mixed-case inputs must carry a correct EIP-55 checksum.
func ParseAccount(s string) (Account, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "account is required")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", dErrors.New(dErrors.CodeValidation, "account must be 0x-prefixed")
	}
	if !common.IsHexAddress(s) {
		return "", dErrors.New(dErrors.CodeValidation, "account must be a 20-byte hex address")
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", dErrors.New(dErrors.CodeValidation, "account must not be the zero address")
	}
	checksummed := addr.Hex()
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && checksummed[2:] != body {
		return "", dErrors.New(dErrors.CodeValidation, "account checksum mismatch")
	}
	return Account(checksummed), nil
}

// MustAccount parses s and panics on failure. Intended for tests and fixtures.
func MustAccount(s string) Account {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseProductID validates a product identifier. Identifiers are opaque to
// the registry but must be printable so they survive scan payloads and logs.
func ParseProductID(s string) (ProductID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "product id is required")
	}
	if len(s) > MaxProductIDLength {
		return "", dErrors.New(dErrors.CodeValidation, "product id must be at most 128 bytes")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "product id must be valid UTF-8")
	}
	if strings.TrimSpace(s) != s {
		return "", dErrors.New(dErrors.CodeValidation, "product id must not have surrounding whitespace")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", dErrors.New(dErrors.CodeValidation, "product id must not contain control characters")
		}
	}
	return ProductID(s), nil
}

package codec

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
)

const (
	maxNameLength        = 256
	maxDescriptionLength = 4096
	maxLinkLength        = 512
	maxAttributes        = 64
	maxAttributeKey      = 64
	maxAttributeValue    = 512

	dateLayout = "2006-01-02"
	ipfsScheme = "ipfs://"
)

// Validate checks the metadata rules enforced before encoding and after decoding.
func Validate(m *models.Metadata) error {
	if m == nil {
		return dErrors.New(dErrors.CodeValidation, "metadata is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "metadata name is required")
	}
	if err := checkText("metadata name", m.Name, maxNameLength); err != nil {
		return err
	}
	if err := checkText("metadata description", m.Description, maxDescriptionLength); err != nil {
		return err
	}
	if m.ManufactureDate != "" {
		if _, err := time.Parse(dateLayout, m.ManufactureDate); err != nil {
			return dErrors.New(dErrors.CodeValidation, "manufacture date must be YYYY-MM-DD")
		}
	}
	if m.ContentLink != nil {
		if err := ValidateContentLink(*m.ContentLink); err != nil {
			return err
		}
	}
	if len(m.Attributes) > maxAttributes {
		return dErrors.New(dErrors.CodeValidation, "too many metadata attributes")
	}
	for k, v := range m.Attributes {
		if k == "" {
			return dErrors.New(dErrors.CodeValidation, "attribute keys must not be empty")
		}
		if err := checkText("attribute key", k, maxAttributeKey); err != nil {
			return err
		}
		if err := checkText("attribute value", v, maxAttributeValue); err != nil {
			return err
		}
	}
	return nil
}

func checkText(field, s string, limit int) error {
	if len(s) > limit {
		return dErrors.New(dErrors.CodeValidation, field+" is too long")
	}
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeValidation, field+" must be valid UTF-8")
	}
	return nil
}

// ValidateContentLink accepts ipfs://<cid>[/path], a bare CID, or an absolute
// http(s) URL.
func ValidateContentLink(link string) error {
	if link == "" {
		return dErrors.New(dErrors.CodeValidation, "content link must not be empty when present")
	}
	if len(link) > maxLinkLength {
		return dErrors.New(dErrors.CodeValidation, "content link is too long")
	}
	if rest, ok := strings.CutPrefix(link, ipfsScheme); ok {
		root, _, _ := strings.Cut(rest, "/")
		return validateCID(root)
	}
	if u, err := url.Parse(link); err == nil && u.Host != "" && (u.Scheme == "https" || u.Scheme == "http") {
		return nil
	}
	return validateCID(link)
}

func validateCID(s string) error {
	c, err := cid.Decode(s)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "content link is not a valid CID or http(s) URL")
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "content link has an invalid multihash")
	}
	if _, known := multihash.Codes[decoded.Code]; !known {
		return dErrors.New(dErrors.CodeValidation, "content link uses an unknown hash function")
	}
	return nil
}

// Package scan maps product ids to the strings printed in QR codes and back.
//
// Two forms exist. The URL form {appURL}/verify?id={id} opens the verifying
// app directly; the bare form supplychain:product:{id} is parseable offline.
// Payloads are locators, not proofs: a parsed id must still be checked
// against the ledger.
package scan

import (
	"net/url"
	"strings"

	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
)

const (
	BarePrefix = "supplychain:product:"
	verifyPath = "/verify"
	idParam    = "id"
)

// Form names the grammar a payload matched.
type Form string

const (
	FormBare Form = "bare"
	FormURL  Form = "url"
)

// ToPayload renders id as a scan payload. An empty appURL selects the bare form.
func ToPayload(id domain.ProductID, appURL string) (string, error) {
	if _, err := domain.ParseProductID(string(id)); err != nil {
		return "", err
	}
	if appURL == "" {
		return BarePrefix + string(id), nil
	}
	base, err := NormalizeAppURL(appURL)
	if err != nil {
		return "", err
	}
	return base + verifyPath + "?" + idParam + "=" + url.QueryEscape(string(id)), nil
}

// NormalizeAppURL checks that appURL is an absolute http(s) URL without query
// or fragment and trims trailing slashes.
func NormalizeAppURL(appURL string) (string, error) {
	u, err := url.Parse(appURL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "app url is not a valid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", dErrors.New(dErrors.CodeValidation, "app url must use http or https")
	}
	if u.Host == "" {
		return "", dErrors.New(dErrors.CodeValidation, "app url must include a host")
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || strings.ContainsAny(appURL, "?#") {
		return "", dErrors.New(dErrors.CodeValidation, "app url must not carry a query or fragment")
	}
	if u.User != nil {
		return "", dErrors.New(dErrors.CodeValidation, "app url must not carry credentials")
	}
	return strings.TrimRight(appURL, "/"), nil
}

// FromPayload extracts the product id from either payload form.
func FromPayload(payload string) (domain.ProductID, error) {
	id, _, err := Parse(payload)
	return id, err
}

// Parse is FromPayload that also reports which form matched.
func Parse(payload string) (domain.ProductID, Form, error) {
	if rest, ok := strings.CutPrefix(payload, BarePrefix); ok {
		id, err := domain.ParseProductID(rest)
		if err != nil {
			return "", "", parseError("bare payload carries an invalid product id", err)
		}
		return id, FormBare, nil
	}

	u, err := url.Parse(payload)
	if err != nil {
		return "", "", parseError("payload is neither a bare id nor a URL", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" || u.Fragment != "" {
		return "", "", parseError("payload is neither a bare id nor a verify URL", nil)
	}
	if !strings.HasSuffix(u.EscapedPath(), verifyPath) {
		return "", "", parseError("payload URL does not point at /verify", nil)
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", "", parseError("payload URL has a malformed query", err)
	}
	if len(q) != 1 || len(q[idParam]) != 1 {
		return "", "", parseError("payload URL must carry exactly one id parameter", nil)
	}
	id, err := domain.ParseProductID(q.Get(idParam))
	if err != nil {
		return "", "", parseError("payload URL carries an invalid product id", err)
	}
	return id, FormURL, nil
}

func parseError(msg string, cause error) error {
	if cause == nil {
		return dErrors.New(dErrors.CodeParseError, msg)
	}
	return dErrors.Wrap(cause, dErrors.CodeParseError, msg)
}

package testutil

import (
	"net/http"

	"provenance/pkg/domain"
	"provenance/pkg/requestcontext"
)

// WithSigner binds a signer account to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// Invalid accounts are not added.
func WithSigner(req *http.Request, account string) *http.Request {
	parsed, err := domain.ParseAccount(account)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithSigner(req.Context(), parsed))
}

// WithRequestID adds a correlation id to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

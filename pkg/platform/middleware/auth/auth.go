// Package auth binds a request to the ledger signer named by its bearer token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"provenance/pkg/domain"
	"provenance/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Account domain.Account
	JTI     string
}

// UnauthorizedCounter is satisfied by the transport metrics.
type UnauthorizedCounter interface {
	IncrementUnauthorized()
}

// GetSigner retrieves the authenticated signer account from the context.
func GetSigner(ctx context.Context) domain.Account {
	return requestcontext.Signer(ctx)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireSigner rejects requests without a valid bearer token and stores the
// token's account as the request signer. counter may be nil.
func RequireSigner(validator JWTValidator, counter UnauthorizedCounter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				reject(counter)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				reject(counter)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			if claims.Account.IsZero() {
				logger.WarnContext(ctx, "unauthorized access - token without signer",
					"jti", claims.JTI,
					"request_id", requestID,
				)
				reject(counter)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithSigner(ctx, claims.Account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(counter UnauthorizedCounter) {
	if counter != nil {
		counter.IncrementUnauthorized()
	}
}

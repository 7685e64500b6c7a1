package models

import "time"

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassRead: product reads and verification, keyed by client IP.
	ClassRead EndpointClass = "read"
	// ClassScan: scan payload resolution, keyed by client IP.
	ClassScan EndpointClass = "scan"
	// ClassWrite: ledger mutations, keyed by signer account.
	ClassWrite EndpointClass = "write"
)

// IsValid checks if the endpoint class is one of the supported enum values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassRead, ClassScan, ClassWrite:
		return true
	}
	return false
}

// Limit is a sliding-window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits are per-minute budgets for each class.
func DefaultLimits() map[EndpointClass]Limit {
	return map[EndpointClass]Limit{
		ClassRead:  {Requests: 300, Window: time.Minute},
		ClassScan:  {Requests: 120, Window: time.Minute},
		ClassWrite: {Requests: 60, Window: time.Minute},
	}
}

// RateLimitResult is the outcome of a single check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the API response when rate limit is exceeded.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// Key builds the bucket key for a class and caller identifier.
func Key(class EndpointClass, identifier string) string {
	return "provenance:ratelimit:" + string(class) + ":" + identifier
}

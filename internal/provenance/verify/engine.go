// Package verify derives existence and authenticity judgments from registry
// reads. Authenticity is binary: a product is authentic exactly when it
// exists and its recorded manufacturer is the expected one. Transfer count is
// reported for people to weigh; it never influences the judgment.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/models"
	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/requestcontext"
)

// Reader is the registry read used by the engine.
type Reader interface {
	Query(ctx context.Context, id domain.ProductID) (*models.Product, error)
}

// ExistenceCache remembers ids known to exist.
type ExistenceCache interface {
	Has(ctx context.Context, id domain.ProductID) (bool, error)
	Remember(ctx context.Context, id domain.ProductID) error
}

type Engine struct {
	reader  Reader
	cache   ExistenceCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithExistenceCache(cache ExistenceCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

func New(reader Reader, opts ...Option) (*Engine, error) {
	if reader == nil {
		return nil, fmt.Errorf("registry reader is required")
	}
	e := &Engine{reader: reader, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Exists reports whether id is on the ledger. NotFound is an answer, not an error.
func (e *Engine) Exists(ctx context.Context, id domain.ProductID) (bool, error) {
	if e.cache != nil {
		hit, err := e.cache.Has(ctx, id)
		switch {
		case err != nil:
			e.metrics.IncrementExistsCache("error")
			e.logger.WarnContext(ctx, "existence cache lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"product_id", id,
				"error", err,
			)
		case hit:
			e.metrics.IncrementExistsCache("hit")
			return true, nil
		default:
			e.metrics.IncrementExistsCache("miss")
		}
	}

	_, err := e.reader.Query(ctx, id)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.remember(ctx, id)
	return true, nil
}

// Verify judges id against expectedManufacturer. A missing product yields
// {Exists: false, IsAuthentic: false} and no error.
func (e *Engine) Verify(ctx context.Context, id domain.ProductID, expectedManufacturer domain.Account) (*models.Verification, error) {
	p, err := e.reader.Query(ctx, id)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, err
	}
	if err == nil {
		e.remember(ctx, id)
	} else {
		p = nil
	}

	v := Judge(id, p, expectedManufacturer)
	e.metrics.IncrementVerify(result(v))
	return &v, nil
}

func (e *Engine) remember(ctx context.Context, id domain.ProductID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Remember(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "existence cache write failed",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", id,
			"error", err,
		)
	}
}

// Judge is the pure authenticity rule. p is nil when the product does not exist.
func Judge(id domain.ProductID, p *models.Product, expectedManufacturer domain.Account) models.Verification {
	if p == nil {
		return models.Verification{ProductID: id}
	}
	manufacturer := p.Manufacturer
	owner := p.CurrentOwner
	count := TransferCount(p)
	return models.Verification{
		ProductID:     id,
		Exists:        true,
		IsAuthentic:   !expectedManufacturer.IsZero() && manufacturer == expectedManufacturer,
		Manufacturer:  &manufacturer,
		CurrentOwner:  &owner,
		TransferCount: &count,
	}
}

func TransferCount(p *models.Product) int {
	return len(p.History)
}

func result(v models.Verification) string {
	switch {
	case !v.Exists:
		return "absent"
	case v.IsAuthentic:
		return "authentic"
	default:
		return "mismatch"
	}
}

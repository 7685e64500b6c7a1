// Package registry owns the mint, transfer and query rules for products.
//
// Mutations are funneled through a per-signer Sequencer, submitted once, and
// bounded by a finality timeout. They are never resubmitted: a timed-out
// mint may still commit, so callers reconcile with ConfirmMint or Query.
// Reads retry transient ledger failures with exponential backoff.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"provenance/internal/audit"
	"provenance/internal/provenance/codec"
	"provenance/internal/provenance/ledger"
	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/models"
	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/requestcontext"
)

const (
	DefaultFinalityTimeout  = 30 * time.Second
	DefaultViewMaxRetries   = 3
	DefaultViewRetryInitial = 100 * time.Millisecond
	DefaultReadTimeout      = 10 * time.Second
)

// AuditPublisher receives an event for every committed mutation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// PendingError is carried by Timeout errors. The operation was accepted by
// the ledger but finality was not observed, so it may still commit.
type PendingError struct {
	ProductID domain.ProductID
	TxHash    string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("transaction %s for product %s not final", e.TxHash, e.ProductID)
}

type Service struct {
	gateway          ledger.Gateway
	sequencer        *Sequencer
	finalityTimeout  time.Duration
	viewMaxRetries   uint64
	viewRetryInitial time.Duration
	readTimeout      time.Duration
	ownershipCheck   bool
	queries          singleflight.Group

	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithFinalityTimeout bounds how long a mutation waits for finality.
func WithFinalityTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.finalityTimeout = d
		}
	}
}

// WithViewRetry configures retries of ledger reads that fail transiently.
func WithViewRetry(maxRetries uint64, initial time.Duration) Option {
	return func(s *Service) {
		s.viewMaxRetries = maxRetries
		if initial > 0 {
			s.viewRetryInitial = initial
		}
	}
}

// WithReadTimeout bounds a shared product read, which outlives the
// cancellation of any single caller waiting on it.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithOwnershipPrecheck reads the product before a transfer and reports a
// signer that does not look like the owner. The transfer is still submitted.
func WithOwnershipPrecheck(enabled bool) Option {
	return func(s *Service) {
		s.ownershipCheck = enabled
	}
}

func New(gateway ledger.Gateway, opts ...Option) (*Service, error) {
	if gateway == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	svc := &Service{
		gateway:          gateway,
		finalityTimeout:  DefaultFinalityTimeout,
		viewMaxRetries:   DefaultViewMaxRetries,
		viewRetryInitial: DefaultViewRetryInitial,
		readTimeout:      DefaultReadTimeout,
		logger:           slog.Default(),
		tracer:           otel.Tracer("provenance/registry"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.sequencer = NewSequencer(svc.loadNonce)
	return svc, nil
}

// Mint records a new product owned by signer. The signer becomes the
// manufacturer and the initial owner.
func (s *Service) Mint(ctx context.Context, signer domain.Account, id domain.ProductID, metadata *models.Metadata) (*models.TransactionOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Mint", trace.WithAttributes(
		attribute.String("product_id", string(id)),
		attribute.String("signer", string(signer)),
	))
	defer span.End()

	signer, err := checkSigner(signer)
	if err != nil {
		return nil, s.fail(ctx, span, models.TxKindMint, err)
	}
	if _, err := domain.ParseProductID(string(id)); err != nil {
		return nil, s.fail(ctx, span, models.TxKindMint, err)
	}
	payload, err := codec.Encode(metadata)
	if err != nil {
		return nil, s.fail(ctx, span, models.TxKindMint, err)
	}

	outcome, err := s.execute(ctx, signer, ledger.Operation{
		Kind:      ledger.OpMint,
		ProductID: id,
		Metadata:  payload,
	})
	if err != nil {
		return nil, s.fail(ctx, span, models.TxKindMint, err)
	}
	return outcome, nil
}

// Transfer moves custody of id from signer to newOwner. Ownership is decided
// by the ledger when the operation executes.
func (s *Service) Transfer(ctx context.Context, signer domain.Account, id domain.ProductID, newOwner string) (*models.TransactionOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Transfer", trace.WithAttributes(
		attribute.String("product_id", string(id)),
		attribute.String("signer", string(signer)),
	))
	defer span.End()

	signer, err := checkSigner(signer)
	if err != nil {
		return nil, s.fail(ctx, span, models.TxKindTransfer, err)
	}
	if _, err := domain.ParseProductID(string(id)); err != nil {
		return nil, s.fail(ctx, span, models.TxKindTransfer, err)
	}
	to, err := domain.ParseAccount(newOwner)
	if err != nil {
		return nil, s.fail(ctx, span, models.TxKindTransfer,
			dErrors.Wrap(err, dErrors.CodeInvalidTransfer, "new owner is not a valid account"))
	}
	if to == signer {
		return nil, s.fail(ctx, span, models.TxKindTransfer,
			dErrors.New(dErrors.CodeInvalidTransfer, "cannot transfer a product to its current owner"))
	}

	if s.ownershipCheck {
		s.precheckOwner(ctx, signer, id)
	}

	outcome, err := s.execute(ctx, signer, ledger.Operation{
		Kind:      ledger.OpTransfer,
		ProductID: id,
		NewOwner:  to,
	})
	if err != nil {
		return nil, s.fail(ctx, span, models.TxKindTransfer, err)
	}
	return outcome, nil
}

func (s *Service) precheckOwner(ctx context.Context, signer domain.Account, id domain.ProductID) {
	p, err := s.Query(ctx, id)
	if err != nil {
		s.logger.DebugContext(ctx, "ownership pre-check skipped",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", id,
			"error", err,
		)
		return
	}
	if p.CurrentOwner != signer {
		s.metrics.IncrementPrecheckMismatch()
		s.logger.WarnContext(ctx, "transfer signer is not the observed owner, submitting anyway",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", id,
			"signer", signer,
			"observed_owner", p.CurrentOwner,
		)
	}
}

// execute sequences, submits and awaits one operation.
func (s *Service) execute(ctx context.Context, signer domain.Account, op ledger.Operation) (*models.TransactionOutcome, error) {
	start := time.Now()
	var handle ledger.Handle
	err := s.sequencer.Do(ctx, signer, func(nonce uint64) error {
		op.Nonce = nonce
		h, err := s.gateway.Submit(ctx, signer, op)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, submitError(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.finalityTimeout)
	outcome, err := s.gateway.AwaitFinality(waitCtx, handle)
	cancel()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to observe transaction finality")
	}
	kind := txKind(op.Kind)
	s.metrics.ObserveFinality(string(kind), start)

	txHash := outcome.TxHash
	if txHash == "" {
		txHash = handle.TxHash
	}

	switch outcome.Status {
	case ledger.StatusCommitted:
	case ledger.StatusAborted:
		return nil, abortError(outcome.Reason)
	case ledger.StatusTimedOut:
		s.logger.WarnContext(ctx, "finality not observed in time",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", op.ProductID,
			"tx_hash", txHash,
		)
		return nil, dErrors.Wrap(&PendingError{ProductID: op.ProductID, TxHash: txHash},
			dErrors.CodeTimeout, "transaction finality not observed in time; re-query before retrying")
	default:
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unknown ledger outcome %q", outcome.Status))
	}

	result := &models.TransactionOutcome{
		Kind:      kind,
		ProductID: op.ProductID,
		Signer:    signer,
		NewOwner:  op.NewOwner,
		TxHash:    txHash,
		Nonce:     op.Nonce,
		Status:    models.TxStatusCommitted,
	}
	s.metrics.IncrementMutation(string(kind), string(result.Status))
	s.logger.InfoContext(ctx, "ledger mutation committed",
		"request_id", requestcontext.RequestID(ctx),
		"kind", kind,
		"product_id", op.ProductID,
		"signer", signer,
		"tx_hash", txHash,
	)
	s.emit(ctx, result)
	return result, nil
}

func (s *Service) emit(ctx context.Context, outcome *models.TransactionOutcome) {
	if s.auditPublisher == nil {
		return
	}
	action := audit.ActionMint
	if outcome.Kind == models.TxKindTransfer {
		action = audit.ActionTransfer
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		ProductID: outcome.ProductID,
		Action:    action,
		Actor:     outcome.Signer,
		NewOwner:  outcome.NewOwner,
		TxHash:    outcome.TxHash,
		RequestID: requestcontext.RequestID(ctx),
		Timestamp: requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to emit provenance event",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", outcome.ProductID,
			"error", err,
		)
	}
}

// Query reads and decodes a product. Concurrent queries for the same id
// share one ledger read; each caller gets its own copy. The shared read is
// detached from the caller that started it and bounded by the read timeout,
// so a cancelled caller only abandons its own wait.
func (s *Service) Query(ctx context.Context, id domain.ProductID) (*models.Product, error) {
	if _, err := domain.ParseProductID(string(id)); err != nil {
		return nil, err
	}
	start := time.Now()
	defer s.metrics.ObserveQuery(start)

	ch := s.queries.DoChan(string(id), func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()
		return s.fetch(readCtx, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Product).Clone(), nil
	case <-ctx.Done():
		return nil, viewError(ctx.Err())
	}
}

func (s *Service) fetch(ctx context.Context, id domain.ProductID) (*models.Product, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Query", trace.WithAttributes(
		attribute.String("product_id", string(id)),
	))
	defer span.End()

	res, err := s.view(ctx, ledger.Query{Kind: ledger.QueryProduct, ProductID: id})
	if err != nil {
		err = viewError(err)
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "query failed")
		}
		return nil, err
	}
	raw := res.Product
	if raw == nil {
		return nil, dErrors.New(dErrors.CodeMalformedMetadata, "ledger returned no product record")
	}

	meta, err := codec.Decode(raw.Metadata)
	if err != nil {
		s.logger.ErrorContext(ctx, "product metadata failed to decode",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", id,
			"error", err,
		)
		return nil, err
	}

	p := &models.Product{
		ID:           raw.ID,
		Manufacturer: raw.Manufacturer,
		CurrentOwner: raw.CurrentOwner,
		Metadata:     *meta,
		History:      append([]domain.Account{}, raw.History...),
	}
	if p.ID != id || p.Manufacturer.IsZero() || !p.Consistent() {
		s.logger.ErrorContext(ctx, "ledger product record is inconsistent",
			"request_id", requestcontext.RequestID(ctx),
			"product_id", id,
		)
		return nil, dErrors.New(dErrors.CodeMalformedMetadata, "ledger product record is inconsistent")
	}
	return p, nil
}

// ConfirmMint reports whether id was minted by manufacturer. It is the
// recovery check after a mint timed out: it never resubmits. A product held
// by another manufacturer is reported as AlreadyExists.
func (s *Service) ConfirmMint(ctx context.Context, manufacturer domain.Account, id domain.ProductID) (bool, error) {
	p, err := s.Query(ctx, id)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.Manufacturer != manufacturer {
		return false, dErrors.New(dErrors.CodeAlreadyExists, "product id was minted by another account")
	}
	return true, nil
}

func (s *Service) loadNonce(ctx context.Context, account domain.Account) (uint64, error) {
	res, err := s.view(ctx, ledger.Query{Kind: ledger.QueryNonce, Account: account})
	if err != nil {
		return 0, err
	}
	return res.Nonce, nil
}

// view retries ledger.ErrUnavailable with exponential backoff. Every other
// error is returned immediately.
func (s *Service) view(ctx context.Context, q ledger.Query) (*ledger.RawResult, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.viewRetryInitial
	eb.MaxInterval = 20 * s.viewRetryInitial
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.viewMaxRetries), ctx)

	return backoff.RetryNotifyWithData(func() (*ledger.RawResult, error) {
		res, err := s.gateway.View(ctx, q)
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}, policy, func(err error, wait time.Duration) {
		s.metrics.IncrementViewRetries()
		s.logger.WarnContext(ctx, "ledger view failed, retrying",
			"request_id", requestcontext.RequestID(ctx),
			"query", q.Kind,
			"wait", wait,
			"error", err,
		)
	})
}

func (s *Service) fail(ctx context.Context, span trace.Span, kind models.TxKind, err error) error {
	code := dErrors.CodeOf(err)
	s.metrics.IncrementMutation(string(kind), string(code))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	level := slog.LevelWarn
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "ledger mutation failed",
		"request_id", requestcontext.RequestID(ctx),
		"kind", kind,
		"code", code,
		"error", err,
	)
	return err
}

// checkSigner returns the checksummed form of signer so ownership and
// manufacturer comparisons never depend on the caller's letter case.
func checkSigner(signer domain.Account) (domain.Account, error) {
	if signer.IsZero() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "signer account is required")
	}
	account, err := domain.ParseAccount(string(signer))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "signer is not a valid account")
	}
	return account, nil
}

func txKind(k ledger.OpKind) models.TxKind {
	if k == ledger.OpTransfer {
		return models.TxKindTransfer
	}
	return models.TxKindMint
}

func submitError(err error) error {
	var loadErr *nonceLoadError
	switch {
	case errors.Is(err, ledger.ErrSubmissionRejected):
		return dErrors.Wrap(err, dErrors.CodeSubmissionRejected, "ledger rejected the submission")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "timed out before the operation was submitted")
	case errors.As(err, &loadErr):
		return viewError(loadErr.err)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger submission failed")
	}
}

func abortError(reason ledger.AbortReason) error {
	switch reason {
	case ledger.AbortAlreadyExists:
		return dErrors.New(dErrors.CodeAlreadyExists, "product id already exists")
	case ledger.AbortNotOwner:
		return dErrors.New(dErrors.CodeNotOwner, "signer is not the current owner")
	case ledger.AbortNotFound:
		return dErrors.New(dErrors.CodeNotFound, "product not found")
	default:
		return dErrors.New(dErrors.CodeAborted, fmt.Sprintf("ledger aborted the operation: %s", reason))
	}
}

func viewError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "product not found")
	case errors.Is(err, ledger.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "ledger read timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger read failed")
	}
}

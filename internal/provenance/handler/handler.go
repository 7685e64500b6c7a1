// Package handler exposes the registry, verification and scan operations
// over HTTP. Mutations require a bearer token naming the ledger signer;
// reads are public.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"provenance/internal/audit"
	platformmetrics "provenance/internal/platform/metrics"
	"provenance/internal/platform/middleware"
	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/models"
	"provenance/internal/provenance/registry"
	"provenance/internal/provenance/scan"
	ratelimit "provenance/internal/ratelimit/middleware"
	rlmodels "provenance/internal/ratelimit/models"
	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/platform/httputil"
	"provenance/pkg/platform/middleware/auth"
	"provenance/pkg/platform/middleware/device"
	"provenance/pkg/platform/middleware/metadata"
	"provenance/pkg/platform/middleware/requesttime"
	strutil "provenance/pkg/platform/strings"
	"provenance/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Registry,Verifier,EventLister

// Registry is the mutation and read surface of the product registry.
type Registry interface {
	Mint(ctx context.Context, signer domain.Account, id domain.ProductID, metadata *models.Metadata) (*models.TransactionOutcome, error)
	Transfer(ctx context.Context, signer domain.Account, id domain.ProductID, newOwner string) (*models.TransactionOutcome, error)
	Query(ctx context.Context, id domain.ProductID) (*models.Product, error)
	ConfirmMint(ctx context.Context, manufacturer domain.Account, id domain.ProductID) (bool, error)
}

// Verifier answers existence and authenticity questions.
type Verifier interface {
	Exists(ctx context.Context, id domain.ProductID) (bool, error)
	Verify(ctx context.Context, id domain.ProductID, expectedManufacturer domain.Account) (*models.Verification, error)
}

// EventLister reads the off-chain provenance journal.
type EventLister interface {
	List(ctx context.Context, productID domain.ProductID, actions ...audit.Action) ([]audit.Event, error)
}

const defaultRequestTimeout = 45 * time.Second

type Handler struct {
	registry       Registry
	verifier       Verifier
	events         EventLister
	jwtValidator   auth.JWTValidator
	logger         *slog.Logger
	metrics        *metrics.Metrics
	httpMetrics    *platformmetrics.Metrics
	rateLimiter    *ratelimit.Middleware
	appURL         string
	requestTimeout time.Duration
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithHTTPMetrics(m *platformmetrics.Metrics) Option {
	return func(h *Handler) {
		h.httpMetrics = m
	}
}

// WithRateLimiter enables per-IP limits on public routes and per-signer
// limits on mutations.
func WithRateLimiter(m *ratelimit.Middleware) Option {
	return func(h *Handler) {
		h.rateLimiter = m
	}
}

// WithAppURL sets the verifying app used for URL-form scan payloads.
// Without it payloads default to the bare form.
func WithAppURL(appURL string) Option {
	return func(h *Handler) {
		h.appURL = appURL
	}
}

// WithRequestTimeout bounds every request. It should exceed the registry's
// finality timeout so a pending transaction is reported as such.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

func New(
	registry Registry,
	verifier Verifier,
	events EventLister,
	jwtValidator auth.JWTValidator,
	logger *slog.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		registry:       registry,
		verifier:       verifier,
		events:         events,
		jwtValidator:   jwtValidator,
		logger:         logger,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the provenance routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	sub := chi.NewRouter()
	sub.Use(middleware.Recovery(h.logger, h.httpMetrics))
	sub.Use(middleware.RequestID)
	sub.Use(requesttime.Middleware)
	sub.Use(metadata.ClientMetadata)
	sub.Use(middleware.Logger(h.logger, h.httpMetrics))
	sub.Use(middleware.Timeout(h.requestTimeout))
	sub.Use(middleware.ContentTypeJSON)

	sub.Group(func(reads chi.Router) {
		reads.Use(h.rateLimiter.RateLimit(rlmodels.ClassRead))
		reads.Get("/products/{id}", h.handleGetProduct)
		reads.Get("/products/{id}/verify", h.handleVerify)
		reads.Get("/products/{id}/events", h.handleListEvents)
		reads.Get("/products/{id}/mint-confirmation", h.handleConfirmMint)
		reads.Get("/exist", h.handleExist)
	})

	sub.Group(func(scans chi.Router) {
		scans.Use(h.rateLimiter.RateLimit(rlmodels.ClassScan))
		scans.Get("/products/{id}/scan-payload", h.handleScanPayload)
		scans.Post("/scan/resolve", h.handleResolve)
	})

	sub.Group(func(signed chi.Router) {
		signed.Use(auth.RequireSigner(h.jwtValidator, h.httpMetrics, h.logger))
		signed.Use(h.rateLimiter.RateLimitSigner(rlmodels.ClassWrite))
		signed.Post("/products", h.handleMint)
		signed.Post("/products/{id}/transfer", h.handleTransfer)
	})

	r.Mount("/", sub)
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	signer, ok := h.requireSigner(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[MintRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcome, err := h.registry.Mint(ctx, signer, domain.ProductID(req.ID), req.Metadata.toModel())
	if err != nil {
		h.writeMutationError(w, ctx, "mint", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, outcome)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	signer, ok := h.requireSigner(w, ctx)
	if !ok {
		return
	}
	id, ok := h.productID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcome, err := h.registry.Transfer(ctx, signer, id, req.NewOwner)
	if err != nil {
		h.writeMutationError(w, ctx, "transfer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.productID(w, r)
	if !ok {
		return
	}
	product, err := h.registry.Query(ctx, id)
	if err != nil {
		h.writeReadError(w, ctx, "failed to query product", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, product)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.productID(w, r)
	if !ok {
		return
	}
	q := verifyQuery{Manufacturer: strings.TrimSpace(r.URL.Query().Get("manufacturer"))}
	if err := q.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	expected, err := domain.ParseAccount(q.Manufacturer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	verification, err := h.verifier.Verify(ctx, id, expected)
	if err != nil {
		h.writeReadError(w, ctx, "failed to verify product", id, err)
		return
	}
	h.logger.InfoContext(ctx, "product verified",
		"request_id", middleware.GetRequestID(ctx),
		"product_id", id,
		"exists", verification.Exists,
		"is_authentic", verification.IsAuthentic,
		"device", device.FromContext(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, verification)
}

func (h *Handler) handleScanPayload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.productID(w, r)
	if !ok {
		return
	}
	appURL := h.appURL
	query := r.URL.Query()
	if override := strings.TrimSpace(query.Get("app_url")); override != "" {
		appURL = override
	}
	form := scan.FormURL
	if query.Get("form") == string(scan.FormBare) || appURL == "" {
		form = scan.FormBare
		appURL = ""
	}

	payload, err := scan.ToPayload(id, appURL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PayloadResponse{
		ProductID: id,
		Payload:   payload,
		Form:      string(form),
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	class := device.FromContext(ctx)
	id, form, err := scan.Parse(req.Payload)
	if err != nil {
		h.metrics.IncrementScan("invalid", string(class))
		h.logger.WarnContext(ctx, "unparseable scan payload",
			"request_id", requestID,
			"device", class,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.metrics.IncrementScan(string(form), string(class))
	httputil.WriteJSON(w, http.StatusOK, ResolveResponse{ID: id, Form: string(form)})
}

func (h *Handler) handleExist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseProductID(r.URL.Query().Get("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	exists, err := h.verifier.Exists(ctx, id)
	if err != nil {
		h.writeReadError(w, ctx, "failed to check product existence", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ExistResponse{ID: id, Exist: exists})
}

func (h *Handler) handleConfirmMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.productID(w, r)
	if !ok {
		return
	}
	q := verifyQuery{Manufacturer: strings.TrimSpace(r.URL.Query().Get("manufacturer"))}
	if err := q.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	manufacturer, err := domain.ParseAccount(q.Manufacturer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	committed, err := h.registry.ConfirmMint(ctx, manufacturer, id)
	if err != nil {
		h.writeReadError(w, ctx, "failed to confirm mint", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MintConfirmationResponse{
		ProductID:    id,
		Manufacturer: manufacturer,
		Committed:    committed,
	})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.productID(w, r)
	if !ok {
		return
	}
	var actions []audit.Action
	for _, part := range strutil.SplitList(r.URL.Query()["action"]...) {
		actions = append(actions, audit.Action(part))
	}

	events, err := h.events.List(ctx, id, actions...)
	if err != nil {
		h.writeReadError(w, ctx, "failed to list provenance events", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventsResponse(id, events))
}

func (h *Handler) requireSigner(w http.ResponseWriter, ctx context.Context) (domain.Account, bool) {
	signer := requestcontext.Signer(ctx)
	if signer.IsZero() {
		h.logger.ErrorContext(ctx, "signer missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return "", false
	}
	return signer, true
}

// productID reads the {id} path segment. chi matches on the escaped path
// when one exists, so the segment is unescaped in that case only.
func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (domain.ProductID, bool) {
	raw := chi.URLParam(r, "id")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "product id is not properly escaped"))
			return "", false
		}
		raw = unescaped
	}
	id, err := domain.ParseProductID(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return id, true
}

func (h *Handler) writeMutationError(w http.ResponseWriter, ctx context.Context, op string, err error) {
	requestID := middleware.GetRequestID(ctx)
	var pending *registry.PendingError
	if errors.As(err, &pending) {
		h.logger.WarnContext(ctx, op+" not final before timeout",
			"request_id", requestID,
			"product_id", pending.ProductID,
			"tx_hash", pending.TxHash,
		)
		httputil.WriteJSON(w, http.StatusGatewayTimeout, PendingResponse{
			Error:            string(dErrors.CodeTimeout),
			ErrorDescription: dErrors.MessageOf(err),
			ProductID:        pending.ProductID,
			TxHash:           pending.TxHash,
		})
		return
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) writeReadError(w http.ResponseWriter, ctx context.Context, msg string, id domain.ProductID, err error) {
	if !dErrors.HasCode(err, dErrors.CodeNotFound) && !dErrors.HasCode(err, dErrors.CodeValidation) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"product_id", id,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

// Package relay implements the webhook-to-fulfillment pipeline:
//
//	Received -> Verified -> Extracted -> Built -> Forwarded -> Responded
//
// with a terminal Rejected state for every failure. Each call to Process is
// independent and synchronous.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payrelay/internal/external"
	"payrelay/internal/types"
)

// EventStore claims provider event ids so redeliveries are not forwarded
// twice.
type EventStore interface {
	// Claim records eventID for ttl. It reports false when a live claim
	// already exists.
	Claim(ctx context.Context, eventID, eventType string, ttl time.Duration) (bool, error)
	// MarkFulfilled attaches the outbound request id to a claim.
	MarkFulfilled(ctx context.Context, eventID, fulfillmentID string) error
	// Release deletes a claim so the event can be processed again.
	Release(ctx context.Context, eventID string) error
}

// MetricsRecorder receives one observation per processed request.
type MetricsRecorder interface {
	RecordOutcome(ctx context.Context, outcome types.RelayOutcome, stage types.Stage, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(context.Context, types.RelayOutcome, types.Stage, time.Duration) {}

// DefaultMirrorTimeout bounds the customer mirror when Config leaves it unset.
const DefaultMirrorTimeout = 3 * time.Second

// Config holds the verification, dedup and mirror settings of a Service.
type Config struct {
	SigningSecret   types.SecretString
	StrictSignature bool
	DedupTTL        time.Duration
	// MirrorTimeout caps the customer mirror, retries included, so a slow
	// directory cannot hold back an already fulfilled response.
	MirrorTimeout time.Duration
}

// Deps are the collaborators of a Service. Store, Customers and Metrics are
// optional.
type Deps struct {
	Verifier  external.WebhookVerifier
	Extractor *Extractor
	Builder   *Builder
	Fulfiller external.FulfillmentClient
	Store     EventStore
	Customers external.CustomerDirectory
	Metrics   MetricsRecorder
	Logger    *slog.Logger
}

// Request is one inbound webhook delivery.
type Request struct {
	Payload   []byte
	Signature string
}

// Outcome describes how far a request got. It is returned on success and
// on failure.
type Outcome struct {
	Stage         types.Stage
	Result        types.RelayOutcome
	EventID       string
	EventType     string
	FulfillmentID string
	Duplicate     bool
	Upstream      *types.FulfillmentResult
}

// Service runs the relay pipeline.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Verifier == nil {
		deps.Verifier = external.NewStripeVerifier(0)
	}
	if deps.Extractor == nil {
		deps.Extractor = NewExtractor(types.ProductIDNumber)
	}
	if deps.Builder == nil {
		deps.Builder = NewBuilder(BuilderConfig{})
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = DefaultMirrorTimeout
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now}
}

// Process verifies, extracts, builds and forwards one event. The returned
// error is always a *types.AppError whose code decides the HTTP status.
func (s *Service) Process(ctx context.Context, req Request) (*Outcome, error) {
	start := s.now()
	out := &Outcome{Stage: types.StageReceived}
	log := s.deps.Logger

	fail := func(err error, ev *Extracted) (*Outcome, error) {
		appErr := asAppError(err)
		reached := out.Stage
		out.Result = classify(appErr.Code)
		attrs := []any{
			"stage", reached,
			"code", appErr.Code,
			"event_type", out.EventType,
			"event_id", out.EventID,
			"error", appErr.Error(),
		}
		if ev != nil {
			attrs = append(attrs, "email", ev.Customer.Email, "product_id", ev.Product.ID.String())
		}
		if len(appErr.Details) > 0 {
			attrs = append(attrs, "details", appErr.Details)
		}
		if appErr.Code.IsValidation() {
			log.WarnContext(ctx, "webhook rejected", attrs...)
		} else {
			log.ErrorContext(ctx, "webhook processing failed", attrs...)
		}
		s.deps.Metrics.RecordOutcome(ctx, out.Result, reached, s.now().Sub(start))
		out.Stage = types.StageRejected
		return out, appErr
	}

	if err := s.verify(ctx, req); err != nil {
		return fail(err, nil)
	}
	out.Stage = types.StageVerified

	ev, err := ParseEvent(req.Payload)
	if err != nil {
		return fail(err, nil)
	}
	out.EventID, out.EventType = ev.EventID(), ev.EventType()
	if out.EventID != "" {
		ctx = types.WithEventID(ctx, out.EventID)
	}

	ex, err := s.deps.Extractor.Extract(ev)
	if err != nil {
		return fail(err, nil)
	}
	out.Stage = types.StageExtracted

	fr, err := s.deps.Builder.Build(ex)
	if err != nil {
		return fail(err, ex)
	}
	out.Stage = types.StageBuilt
	out.FulfillmentID = fr.ID

	// Detached from inbound cancellation; the client timeout bounds the call.
	callCtx := context.WithoutCancel(ctx)

	claimed := false
	if s.deps.Store != nil && out.EventID != "" {
		ok, err := s.deps.Store.Claim(callCtx, out.EventID, out.EventType, s.cfg.DedupTTL)
		if err != nil {
			return fail(types.NewAppError(types.ErrCodeInternalDB, "failed to claim event", err), ex)
		}
		if !ok {
			out.Duplicate = true
			out.Result = types.OutcomeDuplicate
			out.FulfillmentID = ""
			out.Stage = types.StageResponded
			log.InfoContext(ctx, "duplicate event skipped",
				"event_type", out.EventType,
				"event_id", out.EventID,
				"email", ex.Customer.Email,
				"product_id", ex.Product.ID.String(),
			)
			s.deps.Metrics.RecordOutcome(ctx, out.Result, out.Stage, s.now().Sub(start))
			return out, nil
		}
		claimed = true
	}

	res, err := s.deps.Fulfiller.Fulfill(callCtx, fr)
	out.Upstream = res
	if err != nil {
		if claimed {
			if relErr := s.deps.Store.Release(callCtx, out.EventID); relErr != nil {
				log.ErrorContext(ctx, "failed to release event claim", "event_id", out.EventID, "error", relErr)
			}
		}
		return fail(err, ex)
	}
	out.Stage = types.StageForwarded

	if claimed {
		if err := s.deps.Store.MarkFulfilled(callCtx, out.EventID, fr.ID); err != nil {
			log.WarnContext(ctx, "failed to mark event fulfilled", "event_id", out.EventID, "error", err)
		}
	}

	s.mirrorCustomer(callCtx, ex)

	out.Stage = types.StageResponded
	out.Result = types.OutcomeFulfilled
	log.InfoContext(ctx, "webhook relayed",
		"event_type", out.EventType,
		"event_id", out.EventID,
		"email", ex.Customer.Email,
		"product_id", ex.Product.ID.String(),
		"fulfillment_id", fr.ID,
		"upstream_status", res.StatusCode,
	)
	s.deps.Metrics.RecordOutcome(ctx, out.Result, out.Stage, s.now().Sub(start))
	return out, nil
}

// verify enforces the signature policy. In permissive mode a request
// without a signature header is accepted with a warning.
func (s *Service) verify(ctx context.Context, req Request) error {
	if req.Signature == "" {
		if s.cfg.StrictSignature {
			return types.NewAppError(types.ErrCodeValidationMissingSignature, "missing signature header", nil)
		}
		s.deps.Logger.WarnContext(ctx, "insecure: unsigned webhook accepted")
		return nil
	}

	if !s.cfg.SigningSecret.IsSet() {
		if s.cfg.StrictSignature {
			return types.NewAppError(types.ErrCodeConfigSecretMissing, "webhook signing secret is not configured", nil)
		}
		s.deps.Logger.WarnContext(ctx, "insecure: signature not checked, no signing secret configured")
		return nil
	}

	if err := s.deps.Verifier.Verify(req.Payload, req.Signature, s.cfg.SigningSecret.Unmask()); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidSignature, "invalid signature", err)
	}
	return nil
}

// mirrorCustomer ensures a customer record exists for the buyer within
// MirrorTimeout. Failures never change the outcome of the request.
func (s *Service) mirrorCustomer(ctx context.Context, ex *Extracted) {
	if s.deps.Customers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MirrorTimeout)
	defer cancel()

	id, err := s.deps.Customers.EnsureCustomer(ctx, ex.Customer.Email, ex.Product)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "customer mirror failed",
			"email", ex.Customer.Email,
			"product_id", ex.Product.ID.String(),
			"error", err,
		)
		return
	}
	s.deps.Logger.DebugContext(ctx, "customer mirrored", "customer_id", id)
}

func asAppError(err error) *types.AppError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected relay failure", err)
}

func classify(code types.ErrorCode) types.RelayOutcome {
	switch {
	case code.IsValidation():
		return types.OutcomeValidation
	case code.IsConfiguration():
		return types.OutcomeConfiguration
	case code.IsUpstream():
		return types.OutcomeUpstreamFailure
	default:
		return types.OutcomeInternal
	}
}

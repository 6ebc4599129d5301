// Package orchestrator runs the generation pipeline: validate the
// request, score the prompt, check payment, then forward to the
// resolved provider. The pipeline is strictly linear; every request
// leaves through exactly one of its exit points and the provider is
// only ever reached through the last one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/metrics"
	"github.com/fulmine-labs/spark-gateway/internal/moderation"
	"github.com/fulmine-labs/spark-gateway/internal/notifications"
	"github.com/fulmine-labs/spark-gateway/internal/payment"
	"github.com/fulmine-labs/spark-gateway/internal/pricing"
	"github.com/fulmine-labs/spark-gateway/internal/repository"
	"github.com/fulmine-labs/spark-gateway/internal/router"
	"github.com/fulmine-labs/spark-gateway/internal/telemetry"
)

// Options holds the policy knobs of the pipeline. Zero values disable
// moderation and payment gating, matching a local development setup.
type Options struct {
	ModerationEnabled   bool
	ModerationThreshold float64
	PaymentRequired     bool
	DefaultModel        string
	ProviderTimeout     time.Duration
}

type Orchestrator struct {
	scorer   *moderation.Scorer
	router   *router.Router
	models   *pricing.Table
	gateway  payment.Gateway
	outcomes repository.OutcomeRecorder
	health   *notifications.HealthReporter
	opts     Options
}

// New wires the pipeline. gateway may be nil when payment gating is
// disabled; health may be nil to skip operator alerts.
func New(scorer *moderation.Scorer, rt *router.Router, models *pricing.Table, gateway payment.Gateway, outcomes repository.OutcomeRecorder, health *notifications.HealthReporter, opts Options) *Orchestrator {
	if opts.ProviderTimeout == 0 {
		opts.ProviderTimeout = 120 * time.Second
	}
	return &Orchestrator{
		scorer:   scorer,
		router:   rt,
		models:   models,
		gateway:  gateway,
		outcomes: outcomes,
		health:   health,
		opts:     opts,
	}
}

// Handle runs one request through the pipeline and always produces a
// terminal result. Validation and unknown-model failures are returned
// as errors for the transport layer to map; moderation, payment and
// provider outcomes are expressed in the result's status.
func (o *Orchestrator) Handle(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.Handle")
	defer span.End()

	requestID := uuid.New().String()
	start := time.Now()

	req.ApplyDefaults(o.opts.DefaultModel)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := o.models.Get(req.Model); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, req.Model)
	}

	log := slog.With("request_id", requestID, "model", req.Model)
	telemetry.AddRequestAttributes(span, requestID, req.Model, "")

	// Exit 1: moderation.
	var modScore float64
	if o.opts.ModerationEnabled {
		mod := o.scorer.Score(req.Prompt, o.opts.ModerationThreshold)
		modScore = mod.Score
		metrics.RecordModeration(mod.Score, mod.IsSafe, mod.Reason)
		telemetry.AddModerationAttributes(span, mod.Score, mod.IsSafe)
		if !mod.IsSafe {
			log.Info("prompt rejected by moderation", "score", mod.Score, "reason", mod.Reason)
			result := rejected(fmt.Sprintf("prompt rejected: %s", mod.Reason), start)
			o.record(ctx, requestID, req, result, modScore, "")
			metrics.RecordRequest(req.Model, "", string(domain.StatusRejected), 0)
			return result, nil
		}
	}

	// Exit 2: payment.
	if o.opts.PaymentRequired {
		if req.InvoiceID == "" {
			metrics.PaymentRejections.Inc()
			result := rejected("payment required: no invoice_id supplied", start)
			o.record(ctx, requestID, req, result, modScore, "")
			metrics.RecordRequest(req.Model, "", string(domain.StatusRejected), 0)
			return result, nil
		}
		if !payment.IsConfirmed(ctx, o.gateway, req.InvoiceID) {
			metrics.PaymentRejections.Inc()
			telemetry.AddInvoiceAttributes(span, req.InvoiceID, "unconfirmed")
			log.Info("payment not confirmed", "invoice_id", req.InvoiceID)
			result := rejected("payment not confirmed", start)
			o.record(ctx, requestID, req, result, modScore, req.InvoiceID)
			metrics.RecordRequest(req.Model, "", string(domain.StatusRejected), 0)
			return result, nil
		}
		telemetry.AddInvoiceAttributes(span, req.InvoiceID, string(domain.InvoiceConfirmed))
	}

	provider, version, err := o.router.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	telemetry.AddRequestAttributes(span, requestID, req.Model, provider.ID())

	// Exit 3: provider failure. The wrapped error detail is preserved
	// for the caller; credentials travel in request headers and never
	// appear in it.
	genCtx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	defer cancel()

	genStart := time.Now()
	output, err := provider.Generate(genCtx, req, version)
	if err != nil {
		metrics.RecordProviderError(provider.ID())
		telemetry.AddErrorAttribute(span, err)
		log.Error("generation failed", "provider", provider.ID(), "error", err)
		if o.health != nil {
			o.health.ReportFailure(ctx, provider.ID(), err.Error())
		}
		result := &domain.GenerationResult{
			Status:         domain.StatusFailed,
			ProcessingTime: time.Since(genStart).Seconds(),
			Error:          err.Error(),
		}
		o.record(ctx, requestID, req, result, modScore, req.InvoiceID)
		metrics.RecordRequest(req.Model, provider.ID(), string(domain.StatusFailed), 0)
		return result, nil
	}

	if o.health != nil {
		o.health.ReportSuccess(ctx, provider.ID())
	}

	// Exit 4: success. processing_time is the provider call alone, not
	// the moderation and payment checks in front of it.
	elapsed := output.Latency
	if elapsed == 0 {
		elapsed = time.Since(genStart)
	}
	result := &domain.GenerationResult{
		Status:         domain.StatusCompleted,
		ImageURLs:      output.ImageURLs,
		ImageBase64:    output.ImageBase64,
		ProcessingTime: elapsed.Seconds(),
	}
	o.record(ctx, requestID, req, result, modScore, req.InvoiceID)
	metrics.RecordRequest(req.Model, provider.ID(), string(domain.StatusCompleted), result.ProcessingTime)
	log.Info("generation completed",
		"provider", provider.ID(),
		"images", len(output.ImageURLs)+len(output.ImageBase64),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// CheckModeration scores a prompt without side effects on the pipeline.
func (o *Orchestrator) CheckModeration(prompt string) domain.ModerationResult {
	return o.scorer.Score(prompt, o.opts.ModerationThreshold)
}

// CheckModerationWith scores a prompt against a caller-supplied
// threshold, clamped to [0,1].
func (o *Orchestrator) CheckModerationWith(prompt string, threshold float64) domain.ModerationResult {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return o.scorer.Score(prompt, threshold)
}

// CreateInvoice quotes a model and creates a Lightning invoice for it.
// The prompt is moderated first so unsafe requests are refused before
// the caller pays.
func (o *Orchestrator) CreateInvoice(ctx context.Context, model, prompt string) (*domain.Invoice, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.CreateInvoice")
	defer span.End()

	if o.gateway == nil {
		return nil, fmt.Errorf("%w: no payment backend configured", domain.ErrGatewayError)
	}
	if model == "" {
		model = o.opts.DefaultModel
	}

	if o.opts.ModerationEnabled && prompt != "" {
		mod := o.scorer.Score(prompt, o.opts.ModerationThreshold)
		metrics.RecordModeration(mod.Score, mod.IsSafe, mod.Reason)
		if !mod.IsSafe {
			return nil, fmt.Errorf("%w: prompt rejected: %s", domain.ErrInvalidRequest, mod.Reason)
		}
	}

	amount, err := o.models.Quote(model)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	inv, err := o.gateway.CreateInvoice(ctx, amount, fmt.Sprintf("image generation: %s", model), orderID)
	if err != nil {
		metrics.RecordGatewayError(o.gateway.ID())
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	metrics.InvoicesCreated.WithLabelValues(o.gateway.ID()).Inc()
	telemetry.AddInvoiceAttributes(span, inv.InvoiceID, string(inv.Status))
	slog.Info("invoice created",
		"invoice_id", inv.InvoiceID,
		"backend", o.gateway.ID(),
		"amount_sats", inv.AmountSats,
		"model", model,
	)
	return inv, nil
}

// CheckPaymentStatus looks an invoice up on the payment backend.
func (o *Orchestrator) CheckPaymentStatus(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if o.gateway == nil {
		return nil, fmt.Errorf("%w: no payment backend configured", domain.ErrGatewayError)
	}
	inv, err := o.gateway.GetInvoice(ctx, invoiceID)
	if err != nil {
		if !errors.Is(err, domain.ErrInvoiceNotFound) {
			metrics.RecordGatewayError(o.gateway.ID())
		}
		return nil, err
	}
	return inv, nil
}

// Models returns the model table entries for listing.
func (o *Orchestrator) Models() []domain.ModelDescriptor {
	return o.models.List()
}

// Providers returns the registered provider IDs.
func (o *Orchestrator) Providers() []string {
	return o.router.ListProviders()
}

func rejected(detail string, start time.Time) *domain.GenerationResult {
	return &domain.GenerationResult{
		Status:         domain.StatusRejected,
		ProcessingTime: time.Since(start).Seconds(),
		Error:          detail,
	}
}

// record appends the outcome to the audit log. Best effort only.
func (o *Orchestrator) record(ctx context.Context, requestID string, req domain.GenerationRequest, result *domain.GenerationResult, modScore float64, invoiceID string) {
	if o.outcomes == nil {
		return
	}
	rec := repository.OutcomeRecord{
		RequestID:       requestID,
		Model:           req.Model,
		Status:          result.Status,
		ModerationScore: modScore,
		InvoiceID:       invoiceID,
		LatencyMs:       int64(result.ProcessingTime * 1000),
		Error:           result.Error,
		CreatedAt:       time.Now().UTC(),
	}
	if desc, ok := o.models.Get(req.Model); ok {
		rec.Provider = desc.Provider
		rec.CostSats = desc.CostSats
	}
	if err := o.outcomes.Record(ctx, rec); err != nil {
		slog.Warn("failed to record outcome", "request_id", requestID, "error", err)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/moderation"
	"github.com/fulmine-labs/spark-gateway/internal/pricing"
	"github.com/fulmine-labs/spark-gateway/internal/repository"
	"github.com/fulmine-labs/spark-gateway/internal/router"
)

func intPtr(n int) *int { return &n }

type mockProvider struct {
	id            string
	generateFunc  func(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error)
	generateCalls atomic.Int32
}

func (m *mockProvider) ID() string { return m.id }

func (m *mockProvider) Generate(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error) {
	m.generateCalls.Add(1)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req, version)
	}
	return &domain.ProviderOutput{ImageURLs: []string{"https://img.example.com/out.png"}}, nil
}

func (m *mockProvider) HealthCheck(ctx context.Context) error { return nil }

type mockGateway struct {
	getInvoiceFunc func(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	createFunc     func(ctx context.Context, amountSats int64, description, orderID string) (*domain.Invoice, error)
	getCalls       atomic.Int32
	createCalls    atomic.Int32
}

func (m *mockGateway) ID() string { return "btcpay" }

func (m *mockGateway) CreateInvoice(ctx context.Context, amountSats int64, description, orderID string) (*domain.Invoice, error) {
	m.createCalls.Add(1)
	if m.createFunc != nil {
		return m.createFunc(ctx, amountSats, description, orderID)
	}
	return &domain.Invoice{InvoiceID: "inv-1", AmountSats: amountSats, Status: domain.InvoicePending}, nil
}

func (m *mockGateway) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	m.getCalls.Add(1)
	if m.getInvoiceFunc != nil {
		return m.getInvoiceFunc(ctx, invoiceID)
	}
	return &domain.Invoice{InvoiceID: invoiceID, Status: domain.InvoiceConfirmed}, nil
}

func newTestOrchestrator(t *testing.T, provider *mockProvider, gateway *mockGateway, opts Options) *Orchestrator {
	t.Helper()

	table, err := pricing.NewTable(nil, 25)
	if err != nil {
		t.Fatalf("pricing.NewTable() error = %v", err)
	}
	rt := router.New(map[string]router.ImageProvider{
		pricing.ProviderReplicate: provider,
	}, table)

	if opts.DefaultModel == "" {
		opts.DefaultModel = "stable-diffusion"
	}
	scorer := moderation.NewScorer(moderation.DefaultRuleset())
	outcomes := repository.NewInMemoryOutcomes(100)
	if gateway == nil {
		// A nil *mockGateway inside the interface would not be nil.
		return New(scorer, rt, table, nil, outcomes, nil, opts)
	}
	return New(scorer, rt, table, gateway, outcomes, nil, opts)
}

func TestHandleCompleted(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	o := newTestOrchestrator(t, provider, nil, Options{
		ModerationEnabled:   true,
		ModerationThreshold: 0.5,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt: "a beautiful sunset over the mountains",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}
	if len(result.ImageURLs) != 1 {
		t.Errorf("ImageURLs = %v, want one URL", result.ImageURLs)
	}
	if result.Error != "" {
		t.Errorf("Error = %q, want empty", result.Error)
	}
	if got := provider.generateCalls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestHandleModerationRejection(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	o := newTestOrchestrator(t, provider, nil, Options{
		ModerationEnabled:   true,
		ModerationThreshold: 0.5,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt: "extremely violent content",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusRejected {
		t.Errorf("Status = %s, want rejected", result.Status)
	}
	if result.Error == "" {
		t.Error("rejected result should carry an error detail")
	}
	if got := provider.generateCalls.Load(); got != 0 {
		t.Errorf("provider called %d times on rejected prompt, want 0", got)
	}
}

func TestHandleModerationDisabled(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	o := newTestOrchestrator(t, provider, nil, Options{
		ModerationEnabled: false,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt: "extremely violent content",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed when moderation is disabled", result.Status)
	}
}

func TestHandlePaymentUnconfirmed(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	gateway := &mockGateway{
		getInvoiceFunc: func(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
			return &domain.Invoice{InvoiceID: invoiceID, Status: domain.InvoicePending}, nil
		},
	}
	o := newTestOrchestrator(t, provider, gateway, Options{
		PaymentRequired: true,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt:    "a calm lake at dawn",
		InvoiceID: "inv-pending",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusRejected {
		t.Errorf("Status = %s, want rejected", result.Status)
	}
	if got := provider.generateCalls.Load(); got != 0 {
		t.Errorf("provider called %d times on unpaid invoice, want 0", got)
	}
	if got := gateway.getCalls.Load(); got != 1 {
		t.Errorf("gateway queried %d times, want 1", got)
	}
}

func TestHandlePaymentMissingInvoice(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	gateway := &mockGateway{}
	o := newTestOrchestrator(t, provider, gateway, Options{
		PaymentRequired: true,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt: "a calm lake at dawn",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusRejected {
		t.Errorf("Status = %s, want rejected", result.Status)
	}
	if got := gateway.getCalls.Load(); got != 0 {
		t.Errorf("gateway queried %d times without invoice_id, want 0", got)
	}
	if got := provider.generateCalls.Load(); got != 0 {
		t.Errorf("provider called %d times, want 0", got)
	}
}

func TestHandlePaymentConfirmed(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	gateway := &mockGateway{}
	o := newTestOrchestrator(t, provider, gateway, Options{
		PaymentRequired: true,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt:    "a calm lake at dawn",
		InvoiceID: "inv-paid",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}
	if got := provider.generateCalls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestHandleProviderFailure(t *testing.T) {
	provider := &mockProvider{
		id: pricing.ProviderReplicate,
		generateFunc: func(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error) {
			return nil, fmt.Errorf("%w: upstream returned 500", domain.ErrProviderError)
		},
	}
	o := newTestOrchestrator(t, provider, nil, Options{})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt: "a calm lake at dawn",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	// The upstream detail is preserved for the caller.
	if !strings.Contains(result.Error, "upstream returned 500") {
		t.Errorf("Error = %q, want the provider error detail", result.Error)
	}
	if len(result.ImageURLs) != 0 {
		t.Errorf("failed result carries image URLs: %v", result.ImageURLs)
	}
}

func TestHandleProviderTimeout(t *testing.T) {
	provider := &mockProvider{
		id: pricing.ProviderReplicate,
		generateFunc: func(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error) {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrProviderError, ctx.Err())
			case <-time.After(5 * time.Second):
				return &domain.ProviderOutput{ImageURLs: []string{"late"}}, nil
			}
		},
	}
	o := newTestOrchestrator(t, provider, nil, Options{
		ProviderTimeout: 50 * time.Millisecond,
	})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt: "a calm lake at dawn",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed after timeout", result.Status)
	}
}

func TestHandleInvalidRequest(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	o := newTestOrchestrator(t, provider, nil, Options{})

	tests := []struct {
		name string
		req  domain.GenerationRequest
		want error
	}{
		{
			name: "empty prompt",
			req:  domain.GenerationRequest{},
			want: domain.ErrInvalidRequest,
		},
		{
			name: "too many outputs",
			req:  domain.GenerationRequest{Prompt: "ok", NumOutputs: intPtr(9)},
			want: domain.ErrInvalidRequest,
		},
		{
			name: "explicit zero outputs",
			req:  domain.GenerationRequest{Prompt: "ok", NumOutputs: intPtr(0)},
			want: domain.ErrInvalidRequest,
		},
		{
			name: "unknown model",
			req:  domain.GenerationRequest{Prompt: "ok", Model: "imaginary-model"},
			want: domain.ErrUnknownModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Handle(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Handle() error = %v, want %v", err, tt.want)
			}
		})
	}
	if got := provider.generateCalls.Load(); got != 0 {
		t.Errorf("provider called %d times on invalid requests, want 0", got)
	}
}

func TestHandleProcessingTimeExcludesPaymentCheck(t *testing.T) {
	provider := &mockProvider{
		id: pricing.ProviderReplicate,
		generateFunc: func(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error) {
			return &domain.ProviderOutput{
				ImageURLs: []string{"https://img.example.com/out.png"},
				Latency:   10 * time.Millisecond,
			}, nil
		},
	}
	gateway := &mockGateway{
		getInvoiceFunc: func(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
			time.Sleep(150 * time.Millisecond)
			return &domain.Invoice{InvoiceID: invoiceID, Status: domain.InvoiceConfirmed}, nil
		},
	}
	o := newTestOrchestrator(t, provider, gateway, Options{PaymentRequired: true})

	result, err := o.Handle(context.Background(), domain.GenerationRequest{
		Prompt:    "a calm lake at dawn",
		InvoiceID: "inv-slow-gateway",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want completed", result.Status)
	}
	// processing_time covers the provider call alone; the 150ms payment
	// lookup must not count towards it.
	if result.ProcessingTime >= 0.1 {
		t.Errorf("ProcessingTime = %g, want the 10ms provider latency only", result.ProcessingTime)
	}
	if result.ProcessingTime <= 0 {
		t.Errorf("ProcessingTime = %g, want > 0", result.ProcessingTime)
	}
}

func TestHandleRecordsOutcome(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	table, err := pricing.NewTable(nil, 25)
	if err != nil {
		t.Fatal(err)
	}
	rt := router.New(map[string]router.ImageProvider{pricing.ProviderReplicate: provider}, table)
	outcomes := repository.NewInMemoryOutcomes(10)
	o := New(moderation.NewScorer(moderation.DefaultRuleset()), rt, table, nil, outcomes, nil, Options{
		ModerationEnabled:   true,
		ModerationThreshold: 0.5,
		DefaultModel:        "stable-diffusion",
	})

	if _, err := o.Handle(context.Background(), domain.GenerationRequest{Prompt: "a sunset"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, err := o.Handle(context.Background(), domain.GenerationRequest{Prompt: "violent content"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	recs, err := outcomes.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d outcome records, want 2", len(recs))
	}
	if recs[0].Status != domain.StatusRejected {
		t.Errorf("newest record status = %s, want rejected", recs[0].Status)
	}
	if recs[1].Status != domain.StatusCompleted {
		t.Errorf("oldest record status = %s, want completed", recs[1].Status)
	}
	if recs[1].Model != "stable-diffusion" {
		t.Errorf("record model = %s, want the default model applied", recs[1].Model)
	}
}

func TestCreateInvoice(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	gateway := &mockGateway{}
	o := newTestOrchestrator(t, provider, gateway, Options{
		ModerationEnabled:   true,
		ModerationThreshold: 0.5,
	})

	inv, err := o.CreateInvoice(context.Background(), "stable-diffusion", "a sunset")
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	// 1000 sats base cost plus 25% markup.
	if inv.AmountSats != 1250 {
		t.Errorf("AmountSats = %d, want 1250", inv.AmountSats)
	}
	if got := gateway.createCalls.Load(); got != 1 {
		t.Errorf("backend create called %d times, want 1", got)
	}
}

func TestCreateInvoiceUnsafePrompt(t *testing.T) {
	provider := &mockProvider{id: pricing.ProviderReplicate}
	gateway := &mockGateway{}
	o := newTestOrchestrator(t, provider, gateway, Options{
		ModerationEnabled:   true,
		ModerationThreshold: 0.5,
	})

	_, err := o.CreateInvoice(context.Background(), "stable-diffusion", "violent content")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("CreateInvoice() error = %v, want ErrInvalidRequest", err)
	}
	if got := gateway.createCalls.Load(); got != 0 {
		t.Errorf("backend create called %d times for unsafe prompt, want 0", got)
	}
}

func TestCreateInvoiceUnknownModel(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{id: pricing.ProviderReplicate}, &mockGateway{}, Options{})

	_, err := o.CreateInvoice(context.Background(), "imaginary-model", "")
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("CreateInvoice() error = %v, want ErrUnknownModel", err)
	}
}

func TestCheckPaymentStatusNoBackend(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{id: pricing.ProviderReplicate}, nil, Options{})

	_, err := o.CheckPaymentStatus(context.Background(), "inv-1")
	if !errors.Is(err, domain.ErrGatewayError) {
		t.Fatalf("CheckPaymentStatus() error = %v, want ErrGatewayError", err)
	}
}

func TestCheckModeration(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{id: pricing.ProviderReplicate}, nil, Options{
		ModerationEnabled:   true,
		ModerationThreshold: 0.5,
	})

	safe := o.CheckModeration("a quiet forest")
	if !safe.IsSafe {
		t.Errorf("clean prompt flagged unsafe: %+v", safe)
	}
	unsafe := o.CheckModeration("graphic violence and gore")
	if unsafe.IsSafe {
		t.Errorf("violent prompt flagged safe: %+v", unsafe)
	}
}

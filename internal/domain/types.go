package domain

import (
	"fmt"
	"strings"
	"time"
)

// GenerationStatus is the terminal outcome of a generation request.
type GenerationStatus string

const (
	StatusCompleted GenerationStatus = "completed"
	StatusRejected  GenerationStatus = "rejected"
	StatusFailed    GenerationStatus = "failed"
)

// GenerationRequest is the caller-supplied description of the image to
// generate. It is validated once, before any external call is made.
type GenerationRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Model          string `json:"model"`
	// Pointer so an omitted field defaults to 1 while an explicit 0 is
	// a validation error.
	NumOutputs        *int    `json:"num_outputs,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	InvoiceID         string  `json:"invoice_id,omitempty"`
}

// Outputs returns the requested image count, 1 when the field was
// omitted.
func (r GenerationRequest) Outputs() int {
	if r.NumOutputs == nil {
		return 1
	}
	return *r.NumOutputs
}

// ApplyDefaults fills omitted optional parameters with the service
// defaults. A missing negative prompt stays empty text.
func (r *GenerationRequest) ApplyDefaults(defaultModel string) {
	if r.Model == "" {
		r.Model = defaultModel
	}
	if r.NumOutputs == nil {
		one := 1
		r.NumOutputs = &one
	}
	if r.GuidanceScale == 0 {
		r.GuidanceScale = 7.5
	}
	if r.NumInferenceSteps == 0 {
		r.NumInferenceSteps = 50
	}
}

// Validate checks the request shape against the documented parameter
// bounds. Model existence is checked separately against the model table.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}
	if r.NumOutputs != nil && (*r.NumOutputs < 1 || *r.NumOutputs > 4) {
		return fmt.Errorf("%w: num_outputs must be between 1 and 4, got %d", ErrInvalidRequest, *r.NumOutputs)
	}
	if r.GuidanceScale < 1 || r.GuidanceScale > 20 {
		return fmt.Errorf("%w: guidance_scale must be between 1 and 20, got %g", ErrInvalidRequest, r.GuidanceScale)
	}
	if r.NumInferenceSteps < 1 || r.NumInferenceSteps > 500 {
		return fmt.Errorf("%w: num_inference_steps must be between 1 and 500, got %d", ErrInvalidRequest, r.NumInferenceSteps)
	}
	return nil
}

// GenerationResult is the single value produced per request. Completed
// results carry image references; rejected and failed results carry an
// error detail and no images.
type GenerationResult struct {
	Status         GenerationStatus `json:"status"`
	ImageURLs      []string         `json:"image_urls,omitempty"`
	ImageBase64    []string         `json:"image_base64,omitempty"`
	ProcessingTime float64          `json:"processing_time"`
	Error          string           `json:"error,omitempty"`
}

// ModerationResult is produced by a single scoring call. Higher scores
// are less safe; IsSafe holds score < threshold.
type ModerationResult struct {
	IsSafe bool    `json:"is_safe"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// InvoiceStatus is the payment backend's view of an invoice.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceConfirmed InvoiceStatus = "confirmed"
	InvoiceExpired   InvoiceStatus = "expired"
	InvoiceError     InvoiceStatus = "error"
)

// Terminal reports whether the status can no longer change upstream.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceConfirmed || s == InvoiceExpired
}

// Invoice is a Lightning invoice as reported by the payment backend. The
// gateway only ever reads it; status transitions happen upstream.
type Invoice struct {
	InvoiceID      string        `json:"invoice_id"`
	AmountSats     int64         `json:"amount"`
	PaymentRequest string        `json:"payment_request"`
	Status         InvoiceStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at,omitempty"`
	ExpiresAt      time.Time     `json:"expires_at,omitempty"`
}

// Confirmed reports whether the invoice has been paid.
func (i Invoice) Confirmed() bool {
	return i.Status == InvoiceConfirmed
}

// ModelDescriptor describes one entry of the static model table, loaded
// once at startup and read-only thereafter.
type ModelDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Version     string `json:"version"`
	CostSats    int64  `json:"cost_sats"`
}

// ProviderOutput is what an image provider returns on success. Providers
// return either hosted URLs or raw base64 payloads depending on the
// backend.
type ProviderOutput struct {
	ImageURLs   []string
	ImageBase64 []string
	Latency     time.Duration
}

package domain

import (
	"errors"
	"testing"
)

func intPtr(n int) *int { return &n }

func TestGenerationRequestValidate(t *testing.T) {
	valid := GenerationRequest{
		Prompt:            "a beautiful sunset over mountains",
		Model:             "stable-diffusion",
		NumOutputs:        intPtr(1),
		GuidanceScale:     7.5,
		NumInferenceSteps: 50,
	}

	tests := []struct {
		name    string
		mutate  func(r *GenerationRequest)
		wantErr bool
	}{
		{"valid", func(r *GenerationRequest) {}, false},
		{"empty prompt", func(r *GenerationRequest) { r.Prompt = "" }, true},
		{"whitespace prompt", func(r *GenerationRequest) { r.Prompt = "   " }, true},
		{"zero outputs", func(r *GenerationRequest) { r.NumOutputs = intPtr(0) }, true},
		{"absent outputs", func(r *GenerationRequest) { r.NumOutputs = nil }, false},
		{"too many outputs", func(r *GenerationRequest) { r.NumOutputs = intPtr(5) }, true},
		{"guidance below range", func(r *GenerationRequest) { r.GuidanceScale = 0.5 }, true},
		{"guidance above range", func(r *GenerationRequest) { r.GuidanceScale = 21 }, true},
		{"steps below range", func(r *GenerationRequest) { r.NumInferenceSteps = 0 }, true},
		{"steps above range", func(r *GenerationRequest) { r.NumInferenceSteps = 501 }, true},
		{"boundary outputs", func(r *GenerationRequest) { r.NumOutputs = intPtr(4) }, false},
		{"boundary steps", func(r *GenerationRequest) { r.NumInferenceSteps = 500 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("Validate() error = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestGenerationRequestApplyDefaults(t *testing.T) {
	req := GenerationRequest{Prompt: "a red bicycle"}
	req.ApplyDefaults("stable-diffusion")

	if req.Model != "stable-diffusion" {
		t.Errorf("Model = %q, want stable-diffusion", req.Model)
	}
	if req.Outputs() != 1 {
		t.Errorf("Outputs() = %d, want 1", req.Outputs())
	}
	if req.GuidanceScale != 7.5 {
		t.Errorf("GuidanceScale = %g, want 7.5", req.GuidanceScale)
	}
	if req.NumInferenceSteps != 50 {
		t.Errorf("NumInferenceSteps = %d, want 50", req.NumInferenceSteps)
	}
	if req.NegativePrompt != "" {
		t.Errorf("NegativePrompt = %q, want empty", req.NegativePrompt)
	}
}

func TestGenerationRequestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	req := GenerationRequest{
		Prompt:            "a red bicycle",
		Model:             "dall-e",
		NumOutputs:        intPtr(3),
		GuidanceScale:     12,
		NumInferenceSteps: 100,
	}
	req.ApplyDefaults("stable-diffusion")

	if req.Model != "dall-e" || req.Outputs() != 3 || req.GuidanceScale != 12 || req.NumInferenceSteps != 100 {
		t.Errorf("ApplyDefaults overwrote explicit values: %+v", req)
	}
}

func TestInvoiceStatus(t *testing.T) {
	if !(Invoice{Status: InvoiceConfirmed}).Confirmed() {
		t.Error("confirmed invoice reported unconfirmed")
	}
	for _, s := range []InvoiceStatus{InvoicePending, InvoiceExpired, InvoiceError} {
		if (Invoice{Status: s}).Confirmed() {
			t.Errorf("status %q reported confirmed", s)
		}
	}
	if !InvoiceConfirmed.Terminal() || !InvoiceExpired.Terminal() {
		t.Error("confirmed/expired should be terminal")
	}
	if InvoicePending.Terminal() || InvoiceError.Terminal() {
		t.Error("pending/error should not be terminal")
	}
}

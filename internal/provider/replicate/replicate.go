// Package replicate implements the Replicate image provider: a
// prediction is created, then polled until it reaches a terminal state.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/httputil"
)

const DefaultBaseURL = "https://api.replicate.com/v1"

type Provider struct {
	apiToken     string
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

type Option func(*Provider)

// WithPollInterval overrides the prediction poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func New(apiToken, baseURL string, opts ...Option) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		apiToken:     apiToken,
		baseURL:      baseURL,
		client:       httputil.NewClient(httputil.ProviderConfig()),
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string {
	return "replicate"
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Generate creates a prediction for the given model version and polls it
// to completion. The caller's context bounds the whole call; timing out
// or cancelling abandons the prediction upstream, which is acceptable
// because a discarded result mutates no local state.
func (p *Provider) Generate(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error) {
	start := time.Now()

	pred, err := p.createPrediction(ctx, req, version)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		switch pred.Status {
		case "succeeded":
			urls, err := decodeOutput(pred.Output)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrProviderError, err)
			}
			return &domain.ProviderOutput{ImageURLs: urls, Latency: time.Since(start)}, nil
		case "failed", "canceled":
			detail := pred.Error
			if detail == "" {
				detail = "prediction " + pred.Status
			}
			return nil, fmt.Errorf("%w: replicate: %s", domain.ErrProviderError, detail)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: replicate: %v", domain.ErrProviderError, ctx.Err())
		case <-ticker.C:
		}

		pred, err = p.getPrediction(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (p *Provider) createPrediction(ctx context.Context, req domain.GenerationRequest, version string) (*prediction, error) {
	body, err := json.Marshal(predictionRequest{
		Version: version,
		Input: predictionInput{
			Prompt:            req.Prompt,
			NegativePrompt:    req.NegativePrompt,
			NumOutputs:        req.Outputs(),
			GuidanceScale:     req.GuidanceScale,
			NumInferenceSteps: req.NumInferenceSteps,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal prediction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+p.apiToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: replicate: %v", domain.ErrProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: replicate: status=%d body=%s", domain.ErrProviderError, resp.StatusCode, string(bodyBytes))
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: replicate: decode response: %v", domain.ErrProviderError, err)
	}
	return &pred, nil
}

func (p *Provider) getPrediction(ctx context.Context, id string) (*prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/predictions/"+id, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: replicate: %v", domain.ErrProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: replicate: status=%d body=%s", domain.ErrProviderError, resp.StatusCode, string(bodyBytes))
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: replicate: decode response: %v", domain.ErrProviderError, err)
	}
	return &pred, nil
}

// decodeOutput accepts both shapes Replicate returns: a list of URLs or
// a single URL string.
func decodeOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("prediction succeeded with no output")
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err == nil {
		return urls, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	return nil, fmt.Errorf("unexpected output shape: %s", string(raw))
}

// HealthCheck verifies the API is reachable with the configured token.
func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/predictions", http.NoBody)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("replicate unhealthy: status=%d", resp.StatusCode)
	}
	return nil
}

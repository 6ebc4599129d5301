// Package bedrock implements the image provider backed by Amazon
// Bedrock's Titan Image Generator. Unlike Replicate, Bedrock returns
// base64 payloads directly from a single InvokeModel call.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

// invoker is the subset of the bedrockruntime client the provider uses.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Provider struct {
	client invoker
	region string
}

func New(ctx context.Context, region string) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Provider{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

func NewWithClient(client invoker, region string) *Provider {
	return &Provider{client: client, region: region}
}

func (p *Provider) ID() string {
	return "bedrock"
}

type titanTextToImageParams struct {
	Text         string `json:"text"`
	NegativeText string `json:"negativeText,omitempty"`
}

type titanGenerationConfig struct {
	NumberOfImages int     `json:"numberOfImages"`
	CfgScale       float64 `json:"cfgScale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

type titanRequest struct {
	TaskType              string                 `json:"taskType"`
	TextToImageParams     titanTextToImageParams `json:"textToImageParams"`
	ImageGenerationConfig titanGenerationConfig  `json:"imageGenerationConfig"`
}

type titanResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

// Titan caps cfgScale at 10; the request bound is 1-20, so clamp.
func clampCfgScale(scale float64) float64 {
	if scale > 10 {
		return 10
	}
	return scale
}

func (p *Provider) Generate(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error) {
	body, err := json.Marshal(titanRequest{
		TaskType: "TEXT_IMAGE",
		TextToImageParams: titanTextToImageParams{
			Text:         req.Prompt,
			NegativeText: req.NegativePrompt,
		},
		ImageGenerationConfig: titanGenerationConfig{
			NumberOfImages: req.Outputs(),
			CfgScale:       clampCfgScale(req.GuidanceScale),
			Width:          1024,
			Height:         1024,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(version),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock: %v", domain.ErrProviderError, err)
	}

	var resp titanResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: bedrock: decode response: %v", domain.ErrProviderError, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: bedrock: %s", domain.ErrProviderError, resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("%w: bedrock: no images returned", domain.ErrProviderError)
	}

	return &domain.ProviderOutput{
		ImageBase64: resp.Images,
		Latency:     time.Since(start),
	}, nil
}

// HealthCheck is a no-op beyond client construction; Bedrock has no
// cheap unauthenticated liveness call.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("bedrock client not configured")
	}
	return nil
}

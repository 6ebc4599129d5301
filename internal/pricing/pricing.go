// Package pricing holds the static model table: descriptors, per-image
// unit costs in satoshis, and the invoice markup applied on top. The
// table is built once at startup and read-only thereafter.
package pricing

import (
	"fmt"
	"math"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

// Provider IDs referenced by the model table.
const (
	ProviderReplicate = "replicate"
	ProviderBedrock   = "bedrock"
)

var defaultModels = []domain.ModelDescriptor{
	{
		Name:        "stable-diffusion",
		Description: "Stable Diffusion v1.5",
		Provider:    ProviderReplicate,
		Version:     "stability-ai/stable-diffusion:ac732df83cea7fff18b8472768c88ad041fa750ff7682a21affe81863cbe77e4",
		CostSats:    1000,
	},
	{
		Name:        "dall-e",
		Description: "DALL-E 3",
		Provider:    ProviderReplicate,
		Version:     "openai/dall-e-3:3711283151f5835402c01332a54cc16809921fc0d9fe9e9a65ce5967f1685a00",
		CostSats:    3000,
	},
	{
		Name:        "nano-banana",
		Description: "Google Nano Banana Pro",
		Provider:    ProviderReplicate,
		Version:     "google/nano-banana-pro:9f57615b766710492f0887bec039aed69178c6db88839fca425ce6b78d858999",
		CostSats:    1500,
	},
	{
		Name:        "seedream-4.5",
		Description: "Seedream 4.5 - cinematic quality, 4K support",
		Provider:    ProviderReplicate,
		Version:     "bytedance/seedream-4.5",
		CostSats:    2000,
	},
	{
		Name:        "titan-image",
		Description: "Amazon Titan Image Generator G1",
		Provider:    ProviderBedrock,
		Version:     "amazon.titan-image-generator-v1",
		CostSats:    1200,
	},
}

// Table is the immutable model/pricing table.
type Table struct {
	models    []domain.ModelDescriptor
	byName    map[string]domain.ModelDescriptor
	markupPct float64
}

// NewTable builds the table from the built-in model set, per-model price
// overrides (sats), and the invoice markup percentage.
func NewTable(priceOverrides map[string]int64, markupPct float64) (*Table, error) {
	if markupPct < 0 {
		return nil, fmt.Errorf("invoice markup must not be negative, got %g", markupPct)
	}

	models := make([]domain.ModelDescriptor, len(defaultModels))
	copy(models, defaultModels)

	byName := make(map[string]domain.ModelDescriptor, len(models))
	for i := range models {
		if sats, ok := priceOverrides[models[i].Name]; ok {
			if sats <= 0 {
				return nil, fmt.Errorf("price override for %s must be positive, got %d", models[i].Name, sats)
			}
			models[i].CostSats = sats
		}
		byName[models[i].Name] = models[i]
	}
	for name := range priceOverrides {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("price override for unknown model %s", name)
		}
	}

	return &Table{models: models, byName: byName, markupPct: markupPct}, nil
}

// List returns the model descriptors in table order.
func (t *Table) List() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, len(t.models))
	copy(out, t.models)
	return out
}

// Get looks up a model by name.
func (t *Table) Get(name string) (domain.ModelDescriptor, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Quote returns the invoice amount in sats for one generation with the
// given model: unit cost plus markup, rounded up to a whole satoshi.
func (t *Table) Quote(name string) (int64, error) {
	m, ok := t.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownModel, name)
	}
	return int64(math.Ceil(float64(m.CostSats) * (1 + t.markupPct/100))), nil
}

// Package router selects the image provider for a request. The provider
// set is small and fixed at deployment time; selection is driven by the
// model table, never by open-ended dispatch.
package router

import (
	"context"
	"fmt"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/pricing"
)

// ImageProvider is the outbound generation interface. Generate makes a
// single blocking call; the model version comes from the model table.
type ImageProvider interface {
	ID() string
	Generate(ctx context.Context, req domain.GenerationRequest, version string) (*domain.ProviderOutput, error)
	HealthCheck(ctx context.Context) error
}

// Router resolves a model name to its provider via the model table.
type Router struct {
	providers map[string]ImageProvider
	models    *pricing.Table
}

func New(providers map[string]ImageProvider, models *pricing.Table) *Router {
	return &Router{providers: providers, models: models}
}

// Resolve returns the provider and backend version for a model name.
func (r *Router) Resolve(model string) (ImageProvider, string, error) {
	desc, ok := r.models.Get(model)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
	}
	p, ok := r.providers[desc.Provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s (model %s)", domain.ErrProviderNotFound, desc.Provider, model)
	}
	return p, desc.Version, nil
}

// Get returns a provider by ID.
func (r *Router) Get(id string) (ImageProvider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns the registered provider IDs.
func (r *Router) ListProviders() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}

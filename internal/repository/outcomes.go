// Package repository records generation outcomes in an append-only log.
// Recording is best-effort: a storage failure never fails the request it
// belongs to. This is the audit collaborator; the orchestrator itself
// stays stateless.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

// OutcomeRecord is one row of the audit log, produced per request after
// it reaches a terminal outcome.
type OutcomeRecord struct {
	RequestID       string                  `json:"request_id"`
	Model           string                  `json:"model"`
	Provider        string                  `json:"provider,omitempty"`
	Status          domain.GenerationStatus `json:"status"`
	ModerationScore float64                 `json:"moderation_score"`
	InvoiceID       string                  `json:"invoice_id,omitempty"`
	CostSats        int64                   `json:"cost_sats"`
	LatencyMs       int64                   `json:"latency_ms"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
}

// OutcomeRecorder is the append-only log interface.
type OutcomeRecorder interface {
	Record(ctx context.Context, rec OutcomeRecord) error
	Recent(ctx context.Context, limit int) ([]OutcomeRecord, error)
}

// InMemoryOutcomes keeps the most recent records in memory, bounded by
// maxRecords. Suitable for single-instance deployments without a
// database.
type InMemoryOutcomes struct {
	mu         sync.RWMutex
	records    []OutcomeRecord
	maxRecords int
}

func NewInMemoryOutcomes(maxRecords int) *InMemoryOutcomes {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &InMemoryOutcomes{maxRecords: maxRecords}
}

func (r *InMemoryOutcomes) Record(ctx context.Context, rec OutcomeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if len(r.records) > r.maxRecords {
		r.records = r.records[len(r.records)-r.maxRecords:]
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (r *InMemoryOutcomes) Recent(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]OutcomeRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.records[len(r.records)-1-i]
	}
	return out, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
)

type PostgresOutcomes struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against databaseURL and verifies
// connectivity.
func NewPostgres(databaseURL string) (*PostgresOutcomes, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresOutcomes{db: db}, nil
}

func NewPostgresWithDB(db *sql.DB) *PostgresOutcomes {
	return &PostgresOutcomes{db: db}
}

// Migrate creates the outcomes table if it does not exist.
func (r *PostgresOutcomes) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS generation_outcomes (
			id               BIGSERIAL PRIMARY KEY,
			request_id       TEXT NOT NULL,
			model            TEXT NOT NULL,
			provider         TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			moderation_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			invoice_id       TEXT NOT NULL DEFAULT '',
			cost_sats        BIGINT NOT NULL DEFAULT 0,
			latency_ms       BIGINT NOT NULL DEFAULT 0,
			error            TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create outcomes table: %w", err)
	}
	return nil
}

func (r *PostgresOutcomes) Record(ctx context.Context, rec OutcomeRecord) error {
	query := `
		INSERT INTO generation_outcomes (request_id, model, provider, status, moderation_score, invoice_id, cost_sats, latency_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.Model,
		rec.Provider,
		string(rec.Status),
		rec.ModerationScore,
		rec.InvoiceID,
		rec.CostSats,
		rec.LatencyMs,
		rec.Error,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (r *PostgresOutcomes) Recent(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT request_id, model, provider, status, moderation_score, invoice_id, cost_sats, latency_ms, error, created_at
		FROM generation_outcomes
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var records []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var status string
		err := rows.Scan(
			&rec.RequestID,
			&rec.Model,
			&rec.Provider,
			&status,
			&rec.ModerationScore,
			&rec.InvoiceID,
			&rec.CostSats,
			&rec.LatencyMs,
			&rec.Error,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.Status = domainStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresOutcomes) Close() error {
	return r.db.Close()
}

func domainStatus(s string) domain.GenerationStatus {
	switch s {
	case "completed":
		return domain.StatusCompleted
	case "rejected":
		return domain.StatusRejected
	default:
		return domain.StatusFailed
	}
}

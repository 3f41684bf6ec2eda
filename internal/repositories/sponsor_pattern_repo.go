package repositories

import (
	"context"
	"fmt"

	"github.com/hht-diary/authcore/internal/database"
	"github.com/hht-diary/authcore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SponsorPatternRepository struct {
	pool *pgxpool.Pool
}

func NewSponsorPatternRepository(db *database.DB) *SponsorPatternRepository {
	return &SponsorPatternRepository{pool: db.Pool}
}

func (r *SponsorPatternRepository) GetAllActivePatterns(ctx context.Context) ([]models.SponsorPattern, error) {
	query := `
		SELECT prefix, sponsor_id, sponsor_url, active
		FROM sponsor_patterns
		WHERE active
		ORDER BY length(prefix) DESC, sponsor_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sponsor patterns: %w", err)
	}
	return scanPatternRows(rows)
}

// FindBySponsorID returns every pattern of a sponsor, active or not
func (r *SponsorPatternRepository) FindBySponsorID(ctx context.Context, sponsorID string) ([]models.SponsorPattern, error) {
	query := `
		SELECT prefix, sponsor_id, sponsor_url, active
		FROM sponsor_patterns
		WHERE sponsor_id = $1
		ORDER BY prefix
	`

	rows, err := r.pool.Query(ctx, query, sponsorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sponsor patterns: %w", err)
	}
	return scanPatternRows(rows)
}

// Upsert inserts or replaces a pattern keyed by prefix
func (r *SponsorPatternRepository) Upsert(ctx context.Context, p models.SponsorPattern) error {
	query := `
		INSERT INTO sponsor_patterns (prefix, sponsor_id, sponsor_url, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (prefix) DO UPDATE
		SET sponsor_id = EXCLUDED.sponsor_id,
		    sponsor_url = EXCLUDED.sponsor_url,
		    active = EXCLUDED.active,
		    updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, p.Prefix, p.SponsorID, p.SponsorURL, p.Active); err != nil {
		return fmt.Errorf("failed to upsert sponsor pattern: %w", database.MapPostgresError(err))
	}
	return nil
}

func scanPatternRows(rows pgx.Rows) ([]models.SponsorPattern, error) {
	defer rows.Close()

	patterns := make([]models.SponsorPattern, 0)
	for rows.Next() {
		var p models.SponsorPattern
		if err := rows.Scan(&p.Prefix, &p.SponsorID, &p.SponsorURL, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan sponsor pattern: %w", err)
		}
		patterns = append(patterns, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return patterns, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/aidaily/internal/model"
)

// PostgresSourceCheckRepo はPostgreSQLを使用したソース検査結果リポジトリ。
type PostgresSourceCheckRepo struct {
	db *sql.DB
}

// NewPostgresSourceCheckRepo はPostgresSourceCheckRepoを生成する。
func NewPostgresSourceCheckRepo(db *sql.DB) *PostgresSourceCheckRepo {
	return &PostgresSourceCheckRepo{db: db}
}

// Record は検査結果を追記する。
func (r *PostgresSourceCheckRepo) Record(ctx context.Context, check model.SourceCheck) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO source_checks (source_name, source_url, feed_url, status, entries, detail, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		check.Source.Name, check.Source.URL, check.FeedURL, string(check.Status),
		check.Entries, check.Detail, check.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record source check: %w", err)
	}
	return nil
}

// ListLatest はソースURLごとの最新の検査結果を返す。
func (r *PostgresSourceCheckRepo) ListLatest(ctx context.Context) ([]model.SourceCheck, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT ON (source_url)
		        source_name, source_url, feed_url, status, entries, detail, checked_at
		 FROM source_checks
		 ORDER BY source_url, checked_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list source checks: %w", err)
	}
	defer rows.Close()

	var checks []model.SourceCheck
	for rows.Next() {
		var (
			c      model.SourceCheck
			status string
		)
		if err := rows.Scan(
			&c.Source.Name, &c.Source.URL, &c.FeedURL, &status,
			&c.Entries, &c.Detail, &c.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source check: %w", err)
		}
		c.Status = model.SourceStatus(status)
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source checks: %w", err)
	}

	return checks, nil
}

// compile-time interface check
var _ SourceCheckRepository = (*PostgresSourceCheckRepo)(nil)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"certledger/internal/quota/models"
	id "certledger/pkg/domain"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresUsageStore keeps usage periods in the usage_periods table.
type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(db *sql.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresUsageStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Increment is one upsert: the row is created on first use, rolled over when
// its period has ended, and incremented, all under the row lock Postgres
// takes for ON CONFLICT DO UPDATE.
func (s *PostgresUsageStore) Increment(ctx context.Context, institutionID id.InstitutionID, metric models.Metric, amount int64, now time.Time) (*models.UsagePeriod, error) {
	if !metric.IsValid() {
		return nil, fmt.Errorf("unknown usage metric %q", metric)
	}
	delta := models.UsagePeriod{}
	delta.Add(metric, amount)

	query := `
		INSERT INTO usage_periods AS u
			(institution_id, period_start, period_end, certificates_issued, storage_bytes_used, api_calls)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (institution_id) DO UPDATE SET
			period_start = CASE WHEN $2 > u.period_end THEN EXCLUDED.period_start ELSE u.period_start END,
			period_end = CASE WHEN $2 > u.period_end THEN EXCLUDED.period_end ELSE u.period_end END,
			certificates_issued = CASE WHEN $2 > u.period_end THEN 0 ELSE u.certificates_issued END + EXCLUDED.certificates_issued,
			storage_bytes_used = CASE WHEN $2 > u.period_end THEN 0 ELSE u.storage_bytes_used END + EXCLUDED.storage_bytes_used,
			api_calls = CASE WHEN $2 > u.period_end THEN 0 ELSE u.api_calls END + EXCLUDED.api_calls
		RETURNING institution_id, period_start, period_end, certificates_issued, storage_bytes_used, api_calls
	`
	row := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(institutionID), now, models.PeriodEnd(now),
		delta.CertificatesIssued, delta.StorageBytesUsed, delta.APICalls,
	)
	u, err := scanUsage(row)
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	return u, nil
}

func (s *PostgresUsageStore) Get(ctx context.Context, institutionID id.InstitutionID, now time.Time) (*models.UsagePeriod, error) {
	query := `
		SELECT institution_id, period_start, period_end, certificates_issued, storage_bytes_used, api_calls
		FROM usage_periods WHERE institution_id = $1
	`
	u, err := scanUsage(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(institutionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewUsagePeriod(institutionID, now), nil
		}
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return u.RolledOver(now), nil
}

func (s *PostgresUsageStore) RollExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE usage_periods
		SET period_start = $1, period_end = $2, certificates_issued = 0, storage_bytes_used = 0, api_calls = 0
		WHERE period_end < $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, now, models.PeriodEnd(now))
	if err != nil {
		return 0, fmt.Errorf("roll expired usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("roll expired usage: %w", err)
	}
	return n, nil
}

func scanUsage(row *sql.Row) (*models.UsagePeriod, error) {
	var (
		u      models.UsagePeriod
		instID uuid.UUID
	)
	if err := row.Scan(&instID, &u.PeriodStart, &u.PeriodEnd, &u.CertificatesIssued, &u.StorageBytesUsed, &u.APICalls); err != nil {
		return nil, err
	}
	u.InstitutionID = id.InstitutionID(instID)
	return &u, nil
}

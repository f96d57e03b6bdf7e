// internal/repository/reading_repository.go
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/database"
	"psu-service/internal/model"
)

// readingRepository implements ReadingRepository interface
type readingRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *database.DB, logger *zap.Logger) ReadingRepository {
	return &readingRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a single reading
func (r *readingRepository) Create(ctx context.Context, reading *model.Reading) error {
	query := `
		INSERT INTO readings (id, channel, kind, voltage, current, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.ID, reading.Channel, reading.Kind,
		reading.Voltage, reading.Current, reading.SampledAt,
	)

	if err != nil {
		r.logger.Error("Failed to create reading", zap.Error(err))
		return fmt.Errorf("failed to create reading: %w", err)
	}

	return nil
}

// CreateBatch stores a sampling cycle's readings in one transaction
func (r *readingRepository) CreateBatch(ctx context.Context, readings []*model.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO readings (id, channel, kind, voltage, current, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, reading := range readings {
		if _, err := tx.ExecContext(ctx, query,
			reading.ID, reading.Channel, reading.Kind,
			reading.Voltage, reading.Current, reading.SampledAt,
		); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}

	return nil
}

// List retrieves readings matching the filter, newest first
func (r *readingRepository) List(ctx context.Context, filter *ReadingFilter) ([]*model.Reading, int, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.Channel != nil {
		conditions = append(conditions, fmt.Sprintf("channel = $%d", argIndex))
		args = append(args, *filter.Channel)
		argIndex++
	}

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, *filter.Kind)
		argIndex++
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("sampled_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}

	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("sampled_at <= $%d", argIndex))
		args = append(args, *filter.Until)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM readings %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count readings: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, channel, kind, voltage, current, sampled_at
		FROM readings %s
		ORDER BY sampled_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []*model.Reading
	for rows.Next() {
		reading := &model.Reading{}
		if err := rows.Scan(
			&reading.ID, &reading.Channel, &reading.Kind,
			&reading.Voltage, &reading.Current, &reading.SampledAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	return readings, total, rows.Err()
}

// DeleteOlderThan removes readings sampled before the cutoff
func (r *readingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM readings WHERE sampled_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted readings: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("Purged old readings",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	return deleted, nil
}

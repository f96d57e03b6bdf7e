// internal/repository/operation_repository.go
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

// operationRepository implements OperationRepository interface
type operationRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *database.DB, logger *zap.Logger) OperationRepository {
	return &operationRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an operation to the audit log
func (r *operationRepository) Create(ctx context.Context, operation *model.Operation) error {
	query := `
		INSERT INTO operations (
			id, operation_type, channel, parameters,
			status, duration_ms, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		operation.ID, operation.OperationType, operation.Channel,
		operation.Parameters, operation.Status, operation.DurationMs,
		operation.ErrorMessage, operation.CreatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create operation", zap.Error(err))
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

// List retrieves operations matching the filter, newest first
func (r *operationRepository) List(ctx context.Context, filter *OperationFilter) ([]*model.Operation, int, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.OperationType != nil {
		conditions = append(conditions, fmt.Sprintf("operation_type = $%d", argIndex))
		args = append(args, *filter.OperationType)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM operations %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count operations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, operation_type, channel, parameters,
			   status, duration_ms, error_message, created_at
		FROM operations %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var operations []*model.Operation
	for rows.Next() {
		operation := &model.Operation{}
		if err := rows.Scan(
			&operation.ID, &operation.OperationType, &operation.Channel,
			&operation.Parameters, &operation.Status, &operation.DurationMs,
			&operation.ErrorMessage, &operation.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan operation: %w", err)
		}
		operations = append(operations, operation)
	}

	return operations, total, rows.Err()
}

// DeleteOlderThan removes audit entries created before the cutoff
func (r *operationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM operations WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old operations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted operations: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("Purged old operations",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	return deleted, nil
}

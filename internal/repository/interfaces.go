// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"psu-service/internal/model"
)

// ReadingFilter narrows reading queries
type ReadingFilter struct {
	Channel *int
	Kind    *model.ReadingKind
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}

// OperationFilter narrows operation queries
type OperationFilter struct {
	OperationType *model.OperationType
	Status        *model.OperationStatus
	Since         *time.Time
	Limit         int
	Offset        int
}

// ReadingRepository persists instrument readings
type ReadingRepository interface {
	Create(ctx context.Context, reading *model.Reading) error
	CreateBatch(ctx context.Context, readings []*model.Reading) error
	List(ctx context.Context, filter *ReadingFilter) ([]*model.Reading, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OperationRepository persists the control operation audit log
type OperationRepository interface {
	Create(ctx context.Context, operation *model.Operation) error
	List(ctx context.Context, filter *OperationFilter) ([]*model.Operation, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

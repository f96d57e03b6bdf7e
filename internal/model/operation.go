// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType represents the type of instrument operation.
type OperationType string

const (
	OperationTypeSetVoltage   OperationType = "SET_VOLTAGE"
	OperationTypeSetCurrent   OperationType = "SET_CURRENT"
	OperationTypeQueryReading OperationType = "QUERY_READING"
	OperationTypeOutput       OperationType = "OUTPUT"
	OperationTypeTracking     OperationType = "TRACKING"
	OperationTypeMemorySave   OperationType = "MEMORY_SAVE"
	OperationTypeMemoryRecall OperationType = "MEMORY_RECALL"
	OperationTypeBeep         OperationType = "BEEP"
	OperationTypeErrorQuery   OperationType = "ERROR_QUERY"
)

// OperationStatus represents the outcome of an operation.
type OperationStatus string

const (
	OperationStatusSuccess OperationStatus = "SUCCESS"
	OperationStatusFailed  OperationStatus = "FAILED"
	OperationStatusTimeout OperationStatus = "TIMEOUT"
)

// Operation is the audit record of one facade call.
type Operation struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OperationType OperationType   `json:"operation_type" db:"operation_type"`
	Channel       *int            `json:"channel,omitempty" db:"channel"`
	Parameters    JSONObject      `json:"parameters" db:"parameters"`
	Status        OperationStatus `json:"status" db:"status"`
	DurationMs    int             `json:"duration_ms" db:"duration_ms"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Succeeded reports whether the operation completed without error.
func (op *Operation) Succeeded() bool {
	return op.Status == OperationStatusSuccess
}

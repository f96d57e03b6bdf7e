// internal/model/psu.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReadingKind distinguishes programmed values from measured output.
type ReadingKind string

const (
	ReadingKindSet    ReadingKind = "SET"
	ReadingKindActual ReadingKind = "ACTUAL"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Reading is one sampled (voltage, current) pair for one channel.
type Reading struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Channel   int             `json:"channel" db:"channel"`
	Kind      ReadingKind     `json:"kind" db:"kind"`
	Voltage   decimal.Decimal `json:"voltage" db:"voltage"`
	Current   decimal.Decimal `json:"current" db:"current"`
	SampledAt time.Time       `json:"sampled_at" db:"sampled_at"`
}

// InstrumentInfo describes the discovered instrument.
type InstrumentInfo struct {
	Identity  string    `json:"identity"`
	PortName  string    `json:"port_name"`
	BaudRate  int       `json:"baud_rate"`
	Connected bool      `json:"connected"`
	FoundAt   time.Time `json:"found_at"`
}

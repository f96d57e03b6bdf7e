// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event published on the event bus.
type EventType string

const (
	EventInstrumentFound EventType = "INSTRUMENT_FOUND"
	EventInstrumentLost  EventType = "INSTRUMENT_LOST"
	EventReadingSampled  EventType = "READING_SAMPLED"
	EventOutputChanged   EventType = "OUTPUT_CHANGED"
	EventTrackingChanged EventType = "TRACKING_CHANGED"
	EventSettingApplied  EventType = "SETTING_APPLIED"
	EventTimeout         EventType = "TIMEOUT"
	EventInstrumentError EventType = "INSTRUMENT_ERROR"
)

// InstrumentEvent represents an event in the system.
type InstrumentEvent struct {
	ID        uuid.UUID  `json:"id"`
	EventType EventType  `json:"event_type"`
	Data      JSONObject `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	Severity  string     `json:"severity"` // INFO, WARNING, ERROR
}

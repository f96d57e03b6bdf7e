// pkg/driver/types.go
package driver

// TrackingMode couples the two output channels.
type TrackingMode int

const (
	TrackingIndependent TrackingMode = 0
	TrackingSeries      TrackingMode = 1
	TrackingParallel    TrackingMode = 2
)

// String returns the front-panel name of the tracking mode.
func (m TrackingMode) String() string {
	switch m {
	case TrackingIndependent:
		return "INDEPENDENT"
	case TrackingSeries:
		return "SERIES"
	case TrackingParallel:
		return "PARALLEL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the mode is one the instrument accepts.
func (m TrackingMode) Valid() bool {
	return m >= TrackingIndependent && m <= TrackingParallel
}

// Instrument limits. Values outside these ranges are rejected before any
// byte reaches the wire.
const (
	MinChannel = 1
	MaxChannel = 2

	MaxVoltage = 30.0 // volts, inclusive
	MaxCurrent = 3.0  // amps, inclusive

	MinMemorySlot = 1
	MaxMemorySlot = 4
)

// Sentinel readings returned by queries that time out: one past the full
// scale of the instrument, so they can never be mistaken for a real reading.
const (
	SentinelVoltage = MaxVoltage + 1
	SentinelCurrent = MaxCurrent + 1
)

// ValidChannel reports whether ch addresses a real output channel.
func ValidChannel(ch int) bool {
	return ch >= MinChannel && ch <= MaxChannel
}

// ValidMemorySlot reports whether slot addresses a setting memory.
func ValidMemorySlot(slot int) bool {
	return slot >= MinMemorySlot && slot <= MaxMemorySlot
}

// pkg/driver/interfaces.go
package driver

import "context"

// PowerSupply is the typed surface exposed by a bench power supply driver.
// Implementations serialize commands internally: exactly one protocol round
// trip is outstanding at any time.
type PowerSupply interface {
	// Identity and liveness
	Identity() string
	PortName() string
	CheckConnected(ctx context.Context) bool

	// Programmed values (read back from the instrument)
	SetVoltage(ctx context.Context, channel int, volts float64) error
	SetCurrent(ctx context.Context, channel int, amps float64) error
	GetVoltage(ctx context.Context, channel int) (float64, error)
	GetCurrent(ctx context.Context, channel int) (float64, error)

	// Measured output values
	GetActualVoltage(ctx context.Context, channel int) (float64, error)
	GetActualCurrent(ctx context.Context, channel int) (float64, error)

	// Front-panel state
	SetOutput(ctx context.Context, on bool) error
	SetTracking(ctx context.Context, mode TrackingMode) error
	SetBeep(ctx context.Context, on bool) error
	Beep(ctx context.Context) error

	// Setting memories
	SaveSettings(ctx context.Context, slot int) error
	LoadSettings(ctx context.Context, slot int) error

	// ReportErrors queries the instrument's error register and returns the
	// raw error text.
	ReportErrors(ctx context.Context) (string, error)

	// Close forces the output off (best effort) and releases the port.
	// It is safe to call multiple times.
	Close() error
}

// internal/gpd/driver.go
package gpd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"psu-service/internal/protocol"
	"psu-service/internal/utils"
	"psu-service/pkg/driver"
)

// Config holds driver tunables.
type Config struct {
	// ResponseTimeout bounds each round trip. Zero means
	// DefaultResponseTimeout.
	ResponseTimeout time.Duration
}

// Driver implements driver.PowerSupply for the GW Instek GPD-3303S dual
// channel bench supply.
type Driver struct {
	engine   *Engine
	logger   *utils.InstrumentLogger
	portName string
	identity string

	// beepMu guards the cached audible-feedback preference, used to
	// restore the user's setting after a diagnostic pulse.
	beepMu sync.Mutex
	beepOn bool

	closeOnce sync.Once
	closeErr  error
}

// NewDriver wraps an open connection. The instrument powers up with the
// beeper enabled, so that is the initial cached preference. Most callers
// want Probe, which additionally verifies instrument identity.
func NewDriver(conn protocol.Connection, portName string, cfg Config, logger *zap.Logger) *Driver {
	il := utils.NewInstrumentLogger(logger, portName, "GPD-3303S")

	return &Driver{
		engine:   NewEngine(conn, cfg.ResponseTimeout, il.Logger),
		logger:   il,
		portName: portName,
		beepOn:   true,
	}
}

// Probe verifies that the device behind conn is the expected instrument.
// On success the returned driver owns the connection and the output has
// been forced off; on failure the connection is closed.
func Probe(ctx context.Context, conn protocol.Connection, portName string, cfg Config, logger *zap.Logger) (*Driver, error) {
	d := NewDriver(conn, portName, cfg, logger)

	reply, err := d.engine.SendAndAwait(ctx, cmdIdentify)
	if err != nil {
		d.engine.Close()
		return nil, fmt.Errorf("identity query on %s: %w", portName, err)
	}
	if !strings.HasPrefix(reply, IdentityPrefix) {
		d.engine.Close()
		return nil, fmt.Errorf("unexpected identity on %s: %q", portName, reply)
	}

	d.identity = strings.TrimRight(reply, "\r")

	// Leave the supply in a safe state before handing it to callers.
	if err := d.SetOutput(ctx, false); err != nil {
		d.engine.Close()
		return nil, fmt.Errorf("forcing output off on %s: %w", portName, err)
	}

	d.logger.Info("Instrument verified", zap.String("identity", d.identity))
	return d, nil
}

// Identity returns the full *IDN? reply captured at probe time.
func (d *Driver) Identity() string { return d.identity }

// PortName returns the serial device path the driver is bound to.
func (d *Driver) PortName() string { return d.portName }

// CheckConnected re-runs the identity query and reports whether the
// instrument still answers with the expected identity.
func (d *Driver) CheckConnected(ctx context.Context) bool {
	reply, err := d.engine.SendAndAwait(ctx, cmdIdentify)
	if err != nil {
		return false
	}
	return strings.HasPrefix(reply, IdentityPrefix)
}

// SetVoltage programs the channel's voltage and verifies it by reading the
// setting back. The protocol never acknowledges set commands, so the
// read-back comparison is the only correctness check available.
func (d *Driver) SetVoltage(ctx context.Context, channel int, volts float64) error {
	if !driver.ValidChannel(channel) {
		return fmt.Errorf("%w: %d", driver.ErrInvalidChannel, channel)
	}
	if volts <= 0 || volts > driver.MaxVoltage {
		return fmt.Errorf("%w: %g V", driver.ErrInvalidValue, volts)
	}

	want := decimal.NewFromFloat(volts).Round(2)
	if err := d.engine.Send(ctx, setVoltageCmd(channel, want)); err != nil {
		return err
	}

	return d.verifySetting(ctx, queryVoltageCmd(channel), want)
}

// SetCurrent programs the channel's current limit with read-back
// verification.
func (d *Driver) SetCurrent(ctx context.Context, channel int, amps float64) error {
	if !driver.ValidChannel(channel) {
		return fmt.Errorf("%w: %d", driver.ErrInvalidChannel, channel)
	}
	if amps <= 0 || amps > driver.MaxCurrent {
		return fmt.Errorf("%w: %g A", driver.ErrInvalidValue, amps)
	}

	want := decimal.NewFromFloat(amps).Round(3)
	if err := d.engine.Send(ctx, setCurrentCmd(channel, want)); err != nil {
		return err
	}

	return d.verifySetting(ctx, queryCurrentCmd(channel), want)
}

// verifySetting reads a setting back and compares it to the requested
// value. A timeout during read-back also counts as a verification
// failure: the sentinel can never equal a legal setting.
func (d *Driver) verifySetting(ctx context.Context, queryCmd string, want decimal.Decimal) error {
	reply, err := d.engine.SendAndAwait(ctx, queryCmd)
	if err != nil {
		return fmt.Errorf("%w: read-back failed: %v", driver.ErrVerify, err)
	}

	got, err := parseReading(reply)
	if err != nil {
		return err
	}

	if !got.Equal(want) {
		return fmt.Errorf("%w: requested %s, instrument reports %s",
			driver.ErrVerify, want.String(), got.String())
	}

	return nil
}

// GetVoltage returns the channel's programmed voltage.
func (d *Driver) GetVoltage(ctx context.Context, channel int) (float64, error) {
	if !driver.ValidChannel(channel) {
		return 0, fmt.Errorf("%w: %d", driver.ErrInvalidChannel, channel)
	}
	return d.query(ctx, queryVoltageCmd(channel), driver.SentinelVoltage)
}

// GetCurrent returns the channel's programmed current limit.
func (d *Driver) GetCurrent(ctx context.Context, channel int) (float64, error) {
	if !driver.ValidChannel(channel) {
		return 0, fmt.Errorf("%w: %d", driver.ErrInvalidChannel, channel)
	}
	return d.query(ctx, queryCurrentCmd(channel), driver.SentinelCurrent)
}

// GetActualVoltage returns the channel's measured output voltage.
func (d *Driver) GetActualVoltage(ctx context.Context, channel int) (float64, error) {
	if !driver.ValidChannel(channel) {
		return 0, fmt.Errorf("%w: %d", driver.ErrInvalidChannel, channel)
	}
	return d.query(ctx, actualVoltageCmd(channel), driver.SentinelVoltage)
}

// GetActualCurrent returns the channel's measured output current.
func (d *Driver) GetActualCurrent(ctx context.Context, channel int) (float64, error) {
	if !driver.ValidChannel(channel) {
		return 0, fmt.Errorf("%w: %d", driver.ErrInvalidChannel, channel)
	}
	return d.query(ctx, actualCurrentCmd(channel), driver.SentinelCurrent)
}

// query runs one reading round trip. A timeout returns the sentinel value
// alongside the error so callers can distinguish "device did not answer"
// (sentinel + ErrTimeout) from "device answered garbage" (ErrParse).
func (d *Driver) query(ctx context.Context, command string, sentinel float64) (float64, error) {
	start := time.Now()
	reply, err := d.engine.SendAndAwait(ctx, command)
	if err != nil {
		d.logger.LogRoundTrip(command, "", time.Since(start), err)
		if errors.Is(err, driver.ErrTimeout) {
			return sentinel, err
		}
		return 0, err
	}

	val, err := parseReading(reply)
	if err != nil {
		d.logger.Error("Unparseable instrument reply, protocol desynchronized",
			zap.String("command", command),
			zap.String("reply", reply),
		)
		return 0, err
	}

	d.logger.LogRoundTrip(command, reply, time.Since(start), nil)

	f, _ := val.Float64()
	return f, nil
}

// SetOutput switches both output channels on or off.
func (d *Driver) SetOutput(ctx context.Context, on bool) error {
	return d.engine.Send(ctx, outputCmd(on))
}

// SetTracking selects the channel tracking mode.
func (d *Driver) SetTracking(ctx context.Context, mode driver.TrackingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", driver.ErrInvalidTracking, int(mode))
	}
	return d.engine.Send(ctx, trackCmd(mode))
}

// SetBeep switches the audible feedback and records the preference.
func (d *Driver) SetBeep(ctx context.Context, on bool) error {
	d.beepMu.Lock()
	defer d.beepMu.Unlock()

	if err := d.engine.Send(ctx, beepCmd(on)); err != nil {
		return err
	}

	d.beepOn = on
	return nil
}

// Beep emits a single diagnostic pulse: force the beeper off, force it on
// (which is what produces the audible signal), then restore the cached
// preference if it was off. The net preference is unchanged.
func (d *Driver) Beep(ctx context.Context) error {
	d.beepMu.Lock()
	defer d.beepMu.Unlock()

	wasOn := d.beepOn

	if err := d.engine.Send(ctx, beepCmd(false)); err != nil {
		return err
	}
	if err := d.engine.Send(ctx, beepCmd(true)); err != nil {
		return err
	}
	if !wasOn {
		if err := d.engine.Send(ctx, beepCmd(false)); err != nil {
			return err
		}
	}

	return nil
}

// SaveSettings stores the current panel settings in a memory slot.
func (d *Driver) SaveSettings(ctx context.Context, slot int) error {
	if !driver.ValidMemorySlot(slot) {
		return fmt.Errorf("%w: %d", driver.ErrInvalidSlot, slot)
	}
	return d.engine.Send(ctx, saveCmd(slot))
}

// LoadSettings recalls panel settings from a memory slot.
func (d *Driver) LoadSettings(ctx context.Context, slot int) error {
	if !driver.ValidMemorySlot(slot) {
		return fmt.Errorf("%w: %d", driver.ErrInvalidSlot, slot)
	}
	return d.engine.Send(ctx, recallCmd(slot))
}

// ReportErrors queries the instrument's error register and returns the
// error text for the operator.
func (d *Driver) ReportErrors(ctx context.Context) (string, error) {
	reply, err := d.engine.SendAndAwait(ctx, cmdErrorQuery)
	if err != nil {
		return "", err
	}

	text := strings.TrimRight(reply, "\r")
	if text != "" {
		d.logger.Warn("Instrument error register", zap.String("errors", text))
	}

	return text, nil
}

// Close forces the output off and releases the port. The forced-off write
// is best effort: the port may already be gone, and teardown must always
// complete regardless.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := d.engine.Send(ctx, outputCmd(false)); err != nil {
			d.logger.Debug("Forced output-off failed during teardown", zap.Error(err))
		}

		d.closeErr = d.engine.Close()
	})
	return d.closeErr
}

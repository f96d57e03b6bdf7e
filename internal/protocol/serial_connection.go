// internal/protocol/serial_connection.go
package protocol

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialConnection implements Connection for serial ports via go.bug.st/serial.
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	stats  *TransferStats

	mu     sync.RWMutex
	isOpen bool
}

// openSerialPort is overridable so tests can substitute a fake port.
var openSerialPort = serial.Open

// OpenSerial opens a serial port with the given configuration and returns
// the live connection. The read timeout keeps the reader loop from
// blocking forever on a dead port.
func OpenSerial(config *SerialConfig, logger *zap.Logger) (*SerialConnection, error) {
	sc := &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
		stats: &TransferStats{},
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: stopBits(config.StopBits),
		Parity:   parity(config.Parity),
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", config.BaudRate),
		zap.Int("data_bits", config.DataBits),
	)

	port, err := openSerialPort(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Port, err)
	}

	if config.Timeout > 0 {
		if err := port.SetReadTimeout(config.Timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	sc.port = port
	sc.isOpen = true

	sc.logger.Info("Serial port opened successfully")
	return sc, nil
}

// Write writes data to the serial port.
func (sc *SerialConnection) Write(p []byte) (int, error) {
	sc.mu.RLock()
	port := sc.port
	open := sc.isOpen
	sc.mu.RUnlock()

	if !open || port == nil {
		return 0, fmt.Errorf("serial port not open")
	}

	n, err := port.Write(p)
	sc.stats.addWrite(n, err)
	if err != nil {
		sc.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(p) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(p))
	}

	return n, nil
}

// Read reads whatever bytes the port currently has, up to len(p). A zero
// count without error means the port's read timeout elapsed with no data.
func (sc *SerialConnection) Read(p []byte) (int, error) {
	sc.mu.RLock()
	port := sc.port
	open := sc.isOpen
	sc.mu.RUnlock()

	if !open || port == nil {
		return 0, fmt.Errorf("serial port not open")
	}

	n, err := port.Read(p)
	sc.stats.addRead(n, err)
	return n, err
}

// IsOpen returns whether the connection is open.
func (sc *SerialConnection) IsOpen() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Close closes the serial connection. Safe to call multiple times.
func (sc *SerialConnection) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed")
	return nil
}

// PortName returns the device path of the underlying port.
func (sc *SerialConnection) PortName() string {
	return sc.config.Port
}

// Stats returns the connection's transfer counters.
func (sc *SerialConnection) Stats() *TransferStats {
	return sc.stats
}

func parity(name string) serial.Parity {
	switch name {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func stopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

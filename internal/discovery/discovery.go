// internal/discovery/discovery.go
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/gpd"
	"psu-service/internal/model"
	"psu-service/internal/protocol"
	driverpkg "psu-service/pkg/driver"
)

// Overridable for tests.
var (
	listPorts = serial.GetPortsList

	openConnection = func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error) {
		return protocol.OpenSerial(cfg, logger)
	}
)

// Finder locates the instrument among the host's serial ports.
type Finder struct {
	config *config.InstrumentConfig
	logger *zap.Logger
	usb    *USBLocator
}

// NewFinder creates a finder for the configured instrument.
func NewFinder(cfg *config.InstrumentConfig, logger *zap.Logger) *Finder {
	f := &Finder{
		config: cfg,
		logger: logger.With(zap.String("component", "discovery")),
	}
	if cfg.USBHints {
		f.usb = NewUSBLocator(f.logger)
	}
	return f
}

// Find scans the candidate serial ports, probes each with the identity
// query, and returns a driver bound to the first port that answers with
// the expected instrument identity (output forced off). When no port
// matches, construction fails entirely: the driver is never usable
// half-initialized.
func (f *Finder) Find(ctx context.Context) (*gpd.Driver, *model.InstrumentInfo, error) {
	candidates, err := f.candidates()
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: no serial ports available", driverpkg.ErrNotFound)
	}

	if f.usb != nil {
		if hints := f.usb.Hints(); len(hints) > 0 {
			f.logger.Info("USB serial bridges attached", zap.Strings("hints", hints))
		}
	}

	f.logger.Info("Scanning serial ports for instrument",
		zap.Strings("candidates", candidates),
		zap.String("identity_prefix", gpd.IdentityPrefix),
	)

	for _, name := range candidates {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		drv, err := f.probePort(ctx, name)
		if err != nil {
			f.logger.Debug("Port rejected", zap.String("port", name), zap.Error(err))
			continue
		}

		info := &model.InstrumentInfo{
			Identity:  drv.Identity(),
			PortName:  name,
			BaudRate:  f.config.BaudRate,
			Connected: true,
			FoundAt:   time.Now(),
		}

		f.logger.Info("Instrument found",
			zap.String("port", name),
			zap.String("identity", info.Identity),
		)

		return drv, info, nil
	}

	return nil, nil, fmt.Errorf("%w: tried %d port(s)", driverpkg.ErrNotFound, len(candidates))
}

// candidates returns the ports to try. A configured port pins the scan to
// that single device.
func (f *Finder) candidates() ([]string, error) {
	if f.config.Port != "" {
		return []string{f.config.Port}, nil
	}

	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}
	return ports, nil
}

// probePort opens one candidate and verifies instrument identity. A
// failed candidate never leaks a held port handle: Probe closes the
// connection on every failure path.
func (f *Finder) probePort(ctx context.Context, name string) (*gpd.Driver, error) {
	conn, err := openConnection(&protocol.SerialConfig{
		Port:     name,
		BaudRate: f.config.BaudRate,
		DataBits: f.config.DataBits,
		StopBits: f.config.StopBits,
		Parity:   f.config.Parity,
		Timeout:  f.config.ResponseTimeout,
	}, f.logger)
	if err != nil {
		return nil, err
	}

	return gpd.Probe(ctx, conn, name, gpd.Config{
		ResponseTimeout: f.config.ResponseTimeout,
	}, f.logger)
}

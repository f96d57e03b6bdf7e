// internal/discovery/usb_locator.go
package discovery

import (
	"fmt"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// knownBridges maps USB VID:PID pairs of serial bridges the GPD-3303S is
// commonly attached through. Presence of one of these is only a hint that
// the scan is worth running, never a positive identification.
var knownBridges = map[string]string{
	"2184:0030": "GW Instek USB CDC",
	"067b:2303": "Prolific PL2303",
	"0403:6001": "FTDI FT232R",
	"10c4:ea60": "Silicon Labs CP210x",
}

// USBLocator enumerates attached USB devices and reports known
// USB-serial bridges ahead of the serial port scan.
type USBLocator struct {
	logger *zap.Logger
}

// NewUSBLocator creates a locator.
func NewUSBLocator(logger *zap.Logger) *USBLocator {
	return &USBLocator{logger: logger.With(zap.String("component", "usb-locator"))}
}

// Hints returns human-readable descriptions of attached known bridges.
// Enumeration failures are logged and yield no hints; the serial scan
// proceeds regardless.
func (l *USBLocator) Hints() []string {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			l.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()

	var hints []string

	// The filter callback sees every attached device; returning false
	// means enumerate only, never claim.
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		key := fmt.Sprintf("%s:%s", desc.Vendor, desc.Product)
		if name, ok := knownBridges[key]; ok {
			hints = append(hints, fmt.Sprintf("%s (%s)", key, name))
		}
		return false
	})
	if err != nil {
		l.logger.Debug("USB enumeration failed", zap.Error(err))
		return nil
	}

	return hints
}

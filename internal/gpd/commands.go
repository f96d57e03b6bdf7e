// internal/gpd/commands.go
package gpd

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"psu-service/pkg/driver"
)

// IdentityPrefix is what the instrument's *IDN? reply must start with.
const IdentityPrefix = "GW INSTEK,GPD-3303S"

const (
	cmdIdentify   = "*IDN?"
	cmdErrorQuery = "ERR?"
)

// Reading replies carry a unit letter and a carriage return ahead of the
// line terminator, e.g. "12.34V\r\n". The terminator is consumed by the
// engine; the remaining fixed two-character trailer is stripped here.
const replyTrailerLen = 2

// Command composition. Voltage has 10 mV resolution, current 1 mA.

func setVoltageCmd(ch int, v decimal.Decimal) string {
	return fmt.Sprintf("VSET%d:%s", ch, v.StringFixed(2))
}

func setCurrentCmd(ch int, a decimal.Decimal) string {
	return fmt.Sprintf("ISET%d:%s", ch, a.StringFixed(3))
}

func queryVoltageCmd(ch int) string { return fmt.Sprintf("VSET%d?", ch) }
func queryCurrentCmd(ch int) string { return fmt.Sprintf("ISET%d?", ch) }

func actualVoltageCmd(ch int) string { return fmt.Sprintf("VOUT%d?", ch) }
func actualCurrentCmd(ch int) string { return fmt.Sprintf("IOUT%d?", ch) }

func saveCmd(slot int) string   { return fmt.Sprintf("SAV%d", slot) }
func recallCmd(slot int) string { return fmt.Sprintf("RCL%d", slot) }

func trackCmd(mode driver.TrackingMode) string { return fmt.Sprintf("TRACK%d", int(mode)) }

func outputCmd(on bool) string {
	if on {
		return "OUT1"
	}
	return "OUT0"
}

func beepCmd(on bool) string {
	if on {
		return "BEEP1"
	}
	return "BEEP0"
}

// parseReading strips the fixed reply trailer and parses the remainder as
// a decimal number. Failure here means the protocol stream is
// desynchronized, not that the device declined the query.
func parseReading(reply string) (decimal.Decimal, error) {
	if len(reply) <= replyTrailerLen {
		return decimal.Decimal{}, fmt.Errorf("%w: reply %q too short", driver.ErrParse, reply)
	}

	num := strings.TrimSpace(reply[:len(reply)-replyTrailerLen])
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: reply %q", driver.ErrParse, reply)
	}

	return d, nil
}

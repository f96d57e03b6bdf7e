// internal/gpd/driver_test.go
package gpd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"psu-service/pkg/driver"
)

// scriptedSupply emulates the instrument's command surface well enough to
// exercise the driver: set commands update state silently, queries answer
// with the unit-suffixed format the real device uses.
type scriptedSupply struct {
	mu   sync.Mutex
	vset map[int]string
	iset map[int]string
}

func newScriptedSupply() *scriptedSupply {
	return &scriptedSupply{
		vset: map[int]string{1: "0.00", 2: "0.00"},
		iset: map[int]string{1: "0.000", 2: "0.000"},
	}
}

func (s *scriptedSupply) respond(command string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case command == "*IDN?":
		return []byte("GW INSTEK,GPD-3303S,SN:123456,V2.10\r\n")
	case command == "ERR?":
		return []byte("\n")
	case strings.HasPrefix(command, "VSET") && strings.Contains(command, ":"):
		var ch int
		var val string
		fmt.Sscanf(command, "VSET%d:%s", &ch, &val)
		s.vset[ch] = val
		return nil
	case strings.HasPrefix(command, "ISET") && strings.Contains(command, ":"):
		var ch int
		var val string
		fmt.Sscanf(command, "ISET%d:%s", &ch, &val)
		s.iset[ch] = val
		return nil
	case strings.HasPrefix(command, "VSET") && strings.HasSuffix(command, "?"):
		var ch int
		fmt.Sscanf(command, "VSET%d?", &ch)
		return []byte(s.vset[ch] + "V\r\n")
	case strings.HasPrefix(command, "ISET") && strings.HasSuffix(command, "?"):
		var ch int
		fmt.Sscanf(command, "ISET%d?", &ch)
		return []byte(s.iset[ch] + "A\r\n")
	case strings.HasPrefix(command, "VOUT"):
		return []byte("11.98V\r\n")
	case strings.HasPrefix(command, "IOUT"):
		return []byte("0.512A\r\n")
	}

	// OUT, BEEP, TRACK, SAV, RCL are silent.
	return nil
}

func probedDriver(t *testing.T, conn *mockConn) *Driver {
	t.Helper()

	d, err := Probe(context.Background(), conn, "/dev/ttyUSB0", Config{
		ResponseTimeout: 200 * time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	return d
}

func TestProbeVerifiesIdentity(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)

	d := probedDriver(t, conn)
	defer d.Close()

	if got := d.Identity(); got != "GW INSTEK,GPD-3303S,SN:123456,V2.10" {
		t.Fatalf("identity %q not captured or not trimmed", got)
	}

	cmds := conn.commands()
	if len(cmds) < 2 || cmds[0] != "*IDN?" || cmds[1] != "OUT0" {
		t.Fatalf("probe sequence %v, want identity query then output off", cmds)
	}
}

func TestProbeRejectsForeignInstrument(t *testing.T) {
	conn := newMockConn(func(command string) []byte {
		if command == "*IDN?" {
			return []byte("RIGOL TECHNOLOGIES,DP832,DP8A0000001,00.01.16\r\n")
		}
		return nil
	})

	_, err := Probe(context.Background(), conn, "/dev/ttyUSB0", Config{}, zap.NewNop())
	if err == nil {
		t.Fatal("probe accepted a foreign instrument")
	}
	if conn.IsOpen() {
		t.Fatal("rejected candidate's port left open")
	}

	// A rejected candidate must never be told to switch its output.
	for _, cmd := range conn.commands() {
		if strings.HasPrefix(cmd, "OUT") {
			t.Fatalf("output command %q sent to unverified device", cmd)
		}
	}
}

func TestProbeTimesOutOnSilentPort(t *testing.T) {
	conn := newMockConn(nil)

	_, err := Probe(context.Background(), conn, "/dev/ttyUSB0", Config{
		ResponseTimeout: 30 * time.Millisecond,
	}, zap.NewNop())
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if conn.IsOpen() {
		t.Fatal("silent candidate's port left open")
	}
}

func TestSetVoltageVerifiedByReadBack(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	if err := d.SetVoltage(context.Background(), 1, 12.34); err != nil {
		t.Fatalf("set voltage failed: %v", err)
	}

	var sawSet, sawReadBack bool
	for _, cmd := range conn.commands() {
		if cmd == "VSET1:12.34" {
			sawSet = true
		}
		if cmd == "VSET1?" {
			sawReadBack = true
		}
	}
	if !sawSet || !sawReadBack {
		t.Fatalf("commands %v, want set followed by read-back", conn.commands())
	}
}

func TestSetCurrentUsesMilliampResolution(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	if err := d.SetCurrent(context.Background(), 2, 2.5); err != nil {
		t.Fatalf("set current failed: %v", err)
	}

	var found bool
	for _, cmd := range conn.commands() {
		if cmd == "ISET2:2.500" {
			found = true
		}
	}
	if !found {
		t.Fatalf("commands %v, want ISET2:2.500", conn.commands())
	}
}

func TestSetVoltageReadBackMismatch(t *testing.T) {
	conn := newMockConn(func(command string) []byte {
		switch {
		case command == "*IDN?":
			return []byte("GW INSTEK,GPD-3303S,SN:1,V1\r\n")
		case strings.HasSuffix(command, "?"):
			// Device reports a different value than requested.
			return []byte("11.00V\r\n")
		}
		return nil
	})
	d := probedDriver(t, conn)
	defer d.Close()

	err := d.SetVoltage(context.Background(), 1, 12.34)
	if !errors.Is(err, driver.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
}

func TestSetVoltageReadBackTimeout(t *testing.T) {
	var accepted bool
	conn := newMockConn(func(command string) []byte {
		if command == "*IDN?" {
			return []byte("GW INSTEK,GPD-3303S,SN:1,V1\r\n")
		}
		if strings.HasPrefix(command, "VSET1:") {
			accepted = true
		}
		return nil
	})
	d := probedDriver(t, conn)
	defer d.Close()

	err := d.SetVoltage(context.Background(), 1, 5)
	if !errors.Is(err, driver.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify when read-back times out", err)
	}
	if !accepted {
		t.Fatal("set command never reached the wire")
	}
}

func TestValidationRejectsBeforeWire(t *testing.T) {
	tests := []struct {
		name string
		call func(d *Driver) error
		want error
	}{
		{"channel zero", func(d *Driver) error { return d.SetVoltage(context.Background(), 0, 5) }, driver.ErrInvalidChannel},
		{"channel three", func(d *Driver) error { return d.SetVoltage(context.Background(), 3, 5) }, driver.ErrInvalidChannel},
		{"voltage zero", func(d *Driver) error { return d.SetVoltage(context.Background(), 1, 0) }, driver.ErrInvalidValue},
		{"voltage negative", func(d *Driver) error { return d.SetVoltage(context.Background(), 1, -1) }, driver.ErrInvalidValue},
		{"voltage over range", func(d *Driver) error { return d.SetVoltage(context.Background(), 1, 30.01) }, driver.ErrInvalidValue},
		{"current zero", func(d *Driver) error { return d.SetCurrent(context.Background(), 1, 0) }, driver.ErrInvalidValue},
		{"current over range", func(d *Driver) error { return d.SetCurrent(context.Background(), 1, 3.001) }, driver.ErrInvalidValue},
		{"query bad channel", func(d *Driver) error { _, err := d.GetVoltage(context.Background(), 0); return err }, driver.ErrInvalidChannel},
		{"slot zero", func(d *Driver) error { return d.SaveSettings(context.Background(), 0) }, driver.ErrInvalidSlot},
		{"slot five", func(d *Driver) error { return d.LoadSettings(context.Background(), 5) }, driver.ErrInvalidSlot},
		{"tracking out of range", func(d *Driver) error { return d.SetTracking(context.Background(), driver.TrackingMode(3)) }, driver.ErrInvalidTracking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newMockConn(newScriptedSupply().respond)
			d := probedDriver(t, conn)
			defer d.Close()

			before := len(conn.commands())

			if err := tt.call(d); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}

			if after := len(conn.commands()); after != before {
				t.Fatalf("invalid input reached the wire: %v", conn.commands()[before:])
			}
		})
	}
}

func TestBoundaryValuesAccepted(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	if err := d.SetVoltage(context.Background(), 1, 30); err != nil {
		t.Fatalf("full-scale voltage rejected: %v", err)
	}
	if err := d.SetCurrent(context.Background(), 2, 3); err != nil {
		t.Fatalf("full-scale current rejected: %v", err)
	}
}

func TestQueryTimeoutReturnsSentinel(t *testing.T) {
	conn := newMockConn(func(command string) []byte {
		if command == "*IDN?" {
			return []byte("GW INSTEK,GPD-3303S,SN:1,V1\r\n")
		}
		return nil
	})
	d := probedDriver(t, conn)
	defer d.Close()

	volts, err := d.GetVoltage(context.Background(), 1)
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if volts != driver.SentinelVoltage {
		t.Fatalf("got %g, want sentinel %g", volts, driver.SentinelVoltage)
	}

	amps, err := d.GetCurrent(context.Background(), 1)
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if amps != driver.SentinelCurrent {
		t.Fatalf("got %g, want sentinel %g", amps, driver.SentinelCurrent)
	}
}

func TestQueryGarbageReplyIsParseError(t *testing.T) {
	conn := newMockConn(func(command string) []byte {
		if command == "*IDN?" {
			return []byte("GW INSTEK,GPD-3303S,SN:1,V1\r\n")
		}
		return []byte("?!\r\n")
	})
	d := probedDriver(t, conn)
	defer d.Close()

	_, err := d.GetActualVoltage(context.Background(), 1)
	if !errors.Is(err, driver.ErrParse) {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestGetActualReadings(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	volts, err := d.GetActualVoltage(context.Background(), 1)
	if err != nil {
		t.Fatalf("actual voltage failed: %v", err)
	}
	if volts != 11.98 {
		t.Fatalf("got %g V, want 11.98", volts)
	}

	amps, err := d.GetActualCurrent(context.Background(), 2)
	if err != nil {
		t.Fatalf("actual current failed: %v", err)
	}
	if amps != 0.512 {
		t.Fatalf("got %g A, want 0.512", amps)
	}
}

func TestBeepRestoresDisabledPreference(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	if err := d.SetBeep(context.Background(), false); err != nil {
		t.Fatalf("set beep failed: %v", err)
	}

	before := len(conn.commands())
	if err := d.Beep(context.Background()); err != nil {
		t.Fatalf("beep failed: %v", err)
	}

	pulse := conn.commands()[before:]
	want := []string{"BEEP0", "BEEP1", "BEEP0"}
	if len(pulse) != len(want) {
		t.Fatalf("pulse sequence %v, want %v", pulse, want)
	}
	for i := range want {
		if pulse[i] != want[i] {
			t.Fatalf("pulse sequence %v, want %v", pulse, want)
		}
	}
}

func TestBeepKeepsEnabledPreference(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	before := len(conn.commands())
	if err := d.Beep(context.Background()); err != nil {
		t.Fatalf("beep failed: %v", err)
	}

	pulse := conn.commands()[before:]
	if len(pulse) != 2 || pulse[0] != "BEEP0" || pulse[1] != "BEEP1" {
		t.Fatalf("pulse sequence %v, want [BEEP0 BEEP1]", pulse)
	}
}

func TestReportErrorsTrimsReply(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)
	defer d.Close()

	text, err := d.ReportErrors(context.Background())
	if err != nil {
		t.Fatalf("error query failed: %v", err)
	}
	if text != "" {
		t.Fatalf("got %q, want empty error report", text)
	}
}

func TestCloseForcesOutputOff(t *testing.T) {
	conn := newMockConn(newScriptedSupply().respond)
	d := probedDriver(t, conn)

	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	cmds := conn.commands()
	if cmds[len(cmds)-1] != "OUT0" {
		t.Fatalf("last command %q, want OUT0", cmds[len(cmds)-1])
	}
	if conn.IsOpen() {
		t.Fatal("port left open after close")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestCheckConnected(t *testing.T) {
	supply := newScriptedSupply()
	answering := true

	conn := newMockConn(func(command string) []byte {
		if !answering {
			return nil
		}
		return supply.respond(command)
	})

	d, err := Probe(context.Background(), conn, "/dev/ttyUSB0", Config{
		ResponseTimeout: 30 * time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	defer d.Close()

	if !d.CheckConnected(context.Background()) {
		t.Fatal("answering instrument reported disconnected")
	}

	answering = false
	if d.CheckConnected(context.Background()) {
		t.Fatal("silent instrument reported connected")
	}
}

// internal/discovery/discovery_test.go
package discovery

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/protocol"
	driverpkg "psu-service/pkg/driver"
)

// fakePort emulates one serial device: queries are answered by the
// responder, silence otherwise.
type fakePort struct {
	mu      sync.Mutex
	closed  bool
	pending []byte
	respond func(command string) []byte
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("write on closed port")
	}

	command := strings.TrimSuffix(string(b), "\n")
	if p.respond != nil {
		if reply := p.respond(command); reply != nil {
			p.pending = append(p.pending, reply...)
		}
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.EOF
	}
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func instrumentResponder(command string) []byte {
	if command == "*IDN?" {
		return []byte("GW INSTEK,GPD-3303S,SN:424242,V2.10\r\n")
	}
	return nil
}

func testConfig() *config.InstrumentConfig {
	return &config.InstrumentConfig{
		BaudRate:        9600,
		DataBits:        8,
		StopBits:        1,
		Parity:          "none",
		ResponseTimeout: 30 * time.Millisecond,
	}
}

// withFakes swaps the package-level port hooks for the test's lifetime.
func withFakes(t *testing.T, ports []string, open func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error)) {
	t.Helper()

	origList, origOpen := listPorts, openConnection
	listPorts = func() ([]string, error) { return ports, nil }
	openConnection = open
	t.Cleanup(func() {
		listPorts, openConnection = origList, origOpen
	})
}

func TestFindSelectsAnsweringPort(t *testing.T) {
	opened := make(map[string]*fakePort)

	withFakes(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"},
		func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error) {
			port := &fakePort{}
			if cfg.Port == "/dev/ttyUSB1" {
				port.respond = instrumentResponder
			}
			opened[cfg.Port] = port
			return port, nil
		})

	finder := NewFinder(testConfig(), zap.NewNop())

	drv, info, err := finder.Find(context.Background())
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	defer drv.Close()

	if info.PortName != "/dev/ttyUSB1" {
		t.Fatalf("bound to %s, want /dev/ttyUSB1", info.PortName)
	}
	if !strings.HasPrefix(info.Identity, "GW INSTEK,GPD-3303S") {
		t.Fatalf("unexpected identity %q", info.Identity)
	}

	// Rejected candidates must not hold their ports.
	if opened["/dev/ttyUSB0"].IsOpen() {
		t.Fatal("rejected port /dev/ttyUSB0 left open")
	}
	if !opened["/dev/ttyUSB1"].IsOpen() {
		t.Fatal("accepted port closed")
	}
}

func TestFindReportsNotFoundWhenNothingAnswers(t *testing.T) {
	withFakes(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
		func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error) {
			return &fakePort{}, nil
		})

	finder := NewFinder(testConfig(), zap.NewNop())

	_, _, err := finder.Find(context.Background())
	if !errors.Is(err, driverpkg.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFindReportsNotFoundWithoutPorts(t *testing.T) {
	withFakes(t, nil, func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error) {
		t.Fatal("open called with no candidate ports")
		return nil, nil
	})

	finder := NewFinder(testConfig(), zap.NewNop())

	_, _, err := finder.Find(context.Background())
	if !errors.Is(err, driverpkg.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFindPinnedPortSkipsScan(t *testing.T) {
	var openedPorts []string

	withFakes(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
		func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error) {
			openedPorts = append(openedPorts, cfg.Port)
			return &fakePort{respond: instrumentResponder}, nil
		})

	cfg := testConfig()
	cfg.Port = "/dev/ttyACM7"

	finder := NewFinder(cfg, zap.NewNop())

	drv, info, err := finder.Find(context.Background())
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	defer drv.Close()

	if info.PortName != "/dev/ttyACM7" {
		t.Fatalf("bound to %s, want the pinned port", info.PortName)
	}
	if len(openedPorts) != 1 {
		t.Fatalf("opened %v, want only the pinned port", openedPorts)
	}
}

func TestFindSkipsUnopenablePorts(t *testing.T) {
	withFakes(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
		func(cfg *protocol.SerialConfig, logger *zap.Logger) (protocol.Connection, error) {
			if cfg.Port == "/dev/ttyUSB0" {
				return nil, errors.New("permission denied")
			}
			return &fakePort{respond: instrumentResponder}, nil
		})

	finder := NewFinder(testConfig(), zap.NewNop())

	drv, info, err := finder.Find(context.Background())
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	defer drv.Close()

	if info.PortName != "/dev/ttyUSB1" {
		t.Fatalf("bound to %s, want /dev/ttyUSB1", info.PortName)
	}
}

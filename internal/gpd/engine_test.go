// internal/gpd/engine_test.go
package gpd

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"psu-service/pkg/driver"
)

// mockConn is an in-memory Connection backed by a scripted responder.
// Read mimics a serial port with a read timeout: it returns (0, nil) when
// no data is pending and io.EOF once closed.
type mockConn struct {
	mu      sync.Mutex
	closed  bool
	pending []byte
	wrote   []string

	// respond maps a received command (terminator stripped) to reply
	// bytes. A nil responder or nil return means the device stays silent.
	respond func(command string) []byte
}

func newMockConn(respond func(string) []byte) *mockConn {
	return &mockConn{respond: respond}
}

func (c *mockConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.New("write on closed port")
	}

	command := strings.TrimSuffix(string(p), "\n")
	c.wrote = append(c.wrote, command)

	if c.respond != nil {
		if reply := c.respond(command); reply != nil {
			c.pending = append(c.pending, reply...)
		}
	}

	return len(p), nil
}

func (c *mockConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	time.Sleep(time.Millisecond)
	return 0, nil
}

// inject queues unsolicited bytes, as if the device answered late.
func (c *mockConn) inject(data []byte) {
	c.mu.Lock()
	c.pending = append(c.pending, data...)
	c.mu.Unlock()
}

func (c *mockConn) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]string, len(c.wrote))
	copy(cp, c.wrote)
	return cp
}

func (c *mockConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestEngineRoundTrip(t *testing.T) {
	conn := newMockConn(func(command string) []byte {
		if command == "VSET1?" {
			return []byte("12.34V\r\n")
		}
		return nil
	})

	e := NewEngine(conn, time.Second, zap.NewNop())
	defer e.Close()

	reply, err := e.SendAndAwait(context.Background(), "VSET1?")
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if reply != "12.34V\r" {
		t.Fatalf("got reply %q, want %q", reply, "12.34V\r")
	}
}

func TestEngineTimeout(t *testing.T) {
	conn := newMockConn(nil)

	e := NewEngine(conn, 30*time.Millisecond, zap.NewNop())
	defer e.Close()

	_, err := e.SendAndAwait(context.Background(), "VSET1?")
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestEngineDropsStaleReplyBeforeRoundTrip(t *testing.T) {
	replies := make(chan []byte, 1)
	conn := newMockConn(func(command string) []byte {
		select {
		case r := <-replies:
			return r
		default:
			return nil
		}
	})

	e := NewEngine(conn, 30*time.Millisecond, zap.NewNop())
	defer e.Close()

	// A late answer to an abandoned round trip sits in the reply slot.
	conn.inject([]byte("9.99V\r\n"))
	time.Sleep(20 * time.Millisecond)

	replies <- []byte("1.00V\r\n")
	reply, err := e.SendAndAwait(context.Background(), "VSET2?")
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if reply != "1.00V\r" {
		t.Fatalf("got stale reply %q, want %q", reply, "1.00V\r")
	}
}

func TestEngineSendDoesNotAwait(t *testing.T) {
	conn := newMockConn(nil)

	e := NewEngine(conn, time.Second, zap.NewNop())
	defer e.Close()

	start := time.Now()
	if err := e.Send(context.Background(), "OUT1"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("fire-and-forget send blocked for %v", elapsed)
	}

	cmds := conn.commands()
	if len(cmds) != 1 || cmds[0] != "OUT1" {
		t.Fatalf("wrote %v, want [OUT1]", cmds)
	}
}

func TestEngineContextCancellation(t *testing.T) {
	conn := newMockConn(nil)

	e := NewEngine(conn, time.Second, zap.NewNop())
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.SendAndAwait(ctx, "VSET1?")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	conn := newMockConn(nil)

	e := NewEngine(conn, time.Second, zap.NewNop())

	if err := e.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if conn.IsOpen() {
		t.Fatal("connection left open after close")
	}
}

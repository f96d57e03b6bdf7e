// internal/gpd/engine.go
package gpd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/protocol"
	"psu-service/pkg/driver"
)

// DefaultResponseTimeout bounds how long a round trip waits for a reply.
const DefaultResponseTimeout = 700 * time.Millisecond

// Engine runs the request/response protocol over one connection. The
// reader goroutine feeds the assembler and publishes completed replies on
// a single-slot channel; the calling thread blocks on whichever of reply
// arrival or deadline expiry happens first. Exactly one round trip is in
// flight at any time.
type Engine struct {
	conn    protocol.Connection
	logger  *zap.Logger
	timeout time.Duration

	// mu serializes round trips across callers.
	mu sync.Mutex

	asm        *Assembler
	replies    chan string
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// NewEngine wraps an open connection and starts its reader goroutine.
// A non-positive timeout falls back to DefaultResponseTimeout.
func NewEngine(conn protocol.Connection, timeout time.Duration, logger *zap.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}

	e := &Engine{
		conn:       conn,
		logger:     logger.With(zap.String("component", "engine")),
		timeout:    timeout,
		asm:        NewAssembler(),
		replies:    make(chan string, 1),
		readerDone: make(chan struct{}),
	}

	go e.readLoop()

	return e
}

// readLoop continuously reads from the connection, feeds the assembler and
// emits completed replies. It exits when the connection read fails, which
// includes the port being closed.
func (e *Engine) readLoop() {
	defer close(e.readerDone)

	buf := make([]byte, 256)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			e.logger.Debug("Reader loop stopped", zap.Error(err))
			return
		}
		if n == 0 {
			// port read timeout elapsed with no data
			continue
		}

		if line, ok := e.asm.Feed(buf[:n]); ok {
			select {
			case e.replies <- line:
			default:
				// the previous round trip was abandoned; its reply is stale
			}
		}
	}
}

// Send writes a fire-and-forget command. No deadline is armed and no reply
// is awaited; the instrument does not acknowledge these commands.
func (e *Engine) Send(ctx context.Context, command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	return e.write(command)
}

// SendAndAwait runs one full round trip: write the command, arm the reply
// deadline, and block until a complete reply is assembled or the deadline
// fires. The first of the two wins; the timer is disarmed on exit so it
// can never corrupt a later round trip.
func (e *Engine) SendAndAwait(ctx context.Context, command string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Start the round trip from a clean slate: drop any reply left over
	// from an abandoned round trip and clear partial buffer content.
	select {
	case <-e.replies:
	default:
	}
	e.asm.Reset()

	start := time.Now()
	if err := e.write(command); err != nil {
		return "", err
	}

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case reply := <-e.replies:
		e.logger.Debug("Round trip completed",
			zap.String("command", command),
			zap.String("reply", reply),
			zap.Duration("duration", time.Since(start)),
		)
		return reply, nil

	case <-timer.C:
		e.logger.Warn("Reply deadline fired",
			zap.String("command", command),
			zap.Duration("deadline", e.timeout),
		)
		return "", driver.ErrTimeout

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// write sends one command line, appending the protocol terminator.
func (e *Engine) write(command string) error {
	data := make([]byte, 0, len(command)+1)
	data = append(data, command...)
	data = append(data, terminator)

	if _, err := e.conn.Write(data); err != nil {
		return fmt.Errorf("writing command %q: %w", command, err)
	}

	return nil
}

// Close releases the connection and waits for the reader goroutine to
// finish. Safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
		<-e.readerDone
	})
	return e.closeErr
}

// internal/gpd/assembler.go
package gpd

import (
	"bytes"
	"sync"
)

// terminator frames instrument replies.
const terminator = '\n'

// Assembler accumulates bytes from the transport into the pending reply
// buffer and decides when a complete, newline-terminated reply is
// available. It is fed by the engine's reader goroutine and reset by the
// caller's thread between round trips, so all state is mutex-guarded.
type Assembler struct {
	mu  sync.Mutex
	buf []byte
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Reset discards any pending bytes. The engine calls this at the start of
// every round trip so that bytes from an abandoned round trip can never
// leak into the next reply.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.buf = a.buf[:0]
	a.mu.Unlock()
}

// Feed appends newly arrived bytes and reports whether a complete reply is
// now available. A terminator that is not the final byte of the buffer
// marks everything up to and including it as a stale fragment of an
// earlier, abandoned round trip; such fragments are discarded and never
// concatenated into the current reply.
//
// The completion predicate is: buffer non-empty after trimming AND
// terminated. A buffer holding only the terminator therefore completes
// with an empty reply.
func (a *Assembler) Feed(chunk []byte) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, chunk...)

	idx := bytes.IndexByte(a.buf, terminator)
	for idx >= 0 && idx != len(a.buf)-1 {
		a.buf = append(a.buf[:0], a.buf[idx+1:]...)
		idx = bytes.IndexByte(a.buf, terminator)
	}

	if len(a.buf) > 0 && idx >= 0 {
		line := string(a.buf[:idx])
		a.buf = a.buf[:0]
		return line, true
	}

	return "", false
}

// Pending returns a copy of the unterminated bytes currently buffered.
func (a *Assembler) Pending() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(a.buf))
	copy(cp, a.buf)
	return cp
}

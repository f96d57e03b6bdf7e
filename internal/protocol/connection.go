// internal/protocol/connection.go
package protocol

import (
	"sync"
	"time"
)

// Connection abstracts the line-level serial transport the driver writes
// commands to and reads reply bytes from.
type Connection interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	IsOpen() bool
	Close() error
}

// SerialConfig represents serial connection parameters.
type SerialConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// TransferStats tracks connection activity.
type TransferStats struct {
	mu           sync.Mutex
	BytesWritten int64
	BytesRead    int64
	WriteErrors  int64
	ReadErrors   int64
	LastActivity time.Time
}

func (s *TransferStats) addWrite(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesWritten += int64(n)
	if err != nil {
		s.WriteErrors++
	}
	s.LastActivity = time.Now()
}

func (s *TransferStats) addRead(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesRead += int64(n)
	if err != nil {
		s.ReadErrors++
	}
	s.LastActivity = time.Now()
}

// Snapshot returns a copy of the counters.
func (s *TransferStats) Snapshot() (written, read, writeErrs, readErrs int64, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BytesWritten, s.BytesRead, s.WriteErrors, s.ReadErrors, s.LastActivity
}

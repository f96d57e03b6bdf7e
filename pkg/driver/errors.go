// pkg/driver/errors.go
package driver

import "errors"

var (
	// ErrNotFound means no candidate serial port answered the identity
	// query with the expected instrument identity. Fatal at construction.
	ErrNotFound = errors.New("power supply not found on any serial port")

	// Validation errors. No command is written when these are returned.
	ErrInvalidChannel  = errors.New("channel out of range")
	ErrInvalidValue    = errors.New("value out of range")
	ErrInvalidSlot     = errors.New("memory slot out of range")
	ErrInvalidTracking = errors.New("tracking mode out of range")

	// ErrTimeout means the reply deadline fired before a complete line
	// arrived. Queries additionally return their sentinel reading.
	ErrTimeout = errors.New("instrument reply timed out")

	// ErrParse means the instrument answered but the reply was not a
	// parseable reading. Unlike a timeout this indicates protocol
	// desynchronization and is surfaced distinctly.
	ErrParse = errors.New("unparseable instrument reply")

	// ErrVerify means a set command's read-back did not match the
	// requested value.
	ErrVerify = errors.New("set value verification failed")
)

package serialmux

import (
	"io"
)

// SerialPorter is the subset of a serial port the multiplexer needs, so tests
// and replays can stand in for hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

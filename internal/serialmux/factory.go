package serialmux

import (
	"go.bug.st/serial"
)

// NewRealSerialMux opens the bridge at path and returns a SerialMux reading
// from it.
func NewRealSerialMux(path string, opts PortOptions, muxOpts ...Option) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerialMux[serial.Port](port, muxOpts...), nil
}

package serialmux

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stream names used by the bridge as the first token of every line.
const (
	StreamHeartRate = "HR"
	StreamPMD       = "PMD"
	StreamInfo      = "INFO"
	StreamError     = "ERR"
)

var ErrMalformedLine = errors.New("malformed bridge line")

// Notification is one characteristic notification relayed by the bridge.
type Notification struct {
	Stream string
	// Characteristic is set for INFO lines only.
	Characteristic string
	// Payload holds the decoded bytes, or the message text for ERR lines.
	Payload  []byte
	Received time.Time
}

// String renders the notification in bridge line format.
func (n Notification) String() string {
	switch n.Stream {
	case StreamError:
		return StreamError + " " + string(n.Payload)
	case StreamInfo:
		return fmt.Sprintf("%s %s %s", n.Stream, n.Characteristic, hex.EncodeToString(n.Payload))
	}
	return n.Stream + " " + hex.EncodeToString(n.Payload)
}

// ParseLine decodes one bridge line. Leading and trailing whitespace is
// ignored; stream names are case-insensitive.
func ParseLine(line string, received time.Time) (Notification, error) {
	line = strings.TrimSpace(line)
	stream, rest, _ := strings.Cut(line, " ")
	stream = strings.ToUpper(stream)
	rest = strings.TrimSpace(rest)

	n := Notification{Stream: stream, Received: received}
	switch stream {
	case StreamError:
		n.Payload = []byte(rest)
		return n, nil

	case StreamInfo:
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return Notification{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}
		n.Characteristic = strings.ToLower(fields[0])
		rest = fields[1]

	case StreamHeartRate, StreamPMD:
		if strings.ContainsAny(rest, " \t") {
			return Notification{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}

	default:
		return Notification{}, fmt.Errorf("%w: unknown stream in %q", ErrMalformedLine, line)
	}

	payload, err := hex.DecodeString(rest)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if len(payload) == 0 {
		return Notification{}, fmt.Errorf("%w: empty payload in %q", ErrMalformedLine, line)
	}
	n.Payload = payload
	return n, nil
}

// HeartRateCommand subscribes the bridge to heart rate notifications.
func HeartRateCommand() string { return "SUB " + StreamHeartRate }

// PMDCommand asks the bridge to write request to the PMD control point.
func PMDCommand(request []byte) string {
	return StreamPMD + " " + hex.EncodeToString(request)
}

// InfoCommand asks the bridge to read the device information characteristics.
func InfoCommand() string { return StreamInfo }

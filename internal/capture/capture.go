// Package capture records bridge notifications to PCAP files and replays
// them. Each notification is stored as the UDP payload of one packet
// carrying its bridge line, stamped with the time it was received, so
// captures open in standard packet tools.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/serialmux"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// Port is the UDP destination port notifications are written to.
const Port = 2370

const snapLen = 65536

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IPv4(127, 0, 0, 1)
	dstIP  = net.IPv4(127, 0, 0, 1)
)

// Recorder writes notifications to a PCAP stream. It is safe for
// concurrent use.
type Recorder struct {
	clock timeutil.Clock

	mu    sync.Mutex
	w     *pcapgo.Writer
	count int
}

// NewRecorder writes the PCAP file header to w and returns a Recorder.
// Notifications without a receive time are stamped with clock.
func NewRecorder(w io.Writer, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Recorder{clock: clock, w: pw}, nil
}

// Record appends one notification.
func (r *Recorder) Record(n serialmux.Notification) error {
	ts := n.Received
	if ts.IsZero() {
		ts = r.clock.Now()
	}
	data, err := encodePacket([]byte(n.String()))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of notifications recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Pump records every notification received on ch until ch closes or ctx is
// done. Write errors are logged and recording continues.
func (r *Recorder) Pump(ctx context.Context, ch <-chan serialmux.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(n); err != nil {
				monitoring.Logf("capture: %v", err)
			}
		}
	}
}

func encodePacket(payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(Port),
		DstPort: layers.UDPPort(Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialise packet: %w", err)
	}
	return buf.Bytes(), nil
}

// Replayer feeds a recorded capture back as notifications.
type Replayer struct {
	// Speed scales the gaps between packets; 1 replays in real time and
	// zero or less replays as fast as possible.
	Speed float64
	// Clock paces the replay. Nil uses the real clock.
	Clock timeutil.Clock
	// Before, when set, is called with each packet's capture time before
	// the notification is handled. Replays driving a mock clock set it here.
	Before func(time.Time)
}

// Stats summarises one replay.
type Stats struct {
	Packets   int
	Delivered int
	Skipped   int
	First     time.Time
	Last      time.Time
}

// Replay reads the PCAP stream r and calls handle for every notification in
// it, in capture order. Packets that are not notification packets or carry
// malformed lines are counted as skipped.
func (rp Replayer) Replay(ctx context.Context, r io.Reader, handle func(serialmux.Notification)) (Stats, error) {
	var st Stats
	clock := rp.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return st, fmt.Errorf("failed to open capture: %w", err)
	}
	source := gopacket.NewPacketSource(pr, pr.LinkType())

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("failed to read packet %d: %w", st.Packets+1, err)
		}
		st.Packets++

		ts := packet.Metadata().Timestamp
		n, ok := notificationOf(packet, ts)
		if !ok {
			st.Skipped++
			continue
		}

		if rp.Speed > 0 && !st.Last.IsZero() {
			if gap := ts.Sub(st.Last); gap > 0 {
				select {
				case <-ctx.Done():
					return st, ctx.Err()
				case <-clock.After(time.Duration(float64(gap) / rp.Speed)):
				}
			}
		}
		if st.First.IsZero() {
			st.First = ts
		}
		st.Last = ts

		if rp.Before != nil {
			rp.Before(ts)
		}
		handle(n)
		st.Delivered++
	}
}

func notificationOf(packet gopacket.Packet, ts time.Time) (serialmux.Notification, bool) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return serialmux.Notification{}, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || udp.DstPort != layers.UDPPort(Port) || len(udp.Payload) == 0 {
		return serialmux.Notification{}, false
	}
	n, err := serialmux.ParseLine(string(udp.Payload), ts)
	if err != nil {
		monitoring.Logf("capture: skipping packet: %v", err)
		return serialmux.Notification{}, false
	}
	return n, true
}

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/hrv.report/internal/model"
)

// NATSPublisher publishes metrics as a protobuf Struct to one subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url and keeps reconnecting forever once
// connected.
func NewNATSPublisher(url, name, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Publish(ctx context.Context, m model.Metrics) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeProto(m)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", p.subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// MetricsStruct converts m to a google.protobuf.Struct keyed by the JSON
// field names. Metrics without a value become null.
func MetricsStruct(m model.Metrics) (*structpb.Struct, error) {
	data, err := encodeJSON(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics struct: %w", err)
	}
	return s, nil
}

// EncodeProto renders m as a binary MetricsStruct.
func EncodeProto(m model.Metrics) ([]byte, error) {
	s, err := MetricsStruct(m)
	if err != nil {
		return nil, err
	}
	out, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return out, nil
}

// DecodeProto is the inverse of EncodeProto.
func DecodeProto(payload []byte) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(payload, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return s, nil
}

package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/towermap/internal/core/domain"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and makes sure the dataset stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, js, err := connect(url, "towermap-publisher")
	if err != nil {
		return nil, err
	}
	if err := ensureStream(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, js: js}, nil
}

// PublishDatasetUpdated announces a finished dataset load.
func (p *Publisher) PublishDatasetUpdated(ctx context.Context, event domain.DatasetEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(SubjectDatasetUpdated, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectDatasetUpdated, err)
	}
	return nil
}

// Connected reports whether the underlying connection is up.
func (p *Publisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

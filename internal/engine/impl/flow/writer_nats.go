package flow

import (
	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/model"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSWriter publishes one JSON message per flow report to a NATS subject.
type NATSWriter struct {
	nc      *nats.Conn
	subject string
}

// NewNATSWriter connects to the NATS server.
func NewNATSWriter(cfg config.NATSConfig) (model.Writer, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", url)
	return &NATSWriter{nc: nc, subject: cfg.Subject}, nil
}

// Name identifies the writer in logs.
func (w *NATSWriter) Name() string {
	return "nats:" + w.subject
}

// Write publishes every flow of the table and flushes the connection.
func (w *NATSWriter) Write(ctx context.Context, payload interface{}, _ string) error {
	table, ok := payload.(*Table)
	if !ok {
		return fmt.Errorf("invalid payload type for NATSWriter: expected *flow.Table, got %T", payload)
	}

	reports := table.Snapshot("flows").Reports()
	for _, report := range reports {
		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to encode flow %s: %w", report.Key, err)
		}
		if err := w.nc.Publish(w.subject, data); err != nil {
			return fmt.Errorf("failed to publish flow %s: %w", report.Key, err)
		}
	}
	if err := w.flush(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	log.Printf("Published %d flows to '%s'", len(reports), w.subject)
	return nil
}

// flush waits for the server to acknowledge the published messages.
// FlushWithContext needs a deadline, so a context without one falls back to the default timeout.
func (w *NATSWriter) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return w.nc.FlushWithContext(ctx)
	}
	return w.nc.Flush()
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.nc == nil {
		return nil
	}
	err := w.nc.Drain()
	log.Println("NATS connection drained and closed.")
	return err
}

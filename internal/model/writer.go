package model

import "context"

// Writer defines a generic interface for persisting an aggregated flow table.
type Writer interface {
	// Write takes a data payload and persists it.
	// The implementation is expected to know how to handle the payload type it receives.
	Write(ctx context.Context, payload interface{}, timestamp string) error

	// Name identifies the writer in logs.
	Name() string
}

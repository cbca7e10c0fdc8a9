// Package dispatch delivers buffered behavioural events to the remote sink
// with bounded retry and exponential backoff.
package dispatch

import (
	"context"
	"errors"
)

// ErrStatus is returned by sinks when the remote end rejects a delivery.
var ErrStatus = errors.New("dispatch: sink rejected delivery")

// Kind distinguishes the two payloads a session sends.
type Kind string

const (
	KindBatch Kind = "batch"
	KindFinal Kind = "final"
)

// Envelope is one delivery handed to a sink. Payload is a
// models.BatchRequest or a models.FinalStateRequest.
type Envelope struct {
	Kind      Kind
	ProjectID string
	SessionID string
	Payload   any
}

// Sink transmits envelopes to the behaviour ingestion endpoint.
type Sink interface {
	Send(ctx context.Context, env Envelope) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, env Envelope) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// NopSink accepts and discards every envelope.
type NopSink struct{}

// Send discards env.
func (NopSink) Send(context.Context, Envelope) error {
	return nil
}

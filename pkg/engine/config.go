package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// Config of a single session.
type Config struct {
	// ID of the session, used for logging and grouping.
	ID string `yaml:"id"`
	// DisplayManager selects the filter tee variant for non-simulcast
	// tracks, allowing subscriber branches to be throttled under
	// bandwidth pressure.
	DisplayManager bool `yaml:"displayManager"`
	// TraceContext is the parent tracing context of the session span.
	// May be nil.
	TraceContext context.Context `yaml:"-"`
	// TelemetryLabels are attached to the session span.
	TelemetryLabels []attribute.KeyValue `yaml:"-"`
}

// AddEndpointOptions control the admission of an endpoint. Specifying
// both EndpointID and PeerID is invalid.
type AddEndpointOptions struct {
	// Explicit endpoint id. Generated if empty and no PeerID is given.
	EndpointID string
	// PeerID attaches the endpoint to an existing peer; the endpoint id
	// then equals the peer id.
	PeerID string
	// Node is a deployment locality hint, stored on the record.
	Node string
}

// SubscribeOptions of a single subscription.
type SubscribeOptions struct {
	// DefaultSimulcastEncoding is the encoding initially forwarded to the
	// subscriber. Must be one of the track's encodings if set.
	DefaultSimulcastEncoding string
}

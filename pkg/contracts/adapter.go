package contracts

import (
	"context"
	"encoding/json"
)

// Adapter is the uniform boundary to one external service. The core never
// interprets the payload or the result; wire protocols live behind this
// interface.
type Adapter interface {
	// Name returns the service name the adapter serves (e.g. "ledger").
	Name() string

	// Call performs one real external attempt. Implementations must honor
	// ctx cancellation and deadline; a deadline hit is a failure for retry
	// and breaker accounting.
	Call(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// AdapterFunc adapts a function to the Adapter interface for tests and
// simple in-process services.
type AdapterFunc struct {
	ServiceName string
	Fn          func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

func (a AdapterFunc) Name() string { return a.ServiceName }

func (a AdapterFunc) Call(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return a.Fn(ctx, payload)
}

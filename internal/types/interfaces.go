// internal/types/interfaces.go
package types

import "context"

// Sink records assembled traces in an external observability backend.
// A nil error means the backend accepted the whole trace.
type Sink interface {
	Send(ctx context.Context, trace *Trace) error
}

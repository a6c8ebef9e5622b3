package notify

import "context"

// Sink is the outbound notification channel. Implementations must dedupe on
// (target, templateKey, eventKey); the engine never retries an Emit.
type Sink interface {
	Emit(ctx context.Context, target, templateKey, eventKey string, payload map[string]string) error
}

package ports

import (
	"context"

	"github.com/aretw0/orchestra/pkg/domain"
)

// NotifyHandler receives the responses gathered for a completed wait.
type NotifyHandler func(ctx context.Context, cb domain.Callback, responses map[string]domain.NotifyResponse)

// WaitNotifier implements wait-for-all over correlation ids.
//
// A wait completes once a response has been recorded for each of its ids,
// whether the response arrived before or after the wait was registered.
// The callback is delivered exactly once per wait to the handler registered
// under cb.Handler.
type WaitNotifier interface {
	WaitForAll(ctx context.Context, cb domain.Callback, correlationIDs ...string) error
	Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error
	Handle(name string, h NotifyHandler)
}

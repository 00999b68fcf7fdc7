package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
)

type wait struct {
	callback domain.Callback
	ids      []string
	uniq     []string
	pending  map[string]struct{}
}

type response struct {
	resp domain.NotifyResponse
	at   time.Time
}

// Notifier implements ports.WaitNotifier in memory.
// Responses are kept so a notification may arrive before its wait. A response
// is released once every wait that includes it has fired; responses no wait
// ever claims expire after the response TTL.
type Notifier struct {
	mu            sync.Mutex
	waits         map[*wait]struct{}
	byCorrelation map[string][]*wait
	responses     map[string]response
	refs          map[string]int
	handlers      map[string]ports.NotifyHandler
	responseTTL   time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NotifierOption configures the Notifier.
type NotifierOption func(*Notifier)

// WithNotifierLogger configures a logger for the Notifier.
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithNotifierResponseTTL bounds how long an unclaimed response is kept.
// Zero keeps unclaimed responses until a wait claims them.
func WithNotifierResponseTTL(ttl time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.responseTTL = ttl
	}
}

// NewNotifier creates a new in-memory notifier.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		waits:         make(map[*wait]struct{}),
		byCorrelation: make(map[string][]*wait),
		responses:     make(map[string]response),
		refs:          make(map[string]int),
		handlers:      make(map[string]ports.NotifyHandler),
		responseTTL:   24 * time.Hour,
		now:           time.Now,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle registers the handler invoked for callbacks named name.
func (n *Notifier) Handle(name string, h ports.NotifyHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[name] = h
}

// WaitForAll registers cb to fire once every correlation id has a response.
func (n *Notifier) WaitForAll(ctx context.Context, cb domain.Callback, correlationIDs ...string) error {
	if len(correlationIDs) == 0 {
		return fmt.Errorf("%w: wait without correlation ids", domain.ErrInvalidRequest)
	}

	n.mu.Lock()
	w := &wait{callback: cb, ids: correlationIDs, pending: make(map[string]struct{})}
	seen := make(map[string]struct{}, len(correlationIDs))
	for _, id := range correlationIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		w.uniq = append(w.uniq, id)
		n.refs[id]++
		if _, done := n.responses[id]; done {
			continue
		}
		w.pending[id] = struct{}{}
		n.byCorrelation[id] = append(n.byCorrelation[id], w)
	}
	if len(w.pending) > 0 {
		n.waits[w] = struct{}{}
		n.mu.Unlock()
		return nil
	}
	responses := n.collect(w)
	handler := n.handlers[cb.Handler]
	n.mu.Unlock()

	n.fire(ctx, handler, cb, responses)
	return nil
}

// Notify records the response for correlationID and fires every wait it completes.
func (n *Notifier) Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error {
	type ready struct {
		handler   ports.NotifyHandler
		callback  domain.Callback
		responses map[string]domain.NotifyResponse
	}

	n.mu.Lock()
	now := n.now()
	n.prune(now)
	n.responses[correlationID] = response{resp: resp, at: now}
	var fired []ready
	for _, w := range n.byCorrelation[correlationID] {
		delete(w.pending, correlationID)
		if len(w.pending) > 0 {
			continue
		}
		delete(n.waits, w)
		fired = append(fired, ready{
			handler:   n.handlers[w.callback.Handler],
			callback:  w.callback,
			responses: n.collect(w),
		})
	}
	delete(n.byCorrelation, correlationID)
	n.mu.Unlock()

	for _, r := range fired {
		n.fire(ctx, r.handler, r.callback, r.responses)
	}
	return nil
}

// collect gathers the responses of a completed wait and releases the ones no
// other wait still needs. It must be called with n.mu held.
func (n *Notifier) collect(w *wait) map[string]domain.NotifyResponse {
	out := make(map[string]domain.NotifyResponse, len(w.ids))
	for _, id := range w.ids {
		out[id] = n.responses[id].resp
	}
	for _, id := range w.uniq {
		n.refs[id]--
		if n.refs[id] > 0 {
			continue
		}
		delete(n.refs, id)
		delete(n.responses, id)
	}
	return out
}

// prune drops unclaimed responses older than the TTL. It must be called with n.mu held.
func (n *Notifier) prune(now time.Time) {
	if n.responseTTL <= 0 {
		return
	}
	for id, r := range n.responses {
		if n.refs[id] == 0 && now.Sub(r.at) > n.responseTTL {
			delete(n.responses, id)
		}
	}
}

func (n *Notifier) fire(ctx context.Context, h ports.NotifyHandler, cb domain.Callback, responses map[string]domain.NotifyResponse) {
	if h == nil {
		n.logger.Warn("No handler registered for callback", "handler", cb.Handler)
		return
	}
	h(ctx, cb, responses)
}

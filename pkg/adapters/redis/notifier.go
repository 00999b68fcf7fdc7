package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// Keys under the notifier prefix:
//
//	resp:<correlation>  response JSON
//	corr:<correlation>  set of wait ids blocked on the correlation
//	pending:<wait>      set of correlations the wait still needs
//	wait:<wait>         wait JSON, deleted by whoever completes it
var (
	waitScript = backend.NewScript(`
local prefix, wait = ARGV[1], ARGV[2]
local pending = 0
for i = 4, #ARGV do
	local id = ARGV[i]
	if redis.call("exists", prefix .. "resp:" .. id) == 0 then
		redis.call("sadd", prefix .. "pending:" .. wait, id)
		redis.call("sadd", prefix .. "corr:" .. id, wait)
		pending = pending + 1
	end
end
if pending == 0 then
	return ARGV[3]
end
redis.call("set", prefix .. "wait:" .. wait, ARGV[3])
return false
`)

	notifyScript = backend.NewScript(`
local prefix, id, ttl = ARGV[1], ARGV[2], tonumber(ARGV[4])
local key = prefix .. "resp:" .. id
if ttl > 0 then
	redis.call("set", key, ARGV[3], "EX", ttl)
else
	redis.call("set", key, ARGV[3])
end
local corr = prefix .. "corr:" .. id
local waits = redis.call("smembers", corr)
redis.call("del", corr)
local ready = {}
for _, wait in ipairs(waits) do
	local pending = prefix .. "pending:" .. wait
	redis.call("srem", pending, id)
	if redis.call("scard", pending) == 0 then
		local body = redis.call("get", prefix .. "wait:" .. wait)
		redis.call("del", prefix .. "wait:" .. wait)
		if body then
			table.insert(ready, body)
		end
	end
end
return ready
`)
)

type waitRecord struct {
	Callback       domain.Callback `json:"callback"`
	CorrelationIDs []string        `json:"correlation_ids"`
}

// Notifier implements ports.WaitNotifier on Redis, so a wait registered by
// one process can be completed by a notification sent to another. Handlers
// are process-local; every process must register the same handler names.
type Notifier struct {
	client      *backend.Client
	prefix      string
	responseTTL time.Duration
	logger      *slog.Logger

	mu       sync.RWMutex
	handlers map[string]ports.NotifyHandler
}

// NotifierOption configures the Notifier.
type NotifierOption func(*Notifier)

// WithNotifierPrefix sets the key prefix.
func WithNotifierPrefix(prefix string) NotifierOption {
	return func(n *Notifier) {
		n.prefix = prefix
	}
}

// WithResponseTTL bounds how long responses are kept. Zero keeps them forever.
func WithResponseTTL(ttl time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.responseTTL = ttl
	}
}

// WithNotifierLogger configures a logger for the Notifier.
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier creates a Redis-backed notifier.
func NewNotifier(client *backend.Client, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		client:      client,
		prefix:      DefaultPrefix + "notify:",
		responseTTL: 24 * time.Hour,
		logger:      logging.NewNop(),
		handlers:    make(map[string]ports.NotifyHandler),
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
	body, err := json.Marshal(waitRecord{Callback: cb, CorrelationIDs: correlationIDs})
	if err != nil {
		return fmt.Errorf("failed to marshal wait: %w", err)
	}

	args := make([]any, 0, len(correlationIDs)+3)
	args = append(args, n.prefix, uuid.NewString(), string(body))
	for _, id := range correlationIDs {
		args = append(args, id)
	}

	ready, err := waitScript.Run(ctx, n.client, nil, args...).Text()
	if errors.Is(err, backend.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to register wait: %w", err)
	}
	return n.fire(ctx, ready)
}

// Notify records the response for correlationID and fires every wait it completes.
func (n *Notifier) Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	ready, err := notifyScript.Run(ctx, n.client, nil,
		n.prefix, correlationID, string(body), int64(n.responseTTL/time.Second)).StringSlice()
	if err != nil {
		return fmt.Errorf("failed to notify %s: %w", correlationID, err)
	}

	var errs []error
	for _, w := range ready {
		if err := n.fire(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fire loads the responses of a completed wait and runs its handler.
func (n *Notifier) fire(ctx context.Context, body string) error {
	var w waitRecord
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return fmt.Errorf("failed to unmarshal wait: %w", err)
	}

	keys := make([]string, len(w.CorrelationIDs))
	for i, id := range w.CorrelationIDs {
		keys[i] = n.prefix + "resp:" + id
	}
	vals, err := n.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to load responses: %w", err)
	}

	responses := make(map[string]domain.NotifyResponse, len(vals))
	for i, v := range vals {
		var resp domain.NotifyResponse
		if str, ok := v.(string); ok {
			if err := json.Unmarshal([]byte(str), &resp); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
		}
		responses[w.CorrelationIDs[i]] = resp
	}

	n.mu.RLock()
	h := n.handlers[w.Callback.Handler]
	n.mu.RUnlock()
	if h == nil {
		n.logger.Warn("No handler registered for callback", "handler", w.Callback.Handler)
		return nil
	}
	h(ctx, w.Callback, responses)
	return nil
}

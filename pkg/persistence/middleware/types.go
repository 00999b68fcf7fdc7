// Package middleware decorates an InstanceStore with persistence-time
// transformations of the data instances carry.
package middleware

import "github.com/aretw0/orchestra/pkg/ports"

// Middleware allows wrapping an InstanceStore to add behavior.
type Middleware func(ports.InstanceStore) ports.InstanceStore

// Chain wraps store with mws; the first middleware is outermost.
func Chain(store ports.InstanceStore, mws ...Middleware) ports.InstanceStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

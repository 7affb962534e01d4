package middleware

import "github.com/aretw0/texrender/pkg/ports"

// Middleware allows wrapping a KeyStore to add behavior.
type Middleware func(ports.KeyStore) ports.KeyStore

// Chain applies mws so that the first one is the outermost.
func Chain(store ports.KeyStore, mws ...Middleware) ports.KeyStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

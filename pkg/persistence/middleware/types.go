package middleware

import "github.com/aretw0/lattice/pkg/ports"

// Middleware allows wrapping a MutationStore to add behavior.
type Middleware func(ports.MutationStore) ports.MutationStore

// Chain applies middlewares so the first one listed is the outermost.
func Chain(store ports.MutationStore, mws ...Middleware) ports.MutationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

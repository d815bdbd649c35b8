// Package index merges independently arriving implementor shards into one
// registry and renders expansion panels from it.
//
// Shards may arrive before the registry exists. A Registrar queues them and
// a Consumer drains the queue once, in arrival order, when it initializes.
// After that every shard merges directly. Both share one State.
package index

// Index bundles a State with the Registrar and Consumer working on it.
type Index struct {
	*Registrar
	*Consumer
	State *State
}

func New(opts RenderOptions, stateOpts ...StateOption) *Index {
	state := NewState(stateOpts...)
	return &Index{
		Registrar: NewRegistrar(state),
		Consumer:  NewConsumer(state, opts),
		State:     state,
	}
}

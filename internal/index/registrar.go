package index

// Registrar is the entry point producers call with shards. It may be used
// before or after the Consumer initializes the shared State.
type Registrar struct {
	state *State
}

func NewRegistrar(state *State) *Registrar {
	return &Registrar{state: state}
}

// Register merges a shard into the registry, or queues it when the registry
// has not been initialized yet. Registering the same content twice appends it
// twice under MergeAppend.
func (r *Registrar) Register(shard Shard) error {
	if err := shard.validate(); err != nil {
		return err
	}
	return r.register(pendingShard{shard: shard, order: shard.names()})
}

// RegisterJSON decodes a wire shard and registers it. Decoding happens before
// any state is touched, so a malformed payload leaves the registry unchanged.
func (r *Registrar) RegisterJSON(data []byte) error {
	shard, order, err := DecodeShard(data)
	if err != nil {
		return err
	}
	if err := shard.validate(); err != nil {
		return err
	}
	return r.register(pendingShard{shard: shard, order: order})
}

func (r *Registrar) register(p pendingShard) error {
	s := r.state
	s.mu.Lock()
	if s.lifecycle != Initialized {
		// The queue keeps its own copy; producers may reuse their map.
		s.pending = append(s.pending, pendingShard{shard: cloneShard(p.shard), order: p.order})
		queued := len(s.pending)
		s.mu.Unlock()
		s.logger.Debug("shard queued", "units", len(p.order), "pending", queued)
		return nil
	}
	s.mergeLocked(p)
	s.mu.Unlock()

	s.logger.Debug("shard merged", "units", len(p.order))
	s.notify(p.order)
	return nil
}

func cloneShard(shard Shard) Shard {
	out := make(Shard, len(shard))
	for name, records := range shard {
		out[name] = cloneRecords(records)
	}
	return out
}

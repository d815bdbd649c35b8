package index

import (
	"log/slog"
	"slices"
	"sync"
)

// Lifecycle is the registry's one-way state machine.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Initialized
)

func (l Lifecycle) String() string {
	if l == Initialized {
		return "initialized"
	}
	return "uninitialized"
}

// MergeMode decides what a later shard does to an existing unit.
type MergeMode int

const (
	// MergeAppend concatenates records in registration order.
	MergeAppend MergeMode = iota
	// MergeReplace drops earlier records for a unit when a later shard names it.
	MergeReplace
)

func (m MergeMode) String() string {
	if m == MergeReplace {
		return "replace"
	}
	return "append"
}

// ParseMergeMode maps a config value to a MergeMode. Unknown values fall back
// to append.
func ParseMergeMode(s string) MergeMode {
	if s == "replace" {
		return MergeReplace
	}
	return MergeAppend
}

type pendingShard struct {
	shard Shard
	order []string
}

// State is the registry and pending queue shared by a Registrar and a
// Consumer. Every method holds mu for its whole mutation, so operations never
// interleave partially.
type State struct {
	mu        sync.Mutex
	lifecycle Lifecycle
	mode      MergeMode
	registry  map[string][]Record
	units     []string // first-registration order
	pending   []pendingShard
	logger    *slog.Logger

	subMu  sync.Mutex
	subs   map[int]func(names []string)
	nextID int
}

// StateOption configures a State.
type StateOption func(*State)

// WithMergeMode sets the merge behavior for repeated unit names.
func WithMergeMode(mode MergeMode) StateOption {
	return func(s *State) { s.mode = mode }
}

// WithLogger attaches a logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) StateOption {
	return func(s *State) { s.logger = logger }
}

func NewState(opts ...StateOption) *State {
	s := &State{
		lifecycle: Uninitialized,
		logger:    slog.Default(),
		subs:      make(map[int]func([]string)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lifecycle reports the current registry state.
func (s *State) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Pending reports how many shards are waiting for initialization.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Units lists registered unit names in first-registration order.
func (s *State) Units() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.units)
}

// RecordCount is the total number of records across all units.
func (s *State) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, records := range s.registry {
		n += len(records)
	}
	return n
}

// Subscribe registers fn to receive the unit names touched by each committed
// mutation. The returned func removes the subscription.
func (s *State) Subscribe(fn func(names []string)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *State) notify(names []string) {
	if len(names) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func([]string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(names))
	}
}

// mergeLocked applies one shard to the registry. Callers hold mu and have
// already validated the shard.
func (s *State) mergeLocked(p pendingShard) {
	for _, name := range p.order {
		records := cloneRecords(p.shard[name])
		existing, seen := s.registry[name]
		if !seen {
			s.units = append(s.units, name)
		}
		if s.mode == MergeReplace {
			existing = nil
		}
		if existing == nil {
			existing = []Record{}
		}
		s.registry[name] = append(existing, records...)
	}
}

// lookupLocked returns a copy of a unit's records.
func (s *State) lookupLocked(name string) ([]Record, bool) {
	if s.lifecycle != Initialized {
		return nil, false
	}
	records, ok := s.registry[name]
	if !ok {
		return nil, false
	}
	return cloneRecords(records), true
}

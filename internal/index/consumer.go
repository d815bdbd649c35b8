package index

import (
	"slices"
)

// RenderOptions controls how records become panel entries.
type RenderOptions struct {
	// CurrentCrate is the crate the page documents. ExpandAll skips it since
	// the page already inlines its own impls.
	CurrentCrate string
	// IgnoreExternCrates are skipped by ExpandAll as well.
	IgnoreExternCrates []string
	// AnchorPrefix prefixes generated entry IDs. Defaults to "impl-".
	AnchorPrefix string
	// Rewrite, if set, is applied to each record's content before rendering.
	Rewrite func(content string) string
}

// Consumer owns initialization and read access to a State.
type Consumer struct {
	state *State
	opts  RenderOptions
}

func NewConsumer(state *State, opts RenderOptions) *Consumer {
	if opts.AnchorPrefix == "" {
		opts.AnchorPrefix = "impl-"
	}
	return &Consumer{state: state, opts: opts}
}

// Initialize creates the registry and drains the pending queue in arrival
// order. Later calls are no-ops.
func (c *Consumer) Initialize() {
	s := c.state
	s.mu.Lock()
	if s.lifecycle == Initialized {
		s.mu.Unlock()
		return
	}
	s.registry = make(map[string][]Record)
	s.lifecycle = Initialized
	pending := s.pending
	s.pending = nil

	var touched []string
	for _, p := range pending {
		s.mergeLocked(p)
		touched = append(touched, p.order...)
	}
	s.mu.Unlock()

	s.logger.Debug("registry initialized", "flushed", len(pending))
	s.notify(dedupe(touched))
}

// Lookup returns the current merged records for a unit.
func (c *Consumer) Lookup(name string) ([]Record, error) {
	s := c.state
	s.mu.Lock()
	records, ok := s.lookupLocked(name)
	s.mu.Unlock()
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return records, nil
}

// Expand renders every record currently known for name into target. The
// target is reset first so repeated calls always show the full sequence. On
// a miss the target is left untouched.
func (c *Consumer) Expand(name string, target RenderTarget) error {
	records, err := c.Lookup(name)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return &NotFoundError{Name: name}
	}

	anchors := newAnchors(c.opts.AnchorPrefix)
	entries := c.entries(name, records, anchors, nil)

	target.Reset()
	for _, e := range entries {
		target.Append(e)
	}
	return nil
}

// ExpandAll renders every unit except the current crate and ignored extern
// crates, in first-registration order. A synthetic record is dropped once any
// of its types has already been shown.
func (c *Consumer) ExpandAll(target RenderTarget) error {
	s := c.state
	s.mu.Lock()
	if s.lifecycle != Initialized {
		s.mu.Unlock()
		return &NotFoundError{Name: "*"}
	}
	units := slices.Clone(s.units)
	snapshot := make(map[string][]Record, len(units))
	for _, name := range units {
		snapshot[name] = cloneRecords(s.registry[name])
	}
	s.mu.Unlock()

	anchors := newAnchors(c.opts.AnchorPrefix)
	inlined := make(map[string]bool)

	var entries []Entry
	for _, name := range units {
		if name == c.opts.CurrentCrate || slices.Contains(c.opts.IgnoreExternCrates, name) {
			continue
		}
		entries = append(entries, c.entries(name, snapshot[name], anchors, inlined)...)
	}
	if len(entries) == 0 {
		return &NotFoundError{Name: "*"}
	}

	target.Reset()
	for _, e := range entries {
		target.Append(e)
	}
	return nil
}

func (c *Consumer) entries(unit string, records []Record, anchors *anchors, inlined map[string]bool) []Entry {
	entries := make([]Entry, 0, len(records))
	prevKey := ""
	for _, r := range records {
		if inlined != nil && r.Synthetic && alreadyInlined(r.Types, inlined) {
			continue
		}

		content := r.Content
		if c.opts.Rewrite != nil {
			content = c.opts.Rewrite(content)
		}

		key := r.typeKey()
		entries = append(entries, Entry{
			ID:        anchors.next(anchorLabel(unit, r.Types)),
			Crate:     unit,
			Content:   content,
			Synthetic: r.Synthetic,
			Types:     slices.Clone(r.Types),
			Grouped:   key != "" && key == prevKey,
		})
		prevKey = key
	}
	return entries
}

// alreadyInlined marks types as seen and reports whether one was seen
// before. Types preceding the first repeat stay marked.
func alreadyInlined(types []string, inlined map[string]bool) bool {
	for _, t := range types {
		if inlined[t] {
			return true
		}
		inlined[t] = true
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

package index

import (
	"slices"
	"sort"
	"strings"
)

// Record is one pre-rendered implementor entry produced by the documentation
// compiler. Content is an opaque HTML blob; Types lists the concrete types the
// entry applies to.
type Record struct {
	Content   string   `json:"text"`
	Synthetic bool     `json:"synthetic,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// Shard maps compilation-unit names to the records that unit contributes.
type Shard map[string][]Record

func (r Record) clone() Record {
	r.Types = slices.Clone(r.Types)
	return r
}

func cloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.clone()
	}
	return out
}

// typeKey identifies a record's type-tag set independent of tag order.
func (r Record) typeKey() string {
	if len(r.Types) == 0 {
		return ""
	}
	tags := slices.Clone(r.Types)
	sort.Strings(tags)
	return strings.Join(tags, "\x00")
}

// validate checks the whole shard before anything is applied.
func (s Shard) validate() error {
	if s == nil {
		return invalid(nil, "shard is nil")
	}
	for name, records := range s {
		if strings.TrimSpace(name) == "" {
			return invalid(nil, "empty compilation unit name")
		}
		for i, r := range records {
			if r.Content == "" {
				return invalid(nil, "%s: record %d has no content", name, i)
			}
		}
	}
	return nil
}

// names returns the shard's unit names in a stable order so log output and
// first-seen ordering do not depend on map iteration.
func (s Shard) names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

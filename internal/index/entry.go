package index

import (
	"strconv"
	"strings"
)

// Entry is one rendered row of an expansion panel.
type Entry struct {
	ID        string   `json:"id"`
	Crate     string   `json:"crate"`
	Content   string   `json:"content"`
	Synthetic bool     `json:"synthetic,omitempty"`
	Types     []string `json:"types,omitempty"`
	// Grouped is set when the previous entry had the same type-tag set, so
	// the target can render both under one heading.
	Grouped bool `json:"grouped,omitempty"`
}

// RenderTarget receives a panel. Expand always calls Reset before the first
// Append, and never touches the target when there is nothing to render.
type RenderTarget interface {
	Reset()
	Append(e Entry)
}

// EntryList is a RenderTarget that just keeps the entries.
type EntryList struct {
	Entries []Entry
}

func (l *EntryList) Reset()         { l.Entries = nil }
func (l *EntryList) Append(e Entry) { l.Entries = append(l.Entries, e) }

type anchors struct {
	prefix string
	used   map[string]int
}

func newAnchors(prefix string) *anchors {
	return &anchors{prefix: prefix, used: make(map[string]int)}
}

// next returns a page-unique ID, suffixing -1, -2, ... on repeats.
func (a *anchors) next(label string) string {
	id := a.prefix + slug(label)
	n, seen := a.used[id]
	a.used[id] = n + 1
	if !seen {
		return id
	}
	return id + "-" + strconv.Itoa(n)
}

func anchorLabel(unit string, types []string) string {
	if len(types) == 0 {
		return unit
	}
	return strings.Join(types, "-")
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

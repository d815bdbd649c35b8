// Package render turns expansion panels into markdown or HTML.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/jcdickinson/implindex/internal/index"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Target is a RenderTarget that can also produce its final document.
type Target interface {
	index.RenderTarget
	String() string
}

// NewTarget returns a target for format, defaulting to markdown.
func NewTarget(format, title string) (Target, error) {
	switch format {
	case "", FormatMarkdown:
		return &MarkdownTarget{Title: title}, nil
	case FormatHTML:
		return &HTMLTarget{Title: title}, nil
	default:
		return nil, fmt.Errorf("unknown render format %q", format)
	}
}

// MarkdownTarget renders entries as a markdown document with one section
// per crate, followed by auto trait implementations.
type MarkdownTarget struct {
	Title   string
	entries []index.Entry
}

func (t *MarkdownTarget) Reset()               { t.entries = nil }
func (t *MarkdownTarget) Append(e index.Entry) { t.entries = append(t.entries, e) }
func (t *MarkdownTarget) Len() int             { return len(t.entries) }

func (t *MarkdownTarget) String() string {
	var b strings.Builder
	title := t.Title
	if title == "" {
		title = "Implementors"
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))

	regular, synthetic := split(t.entries)
	writeMarkdownList(&b, regular, "##")
	if len(synthetic) > 0 {
		b.WriteString("# Auto Trait Implementations\n\n")
		writeMarkdownList(&b, synthetic, "##")
	}
	return b.String()
}

func writeMarkdownList(b *strings.Builder, entries []index.Entry, heading string) {
	crate := ""
	for i, e := range entries {
		if i == 0 || e.Crate != crate {
			if i > 0 {
				b.WriteString("\n")
			}
			crate = e.Crate
			b.WriteString(fmt.Sprintf("%s %s\n\n", heading, crate))
		}
		indent := ""
		if e.Grouped {
			indent = "  "
		}
		b.WriteString(fmt.Sprintf("%s- %s\n", indent, ToMarkdown(e.Content)))
	}
	if len(entries) > 0 {
		b.WriteString("\n")
	}
}

// HTMLTarget renders entries the way a docs page lays out its implementors
// list: one <section> per entry with the record content as its code header.
type HTMLTarget struct {
	Title   string
	entries []index.Entry
}

func (t *HTMLTarget) Reset()               { t.entries = nil }
func (t *HTMLTarget) Append(e index.Entry) { t.entries = append(t.entries, e) }
func (t *HTMLTarget) Len() int             { return len(t.entries) }

func (t *HTMLTarget) String() string {
	var b strings.Builder
	if t.Title != "" {
		b.WriteString(fmt.Sprintf("<h2 class=\"section-header\">%s</h2>\n", html.EscapeString(t.Title)))
	}
	regular, synthetic := split(t.entries)
	writeHTMLList(&b, "implementors-list", regular)
	if len(synthetic) > 0 {
		writeHTMLList(&b, "synthetic-implementors-list", synthetic)
	}
	return b.String()
}

func writeHTMLList(b *strings.Builder, id string, entries []index.Entry) {
	b.WriteString(fmt.Sprintf("<div id=\"%s\">\n", id))
	for _, e := range entries {
		class := "impl"
		if e.Grouped {
			class += " grouped"
		}
		b.WriteString(fmt.Sprintf("<section id=\"%s\" class=\"%s\" data-crate=\"%s\">", html.EscapeString(e.ID), class, html.EscapeString(e.Crate)))
		b.WriteString(fmt.Sprintf("<a href=\"#%s\" class=\"anchor\">§</a>", html.EscapeString(e.ID)))
		b.WriteString("<h3 class=\"code-header\">")
		b.WriteString(e.Content)
		b.WriteString("</h3></section>\n")
	}
	b.WriteString("</div>\n")
}

// split separates regular from synthetic entries. An entry stays grouped
// only while it still follows its original predecessor.
func split(entries []index.Entry) (regular, synthetic []index.Entry) {
	for i, e := range entries {
		if e.Grouped {
			e.Grouped = i > 0 && entries[i-1].Synthetic == e.Synthetic && entries[i-1].Crate == e.Crate
		}
		if e.Synthetic {
			synthetic = append(synthetic, e)
		} else {
			regular = append(regular, e)
		}
	}
	return regular, synthetic
}

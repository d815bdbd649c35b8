package render

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// absoluteHrefRe matches hrefs that already carry a scheme or are
// protocol-relative.
var absoluteHrefRe = regexp.MustCompile(`^(?:[a-z+]+:)?//`)

func parseFragment(content string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(content), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
}

// RewriteHrefs prefixes every relative link in an HTML fragment with
// rootPath. Fragment links (#...) and absolute URLs are left alone. Content
// that does not parse is returned unchanged.
func RewriteHrefs(content, rootPath string) string {
	if rootPath == "" || !strings.Contains(content, "href") {
		return content
	}
	nodes, err := parseFragment(content)
	if err != nil {
		return content
	}

	changed := false
	for _, n := range nodes {
		walk(n, func(n *html.Node) {
			if n.Type != html.ElementNode || n.DataAtom != atom.A {
				return
			}
			for i, a := range n.Attr {
				if a.Key != "href" || a.Val == "" || strings.HasPrefix(a.Val, "#") || absoluteHrefRe.MatchString(a.Val) {
					continue
				}
				n.Attr[i].Val = rootPath + a.Val
				changed = true
			}
		})
	}
	if !changed {
		return content
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return content
		}
	}
	return buf.String()
}

// ToMarkdown flattens an HTML fragment into one line of inline markdown:
// links become [text](href), <code> becomes backticks, everything else is
// reduced to its text.
func ToMarkdown(content string) string {
	nodes, err := parseFragment(content)
	if err != nil {
		return collapseSpace(content)
	}
	var b strings.Builder
	for _, n := range nodes {
		writeMarkdown(&b, n)
	}
	return collapseSpace(b.String())
}

func writeMarkdown(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(escapeMarkdown(n.Data))
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeMarkdown(b, c)
		}
		return
	}

	switch n.DataAtom {
	case atom.A:
		href := attr(n, "href")
		var inner strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeMarkdown(&inner, c)
		}
		text := collapseSpace(inner.String())
		if href == "" || text == "" {
			b.WriteString(text)
			return
		}
		b.WriteString("[" + text + "](" + href + ")")
	case atom.Code:
		b.WriteString("`" + collapseSpace(textOf(n)) + "`")
	case atom.Br:
		b.WriteString(" ")
	case atom.Script, atom.Style:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeMarkdown(b, c)
		}
		if isBlock(n.DataAtom) {
			b.WriteString(" ")
		}
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.P, atom.Section, atom.Details, atom.Summary, atom.H1, atom.H2, atom.H3, atom.H4, atom.Li:
		return true
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

var markdownEscaper = strings.NewReplacer(
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`[`, `\[`,
	`]`, `\]`,
	`<`, `\<`,
	`>`, `\>`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

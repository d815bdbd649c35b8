package markdown

import (
	"net/url"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmparser "github.com/gomarkdown/markdown/parser"
	"gopkg.in/yaml.v3"
)

// RewriteLinks rewrites markdown link destinations through mapDest. It parses
// the markdown to AST to find every link destination, then performs targeted
// string replacements so the original formatting survives. mapDest returns
// false to keep a destination as is.
func RewriteLinks(src string, mapDest func(dest string) (string, bool)) string {
	if mapDest == nil {
		return src
	}

	doc := gm.Parse([]byte(src), gmparser.NewWithExtensions(
		gmparser.CommonExtensions|gmparser.Autolink,
	))

	seen := make(map[string]bool)
	type replacement struct {
		oldDest string
		newDest string
	}
	var replacements []replacement

	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		link, ok := node.(*ast.Link)
		if !ok {
			return ast.GoToNext
		}
		dest := string(link.Destination)
		if seen[dest] {
			return ast.GoToNext
		}
		seen[dest] = true
		if newDest, ok := mapDest(dest); ok && newDest != dest {
			replacements = append(replacements, replacement{dest, newDest})
		}
		return ast.GoToNext
	})

	if len(replacements) == 0 {
		return src
	}

	result := src
	for _, r := range replacements {
		result = strings.ReplaceAll(result, "]("+r.oldDest+")", "]("+r.newDest+")")
	}

	// Reference-style definitions: [ref]: destination
	refMap := make(map[string]string, len(replacements))
	for _, r := range replacements {
		refMap["]: "+r.oldDest] = "]: " + r.newDest
	}
	lines := strings.Split(result, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for oldSuffix, newSuffix := range refMap {
			if strings.HasSuffix(trimmed, oldSuffix) {
				lines[i] = strings.Replace(line, oldSuffix, newSuffix, 1)
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// AbsolutizeLinks resolves every relative link destination against base, so
// a panel rendered for a docs page stays usable outside the browser.
// Fragment-only links and links that already have a scheme are kept.
func AbsolutizeLinks(src, base string) string {
	if base == "" {
		return src
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return src
	}
	return RewriteLinks(src, func(dest string) (string, bool) {
		if dest == "" || strings.HasPrefix(dest, "#") {
			return "", false
		}
		ref, err := url.Parse(dest)
		if err != nil || ref.IsAbs() || ref.Host != "" {
			return "", false
		}
		return baseURL.ResolveReference(ref).String(), true
	})
}

// AddFrontMatter prepends a YAML front-matter block with the given keys,
// sorted.
func AddFrontMatter(src string, fields map[string]any) string {
	if len(fields) == 0 {
		return src
	}

	out, err := yaml.Marshal(fields)
	if err != nil {
		return src
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(out)
	b.WriteString("---\n\n")
	b.WriteString(src)
	return b.String()
}

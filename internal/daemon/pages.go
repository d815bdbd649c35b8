package daemon

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/index"
	"github.com/jcdickinson/implindex/internal/render"
	"github.com/jcdickinson/implindex/internal/shard"
)

// pageSet owns one index per documentation page.
type pageSet struct {
	cfg config.IndexConfig

	mu    sync.Mutex
	pages map[string]*index.Index
}

func newPageSet(cfg config.IndexConfig) *pageSet {
	return &pageSet{cfg: cfg, pages: make(map[string]*index.Index)}
}

// get returns the index for page, creating it when create is set.
func (p *pageSet) get(page string, create bool) (*index.Index, bool) {
	page = shard.PageKey(page)
	p.mu.Lock()
	ix, ok := p.pages[page]
	if ok || !create {
		p.mu.Unlock()
		return ix, ok
	}
	ix = index.New(p.renderOptions(page),
		index.WithMergeMode(index.ParseMergeMode(p.cfg.MergeMode)),
		index.WithLogger(slog.Default().With("page", page)),
	)
	p.pages[page] = ix
	p.mu.Unlock()
	return ix, true
}

// registrar adapts get for the shard loader, which always creates pages.
func (p *pageSet) registrar(page string) shard.Registrar {
	ix, _ := p.get(page, true)
	return ix
}

func (p *pageSet) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.pages))
	for name := range p.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *pageSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

func (p *pageSet) renderOptions(page string) index.RenderOptions {
	opts := index.RenderOptions{
		CurrentCrate:       p.cfg.CurrentCrate,
		IgnoreExternCrates: p.cfg.IgnoreExternCrates,
	}
	if opts.CurrentCrate == "" {
		opts.CurrentCrate = crateOf(page)
	}
	root := p.cfg.RootPath
	if root == "" {
		root = rootPathOf(page)
	}
	if root != "" {
		opts.Rewrite = func(content string) string {
			return render.RewriteHrefs(content, root)
		}
	}
	return opts
}

// crateOf returns the crate that owns the page's trait or type.
func crateOf(page string) string {
	crate, _, _ := strings.Cut(shard.DocPath(page), "/")
	return crate
}

// rootPathOf returns the relative path from the page to the docs root.
func rootPathOf(page string) string {
	return strings.Repeat("../", strings.Count(shard.DocPath(page), "/"))
}

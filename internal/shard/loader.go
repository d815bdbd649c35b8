package shard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jcdickinson/implindex/internal/cas"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Registrar accepts decoded shard payloads. *index.Index satisfies it.
type Registrar interface {
	RegisterJSON(data []byte) error
}

// Result reports the outcome for one shard path.
type Result struct {
	Path   string
	Page   string
	Bytes  int
	Cached bool
	Err    error
}

// Loader fetches shards concurrently and registers each one the moment it
// arrives, so registration order follows network order.
type Loader struct {
	source      Source
	concurrency int
	logger      *slog.Logger

	// Refresh bypasses the on-disk cache for reads. Fetched bodies are still
	// written back.
	Refresh bool
	// NoCache disables the on-disk cache entirely.
	NoCache bool

	group singleflight.Group
}

func NewLoader(source Source, concurrency int, logger *slog.Logger) *Loader {
	if concurrency <= 0 {
		concurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{source: source, concurrency: concurrency, logger: logger}
}

type fetched struct {
	payload []byte
	cached  bool
}

// Fetch returns the JSON payload for a shard path. Concurrent calls for the
// same path share one fetch.
func (l *Loader) Fetch(ctx context.Context, path string) ([]byte, bool, error) {
	v, err, _ := l.group.Do(path, func() (interface{}, error) {
		location := l.source.Location(path)
		if !l.NoCache && !l.Refresh {
			if body, ok := cas.Lookup(location); ok {
				payload, err := Extract(body)
				if err == nil {
					return fetched{payload: payload, cached: true}, nil
				}
				l.logger.Warn("discarding unreadable cached shard", "location", location, "error", err)
			}
		}

		body, err := l.source.Fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		payload, err := Extract(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		if !l.NoCache {
			if _, err := cas.Store(location, body); err != nil {
				l.logger.Warn("caching shard", "location", location, "error", err)
			}
		}
		return fetched{payload: payload}, nil
	})
	if err != nil {
		return nil, false, err
	}
	f := v.(fetched)
	return f.payload, f.cached, nil
}

// Load fetches every path and registers it with the registrar resolve
// returns for its page. Paths naming the same source location are loaded
// once, keeping the first. Per-path failures land in the results; the
// returned error is only set when ctx is cancelled. progress, if non-nil, is
// called once per loaded path in completion order and never concurrently.
func (l *Loader) Load(ctx context.Context, paths []string, resolve func(page string) Registrar, progress func(Result)) ([]Result, error) {
	paths = l.uniquePaths(paths)
	results := make([]Result, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for i, p := range paths {
		g.Go(func() error {
			res := Result{Path: p, Page: PageKey(p)}
			payload, cached, err := l.Fetch(gctx, p)
			if err == nil {
				res.Bytes = len(payload)
				res.Cached = cached
				err = resolve(res.Page).RegisterJSON(payload)
			}
			if err != nil {
				res.Err = err
				l.logger.Debug("shard load failed", "path", p, "error", err)
			}

			mu.Lock()
			results[i] = res
			if progress != nil {
				progress(res)
			}
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results, ctx.Err()
}

func (l *Loader) uniquePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		loc := l.source.Location(p)
		if seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, p)
	}
	return out
}

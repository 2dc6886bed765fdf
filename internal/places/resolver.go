package places

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

// Resolver maps free-text area names to reference places. Lookups are cached
// by normalized key for the life of the process, and concurrent misses on the
// same key share one backend call.
type Resolver struct {
	backend   Backend
	places    *lru.Cache[string, []domain.PlaceRecord]
	ancestors *lru.Cache[string, []string]
	group     singleflight.Group
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewResolver creates a Resolver holding at most cacheSize entries per cache.
func NewResolver(backend Backend, cacheSize int, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		backend:   backend,
		places:    newCache[[]domain.PlaceRecord](cacheSize),
		ancestors: newCache[[]string](cacheSize),
		logger:    logger,
		metrics:   metrics,
	}
}

type mention struct {
	name       string
	key        string
	candidates []domain.PlaceRecord
}

// Resolve returns the places named by names. Unmatched names are omitted, and
// a parent is dropped when any of its descendants is also in the result.
// Approximate matching tries the level most exact matches share first, then
// every level. Errors are ctx's own error or a backend failure wrapped in
// domain.ErrResolverBackend.
func (r *Resolver) Resolve(ctx context.Context, names []string) ([]domain.PlaceRecord, error) {
	var (
		resolved []domain.PlaceRecord
		mentions []*mention
	)

	for _, name := range names {
		key := Normalize(name)
		if key == "" {
			continue
		}
		if targets := infrastructureTargets(key); targets != nil {
			recs, err := r.expandInfrastructure(ctx, targets)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, recs...)
			continue
		}
		recs, err := r.exactWithDirection(ctx, key)
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, &mention{name: name, key: key, candidates: recs})
	}

	hint := levelHint(mentions)
	for _, m := range mentions {
		if len(m.candidates) == 0 {
			recs, err := r.approximate(ctx, m.key, hint)
			if err == nil && len(recs) == 0 && hint != domain.LevelAny {
				// The hint is a preference; a misspelled child of a named
				// province must still resolve.
				recs, err = r.approximate(ctx, m.key, domain.LevelAny)
			}
			if err != nil {
				return nil, err
			}
			m.candidates = recs
		}
		if len(m.candidates) == 0 {
			r.metrics.PlacesUnresolved.Inc()
			r.logger.Debug("place name unresolved", "name", m.name, "key", m.key, "level_hint", string(hint))
			continue
		}
		resolved = append(resolved, pick(m.candidates, hint))
	}

	return r.dropAncestors(ctx, dedupe(resolved))
}

// exactWithDirection tries key as written, then its canonical directional
// form ("upper sindh" → "north sindh"), then the bare base region.
func (r *Resolver) exactWithDirection(ctx context.Context, key string) ([]domain.PlaceRecord, error) {
	recs, err := r.exact(ctx, key)
	if err != nil || len(recs) > 0 {
		return recs, err
	}
	d, ok := Canonicalize(key)
	if !ok {
		return nil, nil
	}
	if canonical := d.Key(); canonical != key {
		recs, err = r.exact(ctx, canonical)
		if err != nil || len(recs) > 0 {
			return recs, err
		}
	}
	return r.exact(ctx, d.Base)
}

func (r *Resolver) expandInfrastructure(ctx context.Context, targets []string) ([]domain.PlaceRecord, error) {
	var out []domain.PlaceRecord
	for _, t := range targets {
		recs, err := r.exact(ctx, Normalize(t))
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			r.logger.Warn("infrastructure target missing from reference data", "target", t)
			continue
		}
		out = append(out, pick(recs, domain.LevelDistrict))
	}
	return out, nil
}

func (r *Resolver) exact(ctx context.Context, key string) ([]domain.PlaceRecord, error) {
	return cachedLoad(ctx, r, r.places, "exact:"+key, func(ctx context.Context) ([]domain.PlaceRecord, error) {
		return r.backend.Exact(ctx, key)
	})
}

func (r *Resolver) approximate(ctx context.Context, key string, level domain.Level) ([]domain.PlaceRecord, error) {
	return cachedLoad(ctx, r, r.places, "approx:"+string(level)+":"+key, func(ctx context.Context) ([]domain.PlaceRecord, error) {
		return r.backend.Approximate(ctx, key, level)
	})
}

func (r *Resolver) ancestorsOf(ctx context.Context, id string) ([]string, error) {
	return cachedLoad(ctx, r, r.ancestors, "ancestors:"+id, func(ctx context.Context) ([]string, error) {
		return r.backend.Ancestors(ctx, id)
	})
}

// cachedLoad returns the cached value for key or loads it once across all
// concurrent callers. Empty results are cached; errors are not. The shared
// load runs detached from any one caller's cancellation, and each caller
// stops waiting when its own ctx is done.
func cachedLoad[V any](ctx context.Context, r *Resolver, cache *lru.Cache[string, V], key string, load func(context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := cache.Get(key); ok {
		r.metrics.ResolverCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	r.metrics.ResolverCache.WithLabelValues("miss").Inc()

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		if v, ok := cache.Get(key); ok {
			return v, nil
		}
		v, err := load(detached)
		if err != nil {
			return nil, err
		}
		cache.Add(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("%w: %w", domain.ErrResolverBackend, res.Err)
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// levelHint is the most common level among exact matches, preferring the
// finer level on ties. It is LevelAny when nothing matched exactly.
func levelHint(mentions []*mention) domain.Level {
	counts := make(map[domain.Level]int)
	for _, m := range mentions {
		seen := make(map[domain.Level]bool)
		for _, c := range m.candidates {
			if !seen[c.Level] {
				seen[c.Level] = true
				counts[c.Level]++
			}
		}
	}
	hint, best := domain.LevelAny, 0
	for level, n := range counts {
		if n > best || (n == best && level.Rank() > hint.Rank()) {
			hint, best = level, n
		}
	}
	return hint
}

// pick chooses one record among candidates sharing a name: the one at level
// if present, otherwise the finest, then the lowest ID.
func pick(candidates []domain.PlaceRecord, level domain.Level) domain.PlaceRecord {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.Level == level && best.Level != level:
			best = c
		case (c.Level == level) == (best.Level == level) && finer(c, best):
			best = c
		}
	}
	return best
}

func dedupe(recs []domain.PlaceRecord) []domain.PlaceRecord {
	seen := make(map[string]bool, len(recs))
	out := recs[:0:0]
	for _, rec := range recs {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		out = append(out, rec)
	}
	return out
}

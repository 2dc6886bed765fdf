package places

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// nearestCentroidKM bounds how far a geocoded point may sit from a centroid
// when no boundary contains it.
const nearestCentroidKM = 25.0

// Gazetteer is an in-memory index over the administrative hierarchy. It is
// read-only after construction and safe for concurrent use.
type Gazetteer struct {
	records   []domain.PlaceRecord
	byID      map[string]int
	byKey     map[string][]int // normalized name or variant → record indexes
	keys      []indexedKey
	threshold float64
}

type indexedKey struct {
	key    string
	length int
	record int
}

type gazetteerFile struct {
	Places []domain.PlaceRecord `yaml:"places"`
}

// LoadGazetteer reads a YAML document with a top-level "places" list.
func LoadGazetteer(r io.Reader, threshold float64) (*Gazetteer, error) {
	var f gazetteerFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode gazetteer: %w", err)
	}
	return NewGazetteer(f.Places, threshold)
}

// LoadGazetteerFile opens path and calls LoadGazetteer.
func LoadGazetteerFile(path string, threshold float64) (*Gazetteer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer: %w", err)
	}
	defer f.Close()
	return LoadGazetteer(f, threshold)
}

// NewGazetteer validates and indexes records. Approximate matches must score
// at least threshold.
func NewGazetteer(records []domain.PlaceRecord, threshold float64) (*Gazetteer, error) {
	if len(records) == 0 {
		return nil, errors.New("gazetteer has no places")
	}
	g := &Gazetteer{
		records:   records,
		byID:      make(map[string]int, len(records)),
		byKey:     make(map[string][]int, len(records)),
		threshold: threshold,
	}
	for i, p := range records {
		if p.ID == "" || p.CanonicalName == "" {
			return nil, fmt.Errorf("place %d: id and name are required", i)
		}
		if p.Level.Rank() < 0 {
			return nil, fmt.Errorf("place %s: unknown level %q", p.ID, p.Level)
		}
		if _, dup := g.byID[p.ID]; dup {
			return nil, fmt.Errorf("place %s: duplicate id", p.ID)
		}
		g.byID[p.ID] = i
	}
	for i, p := range records {
		if p.ParentID != "" {
			if _, ok := g.byID[p.ParentID]; !ok {
				return nil, fmt.Errorf("place %s: unknown parent %s", p.ID, p.ParentID)
			}
		}
		seen := make(map[string]bool)
		for _, name := range p.Names() {
			key := Normalize(name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			g.byKey[key] = append(g.byKey[key], i)
			g.keys = append(g.keys, indexedKey{key: key, length: utf8.RuneCountInString(key), record: i})
		}
	}
	return g, nil
}

// Len returns the number of places.
func (g *Gazetteer) Len() int { return len(g.records) }

// Records returns a copy of every place in load order.
func (g *Gazetteer) Records() []domain.PlaceRecord {
	return append([]domain.PlaceRecord(nil), g.records...)
}

// Place returns the record with the given ID.
func (g *Gazetteer) Place(id string) (domain.PlaceRecord, bool) {
	i, ok := g.byID[id]
	if !ok {
		return domain.PlaceRecord{}, false
	}
	return g.records[i], true
}

// Exact returns every place whose canonical name or variant normalizes to key.
func (g *Gazetteer) Exact(_ context.Context, key string) ([]domain.PlaceRecord, error) {
	idx := g.byKey[key]
	out := make([]domain.PlaceRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.records[i])
	}
	return out, nil
}

// Approximate returns the single best fuzzy match for key among places at
// level (all levels for LevelAny), or nothing when no candidate scores above
// the threshold. Ties prefer the finer level, then the lower ID.
func (g *Gazetteer) Approximate(_ context.Context, key string, level domain.Level) ([]domain.PlaceRecord, error) {
	length := utf8.RuneCountInString(key)
	best, bestScore := -1, 0.0
	for _, k := range g.keys {
		rec := g.records[k.record]
		if level != domain.LevelAny && rec.Level != level {
			continue
		}
		if !canReach(length, k.length, g.threshold) {
			continue
		}
		score := Similarity(key, k.key)
		if score <= g.threshold {
			continue
		}
		if best < 0 || score > bestScore || (score == bestScore && finer(rec, g.records[best])) {
			best, bestScore = k.record, score
		}
	}
	if best < 0 {
		return nil, nil
	}
	return []domain.PlaceRecord{g.records[best]}, nil
}

// Ancestors returns the IDs above id, nearest first.
func (g *Gazetteer) Ancestors(_ context.Context, id string) ([]string, error) {
	var out []string
	seen := map[string]bool{id: true}
	for {
		i, ok := g.byID[id]
		if !ok {
			return out, nil
		}
		parent := g.records[i].ParentID
		if parent == "" || seen[parent] {
			return out, nil
		}
		seen[parent] = true
		out = append(out, parent)
		id = parent
	}
}

// Locate returns the place at level containing pt. Boundaries win; without a
// containing boundary the nearest centroid within nearestCentroidKM is used.
func (g *Gazetteer) Locate(pt domain.Point, level domain.Level) (domain.PlaceRecord, bool) {
	if level == domain.LevelAny {
		level = domain.LevelDistrict
	}
	var candidates []domain.PlaceRecord
	for _, p := range g.records {
		if p.Level != level {
			continue
		}
		if p.Contains(pt) {
			return p, true
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return haversineKM(pt, candidates[i].Centroid) < haversineKM(pt, candidates[j].Centroid)
	})
	if len(candidates) > 0 && haversineKM(pt, candidates[0].Centroid) <= nearestCentroidKM {
		return candidates[0], true
	}
	return domain.PlaceRecord{}, false
}

func finer(a, b domain.PlaceRecord) bool {
	if a.Level.Rank() != b.Level.Rank() {
		return a.Level.Rank() > b.Level.Rank()
	}
	return a.ID < b.ID
}

func haversineKM(a, b domain.Point) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

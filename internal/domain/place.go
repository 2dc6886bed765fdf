package domain

import (
	"fmt"
	"strings"
)

// Level is a tier of the administrative hierarchy.
type Level string

const (
	LevelAny      Level = ""
	LevelCountry  Level = "country"
	LevelProvince Level = "province"
	LevelRegion   Level = "region"
	LevelDivision Level = "division"
	LevelDistrict Level = "district"
	LevelTehsil   Level = "tehsil"
)

var levelRanks = map[Level]int{
	LevelCountry:  0,
	LevelProvince: 1,
	LevelRegion:   2,
	LevelDivision: 3,
	LevelDistrict: 4,
	LevelTehsil:   5,
}

// Rank orders levels from coarse (0) to fine. Unknown levels rank -1.
func (l Level) Rank() int {
	if r, ok := levelRanks[l]; ok {
		return r
	}
	return -1
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRanks[l]; ok {
		return l, nil
	}
	return "", fmt.Errorf("unknown place level %q", s)
}

// Point is a WGS-84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// PlaceRecord is one node of the administrative hierarchy. Records are
// immutable reference data.
type PlaceRecord struct {
	ID            string   `json:"id" yaml:"id"`
	CanonicalName string   `json:"canonical_name" yaml:"name"`
	Level         Level    `json:"level" yaml:"level"`
	ParentID      string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	NameVariants  []string `json:"name_variants,omitempty" yaml:"variants,omitempty"`
	Centroid      Point    `json:"centroid" yaml:"centroid"`
	Boundary      []Point  `json:"boundary,omitempty" yaml:"boundary,omitempty"` // outer ring, closed or open
}

// Names returns the canonical name followed by every variant.
func (p PlaceRecord) Names() []string {
	names := make([]string, 0, 1+len(p.NameVariants))
	names = append(names, p.CanonicalName)
	return append(names, p.NameVariants...)
}

// Contains reports whether pt lies inside the record's boundary using the
// even-odd rule. Records without a boundary contain nothing.
func (p PlaceRecord) Contains(pt Point) bool {
	n := len(p.Boundary)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.Boundary[i], p.Boundary[j]
		if (a.Lat > pt.Lat) != (b.Lat > pt.Lat) &&
			pt.Lon < (b.Lon-a.Lon)*(pt.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lon {
			inside = !inside
		}
	}
	return inside
}

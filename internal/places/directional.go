package places

import "strings"

// Direction is one of the canonical directional qualifiers.
type Direction string

const (
	North     Direction = "North"
	South     Direction = "South"
	East      Direction = "East"
	West      Direction = "West"
	Central   Direction = "Central"
	Northeast Direction = "Northeast"
	Northwest Direction = "Northwest"
	Southeast Direction = "Southeast"
	Southwest Direction = "Southwest"
)

// Directions lists every canonical token.
var Directions = []Direction{North, South, East, West, Central, Northeast, Northwest, Southeast, Southwest}

var directionWords = map[string]Direction{
	"north": North, "northern": North, "upper": North,
	"south": South, "southern": South, "lower": South,
	"east": East, "eastern": East,
	"west": West, "western": West,
	"central": Central, "centre": Central, "center": Central, "middle": Central, "mid": Central,
	"northeast": Northeast, "northeastern": Northeast,
	"northwest": Northwest, "northwestern": Northwest,
	"southeast": Southeast, "southeastern": Southeast,
	"southwest": Southwest, "southwestern": Southwest,
}

var diagonals = map[[2]Direction]Direction{
	{North, East}: Northeast, {East, North}: Northeast,
	{North, West}: Northwest, {West, North}: Northwest,
	{South, East}: Southeast, {East, South}: Southeast,
	{South, West}: Southwest, {West, South}: Southwest,
}

var fillerWords = map[string]bool{
	"parts": true, "part": true, "of": true, "the": true,
	"areas": true, "area": true, "region": true, "regions": true,
}

// Directional is a place name split into its canonical qualifier and base.
type Directional struct {
	Direction Direction
	Base      string // normalized base region, e.g. "sindh"
}

// Key is the normalized lookup key for the qualified region ("north sindh").
func (d Directional) Key() string {
	return Normalize(string(d.Direction)) + " " + d.Base
}

// Canonicalize maps a normalized name with a leading or trailing directional
// qualifier onto a canonical Direction. It reports false when the name has no
// qualifier or the qualifier is not recognized; such names are used unchanged.
func Canonicalize(key string) (Directional, bool) {
	toks := strings.Fields(key)
	if d, ok := parseLeading(toks); ok {
		return d, true
	}
	return parseTrailing(toks)
}

// parseLeading handles "upper sindh", "northern parts of punjab", "north east balochistan".
func parseLeading(toks []string) (Directional, bool) {
	i := skipFillers(toks, 0)
	var dirs []Direction
	for i < len(toks) && len(dirs) < 2 {
		d, ok := directionWords[toks[i]]
		if !ok {
			break
		}
		dirs = append(dirs, d)
		i++
	}
	i = skipFillers(toks, i)
	return combine(dirs, toks[i:])
}

// parseTrailing handles "punjab northern parts", "sindh upper".
func parseTrailing(toks []string) (Directional, bool) {
	j := len(toks)
	for j > 0 && fillerWords[toks[j-1]] {
		j--
	}
	end := j
	var dirs []Direction
	for j > 0 && end-j < 2 {
		d, ok := directionWords[toks[j-1]]
		if !ok {
			break
		}
		dirs = append([]Direction{d}, dirs...)
		j--
	}
	return combine(dirs, toks[:j])
}

func combine(dirs []Direction, base []string) (Directional, bool) {
	if len(base) == 0 || base[0] == "and" {
		return Directional{}, false
	}
	var dir Direction
	switch len(dirs) {
	case 1:
		dir = dirs[0]
	case 2:
		d, ok := diagonals[[2]Direction{dirs[0], dirs[1]}]
		if !ok {
			return Directional{}, false
		}
		dir = d
	default:
		return Directional{}, false
	}
	return Directional{Direction: dir, Base: strings.Join(base, " ")}, true
}

func skipFillers(toks []string, i int) int {
	for i < len(toks) && fillerWords[toks[i]] {
		i++
	}
	return i
}

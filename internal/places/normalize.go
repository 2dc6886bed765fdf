package places

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// abbreviations expands short forms found in advisories. Keys are normalized
// token sequences.
var abbreviations = map[string]string{
	"ajk":         "azad jammu and kashmir",
	"aj and k":    "azad jammu and kashmir",
	"kp":          "khyber pakhtunkhwa",
	"kpk":         "khyber pakhtunkhwa",
	"nwfp":        "khyber pakhtunkhwa",
	"gb":          "gilgit baltistan",
	"ict":         "islamabad capital territory",
	"isb":         "islamabad",
	"khi":         "karachi",
	"lhr":         "lahore",
	"di khan":     "dera ismail khan",
	"dg khan":     "dera ghazi khan",
	"d i khan":    "dera ismail khan",
	"d g khan":    "dera ghazi khan",
	"dikhan":      "dera ismail khan",
	"dgkhan":      "dera ghazi khan",
	"ryk":         "rahim yar khan",
	"ry khan":     "rahim yar khan",
	"tt singh":    "toba tek singh",
	"mb din":      "mandi bahauddin",
	"kkh":         "karakoram highway",
	"baluchistan": "balochistan",
}

// maxPhraseTokens is the longest key in abbreviations and infrastructure.
const maxPhraseTokens = 3

// Normalize folds a place name to its lookup key: diacritics removed,
// lower-cased, punctuation dropped, route codes joined ("M-2" → "m2") and
// known abbreviations expanded.
func Normalize(name string) string {
	return strings.Join(tokens(name), " ")
}

func tokens(name string) []string {
	// transform chains carry state and are not safe for concurrent use.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsSpace(r), r == '-', r == '_', r == '/', r == ',', r == '(', r == ')':
			b.WriteByte(' ')
		}
	}

	return expandAbbreviations(joinRouteCodes(strings.Fields(b.String())))
}

// joinRouteCodes merges a motorway or national highway prefix with its number.
func joinRouteCodes(toks []string) []string {
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		if (toks[i] == "m" || toks[i] == "n") && i+1 < len(toks) && isDigits(toks[i+1]) {
			out = append(out, toks[i]+toks[i+1])
			i++
			continue
		}
		out = append(out, toks[i])
	}
	return out
}

func expandAbbreviations(toks []string) []string {
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); {
		matched := false
		for n := min(maxPhraseTokens, len(toks)-i); n > 0; n-- {
			if full, ok := abbreviations[strings.Join(toks[i:i+n], " ")]; ok {
				out = append(out, strings.Fields(full)...)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, toks[i])
			i++
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

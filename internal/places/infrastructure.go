package places

import "strings"

// infrastructure maps named dams, motorways and regions without an
// administrative boundary to the districts they traverse. Keys are
// normalized token sequences; values are canonical district names.
var infrastructure = map[string][]string{
	"tarbela dam":       {"Haripur"},
	"tarbela reservoir": {"Haripur"},
	"mangla dam":        {"Mirpur", "Jhelum"},
	"m1":                {"Islamabad", "Attock", "Swabi", "Mardan", "Charsadda", "Peshawar"},
	"m2":                {"Rawalpindi", "Chakwal", "Khushab", "Sargodha", "Sheikhupura", "Lahore"},
	"m5":                {"Multan", "Bahawalpur", "Rahim Yar Khan", "Ghotki", "Sukkur"},
	"m9":                {"Karachi", "Jamshoro", "Hyderabad"},
	"karakoram highway": {"Haripur", "Abbottabad", "Mansehra", "Battagram", "Kohistan", "Diamer", "Gilgit", "Hunza"},
	"potohar":           {"Rawalpindi", "Attock", "Chakwal", "Jhelum"},
	"pothohar":          {"Rawalpindi", "Attock", "Chakwal", "Jhelum"},
}

// infrastructureTargets returns the districts for every infrastructure name
// found in key, in order of appearance and without duplicates. A nil result
// means key names no known infrastructure.
func infrastructureTargets(key string) []string {
	toks := strings.Fields(key)
	var targets []string
	seen := make(map[string]bool)
	for i := 0; i < len(toks); {
		n := matchInfrastructure(toks[i:])
		if n == 0 {
			i++
			continue
		}
		for _, t := range infrastructure[strings.Join(toks[i:i+n], " ")] {
			if !seen[t] {
				seen[t] = true
				targets = append(targets, t)
			}
		}
		i += n
	}
	return targets
}

// matchInfrastructure returns the token length of the longest infrastructure
// key at the start of toks, or 0.
func matchInfrastructure(toks []string) int {
	for n := min(maxPhraseTokens, len(toks)); n > 0; n-- {
		if _, ok := infrastructure[strings.Join(toks[:n], " ")]; ok {
			return n
		}
	}
	return 0
}

package normalize

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// displayAddr matches the "Display Name <addr@host>" sender shape.
var displayAddr = regexp.MustCompile(`^(.+?)\s*<[^>]+>$`)

// legalSuffixes are trailing legal-form tokens, applied once each in
// order against the lowercased name.
var legalSuffixes = compile([]string{
	`\s+inc\.?$`, `\s+ltd\.?$`, `\s+gmbh$`, `\s+s\.?r\.?o\.?$`,
	`\s+a\.?s\.?$`, `\s+corp\.?$`, `\s+llc$`, `\s+ag$`, `\s+co\.?$`,
	`\s+sp\.\s*z\.?\s*o\.?\s*o\.?$`, `\s+b\.?v\.?$`, `\s+n\.?v\.?$`,
	`\s+plc$`, `\s+pty\.?\s*ltd\.?$`, `\s+limited$`, `\s+holding$`,
	`,\s*s\.?r\.?o\.?$`, `,\s*a\.?s\.?$`, `,\s*spol\.\s*s\s*r\.?o\.?$`,
})

// serviceSuffixes are trailing newsletter/service tokens. Compound
// tokens come before their tails so "price alerts" strips whole.
var serviceSuffixes = compile([]string{
	`\s+newsletter$`, `\s+news$`, `\s+price\s+alerts?$`, `\s+alerts?$`,
	`\s+deals?$`, `\s+home$`, `\s+info$`, `\s+team$`,
	`\s+support$`, `\s+noreply$`, `\s+no-reply$`, `\s+mailer$`,
})

var domainSuffix = regexp.MustCompile(`(?i)\.(cz|com|de|net|org|eu|sk|io|co|uk|at|ch)$`)

var (
	issueMarker    = regexp.MustCompile(`(?i)\s+(č|no|nr|issue|vol)\.?\s*\d+.*$`)
	trailingDigits = regexp.MustCompile(`\s+\d+$`)
	spaces         = regexp.MustCompile(`\s+`)
)

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Key reduces a sender name to its normalized comparison key. The
// pipeline is ordered; every step feeds the next:
// display-name extraction, symbol stripping, lowercasing, legal and
// service suffix removal, domain suffix removal, NFKD fold to
// letters and digits, whitespace collapse, trailing issue-number
// removal. Names that normalize equal are the same correspondent.
func Key(name string) string {
	name = displayName(name)
	name = stripSymbols(name)
	name = strings.ToLower(strings.TrimSpace(name))

	for _, re := range legalSuffixes {
		name = re.ReplaceAllString(name, "")
	}
	for _, re := range serviceSuffixes {
		name = re.ReplaceAllString(name, "")
	}
	name = domainSuffix.ReplaceAllString(name, "")

	// Issue markers go before the fold; folding would strip the
	// diacritic off "č" and the marker would no longer match.
	name = spaces.ReplaceAllString(name, " ")
	name = issueMarker.ReplaceAllString(name, "")

	name = fold(name)
	name = spaces.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	name = trailingDigits.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// displayName drops the address part of a "Name <addr>" sender.
func displayName(name string) string {
	if m := displayAddr.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// stripSymbols removes emoji and decoration runes. The trademark trio
// survives because it is part of real names.
func stripSymbols(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '©' || r == '®' || r == '™':
			b.WriteRune(r)
		case unicode.In(r, unicode.So, unicode.Sk, unicode.Sm, unicode.Sc):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fold NFKD-decomposes and keeps only letters and digits, so accented
// and plain spellings produce the same key.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFKD.String(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// knownMappings pins display names for senders that appear under many
// spellings. Keys are normalized keys.
var knownMappings = map[string]string{
	"adobe":          "Adobe",
	"adobe systems":  "Adobe",
	"google":         "Google",
	"google alerts":  "Google",
	"alza":           "Alza.cz",
	"alza cz":        "Alza.cz",
	"booking":        "Booking.com",
	"booking com":    "Booking.com",
	"tripadvisor":    "Tripadvisor",
	"kickstarter":    "Kickstarter",
	"hobynaradi":     "HobyNaradi.cz",
	"hobynaradi cz":  "HobyNaradi.cz",
	"datart":         "DATART",
	"mall":           "MALL.CZ",
	"mall cz":        "MALL.CZ",
	"slevomat":       "Slevomat.cz",
	"slevomat cz":    "Slevomat.cz",
	"aukro":          "Aukro",
	"tesla lighting": "TESLA LIGHTING",
	"loxone":         "Loxone",
	"ubiquiti":       "Ubiquiti",
	"agoda":          "Agoda",
	"expondo":        "Expondo.cz",
	"expondo cz":     "Expondo.cz",
}

// Normalizer resolves display names, optionally extended with mappings
// from configuration.
type Normalizer struct {
	mappings map[string]string
}

// New creates a normalizer with the built-in mapping table.
func New() *Normalizer {
	return &Normalizer{mappings: knownMappings}
}

// WithMappings overlays extra key-to-display mappings. Later entries
// win over the built-ins.
func (n *Normalizer) WithMappings(extra map[string]string) *Normalizer {
	merged := make(map[string]string, len(n.mappings)+len(extra))
	for k, v := range n.mappings {
		merged[k] = v
	}
	for k, v := range extra {
		merged[Key(k)] = v
	}
	n.mappings = merged
	return n
}

// LoadMappings reads a YAML file of key-to-display-name overrides for
// WithMappings. Keys may be raw names; WithMappings normalizes them.
func LoadMappings(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known mappings: %w", err)
	}
	var mappings map[string]string
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse known mappings: %w", err)
	}
	return mappings, nil
}

// Key is the method form of the package-level Key.
func (n *Normalizer) Key(name string) string {
	return Key(name)
}

// Mapped returns the curated display name for a normalized key, when
// one exists.
func (n *Normalizer) Mapped(key string) (string, bool) {
	v, ok := n.mappings[key]
	return v, ok
}

// DisplayName picks the name a new correspondent should carry. A
// mapped key wins; otherwise the original name cleaned of symbols and
// legal suffixes; an empty cleanup falls back to the title-cased key.
func (n *Normalizer) DisplayName(name string) string {
	key := Key(name)
	if mapped, ok := n.mappings[key]; ok {
		return mapped
	}

	cleaned := stripSymbols(displayName(name))
	cleaned = spaces.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	for _, re := range legalSuffixes {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(cleaned)

	if cleaned != "" {
		return cleaned
	}
	if key != "" {
		return titleCase(key)
	}
	return name
}

// Canonical picks the best display name among variants of one
// correspondent: fewest decorations, then mixed case over shouting or
// mumbling, then shortest, then lexicographic for determinism.
func Canonical(names []string) string {
	if len(names) == 0 {
		return ""
	}
	scored := make([]string, len(names))
	copy(scored, names)
	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := nameScore(scored[i]), nameScore(scored[j])
		if si != sj {
			return si < sj
		}
		return scored[i] < scored[j]
	})
	return scored[0]
}

// nameScore orders name candidates; lower is better. Decorations
// weigh most, then degenerate case, then length.
func nameScore(name string) int {
	specials := 0
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) ||
			r == '.' || r == ',' || r == '-' {
			continue
		}
		specials++
	}
	caseScore := 0
	if name == strings.ToUpper(name) || name == strings.ToLower(name) {
		caseScore = 2
	}
	return specials*10000 + caseScore*1000 + len(name)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

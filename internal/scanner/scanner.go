// Package scanner implements the lexical risk scanner: a pure, deterministic
// keyword matcher that scores free text against the risk-factor taxonomy.
//
// Scanning has no side effects and performs no I/O. The term indices are
// pre-built at construction so a scan is linear in the input length times
// the factor count, comfortably inside the latency budget for chat-length
// input.
package scanner

import (
	"strings"
	"unicode"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
	"github.com/SafeHarbor-Care/SafeHarbor/internal/taxonomy"
)

const (
	// DefaultNegationDiscount is the multiplier applied to a trigger term's
	// contribution when it is preceded by a negation token. The value mirrors
	// the clinical source material but has not been validated by a domain
	// expert; see DESIGN.md.
	DefaultNegationDiscount = 0.7

	// negationWindow is how many tokens before a match a negation token may
	// appear and still apply ("I am not ... suicidal").
	negationWindow = 3

	// contextModifierBonus is the strength bonus per present context
	// modifier, capped at maxContextBonus.
	contextModifierBonus = 0.1
	maxContextBonus      = 0.3

	// defaultStrongMatchCount saturates a factor after this many distinct
	// term matches when the taxonomy does not specify its own count.
	defaultStrongMatchCount = 2
)

// negationTokens are checked in normalized form (apostrophes removed).
var negationTokens = map[string]bool{
	"not":     true,
	"no":      true,
	"never":   true,
	"dont":    true,
	"wont":    true,
	"wouldnt": true,
	"isnt":    true,
	"arent":   true,
}

// phrase is a pre-tokenized trigger term or modifier.
type phrase struct {
	tokens []string
}

// factorIndex holds the pre-built matching state for one risk factor.
type factorIndex struct {
	name      string
	terms     []phrase
	critical  []phrase
	modifiers []phrase
	strong    float64
}

// Opts holds configuration options for the scanner.
type Opts struct {
	NegationDiscount float64
}

// Option defines a configuration option for the scanner.
type Option func(*Opts)

// WithNegationDiscount overrides the multiplier applied to negated matches.
func WithNegationDiscount(d float64) Option {
	return func(o *Opts) { o.NegationDiscount = d }
}

// Scanner scores text against a fixed taxonomy snapshot.
type Scanner struct {
	factors          []factorIndex
	negationDiscount float64
}

// New builds a scanner over the given taxonomy snapshot.
func New(snap *taxonomy.Snapshot, opts ...Option) *Scanner {
	cfg := Opts{NegationDiscount: DefaultNegationDiscount}
	for _, opt := range opts {
		opt(&cfg)
	}

	factors := make([]factorIndex, 0, len(snap.Factors()))
	for _, f := range snap.Factors() {
		factors = append(factors, buildIndex(f))
	}
	return &Scanner{factors: factors, negationDiscount: cfg.NegationDiscount}
}

func buildIndex(f models.RiskFactor) factorIndex {
	idx := factorIndex{name: f.Name, strong: float64(f.StrongMatchCount)}
	if idx.strong <= 0 {
		idx.strong = defaultStrongMatchCount
	}
	for _, t := range f.TriggerTerms {
		if p := tokenize(t); len(p.tokens) > 0 {
			idx.terms = append(idx.terms, p)
		}
	}
	for _, c := range f.CriticalPhrases {
		if p := tokenize(c); len(p.tokens) > 0 {
			idx.critical = append(idx.critical, p)
		}
	}
	for _, m := range f.ContextModifiers {
		if p := tokenize(m); len(p.tokens) > 0 {
			idx.modifiers = append(idx.modifiers, p)
		}
	}
	return idx
}

// Scan scores the text against every factor in the taxonomy and returns a
// map of factor name to match strength in [0,1]. Factors with no matches are
// omitted. Empty or whitespace-only text yields an empty map.
func (s *Scanner) Scan(text string) map[string]float64 {
	result := make(map[string]float64)
	tokens := tokenize(text).tokens
	if len(tokens) == 0 {
		return result
	}

	for _, idx := range s.factors {
		strength := s.scoreFactor(tokens, idx)
		if strength > 0 {
			result[idx.name] = strength
		}
	}
	return result
}

func (s *Scanner) scoreFactor(tokens []string, idx factorIndex) float64 {
	// A non-negated critical phrase saturates the factor outright, whether
	// or not any trigger term matched: not every critical phrase doubles as
	// a trigger term. A negated one falls through as a discounted match.
	critNegated := false
	for _, crit := range idx.critical {
		pos, ok := findPhrase(tokens, crit)
		if !ok {
			continue
		}
		if !negated(tokens, pos) {
			return 1.0
		}
		critNegated = true
	}

	var effective float64
	matched := 0
	for _, term := range idx.terms {
		pos, ok := findPhrase(tokens, term)
		if !ok {
			continue
		}
		matched++
		if negated(tokens, pos) {
			effective += s.negationDiscount
		} else {
			effective += 1
		}
	}
	if matched == 0 {
		if !critNegated {
			return 0
		}
		effective = s.negationDiscount
	}

	strength := effective / idx.strong

	bonus := 0.0
	for _, mod := range idx.modifiers {
		if _, ok := findPhrase(tokens, mod); ok {
			bonus += contextModifierBonus
		}
	}
	if bonus > maxContextBonus {
		bonus = maxContextBonus
	}
	strength += bonus

	if strength > 1.0 {
		strength = 1.0
	}
	return strength
}

// findPhrase locates the first occurrence of the phrase's token sequence in
// tokens and returns its start index.
func findPhrase(tokens []string, p phrase) (int, bool) {
	n := len(p.tokens)
	if n == 0 || n > len(tokens) {
		return 0, false
	}
	for i := 0; i+n <= len(tokens); i++ {
		if tokens[i] != p.tokens[0] {
			continue
		}
		match := true
		for j := 1; j < n; j++ {
			if tokens[i+j] != p.tokens[j] {
				match = false
				break
			}
		}
		if match {
			return i, true
		}
	}
	return 0, false
}

// negated reports whether a negation token appears within the window of
// tokens preceding position pos.
func negated(tokens []string, pos int) bool {
	start := pos - negationWindow
	if start < 0 {
		start = 0
	}
	for i := start; i < pos; i++ {
		if negationTokens[tokens[i]] {
			return true
		}
	}
	return false
}

// tokenize normalizes text (case-fold, drop apostrophes, treat all other
// punctuation as whitespace) and splits it into tokens.
func tokenize(text string) phrase {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, text)
	return phrase{tokens: strings.Fields(mapped)}
}

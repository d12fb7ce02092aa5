// Package phonetic implements [transcript.PhoneticMatcher] for target
// vocabulary. Speech recognisers often spell an unfamiliar word the way it
// sounded ("metikulus" for "meticulous"), so a learner's attempt is compared
// with each target word by sound first and by spelling second:
//
//  1. Double Metaphone codes of the heard phrase and the word must share at
//     least one code. Such a word is accepted when its Jaro-Winkler score
//     reaches the phonetic threshold (default 0.70).
//  2. Without a shared code, the word is accepted only when the spelling is
//     close on its own, i.e. the Jaro-Winkler score reaches the fuzzy
//     threshold (default 0.85).
//
// Sound-alike candidates always win over spelling-only ones.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for a sound-alike word.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score for a spelling-only match.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches heard phrases against target words. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// candidate is a scored target word.
type candidate struct {
	word       string
	score      float64
	soundsLike bool
}

// better reports whether c should replace cur as the best candidate.
func (c candidate) better(cur candidate) bool {
	if c.soundsLike != cur.soundsLike {
		return c.soundsLike
	}
	return c.score > cur.score
}

// Match returns the target word that heard most likely stands for. A heard
// phrase equal to a word, ignoring case and surrounding space, scores 1.
func (m *Matcher) Match(heard string, words []string) (word string, confidence float64, matched bool) {
	phrase := normalize(heard)
	if phrase == "" || len(words) == 0 {
		return heard, 0, false
	}
	tokens := strings.Fields(phrase)
	codes := codesFor(tokens)

	var best candidate
	for _, w := range words {
		target := normalize(w)
		if target == "" {
			continue
		}
		if target == phrase {
			return w, 1, true
		}
		targetTokens := strings.Fields(target)
		c := candidate{
			word:       w,
			score:      similarity(tokens, targetTokens),
			soundsLike: shareCode(codes, codesFor(targetTokens)),
		}
		threshold := m.fuzzyThreshold
		if c.soundsLike {
			threshold = m.phoneticThreshold
		}
		if c.score < threshold {
			continue
		}
		if best.word == "" || c.better(best) {
			best = c
		}
	}

	if best.word == "" {
		return heard, 0, false
	}
	return best.word, best.score, true
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// codesFor returns the non-empty Double Metaphone codes of tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, alternate := matchr.DoubleMetaphone(t)
		for _, c := range [...]string{primary, alternate} {
			if c != "" {
				codes[c] = struct{}{}
			}
		}
	}
	return codes
}

func shareCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the higher Jaro-Winkler score of the spaced and the joined
// forms. Recognisers split long words ("meti culous") as often as they merge
// short phrases, so both are compared. Phrases of different token counts are
// only compared in joined form.
func similarity(heard, target []string) float64 {
	joined := matchr.JaroWinkler(strings.Join(heard, ""), strings.Join(target, ""), false)
	if len(heard) != len(target) {
		return joined
	}
	spaced := matchr.JaroWinkler(strings.Join(heard, " "), strings.Join(target, " "), false)
	return max(joined, spaced)
}

package transcript

import (
	"strings"
	"unicode"
)

// PhoneticMatcher finds the target word that sounds most like a heard
// phrase. Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match returns the entry of words most similar to heard. When matched is
	// false, word is heard unchanged and confidence is 0.
	Match(heard string, words []string) (word string, confidence float64, matched bool)
}

// minPhoneticLen keeps short function words from matching by sound alone.
const minPhoneticLen = 4

// WordUse records how a target word showed up in the learner's speech.
type WordUse struct {
	// Word is the target word as configured.
	Word string `json:"word"`

	// Heard is the transcribed phrase that matched.
	Heard string `json:"heard"`

	// Exact is true for a literal match and false for a phonetic one.
	Exact bool `json:"exact"`

	// Confidence is 1 for exact matches, the matcher's score otherwise.
	Confidence float64 `json:"confidence"`
}

// Summary describes a finished conversation.
type Summary struct {
	UserMessages  int       `json:"user_messages"`
	ModelMessages int       `json:"model_messages"`
	Used          []WordUse `json:"used"`
	Unused        []string  `json:"unused"`
}

// Summarize counts messages per role and checks which target words the
// learner used. A word counts as used when its tokens appear literally in a
// user message, or, with a non-nil matcher, when a phrase of the same length
// sounds like it. Model messages never count towards usage.
func Summarize(history []ChatMessage, words []string, matcher PhoneticMatcher) Summary {
	var s Summary
	var utterances [][]string
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			s.UserMessages++
			utterances = append(utterances, tokenize(m.Text))
		case RoleModel:
			s.ModelMessages++
		}
	}

	for _, w := range words {
		target := tokenize(w)
		if len(target) == 0 {
			continue
		}
		if use, ok := findExact(utterances, w, target); ok {
			s.Used = append(s.Used, use)
			continue
		}
		if matcher != nil {
			if use, ok := findPhonetic(utterances, w, target, matcher); ok {
				s.Used = append(s.Used, use)
				continue
			}
		}
		s.Unused = append(s.Unused, w)
	}
	return s
}

func findExact(utterances [][]string, word string, target []string) (WordUse, bool) {
	n := len(target)
	for _, tokens := range utterances {
		for i := 0; i+n <= len(tokens); i++ {
			if equalTokens(tokens[i:i+n], target) {
				return WordUse{Word: word, Heard: strings.Join(tokens[i:i+n], " "), Exact: true, Confidence: 1}, true
			}
		}
	}
	return WordUse{}, false
}

func findPhonetic(utterances [][]string, word string, target []string, matcher PhoneticMatcher) (WordUse, bool) {
	n := len(target)
	var best WordUse
	for _, tokens := range utterances {
		for i := 0; i+n <= len(tokens); i++ {
			heard := strings.Join(tokens[i:i+n], " ")
			if len(heard) < minPhoneticLen {
				continue
			}
			_, conf, ok := matcher.Match(heard, []string{word})
			if ok && conf > best.Confidence {
				best = WordUse{Word: word, Heard: heard, Confidence: conf}
			}
		}
	}
	return best, best.Confidence > 0
}

func equalTokens(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tokenize lowercases s and splits it into words. Apostrophes and hyphens
// inside words are kept.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

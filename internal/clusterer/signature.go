package clusterer

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords is the small list removed during title tokenisation.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "her": true, "his": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"over": true, "says": true, "she": true, "that": true, "the": true,
	"their": true, "this": true, "to": true, "was": true, "were": true,
	"will": true, "with": true, "after": true, "amid": true, "into": true,
	"new": true, "not": true, "up": true, "out": true,
}

// significant is the curated significance filter: title tokens found here
// are always keywords. It is a tunable list, not an exhaustive taxonomy.
var significant = map[string]bool{
	"earthquake": true, "hurricane": true, "flood": true, "wildfire": true,
	"eruption": true, "tsunami": true, "drought": true, "storm": true,
	"election": true, "president": true, "parliament": true, "minister": true,
	"resignation": true, "impeachment": true, "sanctions": true, "treaty": true,
	"ceasefire": true, "invasion": true, "airstrike": true, "hostage": true,
	"war": true, "coup": true, "protest": true, "strike": true,
	"inflation": true, "recession": true, "tariff": true, "bankruptcy": true,
	"merger": true, "acquisition": true, "earnings": true, "layoffs": true,
	"ipo": true, "rates": true, "lawsuit": true, "verdict": true,
	"indictment": true, "vaccine": true, "outbreak": true, "pandemic": true,
	"virus": true, "launch": true, "rocket": true, "satellite": true,
	"breakthrough": true, "magnitude": true, "casualties": true, "evacuation": true,
}

// maxFallbackKeywords bounds the keyword set when no significance-filter
// token matches.
const maxFallbackKeywords = 8

// Signature is the similarity-relevant digest of one title.
type Signature struct {
	Tokens   map[string]bool // Normalised title tokens
	Keywords map[string]bool // Significance-filtered (or top-frequency) tokens
	Entities map[string]bool // Capitalised runs and numeric+unit pairs
}

// NewSignature computes the signature of a title.
func NewSignature(title string) Signature {
	tokens := TitleTokens(title)
	return Signature{
		Tokens:   tokens,
		Keywords: extractKeywords(title, tokens),
		Entities: extractEntities(title),
	}
}

// TitleTokens normalises a title into its token set: lowercase,
// punctuation stripped, stopwords removed.
func TitleTokens(title string) map[string]bool {
	tokens := make(map[string]bool)
	for _, raw := range strings.Fields(title) {
		token := normalizeToken(raw)
		if token == "" || stopwords[token] {
			continue
		}
		tokens[token] = true
	}
	return tokens
}

// extractKeywords intersects the token set with the significance filter;
// when nothing matches it falls back to the most frequent title tokens.
func extractKeywords(title string, tokens map[string]bool) map[string]bool {
	keywords := make(map[string]bool)
	for token := range tokens {
		if significant[token] {
			keywords[token] = true
		}
	}
	if len(keywords) > 0 {
		return keywords
	}

	// Fallback: rank tokens by in-title frequency, longest first on ties.
	counts := make(map[string]int)
	for _, raw := range strings.Fields(title) {
		token := normalizeToken(raw)
		if token == "" || stopwords[token] {
			continue
		}
		counts[token]++
	}
	ranked := make([]string, 0, len(counts))
	for token := range counts {
		ranked = append(ranked, token)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		if len(ranked[i]) != len(ranked[j]) {
			return len(ranked[i]) > len(ranked[j])
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > maxFallbackKeywords {
		ranked = ranked[:maxFallbackKeywords]
	}
	for _, token := range ranked {
		keywords[token] = true
	}
	return keywords
}

// extractEntities finds runs of capitalised tokens in the original title
// plus numeric+unit pairs. Entities are stored lowercased so comparison is
// case-insensitive.
func extractEntities(title string) map[string]bool {
	entities := make(map[string]bool)
	words := strings.Fields(title)

	var run []string
	flush := func() {
		if len(run) > 0 {
			entities[strings.ToLower(strings.Join(run, " "))] = true
			run = nil
		}
	}

	for i, raw := range words {
		word := strings.Trim(raw, ".,;:!?\"'()[]")
		if word == "" {
			flush()
			continue
		}

		if isCapitalised(word) {
			run = append(run, word)
		} else {
			flush()
		}

		// Numeric token followed by a unit word ("7.8 magnitude", "40 %").
		if isNumeric(word) && i+1 < len(words) {
			unit := strings.Trim(words[i+1], ".,;:!?\"'()[]")
			if unit != "" && !isNumeric(unit) {
				entities[strings.ToLower(word+" "+unit)] = true
			}
		}
		// Fused numeric tokens ("7.8-magnitude", "$999").
		if hasDigit(word) && !isNumeric(word) {
			entities[strings.ToLower(word)] = true
		}
	}
	flush()
	return entities
}

func normalizeToken(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isCapitalised(word string) bool {
	r := []rune(word)
	return len(r) > 0 && unicode.IsUpper(r[0]) && unicode.IsLetter(r[0])
}

func isNumeric(word string) bool {
	if word == "" {
		return false
	}
	for _, r := range word {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return hasDigit(word)
}

func hasDigit(word string) bool {
	for _, r := range word {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

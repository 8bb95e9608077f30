package insight

import (
	"sort"
	"strings"
)

// stopWords are filtered out of fingerprints; they carry no signal for
// matching tasks.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "as": true, "if": true, "then": true,
}

var tokenSeparators = strings.NewReplacer(
	"-", " ", "_", " ", "/", " ", ".", " ", ",", " ",
	":", " ", ";", " ", "(", " ", ")", " ",
	"[", " ", "]", " ", "{", " ", "}", " ",
	"!", " ", "?", " ", "'", " ", "\"", " ",
)

// Fingerprint normalizes a task's title and description into a sorted,
// deduplicated keyword set.
func Fingerprint(title, description string) []string {
	text := strings.ToLower(title + " " + description)
	seen := make(map[string]bool)
	var tokens []string

	for _, tok := range strings.Fields(tokenSeparators.Replace(text)) {
		if len(tok) < 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	sort.Strings(tokens)
	return tokens
}

// jaccard computes set overlap between two keyword sets: intersection
// size over union size. Two empty sets count as identical.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(a))
	for _, tok := range a {
		setA[tok] = true
	}

	intersection := 0
	setB := make(map[string]bool, len(b))
	for _, tok := range b {
		if setB[tok] {
			continue
		}
		setB[tok] = true
		if setA[tok] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// shared returns the tokens present in both sets, sorted.
func shared(a, b []string) []string {
	setA := make(map[string]bool, len(a))
	for _, tok := range a {
		setA[tok] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, tok := range b {
		if setA[tok] && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// categoryKeywords drive the coarse task classifier. First bucket with
// the most hits wins.
var categoryKeywords = map[string][]string{
	"writing":  {"write", "draft", "blog", "post", "article", "doc", "documentation", "report", "essay", "copy"},
	"coding":   {"code", "implement", "fix", "bug", "refactor", "api", "deploy", "test", "build", "debug"},
	"research": {"research", "investigate", "explore", "compare", "evaluate", "analyze", "study", "learn"},
	"meeting":  {"meeting", "call", "sync", "standup", "interview", "presentation", "demo", "review"},
	"planning": {"plan", "roadmap", "strategy", "outline", "organize", "schedule", "prioritize", "scope"},
	"admin":    {"email", "invoice", "expense", "form", "tax", "renew", "book", "order", "pay", "file"},
}

// Classify guesses a coarse category from a keyword set. Returns
// "general" when nothing matches.
func Classify(tokens []string) string {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}

	best := "general"
	bestHits := 0
	// Iterate categories in sorted order so ties resolve the same way
	// every call.
	names := make([]string, 0, len(categoryKeywords))
	for name := range categoryKeywords {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hits := 0
		for _, kw := range categoryKeywords[name] {
			if set[kw] {
				hits++
			}
		}
		if hits > bestHits {
			best = name
			bestHits = hits
		}
	}
	return best
}

package service

import (
	"fmt"
	"regexp"
	"strings"

	"storefront-edge/internal/model"
)

// Scoring weights for candidates the model did not rate itself.
const (
	nameWeight    = 70.0
	brandBonus    = 20.0
	categoryBonus = 10.0
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// stopWords holds Spanish and English filler words plus packaging units that
// carry no product identity.
var stopWords = map[string]bool{
	"de": true, "del": true, "la": true, "el": true, "los": true, "las": true,
	"y": true, "o": true, "con": true, "sin": true, "para": true, "por": true,
	"en": true, "un": true, "una": true,
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"with": true, "for": true, "in": true,
	"x": true, "u": true, "pack": true, "caja": true, "unidad": true,
	"unidades": true, "kg": true, "g": true, "gr": true, "ml": true, "l": true, "lt": true,
	"cm": true, "mm": true,
}

// localSimilarity scores a candidate against an analysis by name-token
// coverage plus brand and category agreement, on a 0–100 scale.
func localSimilarity(a model.ImageAnalysis, c model.ProductCandidate) (float64, []string) {
	var reasons []string
	score := 0.0

	nameTokens := tokenize(c.Name)
	if len(nameTokens) > 0 {
		haystack := make(map[string]bool)
		for _, field := range []string{a.Name, a.Description, a.Brand, a.Category} {
			for _, tok := range tokenize(field) {
				haystack[tok] = true
			}
		}
		for _, tag := range a.Tags {
			for _, tok := range tokenize(tag) {
				haystack[tok] = true
			}
		}

		hits := 0
		for _, tok := range nameTokens {
			if haystack[tok] {
				hits++
			}
		}
		if hits > 0 {
			score += nameWeight * float64(hits) / float64(len(nameTokens))
			reasons = append(reasons, fmt.Sprintf("name matches %d of %d terms", hits, len(nameTokens)))
		}
	}

	if c.Brand != "" && a.Brand != "" && sameTerm(c.Brand, a.Brand) {
		score += brandBonus
		reasons = append(reasons, "same brand")
	}
	if c.Category != "" && a.Category != "" && sameTerm(c.Category, a.Category) {
		score += categoryBonus
		reasons = append(reasons, "same category")
	}

	return clampScore(score), reasons
}

func tokenize(s string) []string {
	s = punctuation.ReplaceAllString(strings.ToLower(s), " ")
	fields := strings.Fields(s)
	out := fields[:0]
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// sameTerm reports whether a and b name the same thing, ignoring case,
// punctuation and one being contained in the other ("Bosch" vs "Bosch Professional").
func sameTerm(a, b string) bool {
	na := strings.Join(tokenize(a), " ")
	nb := strings.Join(tokenize(b), " ")
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

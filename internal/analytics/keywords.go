package analytics

import (
	"sort"
	"strings"
	"unicode"
)

// Keyword is a term with its occurrence count across reviews.
type Keyword struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// German and English stopwords. Reviews in the core market mix both.
var stopwords = map[string]bool{
	// German
	"der": true, "die": true, "das": true, "und": true, "ist": true,
	"ich": true, "nicht": true, "mit": true, "ein": true, "eine": true,
	"auch": true, "aber": true, "sehr": true, "für": true, "auf": true,
	"von": true, "man": true, "wie": true, "nur": true, "noch": true,
	"app": true, "mal": true, "schon": true, "wenn": true, "dann": true,
	"hat": true, "kann": true, "mir": true, "mich": true, "den": true,
	"dem": true, "des": true, "sich": true, "oder": true, "als": true,
	"wird": true, "sind": true, "war": true, "habe": true, "bei": true,
	// English
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "you": true, "not": true, "but": true, "are": true,
	"have": true, "was": true, "its": true, "very": true, "just": true,
	"can": true, "all": true, "too": true, "get": true, "use": true,
	"has": true, "had": true, "will": true, "would": true, "from": true,
}

// ExtractKeywords returns the most frequent non-stopword terms across
// the review texts, ordered by count descending.
func ExtractKeywords(reviews []Review, limit int) []Keyword {
	if limit <= 0 {
		limit = 20
	}

	counts := make(map[string]int)
	for _, review := range reviews {
		for _, word := range tokenize(review.Title + " " + review.Text) {
			if len(word) < 3 || stopwords[word] {
				continue
			}
			counts[word]++
		}
	}

	keywords := make([]Keyword, 0, len(counts))
	for term, count := range counts {
		if count < 2 {
			continue // single occurrences are noise
		}
		keywords = append(keywords, Keyword{Term: term, Count: count})
	}

	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Count != keywords[j].Count {
			return keywords[i].Count > keywords[j].Count
		}
		return keywords[i].Term < keywords[j].Term
	})

	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

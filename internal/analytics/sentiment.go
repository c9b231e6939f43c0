package analytics

import "strings"

// Sentiment is an aggregate score over a set of reviews.
type Sentiment struct {
	Score    float64 `json:"score"` // -1..1
	Positive int     `json:"positive"`
	Negative int     `json:"negative"`
	Neutral  int     `json:"neutral"`
}

// Lexicon weights, German and English. Ratings dominate the score,
// the lexicon breaks ties for unrated reviews.
var sentimentLexicon = map[string]float64{
	// positive
	"super": 1, "toll": 1, "great": 1, "love": 1, "liebe": 1,
	"perfekt": 1, "perfect": 1, "excellent": 1, "hilfreich": 0.8,
	"helpful": 0.8, "easy": 0.6, "einfach": 0.6, "schön": 0.6,
	"gut": 0.6, "good": 0.6, "best": 1, "beste": 1, "empfehlen": 0.8,
	"recommend": 0.8, "danke": 0.6, "thanks": 0.6, "motivierend": 0.8,
	// negative
	"schlecht": -1, "bad": -1, "absturz": -1, "crash": -1,
	"fehler": -0.8, "bug": -0.8, "error": -0.8, "langsam": -0.6,
	"slow": -0.6, "teuer": -0.6, "expensive": -0.6, "werbung": -0.5,
	"ads": -0.5, "nervig": -0.8, "annoying": -0.8, "useless": -1,
	"nutzlos": -1, "uninstall": -1, "deinstalliert": -1, "leider": -0.4,
	"unfortunately": -0.4, "broken": -1, "kaputt": -1,
}

// ScoreReviews computes aggregate sentiment. A review's star rating
// sets its baseline (1-2 negative, 3 neutral, 4-5 positive); lexicon
// hits adjust reviews without a rating.
func ScoreReviews(reviews []Review) Sentiment {
	var s Sentiment
	if len(reviews) == 0 {
		return s
	}

	var total float64
	for _, review := range reviews {
		score := reviewScore(review)
		total += score

		switch {
		case score > 0.15:
			s.Positive++
		case score < -0.15:
			s.Negative++
		default:
			s.Neutral++
		}
	}

	s.Score = total / float64(len(reviews))
	return s
}

func reviewScore(review Review) float64 {
	if review.Rating > 0 {
		// Map 1..5 stars onto -1..1.
		return (float64(review.Rating) - 3) / 2
	}
	return lexiconScore(review.Title + " " + review.Text)
}

func lexiconScore(text string) float64 {
	var total float64
	hits := 0
	for _, word := range tokenize(strings.ToLower(text)) {
		if weight, ok := sentimentLexicon[word]; ok {
			total += weight
			hits++
		}
	}
	if hits == 0 {
		return 0
	}

	score := total / float64(hits)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

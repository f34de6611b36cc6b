package news

import (
	"math"
	"strings"
	"unicode"
)

// Sentiment maps text to a polarity in [-1, 1].
type Sentiment interface {
	Polarity(text string) float64
}

// Lexicon is a word-list polarity scorer normalised the way VADER's
// compound score is: x / sqrt(x*x + alpha).
type Lexicon struct {
	words map[string]float64
	alpha float64
}

var defaultLexicon = map[string]float64{
	"breakthrough": 2, "success": 2, "successful": 2, "improve": 1.5, "improved": 1.5,
	"innovative": 2, "win": 2, "wins": 2, "growth": 1.5, "record": 1, "best": 2,
	"launch": 1, "launches": 1, "faster": 1, "secure": 1, "award": 2, "love": 3,
	"great": 3, "good": 2, "excellent": 3, "amazing": 3, "boost": 1.5, "gain": 1.5,
	"прорыв": 2, "успех": 2, "успешно": 2, "лучший": 2, "рост": 1.5, "улучшение": 1.5,
	"fail": -2, "failure": -2, "breach": -2.5, "hack": -2, "hacked": -2.5, "leak": -2,
	"lawsuit": -2, "ban": -1.5, "banned": -1.5, "crash": -2.5, "layoffs": -2.5,
	"loss": -2, "losses": -2, "vulnerability": -1.5, "attack": -2.5, "scam": -3,
	"fraud": -3, "bad": -2.5, "worst": -3, "decline": -1.5, "outage": -2, "risk": -1,
	"провал": -2, "утечка": -2, "взлом": -2.5, "атака": -2.5, "убытки": -2, "сбой": -2,
}

func NewLexicon() *Lexicon {
	return &Lexicon{words: defaultLexicon, alpha: 15}
}

func (l *Lexicon) Polarity(text string) float64 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	var sum float64
	for _, tok := range tokens {
		sum += l.words[tok]
	}
	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+l.alpha)
}

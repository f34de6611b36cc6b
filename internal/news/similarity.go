package news

import (
	"math"
	"strings"
	"unicode"
)

// termVector is a bag-of-words over title and summary.
type termVector map[string]float64

func vectorize(item CandidateItem) termVector {
	v := make(termVector)
	words := strings.FieldsFunc(strings.ToLower(item.Title+" "+item.Summary), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		// short tokens are mostly stop words
		if len([]rune(w)) < 3 {
			continue
		}
		v[w]++
	}
	return v
}

func cosine(a, b termVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for w, x := range a {
		na += x * x
		if y, ok := b[w]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package dedupe

import (
	"math"

	"github.com/rpattn/opscrm/internal/domain"
)

// Weights of the soft score components.
const (
	nameWeight    = 0.5
	cityWeight    = 0.2
	contactWeight = 0.3
)

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1].
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1.0-jaro)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))
	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Score is the display confidence that two normalized records describe the same business.
// It weighs name similarity, city similarity and the best contact-key similarity,
// rounded to four decimals so repeated runs render identically.
func Score(candidate, existing domain.NormalizedKeys) float64 {
	score := nameWeight*similarity(candidate.Name, existing.Name) +
		cityWeight*similarity(candidate.City, existing.City)

	best := 0.0
	pairs := [][2]string{
		{candidate.Domain, existing.Domain},
		{candidate.Email, existing.Email},
		{candidate.Phone, existing.Phone},
	}
	for _, p := range pairs {
		if p[0] == "" || p[1] == "" {
			continue
		}
		best = math.Max(best, JaroWinkler(p[0], p[1]))
	}
	score += contactWeight * best

	return math.Round(score*10000) / 10000
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return JaroWinkler(a, b)
}

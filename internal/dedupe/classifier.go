// Package dedupe classifies an incoming normalized record against existing leads.
package dedupe

import (
	"fmt"

	"github.com/rpattn/opscrm/internal/domain"
)

// Kind is the outcome of a classification.
type Kind string

const (
	KindNone Kind = "NONE"
	KindHard Kind = "HARD"
	KindSoft Kind = "SOFT"
)

// Match is the classifier verdict for one candidate.
type Match struct {
	Kind   Kind
	Lead   domain.Lead
	Reason string
	// Score is only set for soft matches.
	Score float64
}

// SoftMatcher decides whether two records are ambiguous enough to need human review.
type SoftMatcher interface {
	SoftMatch(candidate, existing domain.NormalizedKeys) bool
}

// ExactSoftMatcher flags records whose normalized business name and city are both equal.
type ExactSoftMatcher struct{}

// SoftMatch implements SoftMatcher.
func (ExactSoftMatcher) SoftMatch(candidate, existing domain.NormalizedKeys) bool {
	return candidate.Name != "" && candidate.City != "" &&
		candidate.Name == existing.Name && candidate.City == existing.City
}

// FuzzySoftMatcher flags records in the same city whose names are similar above Threshold.
type FuzzySoftMatcher struct {
	Threshold float64
}

// SoftMatch implements SoftMatcher.
func (m FuzzySoftMatcher) SoftMatch(candidate, existing domain.NormalizedKeys) bool {
	if candidate.Name == "" || existing.Name == "" || candidate.City == "" || candidate.City != existing.City {
		return false
	}
	return JaroWinkler(candidate.Name, existing.Name) >= m.Threshold
}

// Classifier applies the hard rules first and the soft matcher second.
type Classifier struct {
	soft SoftMatcher
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSoftMatcher replaces the default exact name+city matcher.
func WithSoftMatcher(m SoftMatcher) Option {
	return func(c *Classifier) {
		if m != nil {
			c.soft = m
		}
	}
}

// NewClassifier constructs a classifier.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{soft: ExactSoftMatcher{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExactNames reports whether soft matches require equal names, so lookups may filter on name.
func (c *Classifier) ExactNames() bool {
	_, ok := c.soft.(ExactSoftMatcher)
	return ok
}

type hardRule struct {
	label string
	key   func(domain.NormalizedKeys) string
}

// Hard rules in priority order. The whole pool is searched for one rule before the next is tried.
var hardRules = []hardRule{
	{label: "email", key: func(k domain.NormalizedKeys) string { return k.Email }},
	{label: "phone", key: func(k domain.NormalizedKeys) string { return k.Phone }},
	{label: "domain", key: func(k domain.NormalizedKeys) string { return k.Domain }},
}

// Compare classifies a single pair of records.
func (c *Classifier) Compare(candidate, existing domain.NormalizedKeys) Kind {
	for _, rule := range hardRules {
		v := rule.key(candidate)
		if v != "" && v == rule.key(existing) {
			return KindHard
		}
	}
	if c.soft.SoftMatch(candidate, existing) {
		return KindSoft
	}
	return KindNone
}

// Classify checks candidate against pool. Leads that are merged or archived are ignored.
// Among several soft matches the highest score wins; ties keep pool order.
func (c *Classifier) Classify(candidate domain.NormalizedKeys, pool []domain.Lead) Match {
	for _, rule := range hardRules {
		v := rule.key(candidate)
		if v == "" {
			continue
		}
		for _, lead := range pool {
			if !lead.Matchable() || rule.key(lead.Normalized) != v {
				continue
			}
			return Match{
				Kind:   KindHard,
				Lead:   lead,
				Reason: fmt.Sprintf("%s matches existing lead %s", rule.label, lead.ID),
			}
		}
	}

	best := Match{Kind: KindNone}
	for _, lead := range pool {
		if !lead.Matchable() || !c.soft.SoftMatch(candidate, lead.Normalized) {
			continue
		}
		score := Score(candidate, lead.Normalized)
		if best.Kind == KindSoft && score <= best.Score {
			continue
		}
		best = Match{
			Kind:   KindSoft,
			Lead:   lead,
			Score:  score,
			Reason: fmt.Sprintf("business name and city match existing lead %s", lead.ID),
		}
	}
	return best
}

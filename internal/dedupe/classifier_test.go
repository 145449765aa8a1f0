package dedupe

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/opscrm/internal/domain"
)

func leadWith(keys domain.NormalizedKeys) domain.Lead {
	return domain.Lead{ID: uuid.New(), Status: domain.LeadStatusNew, Normalized: keys}
}

func TestClassifyHardOnEmailRegardlessOfOtherFields(t *testing.T) {
	c := NewClassifier()
	existing := leadWith(domain.NormalizedKeys{Email: "hello@acme.com", Name: "acme", City: "austin"})
	candidate := domain.NormalizedKeys{Email: "hello@acme.com", Name: "something else", City: "dallas"}

	m := c.Classify(candidate, []domain.Lead{existing})
	assert.Equal(t, KindHard, m.Kind)
	assert.Equal(t, existing.ID, m.Lead.ID)
	assert.Contains(t, m.Reason, "email")
	assert.Zero(t, m.Score)
}

func TestClassifyHardOnPhoneAndDomain(t *testing.T) {
	c := NewClassifier()
	byPhone := leadWith(domain.NormalizedKeys{Phone: "5125550100"})
	byDomain := leadWith(domain.NormalizedKeys{Domain: "acme.com"})

	m := c.Classify(domain.NormalizedKeys{Phone: "5125550100"}, []domain.Lead{byDomain, byPhone})
	assert.Equal(t, KindHard, m.Kind)
	assert.Equal(t, byPhone.ID, m.Lead.ID)

	m = c.Classify(domain.NormalizedKeys{Domain: "acme.com"}, []domain.Lead{byPhone, byDomain})
	assert.Equal(t, KindHard, m.Kind)
	assert.Equal(t, byDomain.ID, m.Lead.ID)
}

func TestClassifyEmailTakesPriorityOverEarlierPhoneMatch(t *testing.T) {
	c := NewClassifier()
	phoneLead := leadWith(domain.NormalizedKeys{Phone: "5125550100"})
	emailLead := leadWith(domain.NormalizedKeys{Email: "a@b.com"})

	m := c.Classify(domain.NormalizedKeys{Email: "a@b.com", Phone: "5125550100"}, []domain.Lead{phoneLead, emailLead})
	require.Equal(t, KindHard, m.Kind)
	assert.Equal(t, emailLead.ID, m.Lead.ID)
}

func TestClassifySoftOnNameAndCityOnly(t *testing.T) {
	c := NewClassifier()
	existing := leadWith(domain.NormalizedKeys{Name: "acme services", City: "austin", Email: "x@x.com"})
	candidate := domain.NormalizedKeys{Name: "acme services", City: "austin", Email: "y@y.com"}

	m := c.Classify(candidate, []domain.Lead{existing})
	assert.Equal(t, KindSoft, m.Kind)
	assert.Equal(t, existing.ID, m.Lead.ID)
	assert.Greater(t, m.Score, 0.0)
	assert.LessOrEqual(t, m.Score, 1.0)
}

func TestClassifyNeverSoftWhenHard(t *testing.T) {
	c := NewClassifier()
	existing := leadWith(domain.NormalizedKeys{Email: "a@b.com", Name: "acme", City: "austin"})
	m := c.Classify(domain.NormalizedKeys{Email: "a@b.com", Name: "acme", City: "austin"}, []domain.Lead{existing})
	assert.Equal(t, KindHard, m.Kind)
	assert.Equal(t, KindHard, c.Compare(domain.NormalizedKeys{Email: "a@b.com", Name: "acme", City: "austin"}, existing.Normalized))
}

func TestClassifyNoneWhenNameMatchesButCityMissing(t *testing.T) {
	c := NewClassifier()
	existing := leadWith(domain.NormalizedKeys{Name: "acme"})
	m := c.Classify(domain.NormalizedKeys{Name: "acme"}, []domain.Lead{existing})
	assert.Equal(t, KindNone, m.Kind)
}

func TestClassifyIgnoresMergedAndArchivedLeads(t *testing.T) {
	c := NewClassifier()
	survivor := uuid.New()
	merged := leadWith(domain.NormalizedKeys{Email: "a@b.com"})
	merged.Status = domain.LeadStatusMerged
	merged.MergedIntoLeadID = &survivor
	archived := leadWith(domain.NormalizedKeys{Email: "a@b.com"})
	now := time.Now()
	archived.ArchivedAt = &now

	m := c.Classify(domain.NormalizedKeys{Email: "a@b.com"}, []domain.Lead{merged, archived})
	assert.Equal(t, KindNone, m.Kind)
}

func TestClassifyPicksHighestSoftScore(t *testing.T) {
	c := NewClassifier()
	weak := leadWith(domain.NormalizedKeys{Name: "acme", City: "austin"})
	strong := leadWith(domain.NormalizedKeys{Name: "acme", City: "austin", Domain: "acme.co"})

	m := c.Classify(domain.NormalizedKeys{Name: "acme", City: "austin", Domain: "acme.com"}, []domain.Lead{weak, strong})
	require.Equal(t, KindSoft, m.Kind)
	assert.Equal(t, strong.ID, m.Lead.ID)
}

func TestFuzzySoftMatcher(t *testing.T) {
	c := NewClassifier(WithSoftMatcher(FuzzySoftMatcher{Threshold: 0.9}))
	existing := leadWith(domain.NormalizedKeys{Name: "acme services", City: "austin"})

	m := c.Classify(domain.NormalizedKeys{Name: "acme service", City: "austin"}, []domain.Lead{existing})
	assert.Equal(t, KindSoft, m.Kind)

	m = c.Classify(domain.NormalizedKeys{Name: "zenith", City: "austin"}, []domain.Lead{existing})
	assert.Equal(t, KindNone, m.Kind)
}

func TestScoreDeterministic(t *testing.T) {
	a := domain.NormalizedKeys{Name: "acme services", City: "austin", Phone: "5125550100"}
	b := domain.NormalizedKeys{Name: "acme service", City: "austin", Phone: "5125550101"}
	first := Score(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(a, b))
	}
	assert.Equal(t, 1.0, Score(domain.NormalizedKeys{Name: "x", City: "y", Email: "e"}, domain.NormalizedKeys{Name: "x", City: "y", Email: "e"}))
}

func TestJaroWinkler(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("martha", "martha"))
	assert.InDelta(t, 0.9611, JaroWinkler("martha", "marhta"), 0.0001)
	assert.Equal(t, 0.0, JaroWinkler("", "abc"))
	assert.Equal(t, 0.0, JaroWinkler("abc", "xyz"))
}

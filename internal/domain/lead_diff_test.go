package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLeadCanonicalText(t *testing.T) {
	lead := Lead{
		ID:           uuid.MustParse("123e4567-e89b-12d3-a456-426614174000"),
		Status:       LeadStatusNew,
		BusinessName: "Acme",
		Email:        "hi@acme.com",
		CustomData:   map[string]string{"tier": "gold", "region": "south"},
	}

	expected := []string{
		"ID: 123e4567-e89b-12d3-a456-426614174000",
		"Status: NEW",
		"Fields:",
		`  businessName: "Acme"`,
		`  email: "hi@acme.com"`,
		"CustomData:",
		`  region: "south"`,
		`  tier: "gold"`,
	}

	lines := lead.CanonicalText()
	if len(lines) != len(expected) {
		t.Fatalf("expected %d canonical lines, got %d\n%v", len(expected), len(lines), lines)
	}
	for idx, line := range expected {
		if lines[idx] != line {
			t.Errorf("line %d mismatch: expected %q got %q", idx, line, lines[idx])
		}
	}
}

func TestDiffLeads(t *testing.T) {
	before := Lead{ID: uuid.New(), Status: LeadStatusNew, BusinessName: "Acme", City: "Austin"}
	after := before
	after.Website = "https://acme.com"
	after.City = "Dallas"

	diff := DiffLeads("before", &before, "after", &after)

	for _, want := range []string{
		"--- before\n",
		"+++ after\n",
		`-  city: "Austin"`,
		`+  city: "Dallas"`,
		`+  website: "https://acme.com"`,
		`   businessName: "Acme"`,
	} {
		if !strings.Contains(diff, want) {
			t.Errorf("diff missing %q\n%s", want, diff)
		}
	}

	changed := ChangedFields(before, after)
	if len(changed) != 2 || changed[0] != FieldWebsite || changed[1] != FieldCity {
		t.Fatalf("unexpected changed fields %v", changed)
	}
}

func TestMergeLogDiff(t *testing.T) {
	before := Lead{ID: uuid.New(), Status: LeadStatusNew, BusinessName: "Acme"}
	after := before.WithField(FieldPhone, "5551234567")

	entry, err := NewMergeLog(uuid.New(), before.ID, before.ID, nil, MergeSnapshot{
		Before: MergeSides{Primary: before},
		After:  MergeSides{Primary: after},
	}, "", nil, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error building merge log: %v", err)
	}

	diff, err := entry.Diff()
	if err != nil {
		t.Fatalf("unexpected error rendering diff: %v", err)
	}
	if !strings.Contains(diff, `+  phone: "5551234567"`) {
		t.Fatalf("diff missing phone addition:\n%s", diff)
	}

	if _, err := (MergeLog{BeforeAfterJSON: []byte("{")}).Diff(); err == nil {
		t.Fatal("expected error for malformed snapshot")
	}
}

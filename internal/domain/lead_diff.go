package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CanonicalText flattens the lead into a deterministic set of lines suitable for diffing.
func (l Lead) CanonicalText() []string {
	lines := []string{
		fmt.Sprintf("ID: %s", l.ID),
		fmt.Sprintf("Status: %s", l.Status),
		"Fields:",
	}
	fields := l.KnownFields()
	for _, field := range knownFields {
		if value := fields.Get(field); value != "" {
			lines = append(lines, fmt.Sprintf("  %s: %q", field, value))
		}
	}

	if len(l.CustomData) == 0 {
		return lines
	}
	keys := make([]string, 0, len(l.CustomData))
	for key := range l.CustomData {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines = append(lines, "CustomData:")
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %q", key, l.CustomData[key]))
	}
	return lines
}

// ChangedFields lists the known fields whose display value differs between before and after.
func ChangedFields(before, after Lead) []LeadField {
	var changed []LeadField
	b, a := before.KnownFields(), after.KnownFields()
	for _, field := range knownFields {
		if b.Get(field) != a.Get(field) {
			changed = append(changed, field)
		}
	}
	return changed
}

// DiffLeads produces a unified diff between two lead versions using the provided labels.
func DiffLeads(baseLabel string, base *Lead, targetLabel string, target *Lead) string {
	return buildUnifiedDiff(baseLabel, targetLabel, canonicalLines(base), canonicalLines(target))
}

// Diff renders the primary lead's before/after change recorded in the merge log.
func (m MergeLog) Diff() (string, error) {
	var snapshot MergeSnapshot
	if err := json.Unmarshal(m.BeforeAfterJSON, &snapshot); err != nil {
		return "", fmt.Errorf("decode merge snapshot %s: %w", m.ID, err)
	}
	return DiffLeads("before", &snapshot.Before.Primary, "after", &snapshot.After.Primary), nil
}

func canonicalLines(lead *Lead) []string {
	if lead == nil {
		return nil
	}
	return lead.CanonicalText()
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel string, baseLines, targetLines []string) string {
	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString(fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(baseLines), len(targetLines)))
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}
	return builder.String()
}

// diffLines aligns both sides on their longest common subsequence.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}
		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}
	return ops
}

package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Invariant rule names. They double as check names in verification reports.
const (
	RuleTimestampUTC      = "timestamp.utc"
	RuleCountsNonNegative = "counts.nonNegative"
	RuleTotalsSum         = "totals.sum"
	RuleIssueCount        = "issues.count"
	RuleIssueNumbers      = "issues.numbers"
	RuleIssueNames        = "issues.names"
	RuleIssueStatus       = "issues.status"
	RuleIssuePassedSum    = "issues.passedSum"
	RuleIssueFailedSum    = "issues.failedSum"
	RuleIssueTotalSum     = "issues.totalSum"
	RuleRunStatus         = "run.status"
	RuleRunOverallStatus  = "run.overallStatus"
)

// InvariantRules lists every rule Violations evaluates, in report order.
var InvariantRules = []string{
	RuleTimestampUTC,
	RuleCountsNonNegative,
	RuleTotalsSum,
	RuleIssueCount,
	RuleIssueNumbers,
	RuleIssueNames,
	RuleIssueStatus,
	RuleIssuePassedSum,
	RuleIssueFailedSum,
	RuleIssueTotalSum,
	RuleRunStatus,
	RuleRunOverallStatus,
}

// Violation describes one broken invariant.
type Violation struct {
	Rule     string
	Subject  string
	Expected string
	Actual   string
}

func (v Violation) String() string {
	subject := v.Rule
	if v.Subject != "" {
		subject = fmt.Sprintf("%s (%s)", v.Rule, v.Subject)
	}
	return fmt.Sprintf("%s: expected %s, got %s", subject, v.Expected, v.Actual)
}

// Violations evaluates every manifest invariant and returns those that do
// not hold. Statuses are recomputed from counts rather than trusted.
func (m *Manifest) Violations() []Violation {
	var out []Violation
	add := func(rule, subject string, expected, actual any) {
		out = append(out, Violation{
			Rule:     rule,
			Subject:  subject,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}

	if m.Timestamp.IsZero() {
		add(RuleTimestampUTC, "timestamp", "a UTC instant", "unset")
	} else if _, offset := m.Timestamp.Zone(); offset != 0 {
		add(RuleTimestampUTC, "timestamp", "offset +00:00", m.Timestamp.Format("-07:00"))
	}

	for _, field := range []struct {
		name  string
		value int
	}{
		{"totalIssues", m.TotalIssues},
		{"totalTests", m.TotalTests},
		{"totalPassed", m.TotalPassed},
		{"totalFailed", m.TotalFailed},
	} {
		if field.value < 0 {
			add(RuleCountsNonNegative, field.name, ">= 0", field.value)
		}
	}
	for _, issue := range m.Issues {
		subject := "issue #" + strconv.Itoa(issue.IssueNumber)
		if issue.TestsPassed < 0 {
			add(RuleCountsNonNegative, subject+" testsPassed", ">= 0", issue.TestsPassed)
		}
		if issue.TestsFailed < 0 {
			add(RuleCountsNonNegative, subject+" testsFailed", ">= 0", issue.TestsFailed)
		}
	}

	if m.TotalPassed+m.TotalFailed != m.TotalTests {
		add(RuleTotalsSum, "totalPassed+totalFailed", m.TotalTests, m.TotalPassed+m.TotalFailed)
	}
	if m.TotalIssues != len(m.Issues) {
		add(RuleIssueCount, "totalIssues", len(m.Issues), m.TotalIssues)
	}

	seen := make(map[int]bool, len(m.Issues))
	var passed, failed int
	allClosed := true
	for _, issue := range m.Issues {
		subject := "issue #" + strconv.Itoa(issue.IssueNumber)
		if issue.IssueNumber <= 0 {
			add(RuleIssueNumbers, subject, "a positive issue number", issue.IssueNumber)
		} else if seen[issue.IssueNumber] {
			add(RuleIssueNumbers, subject, "a unique issue number", "duplicate")
		}
		seen[issue.IssueNumber] = true
		if strings.TrimSpace(issue.IssueName) == "" {
			add(RuleIssueNames, subject, "a non-empty name", `""`)
		}
		if want := StatusFor(issue.TestsFailed); issue.Status != want {
			add(RuleIssueStatus, subject, want, issue.Status)
		}
		if issue.TestsFailed != 0 {
			allClosed = false
		}
		passed += issue.TestsPassed
		failed += issue.TestsFailed
	}

	if passed != m.TotalPassed {
		add(RuleIssuePassedSum, "sum(testsPassed)", m.TotalPassed, passed)
	}
	if failed != m.TotalFailed {
		add(RuleIssueFailedSum, "sum(testsFailed)", m.TotalFailed, failed)
	}
	if passed+failed != m.TotalTests {
		add(RuleIssueTotalSum, "sum(testsPassed+testsFailed)", m.TotalTests, passed+failed)
	}

	wantStatus := StatusOpen
	if m.TotalFailed == 0 && allClosed {
		wantStatus = StatusClosed
	}
	if m.Status != wantStatus {
		add(RuleRunStatus, "status", wantStatus, m.Status)
	}
	if want := OverallStatusFor(m.TotalFailed); m.OverallStatus != want {
		add(RuleRunOverallStatus, "overallStatus", want, m.OverallStatus)
	}

	return out
}

// Validate returns an *InvariantViolation when any invariant does not hold.
func (m *Manifest) Validate() error {
	if violations := m.Violations(); len(violations) > 0 {
		return &InvariantViolation{Violations: violations}
	}
	return nil
}

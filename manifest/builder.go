package manifest

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ironbucket/resultgate/types"
)

// BuildOptions carries the inputs to Build that do not come from the run.
type BuildOptions struct {
	Clock            func() time.Time // defaults to time.Now
	Container        string           // optional provenance, e.g. the CI container name
	ExecutionContext string           // optional provenance, e.g. "containerized"
}

// Build converts an execution outcome and the caller-supplied per-issue
// breakdown into a manifest. The breakdown must account for exactly the
// outcome's totals; any disagreement is returned as an
// *types.InvariantViolation and nothing is adjusted.
func Build(outcome *types.ExecutionOutcome, breakdown []types.IssueCounts, opts BuildOptions) (*types.Manifest, error) {
	if outcome == nil {
		return nil, errors.New("execution outcome is required")
	}
	if violations := checkInputs(outcome, breakdown); len(violations) > 0 {
		return nil, &types.InvariantViolation{Violations: violations}
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &types.Manifest{
		TestRun: types.TestRun{
			Timestamp:        types.NewTimestamp(clock()),
			Container:        opts.Container,
			ExecutionContext: opts.ExecutionContext,
			TotalIssues:      len(breakdown),
			TotalTests:       outcome.TestsRun,
			TotalPassed:      outcome.TestsPassed,
			TotalFailed:      outcome.TestsFailed,
		},
		Issues: make([]types.IssueResult, 0, len(breakdown)),
	}

	allClosed := true
	for _, counts := range breakdown {
		issue := types.IssueResult{
			IssueNumber: counts.Number,
			IssueName:   counts.Name,
			TestsPassed: counts.Passed,
			TestsFailed: counts.Failed,
			Status:      types.StatusFor(counts.Failed),
		}
		if issue.Status != types.StatusClosed {
			allClosed = false
		}
		m.Issues = append(m.Issues, issue)
	}

	m.Status = types.StatusOpen
	if m.TotalFailed == 0 && allClosed {
		m.Status = types.StatusClosed
	}
	m.OverallStatus = types.OverallStatusFor(m.TotalFailed)
	m.Summary = summarize(m)

	// Everything above is derived, so this only trips on a bug in Build itself.
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func checkInputs(outcome *types.ExecutionOutcome, breakdown []types.IssueCounts) []types.Violation {
	var out []types.Violation
	add := func(rule, subject string, expected, actual any) {
		out = append(out, types.Violation{
			Rule:     rule,
			Subject:  subject,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}

	if outcome.TestsPassed < 0 || outcome.TestsFailed < 0 || outcome.TestsRun < 0 {
		add(types.RuleCountsNonNegative, "outcome", "non-negative counts",
			fmt.Sprintf("run=%d passed=%d failed=%d", outcome.TestsRun, outcome.TestsPassed, outcome.TestsFailed))
	}
	if !outcome.Consistent() {
		add(types.RuleTotalsSum, "outcome passed+failed", outcome.TestsRun, outcome.TestsPassed+outcome.TestsFailed)
	}

	seen := make(map[int]bool, len(breakdown))
	var passed, failed int
	for _, counts := range breakdown {
		subject := "issue #" + strconv.Itoa(counts.Number)
		if counts.Number <= 0 {
			add(types.RuleIssueNumbers, subject, "a positive issue number", counts.Number)
		} else if seen[counts.Number] {
			add(types.RuleIssueNumbers, subject, "a unique issue number", "duplicate")
		}
		seen[counts.Number] = true
		if strings.TrimSpace(counts.Name) == "" {
			add(types.RuleIssueNames, subject, "a non-empty name", `""`)
		}
		if counts.Passed < 0 || counts.Failed < 0 {
			add(types.RuleCountsNonNegative, subject, "non-negative counts",
				fmt.Sprintf("passed=%d failed=%d", counts.Passed, counts.Failed))
		}
		passed += counts.Passed
		failed += counts.Failed
	}

	if passed != outcome.TestsPassed {
		add(types.RuleIssuePassedSum, "breakdown passed", outcome.TestsPassed, passed)
	}
	if failed != outcome.TestsFailed {
		add(types.RuleIssueFailedSum, "breakdown failed", outcome.TestsFailed, failed)
	}
	if passed+failed != outcome.TestsRun {
		add(types.RuleIssueTotalSum, "breakdown total", outcome.TestsRun, passed+failed)
	}
	return out
}

func summarize(m *types.Manifest) string {
	var b strings.Builder
	if m.TotalFailed == 0 {
		fmt.Fprintf(&b, "All %s passing across %s", plural(m.TotalTests, "test"), plural(m.TotalIssues, "issue"))
	} else {
		fmt.Fprintf(&b, "%d of %s failing across %s", m.TotalFailed, plural(m.TotalTests, "test"), plural(m.TotalIssues, "issue"))
	}

	numbers := make([]int, 0, len(m.Issues))
	var open []string
	for _, issue := range m.Issues {
		numbers = append(numbers, issue.IssueNumber)
		if issue.Status == types.StatusOpen {
			open = append(open, "#"+strconv.Itoa(issue.IssueNumber))
		}
	}
	if len(numbers) > 0 {
		lo, hi := slices.Min(numbers), slices.Max(numbers)
		if lo == hi {
			fmt.Fprintf(&b, " (Issue #%d)", lo)
		} else {
			fmt.Fprintf(&b, " (Issues #%d-%d)", lo, hi)
		}
	}
	b.WriteString(".")
	if len(open) > 0 {
		fmt.Fprintf(&b, " Open: %s.", strings.Join(open, ", "))
	}
	if m.ExecutionContext != "" {
		fmt.Fprintf(&b, " Executed in %s environment.", m.ExecutionContext)
	}
	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

package manifest

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ironbucket/resultgate/types"
)

// Comparison is the outcome of comparing one field of two manifests.
type Comparison struct {
	Field    string
	Expected string
	Actual   string
	Equal    bool
}

// Compare compares every field of two manifests semantically: timestamps
// by instant and issues by issueNumber, so ordering never matters.
func Compare(expected, actual *types.Manifest) []Comparison {
	var out []Comparison
	cmp := func(field string, want, got any) {
		w, g := fmt.Sprint(want), fmt.Sprint(got)
		out = append(out, Comparison{Field: field, Expected: w, Actual: g, Equal: w == g})
	}

	out = append(out, Comparison{
		Field:    "timestamp",
		Expected: expected.Timestamp.String(),
		Actual:   actual.Timestamp.String(),
		Equal:    expected.Timestamp.Equal(actual.Timestamp.Time),
	})
	cmp("container", expected.Container, actual.Container)
	cmp("executionContext", expected.ExecutionContext, actual.ExecutionContext)
	cmp("totalIssues", expected.TotalIssues, actual.TotalIssues)
	cmp("totalTests", expected.TotalTests, actual.TotalTests)
	cmp("totalPassed", expected.TotalPassed, actual.TotalPassed)
	cmp("totalFailed", expected.TotalFailed, actual.TotalFailed)
	cmp("status", expected.Status, actual.Status)
	cmp("overallStatus", expected.OverallStatus, actual.OverallStatus)
	cmp("summary", expected.Summary, actual.Summary)

	for _, want := range expected.Issues {
		prefix := "issue." + strconv.Itoa(want.IssueNumber)
		got, ok := actual.Issue(want.IssueNumber)
		out = append(out, Comparison{
			Field:    prefix + ".present",
			Expected: "present",
			Actual:   presence(ok),
			Equal:    ok,
		})
		if !ok {
			continue
		}
		cmp(prefix+".issueName", want.IssueName, got.IssueName)
		cmp(prefix+".testsPassed", want.TestsPassed, got.TestsPassed)
		cmp(prefix+".testsFailed", want.TestsFailed, got.TestsFailed)
		cmp(prefix+".status", want.Status, got.Status)
	}

	var unexpected []int
	for _, got := range actual.Issues {
		if _, ok := expected.Issue(got.IssueNumber); !ok {
			unexpected = append(unexpected, got.IssueNumber)
		}
	}
	sort.Ints(unexpected)
	out = append(out, Comparison{
		Field:    "issue.unexpected",
		Expected: "none",
		Actual:   issueList(unexpected),
		Equal:    len(unexpected) == 0,
	})
	return out
}

// Diff returns only the fields that differ.
func Diff(expected, actual *types.Manifest) []Comparison {
	var diffs []Comparison
	for _, c := range Compare(expected, actual) {
		if !c.Equal {
			diffs = append(diffs, c)
		}
	}
	return diffs
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func issueList(numbers []int) string {
	if len(numbers) == 0 {
		return "none"
	}
	s := ""
	for i, n := range numbers {
		if i > 0 {
			s += ", "
		}
		s += "#" + strconv.Itoa(n)
	}
	return s
}

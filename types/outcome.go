package types

import "time"

// HarnessKind selects how the runner invokes and parses a test harness.
type HarnessKind string

const (
	HarnessGoTest HarnessKind = "gotest"
	HarnessMaven  HarnessKind = "maven"
	HarnessJest   HarnessKind = "jest"
)

// HarnessKinds lists every supported harness.
var HarnessKinds = []HarnessKind{HarnessGoTest, HarnessMaven, HarnessJest}

// IsValid returns true if the harness kind is supported
func (k HarnessKind) IsValid() bool {
	for _, kind := range HarnessKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// CaseResult holds the counts the harness reported for one attributable unit:
// a top-level Go test, a surefire test class or a jest test file.
type CaseResult struct {
	Name    string
	Passed  int
	Failed  int
	Skipped int
}

// ExecutionOutcome is what the Execution Runner observed. Counts come from
// the harness's own reporting. Skipped tests are not part of TestsRun.
type ExecutionOutcome struct {
	Harness      HarnessKind
	Selector     string
	WorkDir      string
	ExitCode     int
	Stdout       string
	Stderr       string
	TestsRun     int
	TestsPassed  int
	TestsFailed  int
	TestsSkipped int
	Cases        []CaseResult
	Duration     time.Duration
	TimedOut     bool
}

// Consistent reports whether passed and failed add up to the run count.
func (o *ExecutionOutcome) Consistent() bool {
	return o.TestsPassed >= 0 && o.TestsFailed >= 0 && o.TestsPassed+o.TestsFailed == o.TestsRun
}

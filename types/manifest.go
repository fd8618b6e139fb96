package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the acceptance state of an issue or a whole run.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// OverallStatus summarises a run for humans and dashboards.
type OverallStatus string

const (
	OverallAllPassing  OverallStatus = "ALL_PASSING"
	OverallSomeFailing OverallStatus = "SOME_FAILING"
)

// StatusFor returns CLOSED when nothing failed.
func StatusFor(failed int) Status {
	if failed == 0 {
		return StatusClosed
	}
	return StatusOpen
}

// OverallStatusFor returns ALL_PASSING when nothing failed.
func OverallStatusFor(failed int) OverallStatus {
	if failed == 0 {
		return OverallAllPassing
	}
	return OverallSomeFailing
}

// TimestampLayout renders UTC with an explicit "+00:00" offset rather than "Z".
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Timestamp is an instant serialised as ISO-8601 with an explicit offset.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalises t to UTC at microsecond precision so that the
// encoded form round-trips to an equal instant.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("timestamp is not set")
	}
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp %q is not ISO-8601 with an offset: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// IssueResult is the per-issue slice of a run.
type IssueResult struct {
	IssueNumber int    `json:"issueNumber"`
	IssueName   string `json:"issueName"`
	TestsPassed int    `json:"testsPassed"`
	TestsFailed int    `json:"testsFailed"`
	Status      Status `json:"status"`
}

// TestsTotal is the number of tests attributed to the issue.
func (r IssueResult) TestsTotal() int {
	return r.TestsPassed + r.TestsFailed
}

// TestRun holds the run-level fields of a manifest.
type TestRun struct {
	Timestamp        Timestamp     `json:"timestamp"`
	Container        string        `json:"container,omitempty"`
	ExecutionContext string        `json:"executionContext,omitempty"`
	TotalIssues      int           `json:"totalIssues"`
	TotalTests       int           `json:"totalTests"`
	TotalPassed      int           `json:"totalPassed"`
	TotalFailed      int           `json:"totalFailed"`
	Status           Status        `json:"status"`
	OverallStatus    OverallStatus `json:"overallStatus"`
}

// Manifest is the persisted results artifact. Once built it is never mutated.
type Manifest struct {
	TestRun
	Issues  []IssueResult `json:"issues"`
	Summary string        `json:"summary"`
}

// Issue returns the issue with the given number.
func (m *Manifest) Issue(number int) (IssueResult, bool) {
	for _, issue := range m.Issues {
		if issue.IssueNumber == number {
			return issue, true
		}
	}
	return IssueResult{}, false
}

// IssueCounts is one entry of the per-issue breakdown fed to the builder.
type IssueCounts struct {
	Number int
	Name   string
	Passed int
	Failed int
}

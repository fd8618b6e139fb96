package reporting

import (
	"time"

	"github.com/ironbucket/resultgate/gateway"
	"github.com/ironbucket/resultgate/types"
	"github.com/ironbucket/resultgate/verify"
)

// StageStatus is how far a pipeline stage got.
type StageStatus string

const (
	StagePass    StageStatus = "pass"
	StageFail    StageStatus = "fail"
	StageSkipped StageStatus = "skipped"
)

// StageResult records one pipeline stage.
type StageResult struct {
	Stage    types.Stage
	Status   StageStatus
	Duration time.Duration
	Detail   string
}

// RunReport gathers everything one pipeline run produced. Fields for stages
// that did not run are nil.
type RunReport struct {
	RunID        string
	Started      time.Time
	Duration     time.Duration
	ObjectKey    string
	Stages       []StageResult
	Outcome      *types.ExecutionOutcome
	Manifest     *types.Manifest
	Upload       *gateway.UploadResult
	Verification *verify.Report
	Err          error
}

// Passed is true when every stage passed.
func (r *RunReport) Passed() bool {
	if r.Err != nil || len(r.Stages) == 0 {
		return false
	}
	for _, s := range r.Stages {
		if s.Status != StagePass {
			return false
		}
	}
	return true
}

// Result is "pass" or "fail", for metrics and logs.
func (r *RunReport) Result() string {
	if r.Passed() {
		return string(StagePass)
	}
	return string(StageFail)
}

// FailedStage returns the first stage that failed.
func (r *RunReport) FailedStage() (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Status == StageFail {
			return s, true
		}
	}
	return StageResult{}, false
}

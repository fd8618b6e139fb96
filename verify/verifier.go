package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ironbucket/resultgate/gateway"
	"github.com/ironbucket/resultgate/manifest"
	"github.com/ironbucket/resultgate/types"
)

// Check names that are not derived from manifest fields.
const (
	CheckObjectExists         = "object.exists"
	CheckObjectSize           = "object.size"
	CheckObjectDecodes        = "object.decodes"
	CheckDerivedStatus        = "derived.status"
	CheckDerivedOverallStatus = "derived.overallStatus"
)

// Check is one named comparison between what was sent and what was read back.
type Check struct {
	Name     string
	Passed   bool
	Expected string
	Actual   string
}

// Report is the result of verifying one persisted manifest.
type Report struct {
	ObjectKey  string
	HTTPStatus int
	RequestID  string
	Attempts   int
	Checks     []Check
	Passed     bool
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Counts returns the number of passed and failed checks.
func (r *Report) Counts() (passed, failed int) {
	for _, c := range r.Checks {
		if c.Passed {
			passed++
		} else {
			failed++
		}
	}
	return
}

// Fetcher reads an object back through the gateway.
type Fetcher interface {
	Fetch(ctx context.Context, dest gateway.Destination) (*gateway.FetchResult, error)
}

var _ Fetcher = (*gateway.Client)(nil)

// Verifier re-reads a persisted manifest and cross-checks it.
type Verifier struct {
	fetcher Fetcher
	log     log.Logger
}

func NewVerifier(fetcher Fetcher, logger log.Logger) *Verifier {
	if logger == nil {
		logger = log.New()
	}
	return &Verifier{fetcher: fetcher, log: logger}
}

// Verify fetches the object at dest and compares it with expected. When any
// check fails the report is returned together with a *types.VerificationMismatch.
// Transport problems are returned as they come from the fetcher.
func (v *Verifier) Verify(ctx context.Context, expected *types.Manifest, dest gateway.Destination) (*Report, error) {
	if expected == nil {
		return nil, fmt.Errorf("expected manifest is required")
	}
	res, err := v.fetcher.Fetch(ctx, dest)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ObjectKey:  dest.ObjectKey(),
		HTTPStatus: res.HTTPStatus,
		RequestID:  res.RequestID,
		Attempts:   res.Attempts,
	}
	report.add(CheckObjectExists, res.Found, "present", fmt.Sprintf("missing (HTTP %d)", res.HTTPStatus))
	if !res.Found {
		return v.finish(report)
	}
	report.add(CheckObjectSize, !res.TooLarge,
		fmt.Sprintf("at most %d bytes", gateway.MaxResponseBytes),
		fmt.Sprintf("more than %d bytes", gateway.MaxResponseBytes))
	if res.TooLarge {
		return v.finish(report)
	}

	actual, err := manifest.Decode(res.Body)
	report.add(CheckObjectDecodes, err == nil, "valid manifest", errString(err))
	if err != nil {
		return v.finish(report)
	}

	report.addInvariants(actual)
	for _, cmp := range manifest.Compare(expected, actual) {
		name := cmp.Field
		if !strings.HasPrefix(name, "issue.") {
			name = "field." + name
		}
		report.Checks = append(report.Checks, Check{
			Name:     name,
			Passed:   cmp.Equal,
			Expected: cmp.Expected,
			Actual:   cmp.Actual,
		})
	}
	report.addDerived(actual)
	return v.finish(report)
}

func (v *Verifier) finish(report *Report) (*Report, error) {
	failed := report.Failed()
	report.Passed = len(failed) == 0
	passed, _ := report.Counts()
	if report.Passed {
		v.log.Info("Verification passed", "key", report.ObjectKey, "checks", passed)
		return report, nil
	}

	mismatch := &types.VerificationMismatch{ObjectKey: report.ObjectKey}
	for _, c := range failed {
		mismatch.Mismatches = append(mismatch.Mismatches, types.Mismatch{Check: c.Name, Expected: c.Expected, Actual: c.Actual})
		v.log.Error("Verification check failed", "check", c.Name, "expected", c.Expected, "actual", c.Actual)
	}
	return report, mismatch
}

// add records a check whose values only matter when it fails.
func (r *Report) add(name string, passed bool, expected, actual string) {
	c := Check{Name: name, Passed: passed, Expected: expected, Actual: expected}
	if !passed {
		c.Actual = actual
	}
	r.Checks = append(r.Checks, c)
}

func (r *Report) addInvariants(m *types.Manifest) {
	byRule := make(map[string][]string)
	for _, violation := range m.Violations() {
		byRule[violation.Rule] = append(byRule[violation.Rule], violation.String())
	}
	for _, rule := range types.InvariantRules {
		broken := byRule[rule]
		r.add("invariant."+rule, len(broken) == 0, "holds", strings.Join(broken, "; "))
	}
}

// addDerived recomputes both statuses from the decoded issues alone.
func (r *Report) addDerived(m *types.Manifest) {
	failed := 0
	for _, issue := range m.Issues {
		failed += issue.TestsFailed
	}
	status := types.StatusFor(failed)
	overall := types.OverallStatusFor(failed)

	r.Checks = append(r.Checks,
		Check{Name: CheckDerivedStatus, Passed: m.Status == status, Expected: string(status), Actual: string(m.Status)},
		Check{Name: CheckDerivedOverallStatus, Passed: m.OverallStatus == overall, Expected: string(overall), Actual: string(m.OverallStatus)},
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// StatusText names an HTTP status for reports.
func StatusText(code int) string {
	if code == 0 {
		return "no response"
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

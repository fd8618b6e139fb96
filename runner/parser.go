package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ironbucket/resultgate/types"
)

var (
	// ErrNoSummary is returned when harness output carries no recognisable
	// test summary.
	ErrNoSummary = errors.New("no test summary in harness output")

	// ErrNoTests is returned when the harness ran but reported no passing or
	// failing test, usually because the selector matched nothing.
	ErrNoTests = errors.New("selector matched no tests")

	// ErrOutputTruncated is returned when a parser that needs the whole of
	// stdout only saw its tail.
	ErrOutputTruncated = errors.New("harness output exceeded capture limit")
)

// Test2json actions. See
// https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// Tally is what a harness reported about one run.
type Tally struct {
	Run     int
	Passed  int
	Failed  int
	Skipped int
	Cases   []types.CaseResult
}

// OutputParser reads a harness summary from captured output.
type OutputParser interface {
	Parse(stdout, stderr []byte) (*Tally, error)
}

// StreamParser is an OutputParser that can also read stdout line by line
// while the harness runs, so its counts cover the whole stream and not only
// the part kept in memory.
type StreamParser interface {
	OutputParser
	NewStream() Stream
}

// Stream accumulates the stdout of one harness run.
type Stream interface {
	Line(line string)
	Tally() (*Tally, error)
}

func parseLines(s Stream, stdout []byte) (*Tally, error) {
	w := newLineWriter(s.Line)
	_, _ = w.Write(stdout)
	w.Flush()
	return s.Tally()
}

// NewOutputParser returns the parser for a harness kind.
func NewOutputParser(kind types.HarnessKind) (OutputParser, error) {
	switch kind {
	case types.HarnessGoTest:
		return goTestParser{}, nil
	case types.HarnessMaven:
		return surefireParser{}, nil
	case types.HarnessJest:
		return jestParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported harness %q", kind)
	}
}

// caseTally accumulates counts per case name, keeping first-seen order.
type caseTally struct {
	order []string
	cases map[string]*types.CaseResult
}

func newCaseTally() *caseTally {
	return &caseTally{cases: make(map[string]*types.CaseResult)}
}

func (c *caseTally) add(name string, passed, failed, skipped int) {
	cr, ok := c.cases[name]
	if !ok {
		cr = &types.CaseResult{Name: name}
		c.cases[name] = cr
		c.order = append(c.order, name)
	}
	cr.Passed += passed
	cr.Failed += failed
	cr.Skipped += skipped
}

func (c *caseTally) results() []types.CaseResult {
	out := make([]types.CaseResult, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, *c.cases[name])
	}
	return out
}

func (c *caseTally) totals() (passed, failed, skipped int) {
	for _, cr := range c.cases {
		passed += cr.Passed
		failed += cr.Failed
		skipped += cr.Skipped
	}
	return
}

// TestEvent is one line of go test -json output.
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Output  string
	Elapsed float64
}

// goTestParser counts top-level tests from the test2json stream. Subtests
// roll up into their parent.
type goTestParser struct{}

func (p goTestParser) Parse(stdout, _ []byte) (*Tally, error) {
	return parseLines(p.NewStream(), stdout)
}

func (goTestParser) NewStream() Stream {
	return &goTestStream{cases: newCaseTally()}
}

type goTestStream struct {
	cases     *caseTally
	sawResult bool
}

func (s *goTestStream) Line(line string) {
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return
	}
	var event TestEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return
	}
	switch event.Action {
	case ActionPass, ActionFail, ActionSkip:
	default:
		return
	}
	s.sawResult = true
	if event.Test == "" || strings.Contains(event.Test, "/") {
		return
	}
	switch event.Action {
	case ActionPass:
		s.cases.add(event.Test, 1, 0, 0)
	case ActionFail:
		s.cases.add(event.Test, 0, 1, 0)
	case ActionSkip:
		s.cases.add(event.Test, 0, 0, 1)
	}
}

func (s *goTestStream) Tally() (*Tally, error) {
	if !s.sawResult {
		return nil, ErrNoSummary
	}
	passed, failed, skipped := s.cases.totals()
	return &Tally{
		Run:     passed + failed,
		Passed:  passed,
		Failed:  failed,
		Skipped: skipped,
		Cases:   s.cases.results(),
	}, nil
}

var (
	surefireCountsRe  = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+), Skipped: (\d+)(.*)$`)
	surefireClassRe   = regexp.MustCompile(`\s-{1,2} in (\S+)\s*$`)
	surefireRunningRe = regexp.MustCompile(`Running (\S+)\s*$`)
)

// surefireParser reads Maven surefire console output. Lines with a
// "Time elapsed" suffix are per class; the rest are module aggregates.
type surefireParser struct{}

func (p surefireParser) Parse(stdout, _ []byte) (*Tally, error) {
	return parseLines(p.NewStream(), stdout)
}

func (surefireParser) NewStream() Stream {
	return &surefireStream{classes: newCaseTally()}
}

type surefireStream struct {
	classes      *caseTally
	running      string
	aggregate    Tally
	sawAggregate bool
	err          error
}

func (s *surefireStream) Line(line string) {
	if s.err != nil {
		return
	}
	line = strings.TrimRight(stripansi.Strip(line), "\r")
	if m := surefireRunningRe.FindStringSubmatch(line); m != nil && !strings.Contains(line, "Tests run:") {
		s.running = m[1]
		return
	}
	m := surefireCountsRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	run, failures, errs, skipped := atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4])
	failed := failures + errs
	passed := run - failed - skipped
	if passed < 0 {
		s.err = fmt.Errorf("surefire reported more failures and skips than tests: %q", strings.TrimSpace(line))
		return
	}

	rest := m[5]
	if !strings.Contains(rest, "Time elapsed") {
		s.sawAggregate = true
		s.aggregate.Passed += passed
		s.aggregate.Failed += failed
		s.aggregate.Skipped += skipped
		return
	}
	class := s.running
	if cm := surefireClassRe.FindStringSubmatch(rest); cm != nil {
		class = cm[1]
	}
	if class == "" {
		class = "unknown"
	}
	s.classes.add(class, passed, failed, skipped)
}

func (s *surefireStream) Tally() (*Tally, error) {
	if s.err != nil {
		return nil, s.err
	}
	tally := &Tally{Cases: s.classes.results()}
	switch {
	case s.sawAggregate:
		tally.Passed, tally.Failed, tally.Skipped = s.aggregate.Passed, s.aggregate.Failed, s.aggregate.Skipped
	case len(tally.Cases) > 0:
		tally.Passed, tally.Failed, tally.Skipped = s.classes.totals()
	default:
		return nil, ErrNoSummary
	}
	tally.Run = tally.Passed + tally.Failed
	return tally, nil
}

// jestReport is the subset of `jest --json` output we consume.
type jestReport struct {
	NumTotalTests   int `json:"numTotalTests"`
	NumPassedTests  int `json:"numPassedTests"`
	NumFailedTests  int `json:"numFailedTests"`
	NumPendingTests int `json:"numPendingTests"`
	NumTodoTests    int `json:"numTodoTests"`
	TestResults     []struct {
		Name             string `json:"name"`
		AssertionResults []struct {
			FullName string `json:"fullName"`
			Status   string `json:"status"`
		} `json:"assertionResults"`
	} `json:"testResults"`
}

var (
	jestSummaryRe = regexp.MustCompile(`(?m)^Tests:\s+(.*\d+ total)`)
	jestCountRe   = regexp.MustCompile(`(\d+) (failed|passed|skipped|todo|total)`)
)

// jestParser prefers the --json report on stdout and falls back to the
// human "Tests:" line, which jest writes to stderr.
type jestParser struct{}

func (jestParser) Parse(stdout, stderr []byte) (*Tally, error) {
	if start := bytes.Index(stdout, []byte(`{"num`)); start >= 0 {
		var report jestReport
		if err := json.NewDecoder(bytes.NewReader(stdout[start:])).Decode(&report); err == nil {
			return report.tally(), nil
		}
	}

	text := stripansi.Strip(string(stderr) + "\n" + string(stdout))
	matches := jestSummaryRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, ErrNoSummary
	}
	tally := &Tally{}
	for _, m := range jestCountRe.FindAllStringSubmatch(matches[len(matches)-1][1], -1) {
		n := atoi(m[1])
		switch m[2] {
		case "failed":
			tally.Failed = n
		case "passed":
			tally.Passed = n
		case "skipped", "todo":
			tally.Skipped += n
		}
	}
	tally.Run = tally.Passed + tally.Failed
	return tally, nil
}

func (r jestReport) tally() *Tally {
	cases := newCaseTally()
	for _, file := range r.TestResults {
		for _, a := range file.AssertionResults {
			switch a.Status {
			case "passed":
				cases.add(a.FullName, 1, 0, 0)
			case "failed":
				cases.add(a.FullName, 0, 1, 0)
			default:
				cases.add(a.FullName, 0, 0, 1)
			}
		}
	}
	return &Tally{
		Run:     r.NumPassedTests + r.NumFailedTests,
		Passed:  r.NumPassedTests,
		Failed:  r.NumFailedTests,
		Skipped: r.NumPendingTests + r.NumTodoTests,
		Cases:   cases.results(),
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

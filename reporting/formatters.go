package reporting

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ironbucket/resultgate/verify"
)

// ReportFormatter defines the interface for different report output formats
type ReportFormatter interface {
	Format(report *RunReport) (string, error)
}

// ReportWriter defines the interface for writing reports to various destinations
type ReportWriter interface {
	Write(content string) error
}

// FileWriter writes reports to a file
type FileWriter struct {
	path string
}

// NewFileWriter creates a new file writer
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Write writes the content to the file
func (fw *FileWriter) Write(content string) error {
	return os.WriteFile(fw.path, []byte(content), 0644)
}

// StdoutWriter writes reports to stdout
type StdoutWriter struct{}

// NewStdoutWriter creates a new stdout writer
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

// Write writes the content to stdout
func (sw *StdoutWriter) Write(content string) error {
	_, err := fmt.Print(content)
	return err
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func stageStatusString(s StageStatus) string {
	switch s {
	case StagePass:
		return "PASS"
	case StageFail:
		return "FAIL"
	default:
		return "SKIPPED"
	}
}

// TableFormatter renders the terminal summary: one row per stage, one per
// issue and one per failed verification check.
type TableFormatter struct {
	title string
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(title string) *TableFormatter {
	return &TableFormatter{title: title}
}

func (tf *TableFormatter) Format(r *RunReport) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s (run %s, %s)", tf.title, r.RunID, formatDuration(r.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Passed", "Failed", "Status", "Detail",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, s := range r.Stages {
		t.AppendRow(table.Row{
			"Stage", string(s.Stage), formatDuration(s.Duration), "-", "-", stageStatusString(s.Status), s.Detail,
		})
	}

	if r.Manifest != nil && len(r.Manifest.Issues) > 0 {
		t.AppendSeparator()
		for _, issue := range r.Manifest.Issues {
			t.AppendRow(table.Row{
				"Issue", fmt.Sprintf("#%d", issue.IssueNumber), "-",
				issue.TestsPassed, issue.TestsFailed, string(issue.Status), issue.IssueName,
			})
		}
	}

	if r.Verification != nil {
		if failed := r.Verification.Failed(); len(failed) > 0 {
			t.AppendSeparator()
			for _, c := range failed {
				t.AppendRow(table.Row{
					"Check", c.Name, "-", "-", "-", "FAIL", fmt.Sprintf("expected %s, got %s", c.Expected, c.Actual),
				})
			}
		}
	}

	if r.Passed() {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	footer := table.Row{"TOTAL", r.ObjectKey, formatDuration(r.Duration), "-", "-", strings.ToUpper(r.Result()), ""}
	if r.Manifest != nil {
		footer[3], footer[4] = r.Manifest.TotalPassed, r.Manifest.TotalFailed
	}
	if r.Verification != nil {
		passed, failed := r.Verification.Counts()
		footer[6] = fmt.Sprintf("%d/%d checks passed", passed, passed+failed)
	} else if s, ok := r.FailedStage(); ok {
		footer[6] = fmt.Sprintf("%s stage failed", s.Stage)
	}
	t.AppendFooter(footer)

	t.Render()
	if r.Manifest != nil && r.Manifest.Summary != "" {
		fmt.Fprintln(&buf, r.Manifest.Summary)
	}
	return buf.String(), nil
}

// VerificationDocument is the JSON form of a verification report.
type VerificationDocument struct {
	RunID       string              `json:"runId"`
	ObjectKey   string              `json:"objectKey"`
	Passed      bool                `json:"passed"`
	FailedStage string              `json:"failedStage,omitempty"`
	Error       string              `json:"error,omitempty"`
	HTTPStatus  int                 `json:"httpStatus,omitempty"`
	RequestID   string              `json:"requestId,omitempty"`
	Attempts    int                 `json:"attempts,omitempty"`
	Checks      []VerificationCheck `json:"checks"`
}

// VerificationCheck is one check in a VerificationDocument.
type VerificationCheck struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// JSONFormatter renders the verification report as indented JSON.
type JSONFormatter struct{}

func (JSONFormatter) Format(r *RunReport) (string, error) {
	doc := VerificationDocument{
		RunID:     r.RunID,
		ObjectKey: r.ObjectKey,
		Passed:    r.Passed(),
		Checks:    []VerificationCheck{},
	}
	if s, ok := r.FailedStage(); ok {
		doc.FailedStage = string(s.Stage)
	}
	if r.Err != nil {
		doc.Error = r.Err.Error()
	}
	if v := r.Verification; v != nil {
		doc.HTTPStatus = v.HTTPStatus
		doc.RequestID = v.RequestID
		doc.Attempts = v.Attempts
		for _, c := range v.Checks {
			doc.Checks = append(doc.Checks, VerificationCheck{Name: c.Name, Passed: c.Passed, Expected: c.Expected, Actual: c.Actual})
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode verification report: %w", err)
	}
	return string(data) + "\n", nil
}

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Cases     []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	ClassName string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// JUnitFormatter renders stages and verification checks as JUnit XML so CI
// systems can display them.
type JUnitFormatter struct{}

func (JUnitFormatter) Format(r *RunReport) (string, error) {
	stamp := ""
	if !r.Started.IsZero() {
		stamp = r.Started.UTC().Format(time.RFC3339)
	}
	stages := junitTestSuite{Name: "stages", Timestamp: stamp}
	for _, s := range r.Stages {
		tc := junitTestCase{ClassName: "stages", Name: string(s.Stage), Time: seconds(s.Duration)}
		switch s.Status {
		case StageFail:
			tc.Failure = &junitFailure{Message: s.Detail, Body: errText(r.Err)}
			stages.Failures++
		case StageSkipped:
			tc.Skipped = &struct{}{}
			stages.Skipped++
		}
		stages.Cases = append(stages.Cases, tc)
		stages.Tests++
	}

	suites := junitTestSuites{Name: "resultgate", Time: seconds(r.Duration), Suites: []junitTestSuite{stages}}
	if r.Verification != nil {
		suites.Suites = append(suites.Suites, verificationSuite(r.Verification, stamp))
	}
	for _, s := range suites.Suites {
		suites.Tests += s.Tests
		suites.Failures += s.Failures
	}

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode junit report: %w", err)
	}
	return xml.Header + string(data) + "\n", nil
}

func verificationSuite(v *verify.Report, stamp string) junitTestSuite {
	suite := junitTestSuite{Name: "verification", Timestamp: stamp}
	for _, c := range v.Checks {
		tc := junitTestCase{ClassName: "verification", Name: c.Name, Time: "0"}
		if !c.Passed {
			msg := fmt.Sprintf("expected %s, got %s", c.Expected, c.Actual)
			tc.Failure = &junitFailure{Message: msg, Body: msg}
			suite.Failures++
		}
		suite.Cases = append(suite.Cases, tc)
		suite.Tests++
	}
	return suite
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

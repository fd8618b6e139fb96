package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/acarl005/stripansi"

	"github.com/ironbucket/resultgate/manifest"
)

// Artifact file names inside a run directory.
const (
	ManifestFile           = "test-results-master.json"
	VerificationReportFile = "verification-report.json"
	VerificationJUnitFile  = "verification-junit.xml"
	HarnessStdoutFile      = "harness-stdout.log"
	HarnessStderrFile      = "harness-stderr.log"
)

// ArtifactSink keeps local evidence of a run under <baseDir>/run-<runID>/.
type ArtifactSink struct {
	baseDir string
}

// NewArtifactSink creates a sink rooted at baseDir.
func NewArtifactSink(baseDir string) *ArtifactSink {
	return &ArtifactSink{baseDir: baseDir}
}

// RunDir returns the directory artifacts for runID are written to.
func (s *ArtifactSink) RunDir(runID string) string {
	return filepath.Join(s.baseDir, "run-"+runID)
}

// Complete writes every artifact the report has data for and returns the
// paths written. Harness logs are stored without ANSI escapes.
func (s *ArtifactSink) Complete(r *RunReport) ([]string, error) {
	outputDir := s.RunDir(r.RunID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	var written []string
	write := func(name, content string) error {
		path := filepath.Join(outputDir, name)
		if err := NewFileWriter(path).Write(content); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	if r.Outcome != nil {
		if err := write(HarnessStdoutFile, stripansi.Strip(r.Outcome.Stdout)); err != nil {
			return written, err
		}
		if err := write(HarnessStderrFile, stripansi.Strip(r.Outcome.Stderr)); err != nil {
			return written, err
		}
	}

	if r.Manifest != nil {
		body, err := manifest.Encode(r.Manifest)
		if err != nil {
			return written, fmt.Errorf("failed to encode manifest: %w", err)
		}
		if err := write(ManifestFile, string(body)); err != nil {
			return written, err
		}
	}

	for name, f := range map[string]ReportFormatter{
		VerificationReportFile: JSONFormatter{},
		VerificationJUnitFile:  JUnitFormatter{},
	} {
		content, err := f.Format(r)
		if err != nil {
			return written, err
		}
		if err := write(name, content); err != nil {
			return written, err
		}
	}
	return written, nil
}

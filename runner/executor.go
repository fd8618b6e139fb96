package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/modfile"

	"github.com/ironbucket/resultgate/types"
)

// CmdBuilder creates the harness command. The returned cleanup is called once
// the process has exited.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// Config configures an Executor.
type Config struct {
	Harness types.HarnessKind
	// Binary overrides the harness binary (go, mvn, npx).
	Binary  string
	Timeout time.Duration
	// StderrTailBytes is how much of stderr a HarnessFailure carries.
	StderrTailBytes int
	// CaptureBytes is how much of each stream is kept in memory. Parsers that
	// stream count the whole of stdout regardless.
	CaptureBytes int
	// RecordFailures accepts a run whose harness exited with its "tests
	// failed" code, so that failing results can still be published.
	RecordFailures bool
	Log            log.Logger
	CmdBuilder     CmdBuilder
	Parser         OutputParser
}

// Executor runs one harness invocation per Execute call.
type Executor struct {
	harness         types.HarnessKind
	binary          string
	timeout         time.Duration
	stderrTailBytes int
	captureBytes    int
	recordFailures  bool
	log             log.Logger
	cmdBuilder      CmdBuilder
	parser          OutputParser
	tracer          trace.Tracer
}

// NewExecutor validates cfg and fills in defaults.
func NewExecutor(cfg Config) (*Executor, error) {
	if !cfg.Harness.IsValid() {
		return nil, fmt.Errorf("unsupported harness %q", cfg.Harness)
	}
	e := &Executor{
		harness:         cfg.Harness,
		binary:          cfg.Binary,
		timeout:         cfg.Timeout,
		stderrTailBytes: cfg.StderrTailBytes,
		captureBytes:    cfg.CaptureBytes,
		recordFailures:  cfg.RecordFailures,
		log:             cfg.Log,
		cmdBuilder:      cfg.CmdBuilder,
		parser:          cfg.Parser,
		tracer:          otel.Tracer("resultgate/runner"),
	}
	if e.binary == "" {
		e.binary = defaultBinary(cfg.Harness)
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.stderrTailBytes <= 0 {
		e.stderrTailBytes = DefaultStderrTailBytes
	}
	if e.captureBytes <= 0 {
		e.captureBytes = defaultCaptureBytes
	}
	if e.log == nil {
		e.log = log.New()
	}
	if e.cmdBuilder == nil {
		e.cmdBuilder = defaultCmdBuilder
	}
	if e.parser == nil {
		parser, err := NewOutputParser(cfg.Harness)
		if err != nil {
			return nil, err
		}
		e.parser = parser
	}
	return e, nil
}

func defaultBinary(kind types.HarnessKind) string {
	switch kind {
	case types.HarnessMaven:
		return DefaultMavenBinary
	case types.HarnessJest:
		return DefaultJestBinary
	default:
		return DefaultGoBinary
	}
}

func defaultCmdBuilder(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	return exec.CommandContext(ctx, name, arg...), func() {}
}

// Args returns the harness command line for selector, without the binary.
func (e *Executor) Args(selector string) []string {
	switch e.harness {
	case types.HarnessMaven:
		args := []string{MavenBatchFlag, MavenTestGoal}
		if selector != "" {
			args = append(args, MavenTestProperty+selector, MavenFailIfNoTests)
		}
		return args
	case types.HarnessJest:
		args := []string{JestCommand, JestCIFlag, JestJSONFlag}
		if selector != "" {
			args = append(args, JestNameFlag, selector)
		}
		return args
	default:
		args := []string{TestCommand, JSONFlag, CountFlag, DisableCacheCount}
		if selector != "" {
			args = append(args, RunFlag, selector)
		}
		return append(args, AllPackagesPattern)
	}
}

// Execute runs the harness in workDir and reports its counts. The process is
// killed when the configured timeout expires.
func (e *Executor) Execute(ctx context.Context, selector, workDir string) (*types.ExecutionOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "execute harness", trace.WithAttributes(
		attribute.String("harness", string(e.harness)),
		attribute.String("selector", selector),
	))
	defer span.End()

	if err := e.checkProject(workDir); err != nil {
		return nil, err
	}

	args := e.Args(selector)
	e.log.Info("Running test harness", "harness", e.harness, "binary", e.binary, "args", args, "dir", workDir)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd, cleanup := e.cmdBuilder(runCtx, e.binary, args...)
	defer cleanup()
	if cmd.Dir == "" {
		cmd.Dir = workDir
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = telemetry.InstrumentEnvironment(ctx, env)
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = waitDelay
	}

	stdout := newTailBuffer(e.captureBytes)
	stderr := newTailBuffer(e.captureBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var (
		stream Stream
		lines  *lineWriter
	)
	if sp, ok := e.parser.(StreamParser); ok {
		stream = sp.NewStream()
		lines = newLineWriter(stream.Line)
		cmd.Stdout = io.MultiWriter(stdout, lines)
	}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	stderrTail := string(stderr.Tail(e.stderrTailBytes))
	if stdout.Truncated() {
		e.log.Warn("Harness stdout exceeded capture buffer, only its tail is kept",
			"bytes", stdout.TotalBytes(), "kept", e.captureBytes, "streamed", stream != nil)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.log.Error("Test harness timed out", "timeout", e.timeout, "duration", duration)
		return nil, &types.HarnessFailure{ExitCode: -1, TimedOut: true, StderrTail: stderrTail}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("harness run interrupted: %w", ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, types.NewEnvironmentError(fmt.Errorf("failed to start %s: %w", e.binary, runErr))
		}
		exitCode = exitErr.ExitCode()
	}

	tally, parseErr := e.parse(stream, lines, stdout, stderr)
	if exitCode != 0 {
		e.log.Error("Test harness exited non-zero", "exitCode", exitCode, "duration", duration)
		if !e.acceptsFailingRun(exitCode, tally, parseErr) {
			return nil, &types.HarnessFailure{ExitCode: exitCode, StderrTail: stderrTail}
		}
		e.log.Warn("Recording failing test run", "failed", tally.Failed)
	}
	if parseErr != nil {
		return nil, &types.HarnessFailure{Reason: parseErr.Error(), StderrTail: stderrTail}
	}
	if exitCode == 0 && tally.Failed > 0 {
		return nil, &types.HarnessFailure{
			Reason:     fmt.Sprintf("harness exited 0 but reported %d failed tests", tally.Failed),
			StderrTail: stderrTail,
		}
	}
	if tally.Run == 0 {
		e.log.Error("Test harness ran no tests", "selector", selector, "skipped", tally.Skipped)
		return nil, &types.HarnessFailure{
			Reason:     fmt.Sprintf("%s (selector %q, %d skipped)", ErrNoTests, selector, tally.Skipped),
			StderrTail: stderrTail,
		}
	}

	outcome := &types.ExecutionOutcome{
		Harness:      e.harness,
		Selector:     selector,
		WorkDir:      workDir,
		ExitCode:     exitCode,
		Stdout:       string(stdout.Bytes()),
		Stderr:       string(stderr.Bytes()),
		TestsRun:     tally.Run,
		TestsPassed:  tally.Passed,
		TestsFailed:  tally.Failed,
		TestsSkipped: tally.Skipped,
		Cases:        tally.Cases,
		Duration:     duration,
	}
	span.SetAttributes(
		attribute.Int("tests.run", outcome.TestsRun),
		attribute.Int("tests.failed", outcome.TestsFailed),
	)
	e.log.Info("Test harness finished",
		"run", outcome.TestsRun, "passed", outcome.TestsPassed,
		"failed", outcome.TestsFailed, "skipped", outcome.TestsSkipped, "duration", duration)
	return outcome, nil
}

// parse reads the tally from the stream when the parser supports one, and
// from the captured output otherwise. Captured output that lost its head
// cannot be parsed reliably and is rejected.
func (e *Executor) parse(stream Stream, lines *lineWriter, stdout, stderr *tailBuffer) (*Tally, error) {
	if stream != nil {
		lines.Flush()
		return stream.Tally()
	}
	if stdout.Truncated() {
		return nil, fmt.Errorf("%w: %d bytes written, %d kept", ErrOutputTruncated, stdout.TotalBytes(), e.captureBytes)
	}
	return e.parser.Parse(stdout.Bytes(), stderr.Bytes())
}

func (e *Executor) acceptsFailingRun(exitCode int, tally *Tally, parseErr error) bool {
	return e.recordFailures && exitCode == 1 && parseErr == nil && tally.Failed > 0
}

// checkProject fails with an EnvironmentError when workDir does not hold a
// project of the configured harness kind.
func (e *Executor) checkProject(workDir string) error {
	if workDir == "" {
		return types.NewEnvironmentError(errors.New("working directory is required"))
	}
	info, err := os.Stat(workDir)
	if err != nil {
		return types.NewEnvironmentError(fmt.Errorf("working directory: %w", err))
	}
	if !info.IsDir() {
		return types.NewEnvironmentError(fmt.Errorf("working directory %s is not a directory", workDir))
	}

	switch e.harness {
	case types.HarnessMaven:
		return requireFile(workDir, PomFile)
	case types.HarnessJest:
		return requireFile(workDir, PackageJSONFile)
	default:
		if err := requireFile(workDir, GoModFile); err != nil {
			return err
		}
		goModPath := filepath.Join(workDir, GoModFile)
		content, err := os.ReadFile(goModPath)
		if err != nil {
			return types.NewEnvironmentError(fmt.Errorf("failed to read go.mod: %w", err))
		}
		modFile, err := modfile.Parse(goModPath, content, nil)
		if err != nil {
			return types.NewEnvironmentError(fmt.Errorf("failed to parse go.mod: %w", err))
		}
		if modFile.Module == nil || modFile.Module.Mod.Path == "" {
			return types.NewEnvironmentError(fmt.Errorf("could not find module name in %s", goModPath))
		}
		return nil
	}
}

func requireFile(dir, name string) error {
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.NewEnvironmentError(fmt.Errorf("%s not found in %s", name, dir))
		}
		return types.NewEnvironmentError(err)
	}
	return nil
}

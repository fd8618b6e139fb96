package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironbucket/resultgate/runner/runnertest"
	"github.com/ironbucket/resultgate/types"
)

func TestMain(m *testing.M) {
	runnertest.MaybeRunFakeHarness()
	os.Exit(m.Run())
}

func projectDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newTestExecutor(t *testing.T, kind types.HarnessKind, h runnertest.Harness, mutate ...func(*Config)) *Executor {
	t.Helper()
	cfg := Config{
		Harness:    kind,
		Timeout:    time.Minute,
		Log:        log.NewLogger(log.DiscardHandler()),
		CmdBuilder: h.CmdBuilder(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewExecutor(cfg)
	require.NoError(t, err)
	return e
}

func TestNewExecutorDefaults(t *testing.T) {
	tests := []struct {
		kind   types.HarnessKind
		binary string
	}{
		{types.HarnessGoTest, DefaultGoBinary},
		{types.HarnessMaven, DefaultMavenBinary},
		{types.HarnessJest, DefaultJestBinary},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e, err := NewExecutor(Config{Harness: tt.kind})
			require.NoError(t, err)
			assert.Equal(t, tt.binary, e.binary)
			assert.Equal(t, DefaultTimeout, e.timeout)
			assert.Equal(t, DefaultStderrTailBytes, e.stderrTailBytes)
			assert.NotNil(t, e.cmdBuilder)
			assert.NotNil(t, e.parser)
		})
	}

	_, err := NewExecutor(Config{Harness: "gradle"})
	require.EqualError(t, err, `unsupported harness "gradle"`)
}

func TestExecutorArgs(t *testing.T) {
	tests := []struct {
		kind     types.HarnessKind
		selector string
		want     []string
	}{
		{types.HarnessGoTest, "", []string{"test", "-json", "-count", "1", "./..."}},
		{types.HarnessGoTest, "^TestPolicy", []string{"test", "-json", "-count", "1", "-run", "^TestPolicy", "./..."}},
		{types.HarnessMaven, "SentinelGear*IntegrationTest", []string{"-B", "test",
			"-Dtest=SentinelGear*IntegrationTest", "-Dsurefire.failIfNoSpecifiedTests=false"}},
		{types.HarnessJest, "identity", []string{"jest", "--ci", "--json", "-t", "identity"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.selector, func(t *testing.T) {
			e, err := NewExecutor(Config{Harness: tt.kind})
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Args(tt.selector))
		})
	}
}

// passingSurefire reports seven classes of five passing tests each.
func passingSurefire() string {
	var b strings.Builder
	for _, class := range []string{"JWTClaimsExtraction", "PolicyEnforcement", "PolicyFallback",
		"ProxyDelegation", "AuditLogging", "DiscoveryLifecycle", "IdentityPropagation"} {
		b.WriteString("[INFO] Running com.ironbucket.sentinelgear.integration." + class + "Test\n")
		b.WriteString("[INFO] Tests run: 5, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.4 s - in " +
			"com.ironbucket.sentinelgear.integration." + class + "Test\n")
	}
	b.WriteString("[INFO] Results:\n[INFO] Tests run: 35, Failures: 0, Errors: 0, Skipped: 0\n[INFO] BUILD SUCCESS\n")
	return b.String()
}

func TestExecuteMavenPassing(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.json")
	e := newTestExecutor(t, types.HarnessMaven, runnertest.Harness{
		Stdout:   passingSurefire(),
		ArgsFile: argsFile,
	})
	dir := projectDir(t, map[string]string{PomFile: "<project/>"})

	outcome, err := e.Execute(context.Background(), "SentinelGear*IntegrationTest", dir)
	require.NoError(t, err)
	assert.Equal(t, types.HarnessMaven, outcome.Harness)
	assert.Equal(t, dir, outcome.WorkDir)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, 35, outcome.TestsRun)
	assert.Equal(t, 35, outcome.TestsPassed)
	assert.Equal(t, 0, outcome.TestsFailed)
	assert.Len(t, outcome.Cases, 7)
	assert.True(t, outcome.Consistent())
	assert.Contains(t, outcome.Stdout, "BUILD SUCCESS")

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	var args []string
	require.NoError(t, json.Unmarshal(data, &args))
	assert.Equal(t, append([]string{"mvn"}, e.Args("SentinelGear*IntegrationTest")...), args)
}

func TestExecuteGoTest(t *testing.T) {
	passing := strings.ReplaceAll(goTestJSON, `"Action":"fail"`, `"Action":"pass"`)
	e := newTestExecutor(t, types.HarnessGoTest, runnertest.Harness{Stdout: passing})
	dir := projectDir(t, map[string]string{GoModFile: "module example.com/gate\n\ngo 1.22\n"})

	outcome, err := e.Execute(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.TestsRun)
	assert.Equal(t, 2, outcome.TestsPassed)
	assert.Equal(t, 1, outcome.TestsSkipped)
	assert.Len(t, outcome.Cases, 3)
}

func TestExecuteHarnessFailure(t *testing.T) {
	stderr := strings.Repeat("x", 2000) + "COMPILATION ERROR: cannot find symbol JwtValidator"
	e := newTestExecutor(t, types.HarnessMaven, runnertest.Harness{
		Stdout:   "[INFO] BUILD FAILURE\n",
		Stderr:   stderr,
		ExitCode: 1,
	})
	dir := projectDir(t, map[string]string{PomFile: "<project/>"})

	outcome, err := e.Execute(context.Background(), "", dir)
	require.Error(t, err)
	assert.Nil(t, outcome)
	require.True(t, types.IsHarnessFailure(err))

	var hf *types.HarnessFailure
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, 1, hf.ExitCode)
	assert.False(t, hf.TimedOut)
	assert.Len(t, hf.StderrTail, DefaultStderrTailBytes)
	assert.True(t, strings.HasSuffix(hf.StderrTail, "cannot find symbol JwtValidator"))
}

func TestExecuteRecordFailures(t *testing.T) {
	h := runnertest.Harness{Stdout: surefireOutput, ExitCode: 1}
	dir := projectDir(t, map[string]string{PomFile: "<project/>"})

	// Rejected by default.
	_, err := newTestExecutor(t, types.HarnessMaven, h).Execute(context.Background(), "", dir)
	require.True(t, types.IsHarnessFailure(err))

	e := newTestExecutor(t, types.HarnessMaven, h, func(c *Config) { c.RecordFailures = true })
	outcome, err := e.Execute(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Equal(t, 2, outcome.TestsFailed)

	// Exit codes other than "tests failed" are still fatal.
	h.ExitCode = 2
	_, err = newTestExecutor(t, types.HarnessMaven, h, func(c *Config) { c.RecordFailures = true }).
		Execute(context.Background(), "", dir)
	require.True(t, types.IsHarnessFailure(err))
}

func TestExecuteTimeout(t *testing.T) {
	e := newTestExecutor(t, types.HarnessJest, runnertest.Harness{
		Stderr: "Determining test suites to run...",
		Sleep:  30 * time.Second,
	}, func(c *Config) { c.Timeout = 300 * time.Millisecond })
	dir := projectDir(t, map[string]string{PackageJSONFile: "{}"})

	start := time.Now()
	_, err := e.Execute(context.Background(), "", dir)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 20*time.Second)

	var hf *types.HarnessFailure
	require.True(t, errors.As(err, &hf))
	assert.True(t, hf.TimedOut)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestExecuteNoSummary(t *testing.T) {
	e := newTestExecutor(t, types.HarnessJest, runnertest.Harness{Stdout: "Done in 0.3s\n"})
	dir := projectDir(t, map[string]string{PackageJSONFile: "{}"})

	_, err := e.Execute(context.Background(), "", dir)
	require.True(t, types.IsHarnessFailure(err))
	assert.Contains(t, err.Error(), ErrNoSummary.Error())
}

func TestExecuteZeroExitWithFailures(t *testing.T) {
	e := newTestExecutor(t, types.HarnessGoTest, runnertest.Harness{Stdout: goTestJSON})
	dir := projectDir(t, map[string]string{GoModFile: "module example.com/gate\n"})

	_, err := e.Execute(context.Background(), "", dir)
	require.True(t, types.IsHarnessFailure(err))
	assert.Contains(t, err.Error(), "harness exited 0 but reported 1 failed tests")
}

func TestExecuteEnvironmentErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		name    string
		kind    types.HarnessKind
		workDir string
		errMsg  string
	}{
		{"empty work dir", types.HarnessGoTest, "", "working directory is required"},
		{"missing work dir", types.HarnessGoTest, filepath.Join(t.TempDir(), "nope"), "working directory"},
		{"work dir is a file", types.HarnessGoTest, file, "is not a directory"},
		{"no go.mod", types.HarnessGoTest, t.TempDir(), "go.mod not found"},
		{"bad go.mod", types.HarnessGoTest, projectDir(t, map[string]string{GoModFile: "modul x\n"}), "failed to parse go.mod"},
		{"go.mod without module", types.HarnessGoTest, projectDir(t, map[string]string{GoModFile: "go 1.22\n"}), "could not find module name"},
		{"no pom.xml", types.HarnessMaven, t.TempDir(), "pom.xml not found"},
		{"no package.json", types.HarnessJest, t.TempDir(), "package.json not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, tt.kind, runnertest.Harness{})
			_, err := e.Execute(context.Background(), "", tt.workDir)
			require.Error(t, err)
			assert.True(t, types.IsEnvironmentError(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	e, err := NewExecutor(Config{
		Harness: types.HarnessMaven,
		Binary:  "resultgate-no-such-binary",
		Log:     log.NewLogger(log.DiscardHandler()),
	})
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), "", projectDir(t, map[string]string{PomFile: "<project/>"}))
	require.True(t, types.IsEnvironmentError(err))
	assert.Contains(t, err.Error(), "failed to start resultgate-no-such-binary")
}

// writeGoTestStream writes a test2json stream of n passing top-level tests,
// each with a line of captured output, and returns its path.
func writeGoTestStream(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "go-test.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := bufio.NewWriter(f)
	padding := strings.Repeat("x", 300)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("TestCase%05d", i)
		fmt.Fprintf(w, `{"Action":"run","Package":"example.com/gate","Test":%q}`+"\n", name)
		fmt.Fprintf(w, `{"Action":"output","Package":"example.com/gate","Test":%q,"Output":"%s\n"}`+"\n", name, padding)
		fmt.Fprintf(w, `{"Action":"pass","Package":"example.com/gate","Test":%q,"Elapsed":0}`+"\n", name)
	}
	fmt.Fprintln(w, `{"Action":"pass","Package":"example.com/gate","Elapsed":1.5}`)
	require.NoError(t, w.Flush())
	return path
}

func TestExecuteCountsOutputBeyondCaptureBuffer(t *testing.T) {
	const tests = 20000
	stream := writeGoTestStream(t, tests)
	info, err := os.Stat(stream)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(defaultCaptureBytes))

	e := newTestExecutor(t, types.HarnessGoTest, runnertest.Harness{StdoutFile: stream})
	dir := projectDir(t, map[string]string{GoModFile: "module example.com/gate\n"})

	outcome, err := e.Execute(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, tests, outcome.TestsRun)
	assert.Equal(t, tests, outcome.TestsPassed)
	assert.Zero(t, outcome.TestsFailed)
	require.Len(t, outcome.Cases, tests)
	assert.Equal(t, "TestCase00000", outcome.Cases[0].Name)
	assert.LessOrEqual(t, len(outcome.Stdout), defaultCaptureBytes)
}

func TestExecuteStreamsWithSmallCaptureBuffer(t *testing.T) {
	var surefire strings.Builder
	surefire.WriteString("[INFO] Scanning for projects...\n")
	for i := 0; i < 40; i++ {
		class := fmt.Sprintf("com.ironbucket.sentinelgear.Case%02dTest", i)
		surefire.WriteString("[INFO] Running " + class + "\n")
		surefire.WriteString("[INFO] Tests run: 2, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.1 s - in " + class + "\n")
	}

	tests := []struct {
		name  string
		kind  types.HarnessKind
		files map[string]string
		h     runnertest.Harness
		run   int
		cases int
	}{
		{
			name:  "go test",
			kind:  types.HarnessGoTest,
			files: map[string]string{GoModFile: "module example.com/gate\n"},
			h:     runnertest.Harness{StdoutFile: writeGoTestStream(t, 50)},
			run:   50,
			cases: 50,
		},
		{
			name:  "surefire without aggregate",
			kind:  types.HarnessMaven,
			files: map[string]string{PomFile: "<project/>"},
			h:     runnertest.Harness{Stdout: surefire.String()},
			run:   80,
			cases: 40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, tt.kind, tt.h, func(c *Config) { c.CaptureBytes = 1024 })
			outcome, err := e.Execute(context.Background(), "", projectDir(t, tt.files))
			require.NoError(t, err)
			assert.Equal(t, tt.run, outcome.TestsRun)
			assert.Equal(t, tt.run, outcome.TestsPassed)
			assert.Len(t, outcome.Cases, tt.cases)
			assert.Len(t, outcome.Stdout, 1024)
		})
	}
}

func TestExecuteRejectsTruncatedOutput(t *testing.T) {
	report := `{"numTotalTests":2,"numPassedTests":2,"numFailedTests":0,"numPendingTests":0,"numTodoTests":0,"testResults":[]}`
	e := newTestExecutor(t, types.HarnessJest, runnertest.Harness{
		Stdout: report + strings.Repeat(" ", 2048),
	}, func(c *Config) { c.CaptureBytes = 1024 })
	dir := projectDir(t, map[string]string{PackageJSONFile: "{}"})

	outcome, err := e.Execute(context.Background(), "", dir)
	assert.Nil(t, outcome)
	require.True(t, types.IsHarnessFailure(err))
	assert.Contains(t, err.Error(), ErrOutputTruncated.Error())
	assert.Contains(t, err.Error(), "1024 kept")
}

func TestExecuteNoTestsMatched(t *testing.T) {
	tests := []struct {
		name   string
		kind   types.HarnessKind
		files  map[string]string
		stdout string
	}{
		{
			name:  "go test",
			kind:  types.HarnessGoTest,
			files: map[string]string{GoModFile: "module example.com/gate\n"},
			stdout: `{"Action":"output","Package":"example.com/gate","Output":"testing: warning: no tests to run\n"}` + "\n" +
				`{"Action":"pass","Package":"example.com/gate","Elapsed":0}` + "\n",
		},
		{
			name:   "jest with every test skipped",
			kind:   types.HarnessJest,
			files:  map[string]string{PackageJSONFile: "{}"},
			stdout: `{"numTotalTests":3,"numPassedTests":0,"numFailedTests":0,"numPendingTests":3,"numTodoTests":0,"testResults":[]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, tt.kind, runnertest.Harness{Stdout: tt.stdout})
			outcome, err := e.Execute(context.Background(), "NoSuchTest", projectDir(t, tt.files))
			assert.Nil(t, outcome)
			require.True(t, types.IsHarnessFailure(err))
			assert.Contains(t, err.Error(), ErrNoTests.Error())
			assert.Contains(t, err.Error(), `"NoSuchTest"`)
		})
	}
}

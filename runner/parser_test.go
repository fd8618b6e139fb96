package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironbucket/resultgate/types"
)

const goTestJSON = `{"Time":"2025-12-30T18:04:00Z","Action":"start","Package":"example.com/gate"}
{"Time":"2025-12-30T18:04:00Z","Action":"run","Package":"example.com/gate","Test":"TestJWTClaimsExtraction"}
{"Time":"2025-12-30T18:04:00Z","Action":"run","Package":"example.com/gate","Test":"TestJWTClaimsExtraction/expired"}
{"Time":"2025-12-30T18:04:00Z","Action":"output","Package":"example.com/gate","Test":"TestJWTClaimsExtraction/expired","Output":"--- FAIL: expired\n"}
{"Time":"2025-12-30T18:04:00Z","Action":"fail","Package":"example.com/gate","Test":"TestJWTClaimsExtraction/expired","Elapsed":0}
{"Time":"2025-12-30T18:04:00Z","Action":"fail","Package":"example.com/gate","Test":"TestJWTClaimsExtraction","Elapsed":0.01}
{"Time":"2025-12-30T18:04:00Z","Action":"run","Package":"example.com/gate","Test":"TestPolicyEnforcement"}
{"Time":"2025-12-30T18:04:00Z","Action":"pass","Package":"example.com/gate","Test":"TestPolicyEnforcement","Elapsed":0.02}
{"Time":"2025-12-30T18:04:00Z","Action":"skip","Package":"example.com/gate","Test":"TestNeedsDocker","Elapsed":0}
{"Time":"2025-12-30T18:04:00Z","Action":"fail","Package":"example.com/gate","Elapsed":0.05}
`

const surefireOutput = "[INFO] Scanning for projects...\n" +
	"[INFO] -------------------------------------------------------\n" +
	"[INFO]  T E S T S\n" +
	"[INFO] -------------------------------------------------------\n" +
	"[INFO] Running com.ironbucket.sentinelgear.integration.SentinelGearJWTClaimsExtractionTest\n" +
	"[INFO] Tests run: 5, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 1.204 s - in com.ironbucket.sentinelgear.integration.SentinelGearJWTClaimsExtractionTest\n" +
	"[INFO] Running com.ironbucket.sentinelgear.integration.SentinelGearPolicyEnforcementTest\n" +
	"[ERROR] Tests run: 6, Failures: 1, Errors: 1, Skipped: 1, Time elapsed: 0.87 s <<< FAILURE! -- in com.ironbucket.sentinelgear.integration.SentinelGearPolicyEnforcementTest\n" +
	"[INFO] \n" +
	"[INFO] Results:\n" +
	"[INFO] \n" +
	"[ERROR] Tests run: 11, Failures: 1, Errors: 1, Skipped: 1\n" +
	"[INFO] BUILD FAILURE\n"

func TestGoTestParser(t *testing.T) {
	tally, err := goTestParser{}.Parse([]byte("go: downloading example.com/dep v1.0.0\n"+goTestJSON), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, tally.Run)
	assert.Equal(t, 1, tally.Passed)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, []types.CaseResult{
		{Name: "TestJWTClaimsExtraction", Failed: 1},
		{Name: "TestPolicyEnforcement", Passed: 1},
		{Name: "TestNeedsDocker", Skipped: 1},
	}, tally.Cases)
}

func TestGoTestParserPackageWithoutTests(t *testing.T) {
	tally, err := goTestParser{}.Parse([]byte(`{"Action":"skip","Package":"example.com/empty","Output":"?   \texample.com/empty\t[no test files]\n"}`), nil)
	require.NoError(t, err)
	assert.Zero(t, tally.Run)
	assert.Empty(t, tally.Cases)
}

func TestSurefireParser(t *testing.T) {
	tally, err := surefireParser{}.Parse([]byte(surefireOutput), nil)
	require.NoError(t, err)

	assert.Equal(t, 10, tally.Run)
	assert.Equal(t, 8, tally.Passed)
	assert.Equal(t, 2, tally.Failed)
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, []types.CaseResult{
		{Name: "com.ironbucket.sentinelgear.integration.SentinelGearJWTClaimsExtractionTest", Passed: 5},
		{Name: "com.ironbucket.sentinelgear.integration.SentinelGearPolicyEnforcementTest", Passed: 3, Failed: 2, Skipped: 1},
	}, tally.Cases)
}

func TestSurefireParserVariants(t *testing.T) {
	tests := []struct {
		name   string
		output string
		run    int
		cases  []types.CaseResult
	}{
		{
			name: "class from preceding Running line",
			output: "Running com.example.AuditLoggingTest\n" +
				"Tests run: 5, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.2 sec\n",
			run:   5,
			cases: []types.CaseResult{{Name: "com.example.AuditLoggingTest", Passed: 5}},
		},
		{
			name: "reactor modules are summed",
			output: "[INFO] Tests run: 3, Failures: 0, Errors: 0, Skipped: 0\n" +
				"[INFO] Tests run: 4, Failures: 0, Errors: 0, Skipped: 0\n",
			run: 7,
		},
		{
			name:   "ansi colours are ignored",
			output: "\x1b[1;34mINFO\x1b[m] Tests run: \x1b[1;32m35\x1b[m, Failures: 0, Errors: 0, Skipped: 0\n",
			run:    35,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tally, err := surefireParser{}.Parse([]byte(tt.output), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.run, tally.Run)
			assert.Equal(t, tt.run, tally.Passed)
			if tt.cases != nil {
				assert.Equal(t, tt.cases, tally.Cases)
			}
		})
	}
}

func TestJestParserJSON(t *testing.T) {
	stdout := `{"numFailedTestSuites":1,"numPassedTests":2,"numFailedTests":1,"numPendingTests":1,"numTodoTests":0,"numTotalTests":4,` +
		`"testResults":[{"name":"/app/identity.test.ts","assertionResults":[` +
		`{"fullName":"identity propagates claims","status":"passed"},` +
		`{"fullName":"identity rejects expired tokens","status":"failed"},` +
		`{"fullName":"identity refreshes","status":"pending"}]},` +
		`{"name":"/app/audit.test.ts","assertionResults":[{"fullName":"audit writes structured events","status":"passed"}]}]}`

	tally, err := jestParser{}.Parse([]byte(stdout), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, tally.Run)
	assert.Equal(t, 2, tally.Passed)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, 1, tally.Skipped)
	require.Len(t, tally.Cases, 4)
	assert.Equal(t, types.CaseResult{Name: "identity rejects expired tokens", Failed: 1}, tally.Cases[1])
}

func TestJestParserText(t *testing.T) {
	stderr := "PASS src/audit.test.ts\nFAIL src/identity.test.ts\n\n" +
		"Test Suites: 1 failed, 1 passed, 2 total\n" +
		"Tests:       1 failed, 2 skipped, 34 passed, 37 total\n" +
		"Snapshots:   0 total\n"

	tally, err := jestParser{}.Parse(nil, []byte(stderr))
	require.NoError(t, err)
	assert.Equal(t, 35, tally.Run)
	assert.Equal(t, 34, tally.Passed)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, 2, tally.Skipped)
}

func TestParsersRejectOutputWithoutSummary(t *testing.T) {
	for _, kind := range types.HarnessKinds {
		t.Run(string(kind), func(t *testing.T) {
			parser, err := NewOutputParser(kind)
			require.NoError(t, err)
			_, err = parser.Parse([]byte("BUILD SUCCESS\n"), []byte("npm WARN deprecated\n"))
			require.ErrorIs(t, err, ErrNoSummary)
		})
	}

	_, err := NewOutputParser("pytest")
	require.Error(t, err)
}

package manifest

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironbucket/resultgate/types"
)

func buildIronbucket(t *testing.T) *types.Manifest {
	t.Helper()
	m, err := Build(passingOutcome(35), ironbucketBreakdown(), BuildOptions{
		Clock:            fixedClock,
		Container:        "steel-hammer-test",
		ExecutionContext: "containerized",
	})
	require.NoError(t, err)
	return m
}

func TestEncodeCanonicalForm(t *testing.T) {
	m := buildIronbucket(t)
	data, err := Encode(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2025-12-30T18:04:11.532000+00:00", raw["timestamp"])
	assert.Equal(t, "steel-hammer-test", raw["container"])
	assert.Equal(t, "containerized", raw["executionContext"])
	assert.EqualValues(t, 35, raw["totalTests"])
	assert.Equal(t, "CLOSED", raw["status"])
	assert.Equal(t, "ALL_PASSING", raw["overallStatus"])
	assert.Len(t, raw["issues"], 7)

	first := raw["issues"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 51, first["issueNumber"])
	assert.Equal(t, "Policy Engine Fallback & Retry", raw["issues"].([]any)[2].(map[string]any)["issueName"])

	// Encoding is stable for identical input.
	again, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestEncodeOmitsEmptyProvenance(t *testing.T) {
	m, err := Build(passingOutcome(0), nil, BuildOptions{Clock: fixedClock})
	require.NoError(t, err)
	data, err := Encode(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "container")
	assert.NotContains(t, raw, "executionContext")
	assert.Equal(t, []any{}, raw["issues"])
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 52))
	for iter := 0; iter < 100; iter++ {
		breakdown := make([]types.IssueCounts, 1+rng.IntN(8))
		outcome := &types.ExecutionOutcome{}
		for i := range breakdown {
			breakdown[i] = types.IssueCounts{Number: 100 + i, Name: "issue", Passed: rng.IntN(9), Failed: rng.IntN(2)}
			outcome.TestsPassed += breakdown[i].Passed
			outcome.TestsFailed += breakdown[i].Failed
		}
		outcome.TestsRun = outcome.TestsPassed + outcome.TestsFailed
		m, err := Build(outcome, breakdown, BuildOptions{Clock: fixedClock})
		require.NoError(t, err)

		first, err := Encode(m)
		require.NoError(t, err)
		decoded, err := Decode(first)
		require.NoError(t, err)
		assert.Empty(t, Diff(m, decoded))

		// Reorder the issues: matching is by issue number, not position.
		rng.Shuffle(len(decoded.Issues), func(i, j int) {
			decoded.Issues[i], decoded.Issues[j] = decoded.Issues[j], decoded.Issues[i]
		})
		second, err := Encode(decoded)
		require.NoError(t, err)
		redecoded, err := Decode(second)
		require.NoError(t, err)
		assert.Empty(t, Diff(m, redecoded))
		assert.Empty(t, Diff(redecoded, m))
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := Encode(buildIronbucket(t))
	require.NoError(t, err)

	drop := func(field string) []byte {
		var raw map[string]any
		require.NoError(t, json.Unmarshal(valid, &raw))
		delete(raw, field)
		out, err := json.Marshal(raw)
		require.NoError(t, err)
		return out
	}
	dropIssueField := func(field string) []byte {
		var raw map[string]any
		require.NoError(t, json.Unmarshal(valid, &raw))
		delete(raw["issues"].([]any)[3].(map[string]any), field)
		out, err := json.Marshal(raw)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name   string
		data   []byte
		errMsg string
	}{
		{"not json", []byte("<html>502 Bad Gateway</html>"), "manifest is not a JSON object"},
		{"array", []byte("[]"), "manifest is not a JSON object"},
		{"missing totalPassed", drop("totalPassed"), "manifest is missing fields: totalPassed"},
		{"missing issues", drop("issues"), "manifest is missing fields: issues"},
		{"issue missing status", dropIssueField("status"), "manifest issue 3 is missing fields: status"},
		{"bad timestamp", []byte(`{"timestamp":"yesterday","totalIssues":0,"totalTests":0,"totalPassed":0,` +
			`"totalFailed":0,"status":"CLOSED","overallStatus":"ALL_PASSING","issues":[],"summary":""}`),
			"failed to decode manifest"},
		{"wrong type", []byte(`{"timestamp":"2025-01-01T00:00:00+00:00","totalIssues":0,"totalTests":"35",` +
			`"totalPassed":0,"totalFailed":0,"status":"CLOSED","overallStatus":"ALL_PASSING","issues":[],"summary":""}`),
			"failed to decode manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.data)
			require.Error(t, err)
			assert.Nil(t, m)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCompareReportsMismatches(t *testing.T) {
	expected := buildIronbucket(t)
	data, err := Encode(expected)
	require.NoError(t, err)
	actual, err := Decode(data)
	require.NoError(t, err)

	actual.TotalPassed = 34
	actual.Issues = actual.Issues[:6]
	actual.Issues = append(actual.Issues, types.IssueResult{IssueNumber: 99, IssueName: "stray", Status: types.StatusClosed})

	diffs := Diff(expected, actual)
	fields := make(map[string]Comparison)
	for _, d := range diffs {
		fields[d.Field] = d
	}
	require.Contains(t, fields, "totalPassed")
	assert.Equal(t, "35", fields["totalPassed"].Expected)
	assert.Equal(t, "34", fields["totalPassed"].Actual)
	require.Contains(t, fields, "issue.52.present")
	assert.Equal(t, "missing", fields["issue.52.present"].Actual)
	require.Contains(t, fields, "issue.unexpected")
	assert.Equal(t, "#99", fields["issue.unexpected"].Actual)
	assert.Len(t, diffs, 3)
}

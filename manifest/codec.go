package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ironbucket/resultgate/types"
)

// ContentType identifies the canonical manifest encoding on the wire.
const ContentType = "application/json"

var (
	requiredRunFields = []string{
		"timestamp", "totalIssues", "totalTests", "totalPassed", "totalFailed",
		"status", "overallStatus", "issues", "summary",
	}
	requiredIssueFields = []string{
		"issueNumber", "issueName", "testsPassed", "testsFailed", "status",
	}
)

// Encode serialises a manifest to its canonical form: two-space indented
// JSON with a fixed field order and a trailing newline.
func Encode(m *types.Manifest) ([]byte, error) {
	if m == nil {
		return nil, errors.New("manifest is nil")
	}
	issues := m.Issues
	if issues == nil {
		issues = []types.IssueResult{}
	}
	out := *m
	out.Issues = issues

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a manifest and rejects documents that are missing any
// schema field. It does not check invariants; see types.Manifest.Violations.
func Decode(data []byte) (*types.Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest is not a JSON object: %w", err)
	}
	if missing := missingFields(raw, requiredRunFields); len(missing) > 0 {
		return nil, fmt.Errorf("manifest is missing fields: %s", strings.Join(missing, ", "))
	}

	var rawIssues []map[string]json.RawMessage
	if err := json.Unmarshal(raw["issues"], &rawIssues); err != nil {
		return nil, fmt.Errorf("manifest issues must be an array of objects: %w", err)
	}
	for i, issue := range rawIssues {
		if missing := missingFields(issue, requiredIssueFields); len(missing) > 0 {
			return nil, fmt.Errorf("manifest issue %d is missing fields: %s", i, strings.Join(missing, ", "))
		}
	}

	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

func missingFields(obj map[string]json.RawMessage, required []string) []string {
	var missing []string
	for _, field := range required {
		if v, ok := obj[field]; !ok || string(v) == "null" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

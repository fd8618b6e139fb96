package issues

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ironbucket/resultgate/types"
)

// RuleAttribution names violations raised while attributing cases to issues.
const RuleAttribution = "issues.attribution"

// Config is the on-disk issue breakdown file.
type Config struct {
	Issues []IssueConfig `yaml:"issues" toml:"issues"`
}

// IssueConfig describes one tracked issue. An issue is either attributed
// from harness cases through Tests patterns, or carries explicit counts.
type IssueConfig struct {
	Number int      `yaml:"number" toml:"number"`
	Name   string   `yaml:"name" toml:"name"`
	Tests  []string `yaml:"tests,omitempty" toml:"tests,omitempty"`
	Passed *int     `yaml:"passed,omitempty" toml:"passed,omitempty"`
	Failed *int     `yaml:"failed,omitempty" toml:"failed,omitempty"`
}

func (c IssueConfig) explicit() bool {
	return c.Passed != nil || c.Failed != nil
}

type issue struct {
	config   IssueConfig
	patterns []*regexp.Regexp
}

// Registry holds the validated issue configuration.
type Registry struct {
	log    log.Logger
	issues []issue
}

// Load reads a breakdown file. The format is chosen by extension: .toml for
// TOML, anything else is parsed as YAML.
func Load(path string, logger log.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read issue config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse issue config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in issue config %s: %v", path, undecoded)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse issue config %s: %w", path, err)
		}
	}

	return New(cfg, logger)
}

// New validates cfg and compiles its attribution patterns.
func New(cfg Config, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.New()
	}
	if len(cfg.Issues) == 0 {
		return nil, errors.New("issue config lists no issues")
	}

	r := &Registry{log: logger}
	seen := make(map[int]bool, len(cfg.Issues))
	for i, ic := range cfg.Issues {
		if ic.Number <= 0 {
			return nil, fmt.Errorf("issue %d: number must be positive, got %d", i, ic.Number)
		}
		if seen[ic.Number] {
			return nil, fmt.Errorf("issue #%d is listed more than once", ic.Number)
		}
		seen[ic.Number] = true
		if strings.TrimSpace(ic.Name) == "" {
			return nil, fmt.Errorf("issue #%d has no name", ic.Number)
		}
		switch {
		case len(ic.Tests) > 0 && ic.explicit():
			return nil, fmt.Errorf("issue #%d sets both tests and explicit counts", ic.Number)
		case len(ic.Tests) == 0 && !ic.explicit():
			return nil, fmt.Errorf("issue #%d needs either tests patterns or explicit counts", ic.Number)
		case ic.explicit() && (deref(ic.Passed) < 0 || deref(ic.Failed) < 0):
			return nil, fmt.Errorf("issue #%d has negative counts", ic.Number)
		}

		compiled := issue{config: ic}
		for _, pattern := range ic.Tests {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("issue #%d: invalid test pattern %q: %w", ic.Number, pattern, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		r.issues = append(r.issues, compiled)
	}
	return r, nil
}

// Len returns the number of configured issues.
func (r *Registry) Len() int {
	return len(r.issues)
}

// Breakdown produces per-issue counts for outcome. Issues with patterns
// take their counts from the cases the harness reported; a case matching
// more than one issue is rejected. Cases matching no issue are logged and
// left out, which the manifest builder then rejects as an aggregate mismatch.
func (r *Registry) Breakdown(outcome *types.ExecutionOutcome) ([]types.IssueCounts, error) {
	if outcome == nil {
		return nil, errors.New("execution outcome is required")
	}

	counts := make([]types.IssueCounts, len(r.issues))
	needsCases := false
	for i, is := range r.issues {
		counts[i] = types.IssueCounts{
			Number: is.config.Number,
			Name:   is.config.Name,
			Passed: deref(is.config.Passed),
			Failed: deref(is.config.Failed),
		}
		if len(is.patterns) > 0 {
			needsCases = true
		}
	}
	if needsCases && len(outcome.Cases) == 0 && outcome.TestsRun > 0 {
		return nil, &types.InvariantViolation{Violations: []types.Violation{{
			Rule:     RuleAttribution,
			Subject:  string(outcome.Harness),
			Expected: "per-case results to attribute",
			Actual:   "none reported",
		}}}
	}

	var violations []types.Violation
	for _, c := range outcome.Cases {
		var matched []int
		for i, is := range r.issues {
			if is.matches(c.Name) {
				matched = append(matched, i)
			}
		}
		switch len(matched) {
		case 0:
			if c.Passed+c.Failed > 0 {
				r.log.Warn("Test case is not attributed to any issue", "case", c.Name,
					"passed", c.Passed, "failed", c.Failed)
			}
		case 1:
			counts[matched[0]].Passed += c.Passed
			counts[matched[0]].Failed += c.Failed
		default:
			numbers := make([]string, len(matched))
			for j, idx := range matched {
				numbers[j] = "#" + strconv.Itoa(r.issues[idx].config.Number)
			}
			violations = append(violations, types.Violation{
				Rule:     RuleAttribution,
				Subject:  c.Name,
				Expected: "exactly one issue",
				Actual:   strings.Join(numbers, ", "),
			})
		}
	}
	if len(violations) > 0 {
		return nil, &types.InvariantViolation{Violations: violations}
	}

	r.log.Debug("Built issue breakdown", "issues", len(counts), "cases", len(outcome.Cases))
	return counts, nil
}

func (is issue) matches(name string) bool {
	for _, re := range is.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

package flags

import (
	"flag"
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range domainFlags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func TestAuthModes(t *testing.T) {
	assert.Equal(t, "sigv4", AuthSigV4.String())
	assert.True(t, AuthBearer.IsValid())
	assert.True(t, AuthMTLS.IsValid())
	assert.False(t, AuthMode("basic").IsValid())
	assert.False(t, AuthMode("").IsValid())
	assert.Len(t, ValidAuthModes(), 3)
}

func TestFlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "defaults", args: []string{"app"}},
		{name: "valid harness", args: []string{"app", "--harness", "jest"}},
		{name: "invalid harness", args: []string{"app", "--harness", "pytest"}, wantErr: "harness must be one of gotest, maven, jest"},
		{name: "valid auth", args: []string{"app", "--gateway.auth", "mtls"}},
		{name: "invalid auth", args: []string{"app", "--gateway.auth", "basic"}, wantErr: "gateway.auth must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &cli.App{
				Flags:  []cli.Flag{Harness, GatewayAuth},
				Action: func(*cli.Context) error { return nil },
			}
			err := app.Run(tt.args)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCheckRequired(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range requiredFlags {
		require.NoError(t, f.Apply(set))
	}
	ctx := cli.NewContext(cli.NewApp(), set, nil)

	err := CheckRequired(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag work-dir is required")

	require.NoError(t, set.Parse([]string{
		"--work-dir", "/src", "--issues", "issues.yaml",
		"--gateway.url", "http://gw", "--gateway.bucket", "test-results",
	}))
	require.NoError(t, CheckRequired(ctx))
}

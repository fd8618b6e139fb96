package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	optls "github.com/ethereum-optimism/optimism/op-service/tls"

	"github.com/ironbucket/resultgate/types"
)

const EnvVarPrefix = "RESULTGATE"

// AuthMode selects how requests to the gateway are authenticated.
type AuthMode string

const (
	AuthBearer AuthMode = "bearer"
	AuthSigV4  AuthMode = "sigv4"
	AuthMTLS   AuthMode = "mtls"
)

func (a AuthMode) String() string {
	return string(a)
}

// IsValid returns true if the auth mode is supported
func (a AuthMode) IsValid() bool {
	for _, mode := range ValidAuthModes() {
		if a == mode {
			return true
		}
	}
	return false
}

// ValidAuthModes returns every supported auth mode
func ValidAuthModes() []AuthMode {
	return []AuthMode{AuthBearer, AuthSigV4, AuthMTLS}
}

func validateAuthMode(value string) error {
	if !AuthMode(value).IsValid() {
		return fmt.Errorf("gateway.auth must be one of %v, got %q", ValidAuthModes(), value)
	}
	return nil
}

func validateHarness(value string) error {
	if !types.HarnessKind(value).IsValid() {
		names := make([]string, len(types.HarnessKinds))
		for i, k := range types.HarnessKinds {
			names[i] = string(k)
		}
		return fmt.Errorf("harness must be one of %s, got %q", strings.Join(names, ", "), value)
	}
	return nil
}

var (
	WorkDir = &cli.StringFlag{
		Name:     "work-dir",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "WORK_DIR"),
		Usage:    "Project directory the test harness runs in",
	}
	IssuesFile = &cli.StringFlag{
		Name:     "issues",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "ISSUES"),
		Usage:    "Path to the issue registry (eg. 'issues.yaml' or 'issues.toml')",
	}
	GatewayURL = &cli.StringFlag{
		Name:     "gateway.url",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_URL"),
		Usage:    "Base URL of the storage gateway (eg. 'https://gateway.internal:8080')",
	}
	GatewayBucket = &cli.StringFlag{
		Name:     "gateway.bucket",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_BUCKET"),
		Usage:    "Bucket the manifest is written to",
	}

	Harness = &cli.StringFlag{
		Name:    "harness",
		Value:   string(types.HarnessMaven),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HARNESS"),
		Usage:   "Test harness to run: gotest, maven or jest",
		Action: func(_ *cli.Context, v string) error {
			return validateHarness(v)
		},
	}
	HarnessBinary = &cli.StringFlag{
		Name:    "harness.binary",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HARNESS_BINARY"),
		Usage:   "Override the harness executable (defaults to go, mvn or npx)",
	}
	Selector = &cli.StringFlag{
		Name:    "selector",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SELECTOR"),
		Usage:   "Test selector passed to the harness (go -run, surefire -Dtest, jest -t)",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   30 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Deadline for the whole harness run",
	}
	StderrTailBytes = &cli.IntFlag{
		Name:    "stderr-tail-bytes",
		Value:   500,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STDERR_TAIL_BYTES"),
		Usage:   "Number of trailing stderr bytes kept on harness failure",
	}
	RecordFailures = &cli.BoolFlag{
		Name:    "record-failures",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RECORD_FAILURES"),
		Usage:   "Publish and verify a manifest when the harness exits 1 after reporting test failures. The run still fails",
	}

	GatewayKey = &cli.StringFlag{
		Name:    "gateway.key",
		Value:   "test-results/{run_id}/test-results-master.json",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_KEY"),
		Usage:   "Object key template; {run_id} and {timestamp} are substituted",
	}
	GatewayAuth = &cli.StringFlag{
		Name:    "gateway.auth",
		Value:   string(AuthBearer),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_AUTH"),
		Usage:   "Gateway identity: bearer, sigv4 or mtls",
		Action: func(_ *cli.Context, v string) error {
			return validateAuthMode(v)
		},
	}
	GatewayToken = &cli.StringFlag{
		Name:    "gateway.token",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_TOKEN"),
		Usage:   "Bearer token presented to the gateway",
	}
	GatewaySigV4Region = &cli.StringFlag{
		Name:    "gateway.sigv4-region",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_SIGV4_REGION"),
		Usage:   "Signing region for sigv4 auth (defaults to the AWS config chain)",
	}
	GatewaySigV4Service = &cli.StringFlag{
		Name:    "gateway.sigv4-service",
		Value:   "s3",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_SIGV4_SERVICE"),
		Usage:   "Signing service name for sigv4 auth",
	}
	GatewayRequestTimeout = &cli.DurationFlag{
		Name:    "gateway.request-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_REQUEST_TIMEOUT"),
		Usage:   "Deadline for each gateway request attempt",
	}
	GatewayMaxAttempts = &cli.IntFlag{
		Name:    "gateway.max-attempts",
		Value:   3,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_MAX_ATTEMPTS"),
		Usage:   "Attempts per gateway request, including the first",
	}

	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIR"),
		Usage:   "Directory for local run artifacts. Nothing is written locally when unset",
	}
	Container = &cli.StringFlag{
		Name:    "container",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONTAINER"),
		Usage:   "Container name recorded in the manifest",
	}
	ExecutionContext = &cli.StringFlag{
		Name:    "execution-context",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXECUTION_CONTEXT"),
		Usage:   "Execution context recorded in the manifest (eg. 'containerized')",
	}
	RunID = &cli.StringFlag{
		Name:    "run-id",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_ID"),
		Usage:   "Identifier of this run. A random UUID is used when unset",
	}
	PushgatewayURL = &cli.StringFlag{
		Name:    "metrics.pushgateway-url",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METRICS_PUSHGATEWAY_URL"),
		Usage:   "Prometheus Pushgateway that receives run metrics. Metrics are not pushed when unset",
	}
	PushgatewayJob = &cli.StringFlag{
		Name:    "metrics.job",
		Value:   "resultgate",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METRICS_JOB"),
		Usage:   "Job name used when pushing metrics",
	}
)

var requiredFlags = []cli.Flag{
	WorkDir,
	IssuesFile,
	GatewayURL,
	GatewayBucket,
}

var optionalFlags = []cli.Flag{
	Harness,
	HarnessBinary,
	Selector,
	Timeout,
	StderrTailBytes,
	RecordFailures,
	GatewayKey,
	GatewayAuth,
	GatewayToken,
	GatewaySigV4Region,
	GatewaySigV4Service,
	GatewayRequestTimeout,
	GatewayMaxAttempts,
	ResultsDir,
	Container,
	ExecutionContext,
	RunID,
	PushgatewayURL,
	PushgatewayJob,
}

// domainFlags are the flags defined in this package, as opposed to the
// shared op-service ones appended in init.
var domainFlags = append(append([]cli.Flag{}, requiredFlags...), optionalFlags...)

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, optls.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}

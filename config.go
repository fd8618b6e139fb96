package resultgate

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/retry"
	optls "github.com/ethereum-optimism/optimism/op-service/tls"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ironbucket/resultgate/flags"
	"github.com/ironbucket/resultgate/gateway"
	"github.com/ironbucket/resultgate/reporting"
	"github.com/ironbucket/resultgate/runner"
	"github.com/ironbucket/resultgate/types"
)

// Config holds the application configuration
type Config struct {
	Harness         types.HarnessKind
	HarnessBinary   string
	Selector        string
	WorkDir         string
	Timeout         time.Duration // Deadline for the whole harness run
	StderrTailBytes int
	RecordFailures  bool // Publish failing runs when the harness exits 1 with a summary

	IssuesFile string

	GatewayURL     string
	Bucket         string
	KeyTemplate    string // May contain {run_id} and {timestamp}
	AuthMode       flags.AuthMode
	Token          string
	SigV4Region    string
	SigV4Service   string
	TLS            optls.CLIConfig
	RequestTimeout time.Duration
	MaxAttempts    int

	ResultsDir       string // Local artifacts are skipped when empty
	Container        string
	ExecutionContext string
	RunID            string
	PushgatewayURL   string
	PushgatewayJob   string

	// The fields below are not set from flags. Tests use them to replace
	// the harness process, the gateway identity and time.
	Identity   gateway.Identity
	CmdBuilder runner.CmdBuilder
	Backoff    retry.Strategy
	Clock      func() time.Time
	Output     reporting.ReportWriter

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	harness := types.HarnessKind(ctx.String(flags.Harness.Name))
	if !harness.IsValid() {
		return nil, fmt.Errorf("invalid harness: %s", harness)
	}
	authMode := flags.AuthMode(ctx.String(flags.GatewayAuth.Name))
	if !authMode.IsValid() {
		return nil, fmt.Errorf("invalid gateway auth mode: %s. Must be one of: %v", authMode, flags.ValidAuthModes())
	}

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory '%s': %w", ctx.String(flags.WorkDir.Name), err)
	}
	issuesFile, err := filepath.Abs(ctx.String(flags.IssuesFile.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for issue config '%s': %w", ctx.String(flags.IssuesFile.Name), err)
	}
	resultsDir := ctx.String(flags.ResultsDir.Name)
	if resultsDir != "" {
		resultsDir, err = filepath.Abs(resultsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for results directory '%s': %w", resultsDir, err)
		}
	}

	runID := ctx.String(flags.RunID.Name)
	if runID == "" {
		runID = uuid.New().String()
	}

	cfg := &Config{
		Harness:          harness,
		HarnessBinary:    ctx.String(flags.HarnessBinary.Name),
		Selector:         ctx.String(flags.Selector.Name),
		WorkDir:          workDir,
		Timeout:          ctx.Duration(flags.Timeout.Name),
		StderrTailBytes:  ctx.Int(flags.StderrTailBytes.Name),
		RecordFailures:   ctx.Bool(flags.RecordFailures.Name),
		IssuesFile:       issuesFile,
		GatewayURL:       ctx.String(flags.GatewayURL.Name),
		Bucket:           ctx.String(flags.GatewayBucket.Name),
		KeyTemplate:      ctx.String(flags.GatewayKey.Name),
		AuthMode:         authMode,
		Token:            ctx.String(flags.GatewayToken.Name),
		SigV4Region:      ctx.String(flags.GatewaySigV4Region.Name),
		SigV4Service:     ctx.String(flags.GatewaySigV4Service.Name),
		TLS:              optls.ReadCLIConfig(ctx),
		RequestTimeout:   ctx.Duration(flags.GatewayRequestTimeout.Name),
		MaxAttempts:      ctx.Int(flags.GatewayMaxAttempts.Name),
		ResultsDir:       resultsDir,
		Container:        ctx.String(flags.Container.Name),
		ExecutionContext: ctx.String(flags.ExecutionContext.Name),
		RunID:            runID,
		PushgatewayURL:   ctx.String(flags.PushgatewayURL.Name),
		PushgatewayJob:   ctx.String(flags.PushgatewayJob.Name),
		Log:              log,
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates settings that depend on each other.
func (c *Config) Check() error {
	if c.WorkDir == "" {
		return errors.New("work directory is required")
	}
	if c.IssuesFile == "" {
		return errors.New("issue config file is required")
	}
	if c.RunID == "" {
		return errors.New("run id is required")
	}
	if c.Identity == nil {
		switch c.AuthMode {
		case flags.AuthBearer:
			if c.Token == "" {
				return errors.New("gateway.token is required for bearer auth")
			}
		case flags.AuthMTLS:
			if c.TLS.TLSCert == "" || c.TLS.TLSKey == "" || c.TLS.TLSCaCert == "" {
				return errors.New("tls.ca, tls.cert and tls.key are required for mtls auth")
			}
		case flags.AuthSigV4:
		default:
			return fmt.Errorf("invalid gateway auth mode: %s", c.AuthMode)
		}
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("gateway.max-attempts must not be negative, got %d", c.MaxAttempts)
	}
	dest := gateway.Destination{BaseURL: c.GatewayURL, Bucket: c.Bucket, Key: gateway.ResolveKey(c.KeyTemplate, c.RunID, time.Now())}
	if err := dest.Validate(); err != nil {
		return fmt.Errorf("invalid gateway destination: %w", err)
	}
	return nil
}

package resultgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironbucket/resultgate/flags"
	"github.com/ironbucket/resultgate/gateway"
	"github.com/ironbucket/resultgate/issues"
	"github.com/ironbucket/resultgate/manifest"
	"github.com/ironbucket/resultgate/metrics"
	"github.com/ironbucket/resultgate/reporting"
	"github.com/ironbucket/resultgate/runner"
	"github.com/ironbucket/resultgate/types"
	"github.com/ironbucket/resultgate/verify"
)

// Pipeline implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Pipeline{}

var stageOrder = []types.Stage{types.StageExecute, types.StageBuild, types.StageUpload, types.StageVerify}

// Pipeline runs the harness, builds the manifest, uploads it through the
// gateway and verifies the stored copy, in that order. It stops at the first
// stage that fails.
type Pipeline struct {
	config   *Config
	version  string
	log      log.Logger
	executor *runner.Executor
	registry *issues.Registry
	client   *gateway.Client
	verifier *verify.Verifier
	tracer   trace.Tracer
	clock    func() time.Time
	output   reporting.ReportWriter
	report   *reporting.RunReport

	running          atomic.Bool
	shutdownCallback func(error)
}

// New builds a Pipeline. Problems with the issue config or the gateway
// identity are reported here, before anything runs.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Pipeline, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	logger := config.Log
	if logger == nil {
		logger = log.New()
	}

	logger.Debug("Creating pipeline with config",
		"runID", config.RunID,
		"harness", config.Harness,
		"workDir", config.WorkDir,
		"issues", config.IssuesFile,
		"gateway", config.GatewayURL)

	executor, err := runner.NewExecutor(runner.Config{
		Harness:         config.Harness,
		Binary:          config.HarnessBinary,
		Timeout:         config.Timeout,
		StderrTailBytes: config.StderrTailBytes,
		RecordFailures:  config.RecordFailures,
		Log:             logger,
		CmdBuilder:      config.CmdBuilder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	registry, err := issues.Load(config.IssuesFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load issue registry: %w", err)
	}

	identity, err := newIdentity(ctx, config)
	if err != nil {
		return nil, types.NewEnvironmentError(fmt.Errorf("failed to create gateway identity: %w", err))
	}
	client, err := gateway.NewClient(gateway.Config{
		Identity:    identity,
		Timeout:     config.RequestTimeout,
		MaxAttempts: config.MaxAttempts,
		Backoff:     config.Backoff,
		Log:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	output := config.Output
	if output == nil {
		output = reporting.NewStdoutWriter()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	return &Pipeline{
		config:           config,
		version:          version,
		log:              logger,
		executor:         executor,
		registry:         registry,
		client:           client,
		verifier:         verify.NewVerifier(client, logger),
		tracer:           otel.Tracer("resultgate"),
		clock:            clock,
		output:           output,
		shutdownCallback: shutdownCallback,
	}, nil
}

func newIdentity(ctx context.Context, config *Config) (gateway.Identity, error) {
	if config.Identity != nil {
		return config.Identity, nil
	}
	switch config.AuthMode {
	case flags.AuthSigV4:
		signer, err := gateway.NewSigV4(ctx, config.SigV4Region, config.SigV4Service)
		if err != nil {
			return nil, err
		}
		return signer, nil
	case flags.AuthMTLS:
		mtls, err := gateway.NewMutualTLS(config.TLS)
		if err != nil {
			return nil, err
		}
		return mtls, nil
	default:
		return gateway.BearerToken(config.Token), nil
	}
}

// Start runs the pipeline once. A failed run is returned as an error, which
// the CLI turns into a non-zero exit code.
// Start implements the cliapp.Lifecycle interface.
func (p *Pipeline) Start(ctx context.Context) error {
	p.running.Store(true)
	p.log.Info("Starting resultgate", "version", p.version, "runID", p.config.RunID)

	report, err := p.Run(ctx)
	if err != nil {
		p.log.Error("Run failed", "runID", report.RunID, "err", err)
		return err
	}

	p.log.Info("Run passed, exiting", "runID", report.RunID, "key", report.ObjectKey)
	go func() {
		p.shutdownCallback(nil)
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.running.Load() {
		p.log.Debug("Pipeline already stopped, nothing to do")
		return nil
	}
	p.running.Store(false)
	p.log.Info("resultgate stopped")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (p *Pipeline) Stopped() bool {
	return !p.running.Load()
}

// Report returns the report of the last run, or nil.
func (p *Pipeline) Report() *reporting.RunReport {
	return p.report
}

// Run executes every stage and always returns a report, even on failure.
// The error, if any, is a *types.StageError naming the failed stage.
func (p *Pipeline) Run(ctx context.Context) (*reporting.RunReport, error) {
	begin := time.Now()
	started := p.clock()
	report := &reporting.RunReport{RunID: p.config.RunID, Started: started}
	p.report = report

	ctx, span := p.tracer.Start(ctx, "resultgate run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.String("harness", string(p.config.Harness)),
	))
	defer span.End()

	dest := gateway.Destination{
		BaseURL: p.config.GatewayURL,
		Bucket:  p.config.Bucket,
		Key:     gateway.ResolveKey(p.config.KeyTemplate, report.RunID, started),
	}
	report.ObjectKey = dest.ObjectKey()

	err := p.runStages(ctx, report, dest)
	report.Duration = time.Since(begin)
	report.Err = err
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
	}

	p.finish(ctx, report)
	return report, err
}

func (p *Pipeline) runStages(ctx context.Context, report *reporting.RunReport, dest gateway.Destination) error {
	steps := map[types.Stage]func(context.Context) (string, error){
		types.StageExecute: func(ctx context.Context) (string, error) {
			outcome, err := p.executor.Execute(ctx, p.config.Selector, p.config.WorkDir)
			if err != nil {
				return "", err
			}
			report.Outcome = outcome
			metrics.RecordTests(report.RunID, outcome.TestsPassed, outcome.TestsFailed, outcome.TestsSkipped)
			return fmt.Sprintf("%d run, %d passed, %d failed, %d skipped",
				outcome.TestsRun, outcome.TestsPassed, outcome.TestsFailed, outcome.TestsSkipped), nil
		},
		types.StageBuild: func(ctx context.Context) (string, error) {
			breakdown, err := p.registry.Breakdown(report.Outcome)
			if err != nil {
				return "", err
			}
			m, err := manifest.Build(report.Outcome, breakdown, manifest.BuildOptions{
				Clock:            p.clock,
				Container:        p.config.Container,
				ExecutionContext: p.config.ExecutionContext,
			})
			if err != nil {
				return "", err
			}
			report.Manifest = m
			return fmt.Sprintf("%d issues, %s", m.TotalIssues, m.OverallStatus), nil
		},
		types.StageUpload: func(ctx context.Context) (string, error) {
			res, err := p.client.Upload(ctx, report.Manifest, dest)
			report.Upload = res
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("HTTP %s after %d attempt(s)", verify.StatusText(res.HTTPStatus), res.Attempts), nil
		},
		types.StageVerify: func(ctx context.Context) (string, error) {
			vr, err := p.verifier.Verify(ctx, report.Manifest, dest)
			report.Verification = vr
			if vr != nil {
				passed, failed := vr.Counts()
				metrics.RecordVerification(report.RunID, passed, failed)
				if err != nil {
					return fmt.Sprintf("%d of %d checks failed", failed, passed+failed), err
				}
				return fmt.Sprintf("%d checks passed", passed), nil
			}
			return "", err
		},
	}

	for i, stage := range stageOrder {
		if err := p.stage(ctx, report, stage, steps[stage]); err != nil {
			for _, skipped := range stageOrder[i+1:] {
				report.Stages = append(report.Stages, reporting.StageResult{Stage: skipped, Status: reporting.StageSkipped})
			}
			return err
		}
	}
	return p.failRecordedRun(report)
}

// failRecordedRun fails a run whose failing results were published on
// purpose. Exit 0 always means the tests passed and the stored copy matched.
func (p *Pipeline) failRecordedRun(report *reporting.RunReport) error {
	outcome := report.Outcome
	if outcome == nil || outcome.ExitCode == 0 {
		return nil
	}
	err := &types.HarnessFailure{
		ExitCode: outcome.ExitCode,
		Reason: fmt.Sprintf("exit code %d with %d failed tests, results published to %s",
			outcome.ExitCode, outcome.TestsFailed, report.ObjectKey),
	}
	for i := range report.Stages {
		if report.Stages[i].Stage == types.StageExecute {
			report.Stages[i].Status = reporting.StageFail
			report.Stages[i].Detail += " (failing run recorded)"
		}
	}
	metrics.RecordStageFailure(string(types.StageExecute), errorKind(err))
	p.log.Error("Failing test run was recorded", "exitCode", outcome.ExitCode, "failed", outcome.TestsFailed, "key", report.ObjectKey)
	return types.NewStageError(types.StageExecute, err)
}

// stage runs fn as one traced, timed stage and records its result.
func (p *Pipeline) stage(ctx context.Context, report *reporting.RunReport, stage types.Stage, fn func(context.Context) (string, error)) error {
	ctx, span := p.tracer.Start(ctx, string(stage))
	defer span.End()

	p.log.Info("Stage started", "stage", stage, "runID", report.RunID)
	start := time.Now()
	detail, err := fn(ctx)
	duration := time.Since(start)
	metrics.RecordStageDuration(report.RunID, string(stage), duration)

	result := reporting.StageResult{Stage: stage, Status: reporting.StagePass, Duration: duration, Detail: detail}
	if err != nil {
		result.Status = reporting.StageFail
		if result.Detail == "" {
			result.Detail = firstLine(err.Error())
		}
		report.Stages = append(report.Stages, result)

		span.RecordError(err)
		span.SetStatus(codes.Error, result.Detail)
		metrics.RecordStageFailure(string(stage), errorKind(err))
		p.log.Error("Stage failed", "stage", stage, "duration", duration, "err", err)
		return types.NewStageError(stage, err)
	}

	report.Stages = append(report.Stages, result)
	p.log.Info("Stage passed", "stage", stage, "duration", duration, "detail", detail)
	return nil
}

// finish writes local artifacts, prints the summary and pushes metrics. None
// of these change the outcome of the run.
func (p *Pipeline) finish(ctx context.Context, report *reporting.RunReport) {
	metrics.RecordRun(report.RunID, report.Result())

	if p.config.ResultsDir != "" {
		written, err := reporting.NewArtifactSink(p.config.ResultsDir).Complete(report)
		if err != nil {
			metrics.RecordErrorDetails("artifacts", err)
			p.log.Error("Failed to write run artifacts", "dir", p.config.ResultsDir, "err", err)
		} else {
			p.log.Info("Wrote run artifacts", "files", len(written), "dir", p.config.ResultsDir)
		}
	}

	table, err := reporting.NewTableFormatter("Result Verification").Format(report)
	if err != nil {
		p.log.Error("Failed to format results table", "err", err)
	} else if err := p.output.Write(table); err != nil {
		p.log.Error("Failed to print results table", "err", err)
	}

	if err := metrics.Push(ctx, p.config.PushgatewayURL, p.config.PushgatewayJob); err != nil {
		metrics.RecordErrorDetails("push", err)
		p.log.Warn("Failed to push metrics", "url", p.config.PushgatewayURL, "err", err)
	}
}

func errorKind(err error) string {
	switch {
	case types.IsEnvironmentError(err):
		return "environment"
	case types.IsHarnessFailure(err):
		return "harness"
	case types.IsInvariantViolation(err):
		return "invariant"
	case types.IsTransportFailure(err):
		return "transport"
	case types.IsVerificationMismatch(err):
		return "mismatch"
	default:
		return "other"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

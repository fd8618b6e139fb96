package metrics

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	MetricsNamespace = "resultgate"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	// Registry holds every resultgate collector. It is what Push sends.
	Registry = prometheus.NewRegistry()
	factory  = promauto.With(Registry)

	errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	stageDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of each pipeline stage",
	}, []string{
		"run_id",
		"stage",
	})

	stageFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "stage_failures_total",
		Help:      "Count of pipeline stage failures by error kind",
	}, []string{
		"stage",
		"kind",
	})

	gatewayRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "gateway_requests_total",
		Help:      "Count of gateway request attempts by method and HTTP status",
	}, []string{
		"method",
		"status",
	})

	testsTotal = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "tests",
		Help:      "Test counts reported by the harness",
	}, []string{
		"run_id",
		"result",
	})

	verificationChecks = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "verification_checks",
		Help:      "Number of verification checks by result",
	}, []string{
		"run_id",
		"result",
	})

	runResult = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_result",
		Help:      "Result of the pipeline run",
	}, []string{
		"run_id",
		"result",
	})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordStageDuration(runID string, stage string, d time.Duration) {
	stageDuration.WithLabelValues(runID, stage).Set(d.Seconds())
}

func RecordStageFailure(stage string, kind string) {
	if Debug {
		log.Debug("metric inc", "m", "stage_failures_total", "stage", stage, "kind", kind)
	}
	stageFailures.WithLabelValues(stage, kind).Inc()
}

// RecordGatewayRequest counts one HTTP attempt. A status of 0 means the
// request never got a response.
func RecordGatewayRequest(method string, status int) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	gatewayRequests.WithLabelValues(method, label).Inc()
}

func RecordTests(runID string, passed, failed, skipped int) {
	testsTotal.WithLabelValues(runID, "pass").Set(float64(passed))
	testsTotal.WithLabelValues(runID, "fail").Set(float64(failed))
	testsTotal.WithLabelValues(runID, "skip").Set(float64(skipped))
}

func RecordVerification(runID string, passed, failed int) {
	verificationChecks.WithLabelValues(runID, "pass").Set(float64(passed))
	verificationChecks.WithLabelValues(runID, "fail").Set(float64(failed))
}

func RecordRun(runID string, result string) {
	runResult.WithLabelValues(runID, result).Set(1)
}

// Push sends the registry to a Prometheus Pushgateway. A CLI run is too
// short-lived to be scraped.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).
		Gatherer(Registry).
		PushContext(ctx)
}

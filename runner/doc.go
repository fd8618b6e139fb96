// Package runner executes an external test harness and turns what it reports
// into a types.ExecutionOutcome.
//
// The main components are:
//   - Executor: validates the project, spawns exactly one harness process and
//     applies the run deadline
//   - OutputParser: reads the harness's own summary (go test -json events,
//     surefire "Tests run" lines or jest results) into counts and per-case results
//
// A non-zero harness exit is a definitive failure and is never retried.
package runner

// Package runnertest provides a fake test harness for exercising the runner
// without a Go, Maven or Node toolchain. The fake re-executes the current test
// binary, so packages using it must call MaybeRunFakeHarness from TestMain.
package runnertest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

const envFakeHarness = "RESULTGATE_FAKE_HARNESS"

// Harness is the canned behaviour of one fake harness run.
type Harness struct {
	Stdout     string
	// StdoutFile, when set, is copied to stdout after Stdout. Use it for
	// output too large to pass through the environment.
	StdoutFile string
	Stderr     string
	ExitCode   int
	Sleep      time.Duration
	// ArgsFile, when set, receives the arguments the harness was called with.
	ArgsFile   string
}

// CmdBuilder returns a command builder that runs h instead of the requested
// binary.
func (h Harness) CmdBuilder() func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	return func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
		plan, err := json.Marshal(struct {
			Harness
			Args []string
		}{h, append([]string{name}, arg...)})
		if err != nil {
			panic(err)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^$")
		cmd.Env = append(os.Environ(), envFakeHarness+"="+string(plan))
		return cmd, func() {}
	}
}

// MaybeRunFakeHarness plays the fake harness and exits when the process was
// started by CmdBuilder. It returns immediately otherwise.
func MaybeRunFakeHarness() {
	raw := os.Getenv(envFakeHarness)
	if raw == "" {
		return
	}
	var plan struct {
		Harness
		Args []string
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		fmt.Fprintf(os.Stderr, "bad fake harness config: %v", err)
		os.Exit(3)
	}
	if plan.ArgsFile != "" {
		data, _ := json.Marshal(plan.Args)
		_ = os.WriteFile(plan.ArgsFile, data, 0o644)
	}
	fmt.Fprint(os.Stdout, plan.Stdout)
	if plan.StdoutFile != "" {
		f, err := os.Open(plan.StdoutFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fake harness stdout: %v", err)
			os.Exit(3)
		}
		_, _ = io.Copy(os.Stdout, f)
		f.Close()
	}
	fmt.Fprint(os.Stderr, plan.Stderr)
	time.Sleep(plan.Sleep)
	os.Exit(plan.ExitCode)
}

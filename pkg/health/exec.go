package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// ExecChecker probes a unit by running a command inside it through the
// driver. Exit code zero means healthy; anything else, including a
// transport failure reaching the unit, means unhealthy.
type ExecChecker struct {
	runner  CommandRunner
	ref     types.UnitRef
	command []string
	timeout time.Duration
}

// NewExecChecker creates an exec checker for a deployed unit
func NewExecChecker(runner CommandRunner, ref types.UnitRef, command []string, timeout time.Duration) *ExecChecker {
	return &ExecChecker{
		runner:  runner,
		ref:     ref,
		command: command,
		timeout: timeout,
	}
}

// Check performs one exec probe
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := e.runner.RunCommand(execCtx, e.ref, e.command)
	if err != nil {
		message := fmt.Sprintf("exec %v: %v", e.command, err)
		if output != "" {
			message += ": " + truncate(output, 256)
		}
		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	message := fmt.Sprintf("exec %v succeeded", e.command)
	if output != "" {
		message += ": " + truncate(output, 100)
	}
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (e *ExecChecker) Type() types.ProbeType {
	return types.ProbeExec
}

package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Default probe parameters, applied when the unit's health block leaves
// them unset
const (
	DefaultInterval    = 3 * time.Second
	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 10

	// maxBackoff caps the delay between attempts under the exponential
	// policy
	maxBackoff = 30 * time.Second
)

// Result holds the outcome of a single probe attempt
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs one probe attempt against a deployed unit
type Checker interface {
	Check(ctx context.Context) Result
	Type() types.ProbeType
}

// CommandRunner executes a command inside a deployed unit. Drivers that
// support remote execution implement this; exec probes need one.
type CommandRunner interface {
	RunCommand(ctx context.Context, ref types.UnitRef, command []string) (string, error)
}

// ForUnit builds the checker for a unit's probe configuration. Units
// without a health block get no checker (nil, nil) and are treated as
// healthy once applied.
func ForUnit(unit *types.Unit, runner CommandRunner) (Checker, error) {
	hc := unit.Health
	if hc == nil {
		return nil, nil
	}

	host := unit.Target.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := hc.Port
	if port == 0 {
		port = unit.Port
	}
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	switch hc.Type {
	case "", types.ProbeTCP:
		return NewTCPChecker(addr, timeout), nil
	case types.ProbeHTTP:
		path := hc.Path
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return NewHTTPChecker("http://"+addr+path, timeout), nil
	case types.ProbeExec:
		if len(hc.Command) == 0 {
			return nil, fmt.Errorf("unit %s: exec probe without a command", unit.ID)
		}
		if runner == nil {
			return nil, fmt.Errorf("unit %s: exec probe needs a driver with command execution", unit.ID)
		}
		return NewExecChecker(runner, unit.Ref(), hc.Command, timeout), nil
	default:
		return nil, fmt.Errorf("unit %s: unknown probe type %q", unit.ID, hc.Type)
	}
}

// truncate limits probe output carried into results and logs
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// TCPChecker probes a unit by opening a TCP connection to its port. A
// successful dial is the whole check; nothing is written to the socket.
type TCPChecker struct {
	address string
	timeout time.Duration
}

// NewTCPChecker creates a TCP checker for an address like "10.0.0.10:5432"
func NewTCPChecker(address string, timeout time.Duration) *TCPChecker {
	return &TCPChecker{address: address, timeout: timeout}
}

// Check performs one TCP probe
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("dial %s: %v", t.address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   "tcp connect to " + t.address,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (t *TCPChecker) Type() types.ProbeType {
	return types.ProbeTCP
}

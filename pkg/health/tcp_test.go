package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cfkarakulak/superdeploy/pkg/types"
)

func TestTCPChecker_OpenPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(listener.Addr().String(), time.Second)
	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestTCPChecker_ClosedPort(t *testing.T) {
	// Grab a port and close it so nothing listens there
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	checker := NewTCPChecker(addr, 200*time.Millisecond)
	result := checker.Check(context.Background())

	if result.Healthy {
		t.Errorf("Expected unhealthy for closed port, got healthy")
	}
}

func TestTCPChecker_Type(t *testing.T) {
	checker := NewTCPChecker("127.0.0.1:80", time.Second)
	if checker.Type() != types.ProbeTCP {
		t.Errorf("Expected type %s, got %s", types.ProbeTCP, checker.Type())
	}
}

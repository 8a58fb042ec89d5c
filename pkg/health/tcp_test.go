package health

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPCheckerAgainstLiveListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(l.Addr().String()).WithTimeout(2 * time.Second)
	res := checker.Check(context.Background())
	if !res.Healthy {
		t.Fatalf("check against live listener unhealthy: %s", res.Message)
	}
	if checker.Type() != CheckTypeTCP {
		t.Fatalf("Type() = %q, want %q", checker.Type(), CheckTypeTCP)
	}
}

func TestTCPCheckerUnreachableAddress(t *testing.T) {
	// Bind-then-close guarantees nothing is listening on the port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	checker := NewTCPChecker(addr).WithTimeout(500 * time.Millisecond)
	res := checker.Check(context.Background())
	if res.Healthy {
		t.Fatal("check against closed listener reported healthy")
	}
}

func TestStatusHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 3
	s := NewStatus()

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	s.Update(fail, cfg)
	s.Update(fail, cfg)
	if !s.Healthy {
		t.Fatal("two failures must not flip status with Retries=3")
	}
	s.Update(fail, cfg)
	if s.Healthy {
		t.Fatal("third consecutive failure must flip status to unhealthy")
	}
	s.Update(ok, cfg)
	if !s.Healthy {
		t.Fatal("a single success must restore healthy")
	}
	if s.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d after success, want 0", s.ConsecutiveFailures)
	}
}

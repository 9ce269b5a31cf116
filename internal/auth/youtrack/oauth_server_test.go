package youtrack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

func TestCallbackServerDeliversRedirect(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	server := newCallbackServer(port)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/auth/callback?code=the-code&state=xyz", port))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	redirect, err := server.WaitForRedirect(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForRedirect: %v", err)
	}
	if !strings.Contains(redirect, "code=the-code") {
		t.Fatalf("redirect = %q", redirect)
	}
}

func TestCallbackServerDeliversOnlyFirstRedirect(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	server := newCallbackServer(port)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	for _, code := range []string{"first", "second"} {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/auth/callback?code=%s", port, code))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		_ = resp.Body.Close()
	}

	redirect, err := server.WaitForRedirect(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForRedirect: %v", err)
	}
	if !strings.Contains(redirect, "code=first") {
		t.Fatalf("redirect = %q, want the first delivery", redirect)
	}
}

func TestCallbackServerTimeoutIsCancelled(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	server := newCallbackServer(port)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	if _, err := server.WaitForRedirect(context.Background(), 50*time.Millisecond); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestCallbackServerContextCancel(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	server := newCallbackServer(port)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := server.WaitForRedirect(ctx, time.Minute); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestCallbackServerBindsLoopbackOnly(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	server := newCallbackServer(port)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	addr, ok := server.listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("listener addr = %T", server.listener.Addr())
	}
	if !addr.IP.IsLoopback() {
		t.Fatalf("callback server bound to %s, must be loopback only", addr.IP)
	}
}

func TestCallbackServerDoubleStart(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	server := newCallbackServer(port)
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	if err := server.Start(); err == nil {
		t.Fatal("second Start should fail while running")
	}
}

func TestLocalFlowRedirectURI(t *testing.T) {
	t.Parallel()

	flow := &LocalFlow{Port: 8085}
	if got := flow.RedirectURI(); got != "http://localhost:8085/auth/callback" {
		t.Fatalf("RedirectURI = %q", got)
	}
}

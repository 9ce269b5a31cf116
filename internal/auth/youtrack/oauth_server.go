package youtrack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/browser"
)

// callbackTimeout bounds how long the local flow waits for the user to
// complete or abandon the interactive authorization.
const callbackTimeout = 5 * time.Minute

// LocalFlow captures the OAuth redirect with a short-lived local HTTP server
// and opens the authorization URL in the system browser. It implements
// AuthorizationFlow.
type LocalFlow struct {
	// Port is the local port the redirect URI points at.
	Port int
	// NoBrowser suppresses opening the system browser; the URL is printed
	// for the user to visit manually.
	NoBrowser bool
}

// RedirectURI returns the fixed local redirect target for this flow.
func (f *LocalFlow) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/auth/callback", f.Port)
}

// LaunchInteractive starts the callback server, sends the user to the
// authorization URL, and blocks until the redirect arrives or the flow is
// abandoned. Abandonment (no redirect within the timeout) is ErrCancelled.
func (f *LocalFlow) LaunchInteractive(ctx context.Context, authURL string) (string, error) {
	server := newCallbackServer(f.Port)
	if err := server.Start(); err != nil {
		return "", err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(stopCtx)
	}()

	if f.NoBrowser || !browser.IsAvailable() {
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	} else if err := browser.OpenURL(authURL); err != nil {
		log.Warnf("failed to open browser automatically: %v", err)
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	}

	fmt.Println("Waiting for YouTrack authorization...")
	return server.WaitForRedirect(ctx, callbackTimeout)
}

// callbackServer is the local HTTP server capturing one OAuth redirect.
type callbackServer struct {
	server      *http.Server
	listener    net.Listener
	port        int
	redirectCh  chan string
	errCh       chan error
	mu          sync.Mutex
	running     bool
	deliverOnce sync.Once
}

func newCallbackServer(port int) *callbackServer {
	return &callbackServer{
		port:       port,
		redirectCh: make(chan string, 1),
		errCh:      make(chan error, 1),
	}
}

// Start begins listening for the redirect.
func (s *callbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("youtrack oauth: callback server is already running")
	}

	// The redirect carries the authorization code; only loopback may see it.
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("youtrack oauth: port %d unavailable: %w", s.port, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	// Capture the server locally: Stop nils s.server, and the goroutine must
	// not read the field unsynchronized.
	server := s.server
	go func() {
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("youtrack oauth: callback server failed: %w", errServe)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *callbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}
	log.Debug("stopping OAuth callback server")

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// WaitForRedirect blocks until the redirect URL arrives. A timeout means the
// user never completed the flow and is reported as ErrCancelled.
func (s *callbackServer) WaitForRedirect(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case redirect := <-s.redirectCh:
		return redirect, nil
	case err := <-s.errCh:
		return "", err
	case <-ctx.Done():
		return "", ErrCancelled
	case <-time.After(timeout):
		return "", ErrCancelled
	}
}

// handleCallback captures the full redirect URL, success or error alike; the
// OAuth client classifies its query parameters.
func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debug("received OAuth callback")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	redirect := fmt.Sprintf("http://localhost:%d%s", s.port, r.URL.String())
	s.deliverOnce.Do(func() {
		s.redirectCh <- redirect
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><h2>Authorization received</h2><p>You can close this window and return to the terminal.</p></body></html>"))
}

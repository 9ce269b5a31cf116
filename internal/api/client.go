// Package api implements the authenticated YouTrack REST client: request
// signing from the active credential, transparent one-shot token refresh on
// authorization failures, and the worklog-centric endpoint wrappers.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/auth"
)

// requestTimeout bounds each REST exchange when the caller's context carries
// no earlier deadline.
const requestTimeout = 30 * time.Second

// ErrNotAuthenticated is returned when no credential is active.
var ErrNotAuthenticated = errors.New("api: not authenticated")

// AuthExpiredError reports that the server rejected the credential and, for
// OAuth, that the single refresh attempt did not recover it. The session has
// already been logged out when this error surfaces.
type AuthExpiredError struct {
	StatusCode int
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("api: authentication expired (%d), please log in again", e.StatusCode)
}

// StatusError reports a non-auth, non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: request failed: %d %s", e.StatusCode, e.Body)
}

// IsAuthenticationError reports whether err means the user must log in again.
func IsAuthenticationError(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr) || errors.Is(err, ErrNotAuthenticated)
}

// credentialSource is the slice of the auth session the client needs.
type credentialSource interface {
	CurrentCredential() *auth.Credential
	RefreshOAuthCredential(ctx context.Context) (*auth.Credential, error)
	Logout(ctx context.Context) error
}

// Client is the authenticated REST client for one YouTrack instance.
type Client struct {
	session    credentialSource
	httpClient *http.Client
}

// NewClient creates a REST client bound to the given auth session.
func NewClient(session *auth.Session) *Client {
	return &Client{
		session:    session,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// post performs an authenticated JSON POST and returns the response body.
func (c *Client) post(ctx context.Context, path string, query url.Values, payload []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, query, payload)
}

// do executes one authenticated request. A 401 under OAuth triggers exactly
// one refresh-and-retry; a second 401, or a 401 under the token modes, means
// the credential is dead and the session is logged out before the error
// surfaces.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	cred := c.session.CurrentCredential()
	if cred == nil || cred.AccessToken() == "" {
		return nil, ErrNotAuthenticated
	}

	body, status, err := c.execute(ctx, cred, method, path, query, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if cred.Mode != auth.ModeOAuth {
			c.expire(ctx, status)
			return nil, &AuthExpiredError{StatusCode: status}
		}

		log.Debug("got 401, attempting token refresh")
		refreshed, errRefresh := c.session.RefreshOAuthCredential(ctx)
		if errRefresh != nil {
			log.Warnf("token refresh failed: %v", errRefresh)
			c.expire(ctx, status)
			return nil, &AuthExpiredError{StatusCode: status}
		}

		body, status, err = c.execute(ctx, refreshed, method, path, query, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.expire(ctx, status)
			return nil, &AuthExpiredError{StatusCode: status}
		}
	}

	if status < 200 || status >= 300 {
		return nil, &StatusError{StatusCode: status, Body: truncateBody(body)}
	}
	return body, nil
}

// execute builds and sends one signed request.
func (c *Client) execute(ctx context.Context, cred *auth.Credential, method, path string, query url.Values, payload []byte) ([]byte, int, error) {
	endpoint := strings.TrimRight(cred.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("api: create request failed: %w", err)
	}
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("api: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("api: read response failed: %w", err)
	}
	return body, resp.StatusCode, nil
}

// expire logs the session out after an unrecoverable authorization failure.
func (c *Client) expire(ctx context.Context, status int) {
	log.WithField("status", status).Warn("credential rejected by server, logging out")
	if err := c.session.Logout(ctx); err != nil {
		log.Warnf("logout after auth failure: %v", err)
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Package youtrack implements the OAuth2 authorization-code flow against a
// YouTrack instance: building the authorization URL, exchanging and refreshing
// tokens, expiry checks, user info retrieval, and best-effort revocation.
package youtrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Fixed REST endpoint paths of the YouTrack hub.
const (
	authorizePath = "/api/rest/oauth2/auth"
	tokenPath     = "/api/rest/oauth2/token"
	revokePath    = "/api/rest/oauth2/revoke"
	userInfoPath  = "/api/rest/users/me"

	// OAuthScope is the fixed scope requested during authorization.
	OAuthScope = "YouTrack"

	// expiryBuffer is subtracted from the token lifetime so refreshes happen
	// before the server-side expiry.
	expiryBuffer = 5 * time.Minute
)

// ErrCancelled indicates the user abandoned the interactive authorization flow.
var ErrCancelled = errors.New("youtrack oauth: authorization flow was cancelled")

// ErrNoCode indicates the redirect carried neither a code nor an error.
var ErrNoCode = errors.New("youtrack oauth: no authorization code received")

// DeniedError indicates the authorization server redirected back with an error.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("youtrack oauth: authorization denied: %s", e.Reason)
}

// ExchangeError indicates a non-2xx response from the token endpoint during
// the authorization-code grant.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("youtrack oauth: token exchange failed: %d %s", e.StatusCode, e.Body)
}

// RefreshError indicates a non-2xx response from the token endpoint during
// the refresh-token grant.
type RefreshError struct {
	StatusCode int
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("youtrack oauth: token refresh failed: %d", e.StatusCode)
}

// UserInfoError indicates a non-2xx response from the current-user endpoint.
type UserInfoError struct {
	StatusCode int
}

func (e *UserInfoError) Error() string {
	return fmt.Sprintf("youtrack oauth: failed to get user info: %d", e.StatusCode)
}

// TokenSet holds the OAuth credential material. ExpiresAt is a unix-epoch
// milliseconds instant; zero means the token set never expires.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

// Expired reports whether the token set should be refreshed, applying the
// five-minute safety buffer. A token set without an expiry is non-expiring.
func (t *TokenSet) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	if t.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() >= t.ExpiresAt-expiryBuffer.Milliseconds()
}

// UserInfo is the display identity of the authenticated user. It is never
// used for authorization decisions.
type UserInfo struct {
	Login string `json:"login,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// AuthorizationFlow is the interactive, redirect-capturing collaborator. It
// supplies the redirect URI and blocks until the flow redirects back or the
// user abandons it (reported as ErrCancelled).
type AuthorizationFlow interface {
	RedirectURI() string
	LaunchInteractive(ctx context.Context, authURL string) (string, error)
}

// Client drives the OAuth endpoints of one YouTrack instance.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// NewClient creates an OAuth client for the given instance and client id.
func NewClient(baseURL, clientID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		clientID:   clientID,
		httpClient: &http.Client{},
	}
}

// generateState creates the opaque anti-replay value from two concatenated
// random base-36 fragments. It is not required to be unguessable here.
func generateState() string {
	return strconv.FormatInt(rand.Int63(), 36) + strconv.FormatInt(rand.Int63(), 36)
}

// BuildAuthorizationURL constructs the deterministic authorization URL for
// the code grant.
func (c *Client) BuildAuthorizationURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", OAuthScope)
	params.Set("state", state)
	return c.baseURL + authorizePath + "?" + params.Encode()
}

// Authenticate runs the interactive authorization flow and exchanges the
// resulting code for tokens.
func (c *Client) Authenticate(ctx context.Context, flow AuthorizationFlow) (*TokenSet, error) {
	state := generateState()
	authURL := c.BuildAuthorizationURL(flow.RedirectURI(), state)

	redirectURL, err := flow.LaunchInteractive(ctx, authURL)
	if err != nil {
		return nil, err
	}
	if redirectURL == "" {
		return nil, ErrCancelled
	}

	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("youtrack oauth: invalid redirect URL: %w", err)
	}
	query := parsed.Query()
	if oauthErr := query.Get("error"); oauthErr != "" {
		return nil, &DeniedError{Reason: oauthErr}
	}
	code := query.Get("code")
	if code == "" {
		return nil, ErrNoCode
	}
	if returned := query.Get("state"); returned != "" && returned != state {
		log.Warn("authorization redirect returned a different state value")
	}

	return c.ExchangeCodeForTokens(ctx, code, flow.RedirectURI())
}

// ExchangeCodeForTokens trades an authorization code for a token set.
func (c *Client) ExchangeCodeForTokens(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", c.clientID)
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)

	body, status, err := c.postForm(ctx, c.baseURL+tokenPath, data)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ExchangeError{StatusCode: status, Body: string(body)}
	}
	return parseTokenResponse(body)
}

// RefreshToken trades a refresh token for a fresh token set.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", c.clientID)
	data.Set("refresh_token", refreshToken)

	body, status, err := c.postForm(ctx, c.baseURL+tokenPath, data)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &RefreshError{StatusCode: status}
	}
	return parseTokenResponse(body)
}

// GetUserInfo fetches the authenticated user's display identity.
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userInfoPath+"?fields=login,name,email", nil)
	if err != nil {
		return nil, fmt.Errorf("youtrack oauth: create user info request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtrack oauth: user info request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("youtrack oauth: read user info response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UserInfoError{StatusCode: resp.StatusCode}
	}

	var info UserInfo
	if err = json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("youtrack oauth: parse user info failed: %w", err)
	}
	return &info, nil
}

// Revoke best-effort revokes a token. All errors are swallowed; the returned
// flag only reports whether the server acknowledged the revocation. Logout
// must never block on this call.
func (c *Client) Revoke(ctx context.Context, token string) bool {
	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", c.clientID)

	_, status, err := c.postForm(ctx, c.baseURL+revokePath, data)
	if err != nil {
		log.Warnf("token revoke failed: %v", err)
		return false
	}
	return status >= 200 && status < 300
}

func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("youtrack oauth: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("youtrack oauth: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("youtrack oauth: read response failed: %w", err)
	}
	return body, resp.StatusCode, nil
}

// tokenResponse is the wire shape of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// parseTokenResponse converts a token endpoint reply into a TokenSet,
// stamping an absolute expiry when the server reports a lifetime.
func parseTokenResponse(body []byte) (*TokenSet, error) {
	var wire tokenResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("youtrack oauth: parse token response failed: %w", err)
	}
	if wire.AccessToken == "" {
		return nil, fmt.Errorf("youtrack oauth: token response carried no access token")
	}
	tokens := &TokenSet{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
	}
	if wire.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().UnixMilli() + wire.ExpiresIn*1000
	}
	return tokens, nil
}

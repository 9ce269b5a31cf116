// Package auth holds the credential model and the session state machine that
// reconciles the three acquisition modes (manual token, OAuth, detected
// token) behind one normalized credential.
package auth

import (
	"fmt"
	"strings"

	"github.com/worklog-for-me/YouTrackWorklog/internal/auth/youtrack"
)

// Mode identifies which credential acquisition strategy is active.
type Mode string

const (
	ModeToken         Mode = "token"
	ModeOAuth         Mode = "oauth"
	ModeDetectedToken Mode = "detected-token"
)

// ParseMode validates a persisted mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case ModeToken:
		return ModeToken, nil
	case ModeOAuth:
		return ModeOAuth, nil
	case ModeDetectedToken:
		return ModeDetectedToken, nil
	default:
		return "", fmt.Errorf("auth: unknown mode %q", s)
	}
}

// UserInfo is the optional display identity attached to a credential. It is
// never used for authorization decisions.
type UserInfo struct {
	Login string `json:"login,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Credential is the tagged union of the three credential shapes. Exactly one
// variant is populated, selected by Mode; the session replaces the whole
// value atomically so impossible states (oauth fields under token mode)
// cannot arise.
type Credential struct {
	Mode    Mode
	BaseURL string

	// Token carries the secret for ModeToken and ModeDetectedToken.
	Token string
	// TokenSource records which resolution rule produced a detected token.
	TokenSource string
	// TokenMetadata optionally keeps the structured storage value a detected
	// token was unwrapped from, as raw JSON.
	TokenMetadata string

	// ClientID and OAuth carry the ModeOAuth secrets.
	ClientID string
	OAuth    *youtrack.TokenSet

	// UserInfo is display-only.
	UserInfo *UserInfo
}

// AccessToken returns the secret used for authorization, whatever the mode.
func (c *Credential) AccessToken() string {
	if c == nil {
		return ""
	}
	if c.Mode == ModeOAuth {
		if c.OAuth == nil {
			return ""
		}
		return c.OAuth.AccessToken
	}
	return c.Token
}

// AuthorizationHeader derives the Authorization header value for the active
// credential. All three modes currently use bearer-style delivery; detected
// tokens may really be session cookies in disguise, so this is a known
// simplification rather than a correctness guarantee.
func (c *Credential) AuthorizationHeader() string {
	token := c.AccessToken()
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

// Clone returns a deep copy so callers cannot mutate session state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	copied := *c
	if c.OAuth != nil {
		oauthCopy := *c.OAuth
		copied.OAuth = &oauthCopy
	}
	if c.UserInfo != nil {
		userCopy := *c.UserInfo
		copied.UserInfo = &userCopy
	}
	return &copied
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/auth/youtrack"
	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
	"github.com/worklog-for-me/YouTrackWorklog/internal/detect"
	"github.com/worklog-for-me/YouTrackWorklog/internal/store"
)

// InputError reports a missing required input, surfaced immediately and
// never retried.
type InputError struct {
	Field string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("auth: %s is required", e.Field)
}

// InvalidTokenError reports that a detected token failed the sanity filter.
type InvalidTokenError struct {
	Type string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("auth: detected %s token looks invalid, log into YouTrack again and re-scan", e.Type)
}

// OAuthService is the slice of the OAuth client the session drives.
// *youtrack.Client satisfies it; tests substitute fakes.
type OAuthService interface {
	Authenticate(ctx context.Context, flow youtrack.AuthorizationFlow) (*youtrack.TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (*youtrack.TokenSet, error)
	GetUserInfo(ctx context.Context, accessToken string) (*youtrack.UserInfo, error)
	Revoke(ctx context.Context, token string) bool
}

// TokenScanner is the detection collaborator.
type TokenScanner interface {
	Scan(ctx context.Context, envName string, env config.Environment) (*detect.CandidateBag, error)
}

// Session owns the current credential. It is the only writer of that state;
// all mutations go through its methods.
type Session struct {
	settings store.SettingsStore
	scanner  TokenScanner
	flow     youtrack.AuthorizationFlow
	newOAuth func(baseURL, clientID string) OAuthService

	mu   sync.Mutex
	cred *Credential
}

// NewSession creates a session over the given settings store and
// collaborators. scanner and flow may be nil when the corresponding
// authentication modes are not used.
func NewSession(settings store.SettingsStore, scanner TokenScanner, flow youtrack.AuthorizationFlow) *Session {
	return &Session{
		settings: settings,
		scanner:  scanner,
		flow:     flow,
		newOAuth: func(baseURL, clientID string) OAuthService {
			return youtrack.NewClient(baseURL, clientID)
		},
	}
}

// CurrentCredential returns a copy of the active credential, or nil when
// logged out.
func (s *Session) CurrentCredential() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.Clone()
}

// Authenticated reports whether a usable credential is active.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred != nil && s.cred.AccessToken() != ""
}

// LoadAuth restores the persisted mode and secrets. For oauth mode an
// expired token set triggers exactly one refresh; refresh failure clears the
// persisted OAuth secrets (implicit logout). Token modes restore without a
// liveness check; validity is discovered lazily on the first API call.
func (s *Session) LoadAuth(ctx context.Context) (bool, error) {
	values, err := s.settings.Get(ctx,
		store.KeyBaseURL, store.KeyAuthMode, store.KeyToken,
		store.KeyClientID, store.KeyOAuthTokens, store.KeyUserInfo)
	if err != nil {
		return false, fmt.Errorf("auth: load failed: %w", err)
	}

	baseURL := values[store.KeyBaseURL]
	modeRaw := values[store.KeyAuthMode]
	if baseURL == "" || modeRaw == "" {
		return false, nil
	}
	mode, err := ParseMode(modeRaw)
	if err != nil {
		return false, err
	}

	var userInfo *UserInfo
	if raw := values[store.KeyUserInfo]; raw != "" {
		userInfo = &UserInfo{}
		if errUser := json.Unmarshal([]byte(raw), userInfo); errUser != nil {
			log.Warnf("discarding unreadable persisted user info: %v", errUser)
			userInfo = nil
		}
	}

	switch mode {
	case ModeOAuth:
		rawTokens := values[store.KeyOAuthTokens]
		clientID := values[store.KeyClientID]
		if rawTokens == "" || clientID == "" {
			return false, nil
		}
		tokens := &youtrack.TokenSet{}
		if err = json.Unmarshal([]byte(rawTokens), tokens); err != nil {
			return false, fmt.Errorf("auth: parse persisted oauth tokens failed: %w", err)
		}

		if tokens.Expired(time.Now()) {
			refreshed, errRefresh := s.refreshOAuth(ctx, baseURL, clientID, tokens)
			if errRefresh != nil {
				log.WithField("mode", ModeOAuth).Warnf("token refresh on load failed, logging out: %v", errRefresh)
				if errClear := s.settings.Remove(ctx, store.KeyAuthMode, store.KeyOAuthTokens, store.KeyClientID, store.KeyUserInfo); errClear != nil {
					log.Warnf("failed to clear oauth secrets: %v", errClear)
				}
				s.setCredential(nil)
				return false, nil
			}
			tokens = refreshed
			if err = s.persistOAuthTokens(ctx, tokens); err != nil {
				return false, err
			}
		}

		s.setCredential(&Credential{
			Mode:     ModeOAuth,
			BaseURL:  baseURL,
			ClientID: clientID,
			OAuth:    tokens,
			UserInfo: userInfo,
		})
		return true, nil

	case ModeToken, ModeDetectedToken:
		token := values[store.KeyToken]
		if token == "" {
			return false, nil
		}
		s.setCredential(&Credential{
			Mode:     mode,
			BaseURL:  baseURL,
			Token:    token,
			UserInfo: userInfo,
		})
		return true, nil
	}
	return false, nil
}

// AuthenticateWithToken activates manual token mode.
func (s *Session) AuthenticateWithToken(ctx context.Context, baseURL, token string) error {
	if baseURL == "" {
		return &InputError{Field: "url"}
	}
	if token == "" {
		return &InputError{Field: "token"}
	}

	if err := s.settings.Set(ctx, map[string]string{
		store.KeyBaseURL:  baseURL,
		store.KeyToken:    token,
		store.KeyAuthMode: string(ModeToken),
	}); err != nil {
		return fmt.Errorf("auth: persist token failed: %w", err)
	}

	s.setCredential(&Credential{Mode: ModeToken, BaseURL: baseURL, Token: token})
	return nil
}

// AuthenticateWithOAuth drives the interactive OAuth flow and activates
// oauth mode.
func (s *Session) AuthenticateWithOAuth(ctx context.Context, baseURL, clientID string) error {
	if baseURL == "" {
		return &InputError{Field: "url"}
	}
	if clientID == "" {
		return &InputError{Field: "clientId"}
	}

	service := s.newOAuth(baseURL, clientID)
	tokens, err := service.Authenticate(ctx, s.flow)
	if err != nil {
		return err
	}

	info, err := service.GetUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return err
	}
	userInfo := &UserInfo{Login: info.Login, Name: info.Name, Email: info.Email}

	rawTokens, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("auth: encode oauth tokens failed: %w", err)
	}
	rawUser, err := json.Marshal(userInfo)
	if err != nil {
		return fmt.Errorf("auth: encode user info failed: %w", err)
	}

	if err = s.settings.Set(ctx, map[string]string{
		store.KeyBaseURL:     baseURL,
		store.KeyClientID:    clientID,
		store.KeyAuthMode:    string(ModeOAuth),
		store.KeyOAuthTokens: string(rawTokens),
		store.KeyUserInfo:    string(rawUser),
	}); err != nil {
		return fmt.Errorf("auth: persist oauth credential failed: %w", err)
	}

	s.setCredential(&Credential{
		Mode:     ModeOAuth,
		BaseURL:  baseURL,
		ClientID: clientID,
		OAuth:    tokens,
		UserInfo: userInfo,
	})
	return nil
}

// AuthenticateWithDetectedToken scans the environment's browser tabs,
// resolves the winning token, and activates detected-token mode.
func (s *Session) AuthenticateWithDetectedToken(ctx context.Context, envName string, env config.Environment) error {
	if s.scanner == nil {
		return fmt.Errorf("auth: token detection is not configured")
	}

	bag, err := s.scanner.Scan(ctx, envName, env)
	if err != nil {
		return err
	}
	resolved, err := detect.Resolve(bag)
	if err != nil {
		return err
	}
	if !detect.ValidateToken(resolved.Token) {
		return &InvalidTokenError{Type: resolved.Type}
	}

	baseURL := resolved.BaseURL
	if baseURL == "" {
		baseURL = bag.BaseURL
	}

	values := map[string]string{
		store.KeyBaseURL:  baseURL,
		store.KeyToken:    resolved.Token,
		store.KeyAuthMode: string(ModeDetectedToken),
	}

	cred := &Credential{
		Mode:        ModeDetectedToken,
		BaseURL:     baseURL,
		Token:       resolved.Token,
		TokenSource: resolved.Type,
	}
	if resolved.TokenData.Exists() {
		cred.TokenMetadata = resolved.TokenData.Raw
	}
	if userInfo := userInfoFromBag(bag); userInfo != nil {
		cred.UserInfo = userInfo
		if rawUser, errUser := json.Marshal(userInfo); errUser == nil {
			values[store.KeyUserInfo] = string(rawUser)
		}
	}

	if err = s.settings.Set(ctx, values); err != nil {
		return fmt.Errorf("auth: persist detected token failed: %w", err)
	}

	log.WithField("mode", ModeDetectedToken).WithField("rule", resolved.Type).Info("authenticated with detected token")
	s.setCredential(cred)
	return nil
}

// Logout clears the active credential. OAuth tokens are revoked best-effort
// first; the local logout always succeeds regardless. The base URL is
// retained for convenience on the next login.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if cred != nil && cred.Mode == ModeOAuth && cred.OAuth != nil {
		service := s.newOAuth(cred.BaseURL, cred.ClientID)
		if !service.Revoke(ctx, cred.OAuth.AccessToken) {
			log.Warn("server-side token revoke did not succeed")
		}
	}

	if err := s.settings.Remove(ctx,
		store.KeyAuthMode, store.KeyToken, store.KeyClientID,
		store.KeyOAuthTokens, store.KeyUserInfo); err != nil {
		log.Warnf("failed to clear persisted secrets: %v", err)
	}

	s.setCredential(nil)
	return nil
}

// SwitchMode is a local UI-style transition: it discards fields not owned by
// the target mode and persists nothing until a subsequent authenticate call
// completes. The base URL survives; detected-token keeps any known user info.
func (s *Session) SwitchMode(newMode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := &Credential{Mode: newMode}
	if s.cred != nil {
		draft.BaseURL = s.cred.BaseURL
		if newMode == ModeDetectedToken {
			draft.UserInfo = s.cred.UserInfo
		}
	}
	s.cred = draft
}

// RefreshOAuthCredential refreshes the active oauth credential and persists
// the replacement token set. The API client calls this on a 401.
func (s *Session) RefreshOAuthCredential(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	cred := s.cred.Clone()
	s.mu.Unlock()

	if cred == nil || cred.Mode != ModeOAuth || cred.OAuth == nil {
		return nil, fmt.Errorf("auth: no oauth credential to refresh")
	}

	tokens, err := s.refreshOAuth(ctx, cred.BaseURL, cred.ClientID, cred.OAuth)
	if err != nil {
		return nil, err
	}
	if err = s.persistOAuthTokens(ctx, tokens); err != nil {
		return nil, err
	}

	cred.OAuth = tokens
	s.setCredential(cred)
	return cred.Clone(), nil
}

func (s *Session) refreshOAuth(ctx context.Context, baseURL, clientID string, tokens *youtrack.TokenSet) (*youtrack.TokenSet, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("auth: no refresh token available")
	}
	service := s.newOAuth(baseURL, clientID)
	refreshed, err := service.RefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	return refreshed, nil
}

func (s *Session) persistOAuthTokens(ctx context.Context, tokens *youtrack.TokenSet) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("auth: encode oauth tokens failed: %w", err)
	}
	if err = s.settings.Set(ctx, map[string]string{store.KeyOAuthTokens: string(raw)}); err != nil {
		return fmt.Errorf("auth: persist oauth tokens failed: %w", err)
	}
	return nil
}

// setCredential atomically replaces the whole credential union.
func (s *Session) setCredential(cred *Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
}

// userInfoFromBag extracts display identity from a candidate bag when the
// page exposed one.
func userInfoFromBag(bag *detect.CandidateBag) *UserInfo {
	if bag == nil || !bag.UserInfo.Exists() {
		return nil
	}
	raw := bag.UserInfo
	info := &UserInfo{
		Login: raw.Get("login").String(),
		Name:  raw.Get("name").String(),
		Email: raw.Get("email").String(),
	}
	if info.Login == "" && info.Name == "" && info.Email == "" {
		return nil
	}
	return info
}

package detect

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ResolvedToken is the single winning token chosen from a candidate bag.
// Only Token and BaseURL survive into a persisted credential.
type ResolvedToken struct {
	Token     string
	Type      string
	BaseURL   string
	OriginKey string
	// TokenData keeps the structured value the token was unwrapped from,
	// when there was one.
	TokenData gjson.Result
}

// ErrNoUsableToken is returned when no resolution rule matches the bag.
var ErrNoUsableToken = errors.New("detect: no usable authentication token found in page data")

// uuidTokenKey matches per-service keys like
// "de42cfbd-5a6a-4874-b5fc-4f9825ea186a-token".
var uuidTokenKey = regexp.MustCompile(`(?i)^[a-f0-9\-]{36}-token$`)

// conventionalKeyPriority is the fixed preference order for well-known
// storage keys, best first.
var conventionalKeyPriority = []string{
	"ring-jwt",
	"jwtToken",
	"access_token",
	"accessToken",
	"auth-token",
	"authToken",
	"ring-session",
	"ring-token",
	"token",
	"ytAuthToken",
	"youtrack-token",
}

// accessTokenOf unwraps the accessToken field of a structured value.
func accessTokenOf(value gjson.Result) (string, bool) {
	if !value.IsObject() {
		return "", false
	}
	token := value.Get("accessToken")
	if token.Exists() && token.String() != "" {
		return token.String(), true
	}
	return "", false
}

// resolveRule is one step of the resolution policy. Rules run in slice order;
// the first non-nil result wins.
type resolveRule struct {
	name    string
	resolve func(bag *CandidateBag) *ResolvedToken
}

var resolveRules = []resolveRule{
	{
		name: "uuid-access-token",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			for _, key := range bag.sortedEntryKeys() {
				value := bag.Entries[key]
				if !uuidTokenKey.MatchString(key) {
					continue
				}
				if token, ok := accessTokenOf(value); ok {
					return &ResolvedToken{Token: token, Type: "uuid-access-token", BaseURL: bag.BaseURL, OriginKey: key, TokenData: value}
				}
			}
			return nil
		},
	},
	{
		name: "uuid-token",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			for _, key := range bag.sortedEntryKeys() {
				value := bag.Entries[key]
				if uuidTokenKey.MatchString(key) && value.Type == gjson.String && value.String() != "" {
					return &ResolvedToken{Token: value.String(), Type: "uuid-token", BaseURL: bag.BaseURL, OriginKey: key}
				}
			}
			return nil
		},
	},
	{
		name: "object-access-token",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			for _, key := range bag.sortedEntryKeys() {
				value := bag.Entries[key]
				if token, ok := accessTokenOf(value); ok {
					return &ResolvedToken{Token: token, Type: "object-access-token", BaseURL: bag.BaseURL, OriginKey: key, TokenData: value}
				}
			}
			return nil
		},
	},
	{
		name: "conventional-key",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			for _, key := range conventionalKeyPriority {
				value, ok := bag.Entries[key]
				if !ok {
					continue
				}
				if token, okToken := accessTokenOf(value); okToken {
					return &ResolvedToken{Token: token, Type: key + "-object", BaseURL: bag.BaseURL, OriginKey: key, TokenData: value}
				}
				if value.Type == gjson.String && value.String() != "" {
					return &ResolvedToken{Token: value.String(), Type: key, BaseURL: bag.BaseURL, OriginKey: key}
				}
			}
			return nil
		},
	},
	{
		name: "found-token",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			for _, key := range bag.sortedEntryKeys() {
				if !strings.Contains(strings.ToLower(key), "token") {
					continue
				}
				value := bag.Entries[key]
				if value.Type == gjson.String && len(value.String()) > 10 {
					return &ResolvedToken{Token: value.String(), Type: "found-token", BaseURL: bag.BaseURL, OriginKey: key}
				}
				if token, ok := accessTokenOf(value); ok {
					return &ResolvedToken{Token: token, Type: "found-object-token", BaseURL: bag.BaseURL, OriginKey: key, TokenData: value}
				}
			}
			return nil
		},
	},
	{
		name: "session-token",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			session := bag.SessionData
			if session.Type == gjson.String {
				session = gjson.Parse(session.String())
			}
			if !session.IsObject() {
				return nil
			}
			for _, field := range []string{"token", "accessToken"} {
				if token := session.Get(field); token.Exists() && token.String() != "" {
					return &ResolvedToken{Token: token.String(), Type: "session-token", BaseURL: bag.BaseURL, TokenData: session}
				}
			}
			return nil
		},
	},
	{
		name: "cookie-token",
		resolve: func(bag *CandidateBag) *ResolvedToken {
			names := make([]string, 0, len(bag.Cookies))
			for name := range bag.Cookies {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if value := bag.Cookies[name]; len(value) > 10 {
					return &ResolvedToken{Token: value, Type: "cookie-token", BaseURL: bag.BaseURL, OriginKey: name}
				}
			}
			return nil
		},
	},
}

// Resolve picks the winning token from a candidate bag. The policy is the
// ordered rule table above; the first rule producing a result wins.
func Resolve(bag *CandidateBag) (*ResolvedToken, error) {
	if bag == nil {
		return nil, ErrNoUsableToken
	}
	for _, rule := range resolveRules {
		if resolved := rule.resolve(bag); resolved != nil {
			return resolved, nil
		}
	}
	return nil, ErrNoUsableToken
}

// ValidateToken applies the heuristic sanity filter for detected tokens:
// reasonably long, no obvious serialization artifacts, no stray whitespace.
// This is not cryptographic validation.
func ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	return len(token) > 10 &&
		!strings.Contains(token, "undefined") &&
		!strings.Contains(token, "null") &&
		strings.TrimSpace(token) == token
}

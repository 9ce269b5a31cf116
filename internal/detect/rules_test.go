package detect

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func bagWith(entries map[string]string) *CandidateBag {
	bag := &CandidateBag{
		BaseURL: "https://youtrack.example.com",
		Entries: make(map[string]gjson.Result, len(entries)),
	}
	for key, raw := range entries {
		bag.Entries[key] = gjson.Parse(raw)
	}
	return bag
}

func TestResolvePriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		bag       *CandidateBag
		wantToken string
		wantType  string
	}{
		{
			name: "uuid access token beats everything",
			bag: bagWith(map[string]string{
				"de42cfbd-5a6a-4874-b5fc-4f9825ea186a-token": `{"accessToken":"uuid-wrapped-secret"}`,
				"access_token": `"conventional-secret-value"`,
			}),
			wantToken: "uuid-wrapped-secret",
			wantType:  "uuid-access-token",
		},
		{
			name: "uuid plain string token",
			bag: bagWith(map[string]string{
				"de42cfbd-5a6a-4874-b5fc-4f9825ea186a-token": `"uuid-plain-secret"`,
			}),
			wantToken: "uuid-plain-secret",
			wantType:  "uuid-token",
		},
		{
			name: "object access token under arbitrary key",
			bag: bagWith(map[string]string{
				"some-random-entry": `{"accessToken":"object-secret-value"}`,
			}),
			wantToken: "object-secret-value",
			wantType:  "object-access-token",
		},
		{
			name: "conventional key beats generic token-containing key",
			bag: bagWith(map[string]string{
				"access_token":     `"conventional-secret-value"`,
				"my-custom-token":  `"generic-secret-value"`,
				"unrelated-switch": `"on"`,
			}),
			wantToken: "conventional-secret-value",
			wantType:  "access_token",
		},
		{
			name: "ring-jwt outranks plain token key",
			bag: bagWith(map[string]string{
				"ring-jwt": `"ring-jwt-secret-value"`,
				"token":    `"plain-token-secret"`,
			}),
			wantToken: "ring-jwt-secret-value",
			wantType:  "ring-jwt",
		},
		{
			name: "generic token key as last storage resort",
			bag: bagWith(map[string]string{
				"legacy-app-token": `"legacy-secret-value"`,
			}),
			wantToken: "legacy-secret-value",
			wantType:  "found-token",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resolved, err := Resolve(tc.bag)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if resolved.Token != tc.wantToken {
				t.Fatalf("token = %q, want %q", resolved.Token, tc.wantToken)
			}
			if resolved.Type != tc.wantType {
				t.Fatalf("type = %q, want %q", resolved.Type, tc.wantType)
			}
			if resolved.BaseURL != tc.bag.BaseURL {
				t.Fatalf("baseURL = %q, want bag origin", resolved.BaseURL)
			}
		})
	}
}

func TestResolveSessionAndCookieFallbacks(t *testing.T) {
	t.Parallel()

	bag := bagWith(nil)
	bag.SessionData = gjson.Parse(`{"token":"session-secret-value"}`)
	resolved, err := Resolve(bag)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Type != "session-token" || resolved.Token != "session-secret-value" {
		t.Fatalf("got %q/%q, want session-token", resolved.Type, resolved.Token)
	}

	bag = bagWith(nil)
	bag.Cookies = map[string]string{"ring-auth": "cookie-secret-value"}
	resolved, err = Resolve(bag)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Type != "cookie-token" || resolved.Token != "cookie-secret-value" {
		t.Fatalf("got %q/%q, want cookie-token", resolved.Type, resolved.Token)
	}
}

func TestResolveDeterministicAcrossEqualKeys(t *testing.T) {
	t.Parallel()

	// Two uuid keys both carry a token; the lexicographically first one must
	// win on every run.
	bag := bagWith(map[string]string{
		"aa42cfbd-5a6a-4874-b5fc-4f9825ea186a-token": `"first-uuid-secret"`,
		"de42cfbd-5a6a-4874-b5fc-4f9825ea186a-token": `"second-uuid-secret"`,
	})
	for i := 0; i < 20; i++ {
		resolved, err := Resolve(bag)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if resolved.Token != "first-uuid-secret" {
			t.Fatalf("iteration %d picked %q", i, resolved.Token)
		}
	}
}

func TestResolveNoUsableToken(t *testing.T) {
	t.Parallel()

	if _, err := Resolve(nil); err != ErrNoUsableToken {
		t.Fatalf("Resolve(nil) = %v, want ErrNoUsableToken", err)
	}
	bag := bagWith(map[string]string{"theme": `"dark"`})
	if _, err := Resolve(bag); err != ErrNoUsableToken {
		t.Fatalf("Resolve = %v, want ErrNoUsableToken", err)
	}
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		token string
		want  bool
	}{
		{"", false},
		{"undefined", false},
		{"null-token-value", false},
		{"short", false},
		{"exactly10c", false},
		{strings.Repeat("a", 32), true},
		{" leading-whitespace-token", false},
		{"trailing-whitespace-token ", false},
		{"perm:cm9vdA==.UG9zdG1hbg==.abcdef", true},
	}
	for _, tc := range cases {
		if got := ValidateToken(tc.token); got != tc.want {
			t.Fatalf("ValidateToken(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

// Package detect implements passive token detection: delivering an extractor
// script into open YouTrack browser tabs, collecting candidate authentication
// data from page storage, and resolving one winning token by priority policy.
package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

// Reserved bag fields that never count as token candidates.
const (
	fieldBaseURL     = "baseUrl"
	fieldUserInfo    = "userInfo"
	fieldSessionData = "sessionData"
	fieldCookies     = "cookies"
	fieldError       = "error"
)

// CandidateBag holds raw, unvalidated key-value data scraped from one page's
// storage, owned by the broker until resolved into a credential or discarded.
type CandidateBag struct {
	// BaseURL is derived from the page origin.
	BaseURL string
	// Entries maps storage keys to their raw values; structured values keep
	// their JSON shape, everything else is a plain string.
	Entries map[string]gjson.Result
	// UserInfo is the optional display identity found under known keys.
	UserInfo gjson.Result
	// SessionData is the optional nested session blob.
	SessionData gjson.Result
	// Cookies maps auth-looking cookie names to values.
	Cookies map[string]string
	// Timestamp records when the bag was captured.
	Timestamp time.Time
	// TabID and TabURL identify the source tab.
	TabID  string
	TabURL string
}

// sortedEntryKeys returns the bag's storage keys in deterministic order.
func (b *CandidateBag) sortedEntryKeys() []string {
	keys := make([]string, 0, len(b.Entries))
	for key := range b.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Fresh reports whether the bag was captured within the last five minutes.
// Staleness is advisory; callers may choose to re-scan.
func (b *CandidateBag) Fresh(now time.Time) bool {
	if b == nil || b.Timestamp.IsZero() {
		return false
	}
	return now.Sub(b.Timestamp) < 5*time.Minute
}

// ExtractResult is the envelope returned by the in-page extractor.
type ExtractResult struct {
	Success      bool
	Error        string
	IsTargetPage bool
	Data         *CandidateBag
}

// parseExtractResult decodes the JSON envelope produced by extractorProgram.
// An empty raw value means the extractor is not installed in the page.
func parseExtractResult(raw string) (*ExtractResult, error) {
	if raw == "" {
		return nil, nil
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("detect: unexpected extractor reply: %q", raw)
	}
	result := &ExtractResult{
		Success:      parsed.Get("success").Bool(),
		Error:        parsed.Get(fieldError).String(),
		IsTargetPage: parsed.Get("isYouTrackPage").Bool(),
	}
	if data := parsed.Get("data"); data.IsObject() {
		result.Data = parseCandidateBag(data)
	}
	return result, nil
}

// parseCandidateBag decodes a bag object into its typed form.
func parseCandidateBag(data gjson.Result) *CandidateBag {
	bag := &CandidateBag{
		BaseURL: data.Get(fieldBaseURL).String(),
		Entries: make(map[string]gjson.Result),
	}
	data.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case fieldBaseURL, fieldError:
		case fieldUserInfo:
			bag.UserInfo = value
		case fieldSessionData:
			bag.SessionData = value
		case fieldCookies:
			if value.IsObject() {
				bag.Cookies = make(map[string]string)
				value.ForEach(func(name, cookie gjson.Result) bool {
					bag.Cookies[name.String()] = cookie.String()
					return true
				})
			}
		default:
			bag.Entries[key.String()] = value
		}
		return true
	})
	return bag
}

// callExtractor asks an already-installed extractor for its result. It
// evaluates to the empty string when no extractor is present in the page.
const callExtractor = `(function(){
  if (typeof window.__ytWorklogExtract === 'function') {
    try { return JSON.stringify(window.__ytWorklogExtract()); } catch (e) { return JSON.stringify({success:false, error:String(e), isYouTrackPage:false}); }
  }
  return '';
})()`

// extractorProgram installs the broad heuristic extractor into the page and
// returns its first result. The extractor only reads page state; every probe
// is wrapped so a single failed lookup cannot abort the whole scan.
const extractorProgram = `(function(){
  window.__ytWorklogExtract = function(){
    function isYouTrackPage(){
      try {
        var hostname = window.location.hostname;
        var pathname = window.location.pathname;
        var title = document.title || '';
        return hostname.indexOf('youtrack') !== -1 ||
               pathname.indexOf('youtrack') !== -1 ||
               title.indexOf('YouTrack') !== -1 ||
               document.querySelector('meta[name="application-name"][content*="YouTrack"]') !== null ||
               document.querySelector('[data-test="ring-header-logo"]') !== null ||
               document.querySelector('.ring-header') !== null;
      } catch (e) { return false; }
    }

    function extract(){
      var authData = {};
      authData.baseUrl = window.location.protocol + '//' + window.location.host;

      var uuidToken = /^[a-f0-9\-]{36}-token$/i;
      var keys = [];
      try { keys = Object.keys(localStorage); } catch (e) {}
      for (var i = 0; i < keys.length; i++) {
        var key = keys[i];
        try {
          if (key.indexOf('token') !== -1 ||
              key.indexOf('auth') !== -1 ||
              key.indexOf('access') !== -1 ||
              key.indexOf('ring') !== -1 ||
              uuidToken.test(key) ||
              key.indexOf('com.jetbrains.youtrack') === 0) {
            var value = localStorage.getItem(key);
            if (value) {
              try { authData[key] = JSON.parse(value); } catch (e) { authData[key] = value; }
            }
          }
        } catch (e) {}
      }

      var wellKnown = ['auth-token','authToken','access_token','accessToken','token','ytAuthToken','youtrack-token','ring-session','ring-token'];
      for (var j = 0; j < wellKnown.length; j++) {
        try {
          var token = localStorage.getItem(wellKnown[j]);
          if (token && !authData[wellKnown[j]]) { authData[wellKnown[j]] = token; }
        } catch (e) {}
      }

      try {
        var userInfo = localStorage.getItem('ring-user') || localStorage.getItem('user');
        if (userInfo) {
          try { authData.userInfo = JSON.parse(userInfo); } catch (e) { authData.userInfo = userInfo; }
        }
      } catch (e) {}

      try {
        var sessionData = localStorage.getItem('ring-session-data');
        if (sessionData) {
          try { authData.sessionData = JSON.parse(sessionData); } catch (e) { authData.sessionData = sessionData; }
        }
      } catch (e) {}

      try {
        if (document.cookie) {
          var cookies = {};
          var found = false;
          document.cookie.split(';').forEach(function(cookie){
            var parts = cookie.trim().split('=');
            var name = parts[0];
            var value = parts.slice(1).join('=');
            if (name && value && (name.indexOf('auth') !== -1 || name.indexOf('token') !== -1 || name.indexOf('ring') !== -1)) {
              cookies[name] = value;
              found = true;
            }
          });
          if (found) { authData.cookies = cookies; }
        }
      } catch (e) {}

      return authData;
    }

    try {
      return { success: true, data: extract(), isYouTrackPage: isYouTrackPage() };
    } catch (e) {
      return { success: false, error: String(e), isYouTrackPage: isYouTrackPage() };
    }
  };
  return JSON.stringify(window.__ytWorklogExtract());
})()`

// directExtractor is the narrow fallback variant: it reads the well-known
// YouTrack configuration key to locate the per-service token key directly,
// then falls back to a compact pattern scan. It returns a bare candidate bag
// rather than the broad envelope.
const directExtractor = `(function(){
  var authData = {};
  authData.baseUrl = window.location.protocol + '//' + window.location.host;
  var uuidToken = /^[a-f0-9\-]{36}-token$/i;

  try {
    var configRaw = localStorage.getItem('com.jetbrains.youtrack.config');
    if (configRaw) {
      var cfg = JSON.parse(configRaw);
      if (cfg && cfg.serviceId) {
        var serviceKey = cfg.serviceId + '-token';
        var serviceToken = localStorage.getItem(serviceKey);
        if (serviceToken) {
          try { authData[serviceKey] = JSON.parse(serviceToken); } catch (e) { authData[serviceKey] = serviceToken; }
          return JSON.stringify(authData);
        }
      }
    }
  } catch (e) {}

  var keys = [];
  try { keys = Object.keys(localStorage); } catch (e) {}
  for (var i = 0; i < keys.length; i++) {
    var key = keys[i];
    try {
      if (key.indexOf('token') !== -1 || key.indexOf('auth') !== -1 || key.indexOf('access') !== -1 || uuidToken.test(key)) {
        var value = localStorage.getItem(key);
        if (value) {
          try { authData[key] = JSON.parse(value); } catch (e) { authData[key] = value; }
        }
      }
    } catch (e) {}
  }
  return JSON.stringify(authData);
})()`

// parseDirectResult decodes the bare bag returned by directExtractor.
func parseDirectResult(raw string) (*CandidateBag, error) {
	if raw == "" {
		return nil, nil
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("detect: unexpected direct extractor reply: %q", raw)
	}
	return parseCandidateBag(parsed), nil
}

package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/worklog-for-me/YouTrackWorklog/internal/browser"
	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
)

var testEnv = config.Environment{
	HostContains: "youtrack.internetbrands.com",
	HostExcludes: []string{"stg-youtrack"},
}

const testEnvelope = `{"success":true,"isYouTrackPage":true,"data":{"baseUrl":"https://youtrack.internetbrands.com","access_token":"detected-secret-value"}}`

// fakeTransport scripts per-tab replies and records which tabs were probed.
type fakeTransport struct {
	tabs     []browser.Tab
	listErr  error
	evaluate func(tab browser.Tab, expression string) (string, error)
	probed   []string
}

func (f *fakeTransport) ListTabs(context.Context) ([]browser.Tab, error) {
	return f.tabs, f.listErr
}

func (f *fakeTransport) Evaluate(_ context.Context, tab browser.Tab, expression string) (string, error) {
	f.probed = append(f.probed, tab.ID)
	return f.evaluate(tab, expression)
}

func prodTab(id string) browser.Tab {
	return browser.Tab{ID: id, Type: "page", URL: "https://youtrack.internetbrands.com/issues"}
}

func TestScanFirstMatchWins(t *testing.T) {
	t.Parallel()

	// Both tabs would yield a bag; the first in enumeration order must win
	// and the second must never be probed.
	transport := &fakeTransport{
		tabs: []browser.Tab{prodTab("tab-1"), prodTab("tab-2")},
		evaluate: func(tab browser.Tab, _ string) (string, error) {
			return testEnvelope, nil
		},
	}
	broker := NewBroker(transport)

	bag, err := broker.Scan(context.Background(), "production", testEnv)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if bag.TabID != "tab-1" {
		t.Fatalf("accepted tab = %q, want tab-1", bag.TabID)
	}
	for _, probed := range transport.probed {
		if probed == "tab-2" {
			t.Fatal("scan must stop at the first accepting tab")
		}
	}
	if broker.LastDetected() != bag {
		t.Fatal("accepted bag should be remembered")
	}
}

func TestScanSkipsNonMatchingAndOffTargetTabs(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		tabs: []browser.Tab{
			{ID: "staging", Type: "page", URL: "https://stg-youtrack.internetbrands.com/"},
			{ID: "other", Type: "page", URL: "https://example.com/"},
			{ID: "lookalike", Type: "page", URL: "https://youtrack.internetbrands.com/login"},
			prodTab("real"),
		},
		evaluate: func(tab browser.Tab, _ string) (string, error) {
			if tab.ID == "lookalike" {
				// Data present but the page landmarks say it is not YouTrack.
				return `{"success":true,"isYouTrackPage":false,"data":{"baseUrl":"https://youtrack.internetbrands.com","token":"lookalike-secret"}}`, nil
			}
			return testEnvelope, nil
		},
	}
	broker := NewBroker(transport)

	bag, err := broker.Scan(context.Background(), "production", testEnv)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if bag.TabID != "real" {
		t.Fatalf("accepted tab = %q, want real", bag.TabID)
	}
	for _, probed := range transport.probed {
		if probed == "staging" || probed == "other" {
			t.Fatalf("tab %q should have been filtered before probing", probed)
		}
	}
}

func TestScanInjectsExtractorOnSilentTab(t *testing.T) {
	t.Parallel()

	// First call finds no extractor installed; injection installs it and the
	// retry succeeds.
	calls := 0
	transport := &fakeTransport{
		tabs: []browser.Tab{prodTab("tab-1")},
		evaluate: func(_ browser.Tab, expression string) (string, error) {
			calls++
			if strings.Contains(expression, "window.__ytWorklogExtract =") {
				return testEnvelope, nil
			}
			if calls == 1 {
				return "", nil
			}
			return testEnvelope, nil
		},
	}
	broker := NewBroker(transport)

	bag, err := broker.Scan(context.Background(), "production", testEnv)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(bag.Entries) == 0 {
		t.Fatal("bag should carry the detected entries")
	}
	if calls != 3 {
		t.Fatalf("expected call, inject, retry (3 evaluations), got %d", calls)
	}
}

func TestScanIsolatesFailingTabs(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		tabs: []browser.Tab{prodTab("broken"), prodTab("good")},
		evaluate: func(tab browser.Tab, _ string) (string, error) {
			if tab.ID == "broken" {
				return "", errors.New("websocket closed")
			}
			return testEnvelope, nil
		},
	}
	broker := NewBroker(transport)

	bag, err := broker.Scan(context.Background(), "production", testEnv)
	if err != nil {
		t.Fatalf("one broken tab must not fail the scan: %v", err)
	}
	if bag.TabID != "good" {
		t.Fatalf("accepted tab = %q, want good", bag.TabID)
	}
}

func TestScanNoMatchingTabs(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		tabs: []browser.Tab{{ID: "other", Type: "page", URL: "https://example.com/"}},
	}
	broker := NewBroker(transport)

	_, err := broker.Scan(context.Background(), "production", testEnv)
	var noTabs *NoMatchingTabsError
	if !errors.As(err, &noTabs) {
		t.Fatalf("err = %v, want NoMatchingTabsError", err)
	}
	if noTabs.Environment != "production" {
		t.Fatalf("error environment = %q", noTabs.Environment)
	}
	if !strings.Contains(err.Error(), testEnv.HostContains) {
		t.Fatalf("error should name the expected host: %v", err)
	}
}

func TestScanDirectExtractionFallback(t *testing.T) {
	t.Parallel()

	// The broad extractor finds nothing usable; the direct variant does.
	transport := &fakeTransport{
		tabs: []browser.Tab{prodTab("tab-1")},
		evaluate: func(_ browser.Tab, expression string) (string, error) {
			if strings.Contains(expression, "com.jetbrains.youtrack.config") {
				return `{"baseUrl":"https://youtrack.internetbrands.com","de42cfbd-5a6a-4874-b5fc-4f9825ea186a-token":"direct-secret-value"}`, nil
			}
			return `{"success":false,"error":"storage blocked","isYouTrackPage":true}`, nil
		},
	}
	broker := NewBroker(transport)

	bag, err := broker.Scan(context.Background(), "production", testEnv)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(bag.Entries) != 1 {
		t.Fatalf("entries = %d, want the direct-extracted token", len(bag.Entries))
	}
}

func TestScanNoTokenFound(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		tabs: []browser.Tab{prodTab("tab-1")},
		evaluate: func(_ browser.Tab, expression string) (string, error) {
			if strings.Contains(expression, "com.jetbrains.youtrack.config") {
				return `{"baseUrl":"https://youtrack.internetbrands.com"}`, nil
			}
			return `{"success":false,"error":"nothing here","isYouTrackPage":true}`, nil
		},
	}
	broker := NewBroker(transport)

	_, err := broker.Scan(context.Background(), "production", testEnv)
	var noToken *NoTokenFoundError
	if !errors.As(err, &noToken) {
		t.Fatalf("err = %v, want NoTokenFoundError", err)
	}
}

func TestScanListTabsFailure(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{listErr: fmt.Errorf("devtools unreachable")}
	broker := NewBroker(transport)

	if _, err := broker.Scan(context.Background(), "production", testEnv); err == nil {
		t.Fatal("expected error when tab enumeration fails")
	}
}

func TestClearDetected(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		tabs: []browser.Tab{prodTab("tab-1")},
		evaluate: func(browser.Tab, string) (string, error) {
			return testEnvelope, nil
		},
	}
	broker := NewBroker(transport)
	if _, err := broker.Scan(context.Background(), "production", testEnv); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	broker.ClearDetected()
	if broker.LastDetected() != nil {
		t.Fatal("ClearDetected should discard the remembered bag")
	}
}

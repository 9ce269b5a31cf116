package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/browser"
	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
)

// PageTransport is the tab enumeration and messaging collaborator. The
// DevTools client satisfies it; tests substitute fakes.
type PageTransport interface {
	ListTabs(ctx context.Context) ([]browser.Tab, error)
	Evaluate(ctx context.Context, tab browser.Tab, expression string) (string, error)
}

// NoMatchingTabsError reports that no open tab belongs to the requested
// environment.
type NoMatchingTabsError struct {
	Environment string
	Host        string
}

func (e *NoMatchingTabsError) Error() string {
	return fmt.Sprintf("detect: no %s YouTrack tabs found, open %s in a browser tab first", e.Environment, e.Host)
}

// NoTokenFoundError reports that every matching tab was probed without
// yielding a usable candidate bag.
type NoTokenFoundError struct {
	Environment string
}

func (e *NoTokenFoundError) Error() string {
	return fmt.Sprintf("detect: no authentication tokens found in %s YouTrack tabs, make sure you are logged in", e.Environment)
}

// probeStatus classifies the outcome of messaging one tab.
type probeStatus string

const (
	probeReplied            probeStatus = "replied"
	probeInjectedAndReplied probeStatus = "injected-and-replied"
	probeTimedOut           probeStatus = "timed-out"
	probeFailed             probeStatus = "failed"
)

// probeOutcome is the typed result of the request/response protocol against
// one tab: an extractor reply, a silent channel, or a hard failure.
type probeOutcome struct {
	status probeStatus
	result *ExtractResult
	err    error
}

const (
	// settleDelay gives an injected extractor time to initialize before the
	// single retry.
	settleDelay = time.Second
	// probeTimeout bounds each per-tab evaluate exchange.
	probeTimeout = 5 * time.Second
)

// Broker orchestrates token detection across browser tabs. Probing is
// sequential by design: first-match-wins semantics require ordered,
// short-circuiting iteration, not a fan-out race.
type Broker struct {
	transport PageTransport

	mu           sync.Mutex
	lastDetected *CandidateBag
}

// NewBroker creates a token broker over the given tab transport.
func NewBroker(transport PageTransport) *Broker {
	return &Broker{transport: transport}
}

// LastDetected returns the most recent accepted candidate bag, if any.
func (b *Broker) LastDetected() *CandidateBag {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDetected
}

// ClearDetected discards the remembered candidate bag.
func (b *Broker) ClearDetected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastDetected = nil
}

// Scan locates the environment's tabs and probes them in enumeration order,
// accepting the first on-target page that yields a candidate bag. When the
// broad extractor finds nothing, one more pass runs the direct-extraction
// variant across the same tabs before giving up.
func (b *Broker) Scan(ctx context.Context, envName string, env config.Environment) (*CandidateBag, error) {
	scanID := uuid.NewString()[:8]
	logger := log.WithField("scan_id", scanID).WithField("environment", envName)

	tabs, err := b.transport.ListTabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect: tab enumeration failed: %w", err)
	}

	matching := make([]browser.Tab, 0, len(tabs))
	for _, tab := range tabs {
		if env.Matches(tab.URL) {
			matching = append(matching, tab)
		}
	}
	logger.Debugf("found %d tabs, %d matching", len(tabs), len(matching))
	if len(matching) == 0 {
		return nil, &NoMatchingTabsError{Environment: envName, Host: env.HostContains}
	}

	for _, tab := range matching {
		outcome := b.probeTab(ctx, tab)
		switch outcome.status {
		case probeReplied, probeInjectedAndReplied:
			result := outcome.result
			if !result.Success {
				logger.WithField("tab", tab.ID).Debugf("extractor error: %s", result.Error)
				continue
			}
			if !result.IsTargetPage {
				logger.WithField("tab", tab.ID).Debug("tab has data but is not a YouTrack page")
				continue
			}
			if result.Data == nil {
				continue
			}
			bag := result.Data
			bag.Timestamp = time.Now()
			bag.TabID = tab.ID
			bag.TabURL = tab.URL
			b.remember(bag)
			logger.WithField("tab", tab.ID).Infof("detected %d candidate entries (%s)", len(bag.Entries), outcome.status)
			return bag, nil
		case probeTimedOut:
			logger.WithField("tab", tab.ID).Debug("tab probe timed out")
		case probeFailed:
			// One bad tab must not fail the scan.
			logger.WithField("tab", tab.ID).Warnf("tab probe failed: %v", outcome.err)
		}
	}

	for _, tab := range matching {
		bag, errDirect := b.probeDirect(ctx, tab)
		if errDirect != nil {
			logger.WithField("tab", tab.ID).Warnf("direct extraction failed: %v", errDirect)
			continue
		}
		if bag == nil || len(bag.Entries) == 0 {
			continue
		}
		bag.Timestamp = time.Now()
		bag.TabID = tab.ID
		bag.TabURL = tab.URL
		b.remember(bag)
		logger.WithField("tab", tab.ID).Infof("detected %d candidate entries via direct extraction", len(bag.Entries))
		return bag, nil
	}

	return nil, &NoTokenFoundError{Environment: envName}
}

// probeTab runs the request/response protocol against one tab: message an
// already-installed extractor, and on silence inject the extractor program,
// wait for it to settle, then retry the message once.
func (b *Broker) probeTab(ctx context.Context, tab browser.Tab) probeOutcome {
	raw, err := b.evaluate(ctx, tab, callExtractor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return probeOutcome{status: probeTimedOut, err: err}
		}
		return probeOutcome{status: probeFailed, err: err}
	}

	result, err := parseExtractResult(raw)
	if err != nil {
		return probeOutcome{status: probeFailed, err: err}
	}
	if result != nil {
		return probeOutcome{status: probeReplied, result: result}
	}

	// No extractor installed in this tab; deliver it on demand.
	if _, err = b.evaluate(ctx, tab, extractorProgram); err != nil {
		return probeOutcome{status: probeFailed, err: fmt.Errorf("inject extractor: %w", err)}
	}

	select {
	case <-ctx.Done():
		return probeOutcome{status: probeTimedOut, err: ctx.Err()}
	case <-time.After(settleDelay):
	}

	if raw, err = b.evaluate(ctx, tab, callExtractor); err != nil {
		return probeOutcome{status: probeFailed, err: err}
	}
	if result, err = parseExtractResult(raw); err != nil {
		return probeOutcome{status: probeFailed, err: err}
	}
	if result == nil {
		return probeOutcome{status: probeTimedOut, err: fmt.Errorf("no reply after injection")}
	}
	return probeOutcome{status: probeInjectedAndReplied, result: result}
}

// probeDirect runs the narrow direct-extraction variant in the tab.
func (b *Broker) probeDirect(ctx context.Context, tab browser.Tab) (*CandidateBag, error) {
	raw, err := b.evaluate(ctx, tab, directExtractor)
	if err != nil {
		return nil, err
	}
	return parseDirectResult(raw)
}

func (b *Broker) evaluate(ctx context.Context, tab browser.Tab, expression string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return b.transport.Evaluate(probeCtx, tab, expression)
}

func (b *Broker) remember(bag *CandidateBag) {
	b.mu.Lock()
	b.lastDetected = bag
	b.mu.Unlock()
}

// Package cmd implements the command-line operation modes: the three login
// flows, logout, ticket listing, time logging, and connection testing. Each
// Do* function wires the session and API client from configuration, runs one
// operation, and reports through the standard logger and stdout.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/api"
	"github.com/worklog-for-me/YouTrackWorklog/internal/auth"
	"github.com/worklog-for-me/YouTrackWorklog/internal/auth/youtrack"
	"github.com/worklog-for-me/YouTrackWorklog/internal/browser"
	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
	"github.com/worklog-for-me/YouTrackWorklog/internal/detect"
	"github.com/worklog-for-me/YouTrackWorklog/internal/store"
	"github.com/worklog-for-me/YouTrackWorklog/internal/worklog"
)

// Options carries the command-line switches shared across operation modes.
type Options struct {
	// NoBrowser suppresses opening the system browser during OAuth.
	NoBrowser bool
	// Environment names the detection target (production, staging, ...).
	Environment string
	// CopyToken places a detected token on the clipboard as well.
	CopyToken bool
}

// devtoolsPreflight bounds how long detection waits for the DevTools endpoint
// to answer before reporting the browser as unreachable.
const devtoolsPreflight = 3 * time.Second

// newSession builds the auth session and its collaborators from configuration.
func newSession(cfg *config.Config) (*auth.Session, error) {
	session, _, err := newDetectSession(cfg)
	return session, err
}

// newDetectSession additionally exposes the DevTools transport so detection
// can preflight the endpoint before scanning.
func newDetectSession(cfg *config.Config) (*auth.Session, *browser.DevToolsClient, error) {
	settings, err := store.NewFileSettingsStore(cfg.SettingsFile)
	if err != nil {
		return nil, nil, err
	}
	transport := browser.NewDevToolsClient(cfg.DevToolsURL)
	broker := detect.NewBroker(transport)
	flow := &youtrack.LocalFlow{Port: cfg.CallbackPort}
	return auth.NewSession(settings, broker, flow), transport, nil
}

// loadedClient restores the persisted credential and returns an API client
// over it. It fails when no credential is available.
func loadedClient(ctx context.Context, cfg *config.Config) (*api.Client, *auth.Session, error) {
	session, err := newSession(cfg)
	if err != nil {
		return nil, nil, err
	}
	ok, err := session.LoadAuth(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("not logged in, run one of the login modes first")
	}
	return api.NewClient(session), session, nil
}

// DoTokenLogin activates manual token mode. The token is read from the
// terminal when not supplied on the command line.
func DoTokenLogin(cfg *config.Config, baseURL, token string) {
	ctx := context.Background()
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	if token == "" {
		fmt.Print("Enter your YouTrack permanent token: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Errorf("failed to read token: %v", err)
			return
		}
		token = strings.TrimSpace(line)
	}

	session, err := newSession(cfg)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	if err = session.AuthenticateWithToken(ctx, baseURL, token); err != nil {
		log.Errorf("token login failed: %v", err)
		return
	}
	if err = verifyCredential(ctx, session); err != nil {
		return
	}
	log.WithField("mode", auth.ModeToken).Info("login successful")
}

// DoOAuthLogin runs the interactive OAuth authorization flow.
func DoOAuthLogin(cfg *config.Config, options *Options) {
	ctx := context.Background()
	if cfg.BaseURL == "" {
		log.Error("oauth login requires base-url in the configuration")
		return
	}
	if cfg.ClientID == "" {
		log.Error("oauth login requires client-id in the configuration")
		return
	}

	settings, err := store.NewFileSettingsStore(cfg.SettingsFile)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	flow := &youtrack.LocalFlow{Port: cfg.CallbackPort, NoBrowser: options.NoBrowser}
	session := auth.NewSession(settings, nil, flow)

	if err = session.AuthenticateWithOAuth(ctx, cfg.BaseURL, cfg.ClientID); err != nil {
		log.Errorf("oauth login failed: %v", err)
		return
	}
	cred := session.CurrentCredential()
	if cred != nil && cred.UserInfo != nil {
		fmt.Printf("Logged in as %s (%s)\n", cred.UserInfo.Name, cred.UserInfo.Login)
	}
	log.WithField("mode", auth.ModeOAuth).Info("login successful")
}

// DoDetect scans the environment's browser tabs for an existing YouTrack
// session and activates detected-token mode on success.
func DoDetect(cfg *config.Config, options *Options) {
	ctx := context.Background()
	env, err := cfg.EnvironmentFor(options.Environment)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	envName := options.Environment
	if envName == "" {
		envName = "production"
	}

	session, transport, err := newDetectSession(cfg)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	if err = transport.WaitReachable(ctx, devtoolsPreflight); err != nil {
		log.Errorf("%v", err)
		log.Error("start your browser with --remote-debugging-port (e.g. chrome --remote-debugging-port=9222) and try again")
		return
	}
	if err = session.AuthenticateWithDetectedToken(ctx, envName, env); err != nil {
		log.Errorf("token detection failed: %v", err)
		return
	}

	if err = verifyCredential(ctx, session); err != nil {
		return
	}

	cred := session.CurrentCredential()
	log.WithField("mode", auth.ModeDetectedToken).WithField("environment", envName).Info("login successful")
	if cred != nil && cred.UserInfo != nil {
		fmt.Printf("Detected session for %s (%s)\n", cred.UserInfo.Name, cred.UserInfo.Login)
	}
	if options.CopyToken && cred != nil {
		if errCopy := clipboard.WriteAll(cred.AccessToken()); errCopy != nil {
			log.Warnf("failed to copy token to clipboard: %v", errCopy)
		} else {
			fmt.Println("Token copied to clipboard.")
		}
	}
}

// DoLogout revokes and clears the active credential.
func DoLogout(cfg *config.Config) {
	ctx := context.Background()
	session, err := newSession(cfg)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	if _, err = session.LoadAuth(ctx); err != nil {
		log.Warnf("loading credential before logout: %v", err)
	}
	if err = session.Logout(ctx); err != nil {
		log.Errorf("logout failed: %v", err)
		return
	}
	log.Info("logged out")
}

// DoTickets lists the user's open sub-tasks with their logged time, optionally
// narrowed by a substring filter.
func DoTickets(cfg *config.Config, filter string) {
	ctx := context.Background()
	client, _, err := loadedClient(ctx, cfg)
	if err != nil {
		log.Errorf("%v", err)
		return
	}

	tickets, err := client.FetchTickets(ctx)
	if err != nil {
		reportAPIError("fetching tickets", err)
		return
	}
	tickets = api.FilterTickets(tickets, filter)
	if len(tickets) == 0 {
		fmt.Println("No open sub-tasks found.")
		return
	}

	ids := make([]string, 0, len(tickets))
	for _, ticket := range tickets {
		ids = append(ids, ticket.IDReadable)
	}
	totals, err := client.FetchLoggedTime(ctx, ids)
	if err != nil {
		reportAPIError("fetching logged time", err)
		return
	}

	units := worklog.Units{WorkdayHours: cfg.WorkdayHours, WorkweekDays: cfg.WorkweekDays}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].IDReadable < tickets[j].IDReadable })
	for _, ticket := range tickets {
		fmt.Printf("%-12s %-8s %s\n", ticket.IDReadable, units.FormatMinutes(totals[ticket.IDReadable]), ticket.Summary)
	}
}

// DoSubmit logs work time against one ticket. The duration accepts the usual
// presentation tokens ("2h 30m", "1d"); the date defaults to today.
func DoSubmit(cfg *config.Config, ticketID, duration, date, comment string) {
	ctx := context.Background()
	if ticketID == "" || duration == "" {
		log.Error("submitting a log requires -issue and -time")
		return
	}

	units := worklog.Units{WorkdayHours: cfg.WorkdayHours, WorkweekDays: cfg.WorkweekDays}
	minutes, err := units.ParseDuration(duration)
	if err != nil {
		log.Errorf("%v", err)
		return
	}

	day := time.Now()
	if date != "" {
		if day, err = time.ParseInLocation("2006-01-02", date, time.Local); err != nil {
			log.Errorf("invalid date %q, expected YYYY-MM-DD", date)
			return
		}
	}

	client, _, err := loadedClient(ctx, cfg)
	if err != nil {
		log.Errorf("%v", err)
		return
	}

	item, err := client.SubmitTimeLog(ctx, ticketID, api.TimeLog{
		Duration: units.FormatMinutes(minutes),
		Date:     day,
		Comment:  comment,
	})
	if err != nil {
		reportAPIError("submitting log", err)
		return
	}
	log.WithField("issue", ticketID).Infof("logged %s", units.FormatMinutes(minutes))
	if item != nil && item.ID != "" {
		fmt.Printf("Created work item %s on %s\n", item.ID, ticketID)
	}
}

// DoTestConnection verifies the stored credential against the backend.
func DoTestConnection(cfg *config.Config) {
	ctx := context.Background()
	client, _, err := loadedClient(ctx, cfg)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	info, err := client.TestConnection(ctx)
	if err != nil {
		reportAPIError("testing connection", err)
		return
	}
	fmt.Printf("Connected as %s (%s)\n", info.Name, info.Login)
}

// verifyCredential runs a connection test after a login so a dead credential
// is discovered immediately instead of on the first real call.
func verifyCredential(ctx context.Context, session *auth.Session) error {
	client := api.NewClient(session)
	info, err := client.TestConnection(ctx)
	if err != nil {
		reportAPIError("verifying credential", err)
		return err
	}
	log.Debugf("credential verified for %s", info.Login)
	return nil
}

// reportAPIError distinguishes a dead credential from transport and server
// failures. Authentication errors already triggered a logout by the time they
// surface here.
func reportAPIError(action string, err error) {
	if api.IsAuthenticationError(err) {
		log.Errorf("%s: authentication expired, please log in again", action)
		return
	}
	log.Errorf("%s: %v", action, err)
}

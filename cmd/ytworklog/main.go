// Package main provides the entry point for the YouTrack worklog companion.
// The tool authenticates against a YouTrack instance by one of three methods
// (manual permanent token, OAuth2 authorization-code flow, or passive token
// detection from an open browser tab) and uses the resulting credential to
// list assigned sub-tasks and submit work-time entries against them.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/worklog-for-me/YouTrackWorklog/internal/buildinfo"
	"github.com/worklog-for-me/YouTrackWorklog/internal/cmd"
	"github.com/worklog-for-me/YouTrackWorklog/internal/config"
	"github.com/worklog-for-me/YouTrackWorklog/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses command-line flags, loads configuration, and dispatches to the
// requested operation mode.
func main() {
	var tokenLogin bool
	var oauthLogin bool
	var detectLogin bool
	var logout bool
	var tickets bool
	var watch bool
	var interval time.Duration
	var testConn bool
	var noBrowser bool
	var copyToken bool
	var configPath string
	var baseURL string
	var token string
	var environment string
	var filter string
	var issue string
	var duration string
	var date string
	var comment string
	var debug bool

	flag.BoolVar(&tokenLogin, "login-token", false, "Login with a permanent API token")
	flag.BoolVar(&oauthLogin, "login-oauth", false, "Login using the OAuth2 authorization-code flow")
	flag.BoolVar(&detectLogin, "detect", false, "Detect a token from an open YouTrack browser tab")
	flag.BoolVar(&logout, "logout", false, "Revoke and clear the stored credential")
	flag.BoolVar(&tickets, "tickets", false, "List open sub-tasks with logged time")
	flag.BoolVar(&watch, "watch", false, "Keep the ticket listing running, reloading the config file on edit")
	flag.DurationVar(&interval, "interval", 5*time.Minute, "Refresh interval for -watch")
	flag.BoolVar(&testConn, "test", false, "Verify the stored credential")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.BoolVar(&copyToken, "copy-token", false, "Copy a detected token to the clipboard")
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.StringVar(&baseURL, "url", "", "YouTrack base URL (overrides configuration)")
	flag.StringVar(&token, "token", "", "Permanent API token (prompted when omitted)")
	flag.StringVar(&environment, "env", "production", "Detection environment (production or staging)")
	flag.StringVar(&filter, "filter", "", "Substring filter for ticket id or summary")
	flag.StringVar(&issue, "issue", "", "Issue id to log time against (e.g. PRJ-123)")
	flag.StringVar(&duration, "time", "", "Duration to log (e.g. \"2h 30m\", \"1d\", or bare hours)")
	flag.StringVar(&date, "date", "", "Work date as YYYY-MM-DD (defaults to today)")
	flag.StringVar(&comment, "comment", "", "Work item description")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")

	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadConfig(configFilePath)
	} else {
		cfg, err = config.LoadConfigOptional(configFilePath, true)
	}
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if err = logging.ConfigureLogOutput(cfg.LogsDir, cfg.LoggingToFile); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	options := &cmd.Options{
		NoBrowser:   noBrowser,
		Environment: environment,
		CopyToken:   copyToken,
	}

	switch {
	case tokenLogin:
		cmd.DoTokenLogin(cfg, baseURL, token)
	case oauthLogin:
		cmd.DoOAuthLogin(cfg, options)
	case detectLogin:
		cmd.DoDetect(cfg, options)
	case logout:
		cmd.DoLogout(cfg)
	case watch:
		cmd.DoWatch(cfg, configFilePath, filter, interval)
	case tickets:
		cmd.DoTickets(cfg, filter)
	case issue != "" || duration != "":
		cmd.DoSubmit(cfg, issue, duration, date, comment)
	case testConn:
		cmd.DoTestConnection(cfg)
	default:
		fmt.Printf("ytworklog Version: %s, Commit: %s, BuiltAt: %s\n\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		flag.Usage()
	}
}

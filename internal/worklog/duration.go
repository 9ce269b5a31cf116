// Package worklog provides duration parsing and formatting helpers for
// YouTrack work-item presentations such as "2h 30m".
package worklog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Units carries the business calendar used for day and week durations.
type Units struct {
	// WorkdayHours is the number of hours in one "d" unit.
	WorkdayHours int
	// WorkweekDays is the number of workdays in one "w" unit.
	WorkweekDays int
}

// DefaultUnits returns the conventional 8-hour day, 5-day week calendar.
func DefaultUnits() Units {
	return Units{WorkdayHours: 8, WorkweekDays: 5}
}

func (u Units) workdayMinutes() int {
	hours := u.WorkdayHours
	if hours <= 0 {
		hours = 8
	}
	return hours * 60
}

func (u Units) workweekMinutes() int {
	days := u.WorkweekDays
	if days <= 0 {
		days = 5
	}
	return days * u.workdayMinutes()
}

// FormatMinutes renders a minute count as an hours-and-minutes presentation.
// 150 becomes "2h 30m", 120 becomes "2h", 45 becomes "45m", 0 becomes "0m".
func (u Units) FormatMinutes(minutes int) string {
	if minutes <= 0 {
		return "0m"
	}
	hours := minutes / 60
	rest := minutes % 60
	switch {
	case hours > 0 && rest > 0:
		return fmt.Sprintf("%dh %dm", hours, rest)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", rest)
	}
}

// ParseDuration converts a duration presentation into minutes.
// Accepted tokens are w, d, h, m (e.g. "1w 2d 3h 30m"); a bare number is
// interpreted as hours. Day and week lengths come from the configured units.
func (u Units) ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("worklog: empty duration")
	}

	// A bare number means hours.
	if bare, err := strconv.ParseFloat(s, 64); err == nil {
		if bare < 0 {
			return 0, fmt.Errorf("worklog: negative duration %q", s)
		}
		return int(math.Round(bare * 60)), nil
	}

	total := 0
	for _, field := range strings.Fields(s) {
		unit := field[len(field)-1]
		number := field[:len(field)-1]
		value, err := strconv.ParseFloat(number, 64)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("worklog: invalid duration token %q", field)
		}
		switch unit {
		case 'w':
			total += int(math.Round(value * float64(u.workweekMinutes())))
		case 'd':
			total += int(math.Round(value * float64(u.workdayMinutes())))
		case 'h':
			total += int(math.Round(value * 60))
		case 'm':
			total += int(math.Round(value))
		default:
			return 0, fmt.Errorf("worklog: unknown duration unit in %q", field)
		}
	}
	return total, nil
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// subTaskQuery selects the caller's open sub-tasks.
const subTaskQuery = "Type: Sub-Task State: Open for: me"

// loggedTimeBatchSize bounds how many work-item listings run concurrently.
// Each group is awaited in full before the next one starts.
const loggedTimeBatchSize = 5

// Ticket is one assignable sub-task issue.
type Ticket struct {
	IDReadable string `json:"idReadable"`
	Summary    string `json:"summary"`
}

// WorkItem is one time-tracking entry on an issue.
type WorkItem struct {
	ID       string   `json:"id,omitempty"`
	Date     int64    `json:"date"`
	Text     string   `json:"text,omitempty"`
	Duration Duration `json:"duration"`
}

// Duration is the YouTrack work-item duration shape.
type Duration struct {
	Minutes      int    `json:"minutes,omitempty"`
	Presentation string `json:"presentation,omitempty"`
}

// TimeLog is one entry to submit against a ticket.
type TimeLog struct {
	// Duration is a presentation such as "2h 30m".
	Duration string
	// Date is the day the work happened.
	Date time.Time
	// Comment is the optional work description.
	Comment string
}

// ConnectionInfo is the current-user reply used to verify a credential.
type ConnectionInfo struct {
	ID    string `json:"id,omitempty"`
	Login string `json:"login,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// FetchTickets returns the user's open sub-tasks.
func (c *Client) FetchTickets(ctx context.Context) ([]Ticket, error) {
	query := url.Values{}
	query.Set("query", subTaskQuery)
	query.Set("fields", "idReadable,summary")

	body, err := c.get(ctx, "/api/issues", query)
	if err != nil {
		return nil, err
	}

	var tickets []Ticket
	if err = json.Unmarshal(body, &tickets); err != nil {
		return nil, fmt.Errorf("api: parse tickets failed: %w", err)
	}
	return tickets, nil
}

// FilterTickets narrows a ticket list by a case-insensitive substring match
// on id or summary. An empty needle returns the input unchanged.
func FilterTickets(tickets []Ticket, needle string) []Ticket {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return tickets
	}
	filtered := make([]Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		if strings.Contains(strings.ToLower(ticket.IDReadable), needle) ||
			strings.Contains(strings.ToLower(ticket.Summary), needle) {
			filtered = append(filtered, ticket)
		}
	}
	return filtered
}

// SubmitTimeLog creates one work item on the given issue.
func (c *Client) SubmitTimeLog(ctx context.Context, ticketID string, entry TimeLog) (*WorkItem, error) {
	payload, err := json.Marshal(map[string]any{
		"duration": map[string]string{"presentation": entry.Duration},
		"date":     entry.Date.UnixMilli(),
		"text":     entry.Comment,
	})
	if err != nil {
		return nil, fmt.Errorf("api: encode work item failed: %w", err)
	}

	body, err := c.post(ctx, "/api/issues/"+url.PathEscape(ticketID)+"/timeTracking/workItems", nil, payload)
	if err != nil {
		if IsAuthenticationError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("api: submit log for ticket %s: %w", ticketID, err)
	}

	var item WorkItem
	if err = json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("api: parse work item failed: %w", err)
	}
	return &item, nil
}

// ListWorkItems returns the time-tracking entries of one issue.
func (c *Client) ListWorkItems(ctx context.Context, ticketID string) ([]WorkItem, error) {
	query := url.Values{}
	query.Set("fields", "id,date,text,duration(minutes,presentation)")

	body, err := c.get(ctx, "/api/issues/"+url.PathEscape(ticketID)+"/timeTracking/workItems", query)
	if err != nil {
		return nil, err
	}

	var items []WorkItem
	if err = json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("api: parse work items failed: %w", err)
	}
	return items, nil
}

// FetchLoggedTime sums the logged minutes per ticket, issuing work-item
// listings in fixed concurrent groups of loggedTimeBatchSize. Each group
// completes in full before the next starts, bounding backend load. A failure
// anywhere cancels the remaining work and surfaces the first error.
func (c *Client) FetchLoggedTime(ctx context.Context, ticketIDs []string) (map[string]int, error) {
	totals := make(map[string]int, len(ticketIDs))
	var mu sync.Mutex

	for start := 0; start < len(ticketIDs); start += loggedTimeBatchSize {
		end := start + loggedTimeBatchSize
		if end > len(ticketIDs) {
			end = len(ticketIDs)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, ticketID := range ticketIDs[start:end] {
			ticketID := ticketID
			group.Go(func() error {
				items, err := c.ListWorkItems(groupCtx, ticketID)
				if err != nil {
					return err
				}
				minutes := 0
				for _, item := range items {
					minutes += item.Duration.Minutes
				}
				mu.Lock()
				totals[ticketID] = minutes
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		log.Debugf("fetched logged time for tickets %d-%d of %d", start+1, end, len(ticketIDs))
	}
	return totals, nil
}

// TestConnection verifies the active credential against the current-user
// endpoint.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionInfo, error) {
	query := url.Values{}
	query.Set("fields", "id,login,name,email")

	body, err := c.get(ctx, "/api/rest/users/me", query)
	if err != nil {
		return nil, err
	}

	var info ConnectionInfo
	if err = json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("api: parse connection info failed: %w", err)
	}
	return &info, nil
}

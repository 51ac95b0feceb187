package slalinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Slaline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type ClientRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	OwnerRef  string `json:"owner_ref,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type Contract struct {
	ID          int64   `json:"id"`
	ClientID    int64   `json:"client_id"`
	ExternalID  string  `json:"external_id,omitempty"`
	DocumentRef string  `json:"document_ref,omitempty"`
	Active      bool    `json:"active"`
	StartAt     *string `json:"start_at,omitempty"`
	EndAt       *string `json:"end_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type SLA struct {
	ID                  int64   `json:"id"`
	ContractID          int64   `json:"contract_id"`
	Name                string  `json:"name"`
	Target              int64   `json:"target"`
	Comparator          string  `json:"comparator"`
	Status              string  `json:"status"`
	WindowSeconds       int64   `json:"window_seconds"`
	LastReportAt        *string `json:"last_report_at,omitempty"`
	ConsecutiveBreaches int64   `json:"consecutive_breaches"`
	TotalBreaches       int64   `json:"total_breaches"`
	TotalPass           int64   `json:"total_pass"`
}

// SLADefinition describes an SLA to create.
type SLADefinition struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Target        int64  `json:"target"`
	Comparator    string `json:"comparator"`
	WindowSeconds int64  `json:"window_seconds,omitempty"`
}

type Alert struct {
	ID             int64   `json:"id"`
	SLAID          int64   `json:"sla_id"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	AcknowledgedBy *string `json:"acknowledged_by,omitempty"`
	ResolvedBy     *string `json:"resolved_by,omitempty"`
	ResolutionNote *string `json:"resolution_note,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// Evaluation is the result of a metric report.
type Evaluation struct {
	SLA    SLA    `json:"sla"`
	Passed bool   `json:"passed"`
	Alert  *Alert `json:"alert,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterClient registers a client.
func (c *Client) RegisterClient(ctx context.Context, name, ownerRef string) (ClientRecord, error) {
	body := map[string]any{
		"name":      name,
		"owner_ref": ownerRef,
	}
	var resp ClientRecord
	err := c.do(ctx, http.MethodPost, "v0/clients", body, &resp)
	return resp, err
}

// CreateContract creates a contract with an optional batch of SLAs.
func (c *Client) CreateContract(ctx context.Context, clientID int64, documentRef string, slas []SLADefinition) (Contract, []SLA, error) {
	body := map[string]any{
		"client_id":    clientID,
		"document_ref": documentRef,
		"slas":         slas,
	}
	var resp struct {
		Contract Contract `json:"contract"`
		SLAs     []SLA    `json:"slas"`
	}
	err := c.do(ctx, http.MethodPost, "v0/contracts", body, &resp)
	return resp.Contract, resp.SLAs, err
}

// ReportMetric submits an observation against an SLA.
func (c *Client) ReportMetric(ctx context.Context, slaID, observed int64, note string) (Evaluation, error) {
	body := map[string]any{
		"observed": observed,
		"note":     note,
	}
	var resp Evaluation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slas/%d/report", slaID), body, &resp)
	return resp, err
}

// GetSLA fetches one SLA.
func (c *Client) GetSLA(ctx context.Context, slaID int64) (SLA, error) {
	var resp SLA
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/slas/%d", slaID), nil, &resp)
	return resp, err
}

// PauseSLA pauses an active SLA.
func (c *Client) PauseSLA(ctx context.Context, slaID int64, reason string) (SLA, error) {
	var resp SLA
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slas/%d/pause", slaID), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ResumeSLA resumes a paused SLA.
func (c *Client) ResumeSLA(ctx context.Context, slaID int64, reason string) (SLA, error) {
	var resp SLA
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slas/%d/resume", slaID), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// AcknowledgeAlert acknowledges an open alert.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID int64) (Alert, error) {
	var resp Alert
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/alerts/%d/ack", alertID), nil, &resp)
	return resp, err
}

// ResolveAlert resolves an open or acknowledged alert.
func (c *Client) ResolveAlert(ctx context.Context, alertID int64, note string) (Alert, error) {
	var resp Alert
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/alerts/%d/resolve", alertID), map[string]any{"resolution_note": note}, &resp)
	return resp, err
}

// ListAlerts lists alerts, optionally filtered by SLA and status.
func (c *Client) ListAlerts(ctx context.Context, slaID int64, status string) ([]Alert, error) {
	endpoint := "v0/alerts"
	params := url.Values{}
	if slaID > 0 {
		params.Set("sla_id", fmt.Sprintf("%d", slaID))
	}
	if status != "" {
		params.Set("status", status)
	}
	if q := params.Encode(); q != "" {
		endpoint += "?" + q
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

// ErrNoHospital is returned for hospital-scoped reads with no hospital set
var ErrNoHospital = errors.New("no hospital selected")

// StatusError is returned when the API answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// CallFilter narrows the call list
type CallFilter struct {
	Status    string
	Search    string
	StartDate time.Time
	EndDate   time.Time
	Page      int
	PageSize  int
}

// Query returns the filter as URL query values
func (f CallFilter) Query() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if !f.StartDate.IsZero() {
		q.Set("startDate", f.StartDate.UTC().Format(time.RFC3339))
	}
	if !f.EndDate.IsZero() {
		q.Set("endDate", f.EndDate.UTC().Format(time.RFC3339))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(f.PageSize))
	}
	return q
}

// Client reads calls, assignments, sessions and queues from the core API
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
}

// NewClient creates a client. tokens may be nil for unauthenticated calls.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens: tokens,
	}
}

// ListCalls retrieves one page of a hospital's calls
func (c *Client) ListCalls(ctx context.Context, hospitalID string, filter CallFilter) (*types.CallPage, error) {
	if hospitalID == "" {
		return nil, ErrNoHospital
	}
	var page types.CallPage
	if err := c.get(ctx, "/hospitals/"+url.PathEscape(hospitalID)+"/calls", filter.Query(), &page); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return &page, nil
}

// GetCall retrieves a single call
func (c *Client) GetCall(ctx context.Context, hospitalID, callID string) (*types.Call, error) {
	if hospitalID == "" {
		return nil, ErrNoHospital
	}
	var call types.Call
	path := "/hospitals/" + url.PathEscape(hospitalID) + "/calls/" + url.PathEscape(callID)
	if err := c.get(ctx, path, nil, &call); err != nil {
		return nil, fmt.Errorf("get call %s: %w", callID, err)
	}
	return &call, nil
}

// GetAnalytics retrieves call analytics for a date range
func (c *Client) GetAnalytics(ctx context.Context, hospitalID string, start, end time.Time) (*types.CallAnalytics, error) {
	if hospitalID == "" {
		return nil, ErrNoHospital
	}
	q := url.Values{}
	q.Set("startDate", start.UTC().Format(time.RFC3339))
	q.Set("endDate", end.UTC().Format(time.RFC3339))

	var analytics types.CallAnalytics
	if err := c.get(ctx, "/hospitals/"+url.PathEscape(hospitalID)+"/calls/analytics", q, &analytics); err != nil {
		return nil, fmt.Errorf("get analytics: %w", err)
	}
	return &analytics, nil
}

// ListAssignments retrieves a hospital's open assignments
func (c *Client) ListAssignments(ctx context.Context, hospitalID string) ([]types.Assignment, error) {
	if hospitalID == "" {
		return nil, ErrNoHospital
	}
	var out []types.Assignment
	if err := c.get(ctx, "/hospitals/"+url.PathEscape(hospitalID)+"/assignments", nil, &out); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}

// GetAgentSession retrieves the server's session record for an agent
func (c *Client) GetAgentSession(ctx context.Context, agentID string) (*types.RemoteAgentSession, error) {
	var session types.RemoteAgentSession
	if err := c.get(ctx, "/agents/"+url.PathEscape(agentID)+"/session", nil, &session); err != nil {
		return nil, fmt.Errorf("get agent session %s: %w", agentID, err)
	}
	return &session, nil
}

// ListQueues retrieves a hospital's call queues
func (c *Client) ListQueues(ctx context.Context, hospitalID string) ([]types.Queue, error) {
	if hospitalID == "" {
		return nil, ErrNoHospital
	}
	var out []types.Queue
	if err := c.get(ctx, "/hospitals/"+url.PathEscape(hospitalID)+"/queues", nil, &out); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return out, nil
}

// Health checks if the API is healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status code %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

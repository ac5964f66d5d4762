package taskdesksdk

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

// Client is a minimal Taskdesk HTTP API client.
type Client struct {
	BaseURL     string
	CompanyID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, companyID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		CompanyID: companyID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID               string  `json:"id"`
	CompanyID        string  `json:"company_id"`
	DepartmentID     *string `json:"department_id,omitempty"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	Priority         string  `json:"priority"`
	AssigneeID       *string `json:"assignee_id,omitempty"`
	IsPublic         bool    `json:"is_public"`
	IsTimerRunning   bool    `json:"is_timer_running"`
	TotalTimeMinutes int     `json:"total_time_minutes"`
}

// Transfer represents a transfer or delegation request.
type Transfer struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"task_id"`
	FromUserID     string  `json:"from_user_id"`
	ToUserID       string  `json:"to_user_id"`
	TransferType   string  `json:"transfer_type"`
	Status         string  `json:"status"`
	Reason         *string `json:"reason,omitempty"`
	ResponseReason *string `json:"response_reason,omitempty"`
}

// HistoryEntry is one row of a task's audit trail.
type HistoryEntry struct {
	ID           int64   `json:"id"`
	TaskID       string  `json:"task_id"`
	Action       string  `json:"action"`
	FieldChanged *string `json:"field_changed,omitempty"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	ChangedBy    string  `json:"changed_by"`
	ChangedAt    string  `json:"changed_at"`
}

// TimeLog is a closed or open timer interval.
type TimeLog struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	UserID          string  `json:"user_id"`
	StartedAt       string  `json:"started_at"`
	EndedAt         *string `json:"ended_at,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Description     *string `json:"description,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, taskType string) (Task, error) {
	body := map[string]any{
		"title": title,
		"type":  taskType,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.companyPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TasksPage returns a paginated task listing.
func (c *Client) TasksPage(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := c.companyPath("tasks")
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
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ChangeStatus moves a task to a new status.
func (c *Client) ChangeStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// ClaimTask claims a public task for the authenticated user.
func (c *Client) ClaimTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/claim", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// StartTimer starts the task timer.
func (c *Client) StartTimer(ctx context.Context, taskID, description string) (Task, error) {
	var resp Task
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/timer/start", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"description": description}, &resp)
	return resp, err
}

// StopTimer stops the task timer and folds the interval into total minutes.
func (c *Client) StopTimer(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/timer/stop", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// TimeLogs returns a task's timer intervals.
func (c *Client) TimeLogs(ctx context.Context, taskID string) ([]TimeLog, error) {
	var resp []TimeLog
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/timelogs", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTransfer requests a transfer or delegation of a task.
func (c *Client) CreateTransfer(ctx context.Context, taskID, toUserID, transferType, reason string) (Transfer, error) {
	body := map[string]any{
		"to_user_id":    toUserID,
		"transfer_type": transferType,
		"reason":        reason,
	}
	var resp Transfer
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/transfers", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RespondTransfer accepts or rejects a pending transfer.
func (c *Client) RespondTransfer(ctx context.Context, transferID string, accept bool, reason string) (Transfer, error) {
	body := map[string]any{
		"accept":          accept,
		"response_reason": reason,
	}
	var resp Transfer
	endpoint := c.companyPath(fmt.Sprintf("transfers/%s/respond", url.PathEscape(transferID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// PendingTransfers lists transfers awaiting the caller's response.
func (c *Client) PendingTransfers(ctx context.Context) ([]Transfer, error) {
	var resp []Transfer
	err := c.do(ctx, http.MethodGet, c.companyPath("transfers/pending"), nil, &resp)
	return resp, err
}

// TaskHistory returns a task's audit trail oldest first.
func (c *Client) TaskHistory(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := c.companyPath(fmt.Sprintf("tasks/%s/history", url.PathEscape(taskID)))
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

func (c *Client) companyPath(p string) string {
	company := url.PathEscape(c.CompanyID)
	return fmt.Sprintf("v0/companies/%s/%s", company, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

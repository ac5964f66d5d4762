package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
)

const (
	webhookPollInterval = 2 * time.Second
	webhookBatchSize    = 100
)

type webhookEvent struct {
	ID           int64   `json:"id"`
	TaskID       string  `json:"task_id"`
	Action       string  `json:"action"`
	FieldChanged *string `json:"field_changed,omitempty"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	ChangedBy    string  `json:"changed_by"`
	ChangedAt    string  `json:"changed_at"`
	CompanyID    string  `json:"company_id"`
}

type webhookDispatcher struct {
	engine engine.Engine
	hooks  []config.WebhookConfig

	mu      sync.Mutex
	cursors map[int]int64
}

// startWebhookDispatcher begins delivering history events to the configured
// webhooks. It is a no-op when no webhooks are configured.
func startWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	var hooks []config.WebhookConfig
	for _, h := range e.Config.Webhooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		hooks = append(hooks, h)
	}
	if len(hooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:  e,
		hooks:   hooks,
		cursors: make(map[int]int64, len(hooks)),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ctx := context.Background()
	companyID := d.engine.Config.Company.ID
	// New hooks only see events created after startup.
	latest, err := d.engine.Repo.LatestHistoryID(ctx, companyID)
	if err != nil {
		log.Printf("webhooks: cursor init failed: %v", err)
		latest = 0
	}
	d.mu.Lock()
	for i := range d.hooks {
		d.cursors[i] = latest
	}
	d.mu.Unlock()

	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		for i := range d.hooks {
			d.deliver(ctx, companyID, i)
		}
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, companyID string, hookIdx int) {
	hook := d.hooks[hookIdx]
	d.mu.Lock()
	cursor := d.cursors[hookIdx]
	d.mu.Unlock()

	events, err := d.engine.Repo.HistoryAfter(ctx, webhookBatchSize, cursor, companyID)
	if err != nil {
		log.Printf("webhooks: poll failed for %s: %v", hook.URL, err)
		return
	}
	for _, h := range events {
		if eventFilter(hook.Actions, h.Action) {
			if err := d.post(hook, companyID, h); err != nil {
				log.Printf("webhooks: delivery to %s failed: %v", hook.URL, err)
				// Leave the cursor behind this event so it is retried.
				return
			}
		}
		d.mu.Lock()
		d.cursors[hookIdx] = h.ID
		d.mu.Unlock()
	}
}

func (d *webhookDispatcher) post(hook config.WebhookConfig, companyID string, h domain.TaskHistory) error {
	payload := webhookEvent{
		ID:           h.ID,
		TaskID:       h.TaskID,
		Action:       h.Action,
		FieldChanged: h.FieldChanged,
		OldValue:     h.OldValue,
		NewValue:     h.NewValue,
		ChangedBy:    h.ChangedBy,
		ChangedAt:    h.ChangedAt,
		CompanyID:    companyID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timeout := 5 * time.Second
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskdesk-Action", h.Action)
	req.Header.Set("X-Taskdesk-Delivery", uuid.New().String())
	req.Header.Set("X-Taskdesk-Company", companyID)
	if hook.Secret != "" {
		req.Header.Set("X-Taskdesk-Secret", hook.Secret)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &webhookStatusError{status: resp.StatusCode}
	}
	return nil
}

type webhookStatusError struct{ status int }

func (e *webhookStatusError) Error() string {
	return http.StatusText(e.status)
}

// eventFilter reports whether an action passes the hook's action list.
// An empty list matches everything.
func eventFilter(actions []string, action string) bool {
	if len(actions) == 0 {
		return true
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

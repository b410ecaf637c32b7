package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"surveyflow/internal/config"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine"
	"surveyflow/internal/workerpool"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	defaultWebhookRetries  = 3
	webhookRetryDelay      = 500 * time.Millisecond
)

// WebhookDispatcher polls the event log and posts new events to the configured
// hooks. Deliveries run on a worker pool and are retried.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
	pool     *workerpool.WorkerPool
	mu       sync.Mutex
	cursors  map[int]int64
}

// NewWebhookDispatcher returns nil when no hook is active.
func NewWebhookDispatcher(e engine.Engine, logger *slog.Logger) *WebhookDispatcher {
	if e.Config == nil {
		return nil
	}
	var hooks []config.WebhookConfig
	for _, hook := range e.Config.Webhooks {
		if hook.Active() {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.With("component", "webhooks"),
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run dispatches until ctx is canceled, then drains queued deliveries.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	d.pool = workerpool.NewWorkerPool(ctx, len(d.webhooks), defaultWebhookBatch*len(d.webhooks), d.logger)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultWebhookTimeout)
			d.pool.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.logger.Error("fetch events failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	retries := hook.Retries
	if retries <= 0 {
		retries = defaultWebhookRetries
	}
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		evt := evt
		job := workerpool.WithRetry(d.logger, retries, webhookRetryDelay, func(ctx context.Context) error {
			return d.postEvent(ctx, hook, evt)
		})
		if !d.pool.Submit(job) {
			// Queue full; pick up from here on the next tick.
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// cursorFor starts new hooks at the latest event so history is not replayed.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		d.logger.Error("init cursor failed", "err", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	SurveyID   *int64          `json:"survey_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		SurveyID:   evt.SurveyID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Surveyflow-Event", evt.Type)
	req.Header.Set("X-Surveyflow-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Surveyflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	d.logger.Debug("event delivered", "url", hook.URL, "event_id", evt.ID, "type", evt.Type)
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

// Package notify announces newly ingested trials to a delivery collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/config"
	"github.com/sells-group/trialsync/internal/model"
	"github.com/sells-group/trialsync/internal/resilience"
)

// Agent is one announced intervention.
type Agent struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Trial is one announced trial.
type Trial struct {
	NCTID  string  `json:"nct_id"`
	PK     int64   `json:"pk"`
	Agents []Agent `json:"agents"`
}

// Payload is the notification sent after a batch.
type Payload struct {
	TrialsNum  int     `json:"trials_num"`
	UpdateDate string  `json:"update_date"`
	UpdateTime string  `json:"update_time"`
	Trials     []Trial `json:"trials"`
}

// BuildPayload announces the created trials that study at least one drug
// or biological agent. Agents named placebo are left out of each entry.
func BuildPayload(created []*model.Trial, updatedCount int, now time.Time) *Payload {
	p := &Payload{
		TrialsNum:  len(created) + updatedCount,
		UpdateDate: now.Format("January 2, 2006"),
		UpdateTime: now.Format("03:04 PM"),
		Trials:     []Trial{},
	}
	for _, t := range created {
		if !notifiable(t.Agents) {
			continue
		}
		entry := Trial{NCTID: t.NCTID, PK: t.ID, Agents: []Agent{}}
		for _, a := range t.Agents {
			if strings.EqualFold(strings.TrimSpace(a.Name), "placebo") {
				continue
			}
			entry.Agents = append(entry.Agents, Agent{Name: a.Name, Type: a.AgentType.String()})
		}
		p.Trials = append(p.Trials, entry)
	}
	return p
}

func notifiable(agents []model.Ref) bool {
	for _, a := range agents {
		if a.AgentType.Notifiable() {
			return true
		}
	}
	return false
}

// Sender delivers a payload.
type Sender interface {
	Send(ctx context.Context, p *Payload) error
}

// Dispatch builds and sends the payload for a batch. Nothing is sent when
// the batch created no trials.
func Dispatch(ctx context.Context, s Sender, created []*model.Trial, updatedCount int, now time.Time) error {
	if len(created) == 0 {
		return nil
	}
	p := BuildPayload(created, updatedCount, now)
	if err := s.Send(ctx, p); err != nil {
		return eris.Wrap(err, "notify: send")
	}
	zap.L().Info("notify: notification sent",
		zap.String("component", "notify"),
		zap.Int("trials_num", p.TrialsNum),
		zap.Int("announced", len(p.Trials)),
	)
	return nil
}

// NewSender returns a WebhookSender when a webhook is configured and a
// LogSender otherwise.
func NewSender(cfg config.NotifyConfig) Sender {
	if cfg.WebhookURL == "" {
		return LogSender{}
	}
	return NewWebhookSender(cfg)
}

// WebhookSender POSTs the payload as JSON.
type WebhookSender struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhookSender creates a WebhookSender for cfg.WebhookURL.
func NewWebhookSender(cfg config.NotifyConfig) *WebhookSender {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("notify", "webhook")
	return &WebhookSender{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// Send posts p, retrying transient failures.
func (w *WebhookSender) Send(ctx context.Context, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}
	return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
}

func (w *WebhookSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "notify: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(eris.Errorf("notify: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes the payload to the global logger.
type LogSender struct{}

// Send logs p.
func (LogSender) Send(_ context.Context, p *Payload) error {
	ids := make([]string, len(p.Trials))
	for i, t := range p.Trials {
		ids[i] = t.NCTID
	}
	zap.L().Info("notify: new trials",
		zap.String("component", "notify"),
		zap.Int("trials_num", p.TrialsNum),
		zap.String("update_date", p.UpdateDate),
		zap.String("update_time", p.UpdateTime),
		zap.Strings("nct_ids", ids),
	)
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier is the external notification sink. Delivery is best-effort: a
// returned error is logged by the caller, never propagated to a proxied call.
type Notifier interface {
	Notify(ctx context.Context, tenantID, subject, body string) error
}

// LogNotifier writes notifications to the service log. Default sink when no
// webhook is configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, tenantID, subject, body string) error {
	n.log.Infow("notification", "tenant_id", tenantID, "subject", subject, "body", body)
	return nil
}

// WebhookNotifier POSTs notifications as JSON to a configured endpoint,
// typically an alerting relay owned by the account-management system.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, tenantID, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"tenant_id": tenantID,
		"subject":   subject,
		"body":      body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}

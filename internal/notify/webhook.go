// Package notify provides channel notifier implementations for the
// dispatch workers.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sofianedjerbi/rouse/internal/dispatch"
	"github.com/sofianedjerbi/rouse/internal/model"
)

// WebhookNotifier delivers notification payloads as HTTP POSTs to the
// notification's target URL.
type WebhookNotifier struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(logger *zap.Logger, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		logger: logger.Named("webhook"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Channel implements dispatch.Notifier.Channel
func (w *WebhookNotifier) Channel() string {
	return "webhook"
}

// Notify implements dispatch.Notifier.Notify. The HTTP status maps onto
// the dispatch error taxonomy: 429 is rate limiting, 5xx is a transient
// outage, any other non-2xx is a target that will never accept the POST.
func (w *WebhookNotifier) Notify(ctx context.Context, notification *model.Notification) (*dispatch.NotifyResult, error) {
	target, err := url.Parse(notification.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", dispatch.ErrInvalidTarget, notification.Target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(),
		strings.NewReader(notification.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidTarget, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.logger.Debug("Webhook delivered",
			zap.String("alert_id", notification.AlertID),
			zap.Int("status", resp.StatusCode))
		return &dispatch.NotifyResult{
			ExternalID: resp.Header.Get("X-Request-Id"),
			Metadata:   map[string]string{"status": resp.Status},
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", dispatch.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", dispatch.ErrChannelUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", dispatch.ErrInvalidTarget, resp.StatusCode)
	}
}

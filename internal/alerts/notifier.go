package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ndhoang/fraudguard/internal/retry"
)

var (
	notifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudguard",
		Subsystem: "alert_webhook",
		Name:      "emit_total",
		Help:      "Total alert webhook emit attempts by severity.",
	}, []string{"severity"})

	notifyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudguard",
		Subsystem: "alert_webhook",
		Name:      "emit_errors_total",
		Help:      "Total alert webhook emit failures by severity.",
	}, []string{"severity"})
)

func init() {
	prometheus.MustRegister(notifyTotal, notifyErrors)
}

const (
	notifyAttempts  = 3
	notifyBaseDelay = time.Second
	notifyTimeout   = 30 * time.Second
)

// Notifier delivers alerts to an external webhook endpoint. All
// delivery is fire-and-forget: errors are logged but never returned.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewNotifier creates a webhook notifier. secret, when set, signs
// payloads with HMAC-SHA256.
func NewNotifier(url, secret string, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Emit delivers the alert asynchronously. Safe on a nil notifier.
func (n *Notifier) Emit(a *Alert) {
	if n == nil || n.url == "" {
		return
	}
	notifyTotal.WithLabelValues(string(a.Severity)).Inc()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := n.deliver(ctx, a); err != nil {
			notifyErrors.WithLabelValues(string(a.Severity)).Inc()
			n.logger.Warn("alert webhook delivery failed",
				"alert_id", a.ID, "user_id", a.UserID, "error", err)
		}
	}()
}

func (n *Notifier) deliver(ctx context.Context, a *Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode alert: %w", err))
	}
	return retry.Do(ctx, notifyAttempts, notifyBaseDelay, func() error {
		return n.post(ctx, a, payload)
	})
}

func (n *Notifier) post(ctx context.Context, a *Alert, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fraudguard-Event", "alert.raised")
	req.Header.Set("X-Fraudguard-Timestamp", fmt.Sprintf("%d", a.CreatedAt.Unix()))
	if n.secret != "" {
		req.Header.Set("X-Fraudguard-Signature", sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook status %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

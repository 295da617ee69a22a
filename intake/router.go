package intake

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
)

// Webhook event names.
const (
	EventSummarized = "document.summarized"
	EventFailed     = "document.failed"
)

// WebhookPayload is the JSON body sent to webhook targets.
type WebhookPayload struct {
	Event     string          `json:"event"`
	MatterID  string          `json:"matter_id"`
	SHA256    string          `json:"sha256"`
	State     string          `json:"state"`
	Format    string          `json:"format,omitempty"`
	Title     string          `json:"title,omitempty"`
	SizeBytes int64           `json:"size_bytes,omitempty"`
	Error     string          `json:"error,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Router manages webhook fan-out and retries.
type Router struct {
	store  *Store
	cfg    *Config
	client *http.Client
	logger *slog.Logger
}

// NewRouter creates a new webhook router.
func NewRouter(store *Store, cfg *Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// EnqueueRoutes creates pending routes for every configured webhook that
// subscribes to the event.
func (rt *Router) EnqueueRoutes(doc *Document, event string) error {
	for _, wh := range rt.cfg.Webhooks {
		if !wh.Wants(event) {
			continue
		}
		if err := rt.store.InsertRoute(&RoutePending{
			DocumentSHA256: doc.SHA256,
			MatterID:       doc.MatterID,
			Target:         wh.URL,
			Event:          event,
		}); err != nil {
			return fmt.Errorf("enqueue route %s: %w", wh.URL, err)
		}
	}
	return nil
}

// Deliver attempts to deliver a single route. Returns true if successful.
func (rt *Router) Deliver(route *RoutePending, doc *Document) bool {
	payload := &WebhookPayload{
		Event:     route.Event,
		MatterID:  route.MatterID,
		SHA256:    doc.SHA256,
		State:     doc.State,
		Format:    doc.Format,
		Title:     doc.Title,
		SizeBytes: doc.SizeBytes,
		Error:     doc.Error,
		Timestamp: nowRFC3339(),
	}
	if route.Event == EventSummarized {
		if rec, err := rt.store.GetSummary(doc.SHA256, doc.MatterID); err == nil && rec != nil {
			payload.Summary = json.RawMessage(rec.SummaryJSON)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		rt.logger.Error("webhook marshal payload", "error", err)
		return false
	}

	req, err := http.NewRequest(http.MethodPost, route.Target, bytes.NewReader(body))
	if err != nil {
		rt.logger.Error("webhook create request", "error", err, "target", route.Target)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	if secret := rt.resolveSecret(route.Target); secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Signature-256", "sha256="+sig)
	}

	resp, err := rt.client.Do(req)
	if err != nil {
		rt.recordFailure(route, fmt.Sprintf("http error: %v", err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := rt.store.DeleteRoute(route.DocumentSHA256, route.MatterID, route.Target); err != nil {
			rt.logger.Error("webhook delete route", "error", err)
		}
		return true
	}

	rt.recordFailure(route, fmt.Sprintf("http %d", resp.StatusCode))
	return false
}

// resolveSecret looks up the per-webhook secret for a target URL.
func (rt *Router) resolveSecret(targetURL string) string {
	for i := range rt.cfg.Webhooks {
		if rt.cfg.Webhooks[i].URL == targetURL {
			return rt.cfg.Webhooks[i].Secret
		}
	}
	return ""
}

func (rt *Router) recordFailure(route *RoutePending, errMsg string) {
	attempts := route.Attempts + 1
	backoff := time.Duration(1<<uint(attempts)) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	nextRetry := time.Now().UTC().Add(backoff).Format(time.RFC3339)

	if err := rt.store.UpdateRouteAttempt(
		route.DocumentSHA256, route.MatterID, route.Target,
		attempts, errMsg, nextRetry,
	); err != nil {
		rt.logger.Error("webhook record failure", "error", err)
	}
	rt.logger.Warn("webhook delivery failed",
		"target", route.Target, "attempts", attempts, "error", errMsg)
}

// ProcessRetries delivers all routes due for retry.
func (rt *Router) ProcessRetries() {
	routes, err := rt.store.ListRetryableRoutes(nowRFC3339())
	if err != nil {
		rt.logger.Error("webhook list retryable", "error", err)
		return
	}

	for _, route := range routes {
		doc, err := rt.store.GetDocument(route.DocumentSHA256, route.MatterID)
		if err != nil || doc == nil {
			continue
		}
		rt.Deliver(route, doc)
	}
}

// StartRetryLoop runs ProcessRetries on a ticker until ctx is cancelled.
func (rt *Router) StartRetryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.ProcessRetries()
			}
		}
	}()
}

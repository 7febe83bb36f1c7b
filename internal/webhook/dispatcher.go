// Package webhook delivers signed event payloads to HTTP subscribers.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/observability"
	"qx-indexer/internal/storage"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Webhook-Signature"

// Message is the delivery envelope. EventID is stable across redeliveries so
// subscribers can dedup; delivery is at-least-once.
type Message struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	AlertID     string                 `json:"alert_id,omitempty"`
	AlertName   string                 `json:"name,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	TriggeredAt int64                  `json:"triggered_at"`
}

// Outcome is the per-subscriber result of one dispatch.
type Outcome struct {
	SubscriberID string        `json:"subscriber_id"`
	URL          string        `json:"url"`
	StatusCode   int           `json:"status_code,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Delivered    bool          `json:"delivered"`
	Error        string        `json:"error,omitempty"`

	// ConsecutiveFailures counts failed deliveries to this subscriber since
	// its last success, including this one when Delivered is false. Zero on
	// success.
	ConsecutiveFailures uint32 `json:"consecutive_failures,omitempty"`
}

// Options configures a Dispatcher.
type Options struct {
	// Timeout bounds each delivery request so one unresponsive subscriber
	// cannot stall the fan-out.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Dispatcher fans events out to all matching active subscriptions. Each
// subscriber gets its own circuit breaker: one that keeps failing is skipped
// until its breaker half-opens.
type Dispatcher struct {
	subs       storage.WebhookStore
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	failures map[string]uint32
}

// NewDispatcher creates a Dispatcher reading subscriptions from subs.
func NewDispatcher(subs storage.WebhookStore, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		subs:       subs,
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		failures:   make(map[string]uint32),
	}
}

// Dispatch delivers msg to every active subscription covering event,
// concurrently. The returned outcomes are in no particular order. A nil
// or empty subscriber set returns an empty slice, not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, msg *Message) []Outcome {
	if msg == nil {
		return nil
	}
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}
	msg.EventType = event
	if msg.TriggeredAt == 0 {
		msg.TriggeredAt = time.Now().UnixMilli()
	}

	subs, err := d.subs.ActiveForEvent(ctx, event)
	if err != nil {
		d.logger.Error("loading webhook subscriptions failed",
			zap.String("event", event),
			zap.Error(err))
		return nil
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("marshaling webhook payload failed", zap.Error(err))
		return nil
	}

	outcomes := make([]Outcome, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *domain.WebhookSubscription) {
			defer wg.Done()
			outcomes[i] = d.deliver(ctx, sub, body)
		}(i, sub)
	}
	wg.Wait()

	for _, o := range outcomes {
		if !o.Delivered {
			d.logger.Warn("webhook delivery failed",
				zap.String("subscriber_id", o.SubscriberID),
				zap.String("event", event),
				zap.Int("status", o.StatusCode),
				zap.String("error", o.Error))
		}
	}
	return outcomes
}

// deliver posts the signed body to one subscriber through its breaker.
func (d *Dispatcher) deliver(ctx context.Context, sub *domain.WebhookSubscription, body []byte) Outcome {
	out := Outcome{SubscriberID: sub.ID, URL: sub.URL}
	start := time.Now()

	_, err := d.breaker(sub.ID).Execute(func() (interface{}, error) {
		status, err := d.post(ctx, sub, body)
		out.StatusCode = status
		return nil, err
	})
	out.Duration = time.Since(start)

	if err != nil {
		out.Error = err.Error()
		out.ConsecutiveFailures = d.recordFailure(sub.ID)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			observability.RecordWebhookBreakerTripped()
		}
		observability.RecordWebhookDelivery("failure", out.Duration.Seconds())
		return out
	}

	out.Delivered = true
	d.recordSuccess(sub.ID)
	observability.RecordWebhookDelivery("success", out.Duration.Seconds())
	return out
}

// recordFailure bumps the subscriber's failure streak and returns it.
func (d *Dispatcher) recordFailure(subscriberID string) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[subscriberID]++
	return d.failures[subscriberID]
}

func (d *Dispatcher) recordSuccess(subscriberID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, subscriberID)
}

// FailureCount reports the subscriber's current failure streak.
func (d *Dispatcher) FailureCount(subscriberID string) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures[subscriberID]
}

// post performs the HTTP request. Any non-2xx status is a failure.
func (d *Dispatcher) post(ctx context.Context, sub *domain.WebhookSubscription, body []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// breaker returns the subscriber's circuit breaker, creating it on first use.
func (d *Dispatcher) breaker(subscriberID string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[subscriberID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook:" + subscriberID,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	d.breakers[subscriberID] = cb
	return cb
}

// Sign computes the body signature a subscriber should verify:
// hex-encoded HMAC-SHA256 of the body under the subscription secret,
// prefixed with the algorithm name.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256:" + hex.EncodeToString(mac.Sum(nil))
}

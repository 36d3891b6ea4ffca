package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-protect/core"
)

const (
	HeaderSignature = "X-Protect-Signature"
	HeaderEvent     = "X-Protect-Event"
	HeaderDelivery  = "X-Protect-Delivery"

	signaturePrefix = "sha256="
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Subscriber is one webhook endpoint. An empty Events list receives
// everything.
type Subscriber struct {
	Name     string
	Endpoint string
	Secret   string
	Events   []string
}

func (s Subscriber) wants(eventName string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, name := range s.Events {
		if strings.EqualFold(strings.TrimSpace(name), eventName) {
			return true
		}
	}
	return false
}

type DelivererOption func(*Deliverer)

// Deliverer posts protocol events to every matching subscriber. It
// implements the outbox event-handler contract: a failed post is an error,
// and the outbox's retry policy decides what happens next.
type Deliverer struct {
	subscribers    []Subscriber
	httpClient     HTTPDoer
	burst          BurstController
	requestTimeout time.Duration
	logger         core.Logger
}

func WithHTTPClient(client HTTPDoer) DelivererOption {
	return func(d *Deliverer) {
		if client != nil {
			d.httpClient = client
		}
	}
}

func WithBurstController(controller BurstController) DelivererOption {
	return func(d *Deliverer) {
		d.burst = controller
	}
}

func WithRequestTimeout(timeout time.Duration) DelivererOption {
	return func(d *Deliverer) {
		if timeout > 0 {
			d.requestTimeout = timeout
		}
	}
}

func WithLogger(logger core.Logger) DelivererOption {
	return func(d *Deliverer) {
		d.logger = logger
	}
}

func NewDeliverer(subscribers []Subscriber, opts ...DelivererOption) (*Deliverer, error) {
	cleaned := make([]Subscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		subscriber.Name = strings.TrimSpace(subscriber.Name)
		subscriber.Endpoint = strings.TrimSpace(subscriber.Endpoint)
		if subscriber.Name == "" {
			return nil, fmt.Errorf("webhooks: subscriber name is required")
		}
		if subscriber.Endpoint == "" {
			return nil, fmt.Errorf("webhooks: subscriber %q endpoint is required", subscriber.Name)
		}
		cleaned = append(cleaned, subscriber)
	}
	deliverer := &Deliverer{
		subscribers:    cleaned,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(deliverer)
	}
	return deliverer, nil
}

// Handle fans the event out to matching subscribers. Any subscriber failure
// fails the whole delivery so the outbox retries it; re-posting an already
// delivered event is safe because receivers dedupe by delivery ID.
func (d *Deliverer) Handle(ctx context.Context, event core.Event) error {
	if d == nil || d.httpClient == nil {
		return fmt.Errorf("webhooks: deliverer is not configured")
	}
	body, err := json.Marshal(deliveryPayload(event))
	if err != nil {
		return fmt.Errorf("webhooks: encode event %s: %w", event.ID, err)
	}
	for _, subscriber := range d.subscribers {
		if !subscriber.wants(event.Name) {
			continue
		}
		if d.burst != nil {
			decision, burstErr := d.burst.Allow(ctx, subscriber, event)
			if burstErr != nil {
				return burstErr
			}
			if !decision.Allow {
				d.logInfo(ctx, "webhook delivery coalesced", map[string]any{
					"subscriber": subscriber.Name,
					"event":      event.Name,
					"identity":   event.Identity,
				})
				continue
			}
		}
		if err := d.post(ctx, subscriber, event, body); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deliverer) post(ctx context.Context, subscriber Subscriber, event core.Event, body []byte) error {
	requestCtx := ctx
	cancel := func() {}
	if d.requestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, d.requestTimeout)
	}
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, subscriber.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhooks: build request for %q: %w", subscriber.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.Name)
	req.Header.Set(HeaderDelivery, event.ID)
	if strings.TrimSpace(subscriber.Secret) != "" {
		req.Header.Set(HeaderSignature, signaturePrefix+SignBody(subscriber.Secret, body))
	}

	res, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhooks: deliver %s to %q: %w", event.Name, subscriber.Name, err)
	}
	defer res.Body.Close()
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhooks: subscriber %q returned status %d for event %s",
			subscriber.Name, res.StatusCode, event.ID)
	}
	d.logInfo(ctx, "webhook delivered", map[string]any{
		"subscriber": subscriber.Name,
		"event":      event.Name,
		"identity":   event.Identity,
	})
	return nil
}

func (d *Deliverer) logInfo(ctx context.Context, message string, fields map[string]any) {
	if d == nil || d.logger == nil {
		return
	}
	logger := d.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Info(message)
}

func deliveryPayload(event core.Event) map[string]any {
	return map[string]any{
		"id":          event.ID,
		"name":        event.Name,
		"identity":    event.Identity,
		"source":      event.Source,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
		"payload":     event.Payload,
	}
}

// SignBody computes the hex HMAC-SHA256 tag receivers check against the
// signature header.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ core.EventHandler = (*Deliverer)(nil)

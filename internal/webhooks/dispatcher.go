// Package webhooks posts terminal lifecycle events to a configured HTTP
// endpoint so external automation can react to installs, backups, and
// failures without polling the API.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcpilot/mcpilot/internal/events"
)

const (
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
)

// Dispatcher subscribes to the event bus and delivers each terminal event
// as a signed JSON POST.
type Dispatcher struct {
	url    string
	secret string
	bus    *events.Bus
	client *http.Client
	logger zerolog.Logger

	mu     sync.Mutex
	cancel func()
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for the given endpoint. secret may be
// empty; the signature header is then omitted.
func NewDispatcher(url, secret string, bus *events.Bus, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		secret: secret,
		bus:    bus,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "webhooks").Logger(),
	}
}

// Start subscribes to the bus and begins delivering in the background.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	sub, cancel := d.bus.Subscribe(events.DefaultSubscriberBuffer)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range sub {
			if !ev.Terminal() {
				continue
			}
			d.deliver(ev)
		}
	}()
	d.logger.Info().Str("url", d.url).Msg("webhook dispatcher running")
}

// Stop unsubscribes and waits for the in-flight delivery to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// deliver posts one event, retrying transient failures with backoff. The
// endpoint being down must never block the bus, so errors end in a log
// line, not a queue.
func (d *Dispatcher) deliver(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error().Err(err).Msg("marshal event")
		return
	}
	deliveryID := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * time.Second)
		}
		if lastErr = d.post(payload, ev, deliveryID); lastErr == nil {
			d.logger.Debug().
				Str("delivery_id", deliveryID).
				Str("kind", string(ev.Kind)).
				Msg("webhook delivered")
			return
		}
	}
	d.logger.Error().Err(lastErr).
		Str("delivery_id", deliveryID).
		Str("kind", string(ev.Kind)).
		Msg("webhook delivery failed")
}

func (d *Dispatcher) post(payload []byte, ev events.Event, deliveryID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mcpilot-Webhook/1.0")
	req.Header.Set("X-Mcpilot-Delivery", deliveryID)
	req.Header.Set("X-Mcpilot-Event", string(ev.Kind))
	req.Header.Set("X-Mcpilot-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if d.secret != "" {
		req.Header.Set("X-Mcpilot-Signature-256", Sign(payload, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature receivers verify against.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

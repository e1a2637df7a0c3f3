package events

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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-WipeLedger-Signature"

// DeliveryRecorder is an optional callback for recording delivery outcomes.
type DeliveryRecorder func(success bool)

// WebhookNotifier POSTs every event to a fixed set of URLs, signing the body
// with a shared secret. Deliveries run in the background with retries.
type WebhookNotifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onDelivery DeliveryRecorder
	logger     *zap.Logger
	wg         sync.WaitGroup

	// stop ends retry waits; cancel aborts requests in flight.
	stop     chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(urls []string, secret string, logger *zap.Logger) *WebhookNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookNotifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Delay before each attempt: 1s, 5s after the first failure.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
		stop:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetDeliveryRecorder configures the metrics callback.
func (n *WebhookNotifier) SetDeliveryRecorder(fn DeliveryRecorder) {
	n.onDelivery = fn
}

// SetRetryDelays replaces the per-attempt delays. The number of delays is
// the number of attempts.
func (n *WebhookNotifier) SetRetryDelays(delays []time.Duration) {
	n.delays = delays
}

// Notify implements certledger.Notifier. It returns immediately. Events
// arriving after Shutdown has started are dropped.
func (n *WebhookNotifier) Notify(_ context.Context, ev certledger.Event) {
	select {
	case <-n.stop:
		return
	default:
	}
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	signature := Sign(body, n.secret)

	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			// Detached from the request context: the request may finish first.
			n.deliver(n.ctx, url, ev, body, signature)
		}(url)
	}
}

// Wait blocks until in-flight deliveries finish, retries included.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}

// Shutdown abandons pending retries and waits for attempts already on the
// wire. When ctx expires first those are aborted too, and ctx's error is
// returned.
func (n *WebhookNotifier) Shutdown(ctx context.Context) error {
	n.stopOnce.Do(func() { close(n.stop) })

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, url string, ev certledger.Event, body []byte, signature string) {
	for attempt, delay := range n.delays {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-n.stop:
				timer.Stop()
				n.logger.Warn("webhook: retry abandoned at shutdown",
					zap.String("url", url),
					zap.String("event_id", ev.ID),
					zap.Int("attempt", attempt+1),
				)
				return
			}
		}

		err := n.post(ctx, url, ev, body, signature)
		if n.onDelivery != nil {
			n.onDelivery(err == nil)
		}
		if err == nil {
			return
		}

		n.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.String("event_id", ev.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

func (n *WebhookNotifier) post(ctx context.Context, url string, ev certledger.Event, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-WipeLedger-Event", string(ev.Type))
	req.Header.Set("X-WipeLedger-Delivery", ev.ID)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for body. An empty secret
// disables signing.
func Sign(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(body []byte, secret, signature string) bool {
	want := Sign(body, secret)
	return want != "" && hmac.Equal([]byte(want), []byte(signature))
}

package events_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/events"
)

var ctx = context.Background()

func sampleEvent() certledger.Event {
	return certledger.Event{
		ID:            "evt-1",
		Type:          certledger.EventAppended,
		CertificateID: "CERT-001",
		Position:      4,
		ChainLink:     strings.Repeat("ab", 32),
		At:            time.Date(2025, 9, 20, 10, 15, 30, 0, time.UTC),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_streamsEvents(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.Len() == 1 })

	hub.Notify(ctx, sampleEvent())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got certledger.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.CertificateID != "CERT-001" || got.Type != certledger.EventAppended || got.Position != 4 {
		t.Errorf("event = %+v", got)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.Len() == 0 })
}

func TestHub_checksOrigin(t *testing.T) {
	hub := events.NewHub(zap.NewNop(), events.WithAllowedOrigins([]string{"http://localhost:3000/"}))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	cases := []struct {
		origin string
		ok     bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{srv.URL, true},
		{"https://evil.example", false},
	}
	for _, tc := range cases {
		header := http.Header{}
		if tc.origin != "" {
			header.Set("Origin", tc.origin)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if tc.ok {
			if err != nil {
				t.Errorf("origin %q: dial failed: %v", tc.origin, err)
				continue
			}
			conn.Close()
			continue
		}
		if err == nil {
			conn.Close()
			t.Errorf("origin %q: expected handshake to be refused", tc.origin)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("origin %q: expected 403, got %v", tc.origin, resp)
		}
	}
}

func TestHub_notifyWithoutClients(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	hub.Notify(ctx, sampleEvent()) // must not block or panic
	if hub.Len() != 0 {
		t.Errorf("len = %d", hub.Len())
	}
}

func TestWebhookNotifier_signsDelivery(t *testing.T) {
	var (
		mu        sync.Mutex
		body      []byte
		signature string
		eventType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(events.SignatureHeader)
		eventType = r.Header.Get("X-WipeLedger-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := events.NewWebhookNotifier([]string{srv.URL}, "hook-secret", zap.NewNop())
	n.Notify(ctx, sampleEvent())
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !events.VerifySignature(body, "hook-secret", signature) {
		t.Errorf("signature %q does not verify", signature)
	}
	if events.VerifySignature(body, "other-secret", signature) {
		t.Error("signature verified under the wrong secret")
	}
	if eventType != string(certledger.EventAppended) {
		t.Errorf("event header = %q", eventType)
	}
	if !strings.Contains(string(body), `"certificate_id":"CERT-001"`) {
		t.Errorf("body = %s", body)
	}
}

func TestWebhookNotifier_retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var successes, failures atomic.Int32
	n := events.NewWebhookNotifier([]string{srv.URL}, "", zap.NewNop())
	n.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})
	n.SetDeliveryRecorder(func(ok bool) {
		if ok {
			successes.Add(1)
		} else {
			failures.Add(1)
		}
	})

	n.Notify(ctx, sampleEvent())
	n.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if successes.Load() != 1 || failures.Load() != 1 {
		t.Errorf("recorded %d successes, %d failures", successes.Load(), failures.Load())
	}
}

func TestWebhookNotifier_givesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := events.NewWebhookNotifier([]string{srv.URL}, "s", zap.NewNop())
	n.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})
	n.Notify(ctx, sampleEvent())
	n.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify(context.Context, certledger.Event) { c.n.Add(1) }

func TestWebhookNotifier_shutdownSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := events.NewWebhookNotifier([]string{srv.URL}, "", zap.NewNop())
	n.SetRetryDelays([]time.Duration{0, time.Hour, time.Hour})
	n.Notify(ctx, sampleEvent())
	waitFor(t, func() bool { return calls.Load() == 1 })

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := n.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %s waiting on a retry", elapsed)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	// Nothing is delivered once shutdown has begun.
	n.Notify(ctx, sampleEvent())
	n.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("calls after shutdown = %d, want 1", got)
	}
}

func TestWebhookNotifier_shutdownDeadlineAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n := events.NewWebhookNotifier([]string{srv.URL}, "", zap.NewNop())
	n.SetRetryDelays([]time.Duration{0})
	n.Notify(ctx, sampleEvent())

	sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := n.Shutdown(sctx); err == nil {
		t.Error("expected the deadline error from Shutdown")
	}
}

func TestMulti(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := events.Multi{a, nil, b}
	m.Notify(ctx, sampleEvent())
	if a.n.Load() != 1 || b.n.Load() != 1 {
		t.Errorf("a=%d b=%d, want 1 each", a.n.Load(), b.n.Load())
	}
}

func TestLedgerPublishesThroughHub(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.Len() == 1 })

	l := certledger.New(certledger.NewMemoryStore(), zap.NewNop(), certledger.WithNotifier(hub))
	rec, err := l.Append(ctx, certledger.AppendRequest{
		CertificateID: "CERT-WS",
		Content: certledger.Content{
			Origin:     certledger.OriginIssued,
			DeviceInfo: []byte(`{"model":"x"}`),
			WipeMethod: "NIST Clear",
			Timestamp:  "2025-09-20T10:15:30Z",
		},
		SecretMaterial: "code",
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got certledger.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.ChainLink != rec.ChainLink {
		t.Errorf("event chain link = %q, want %q", got.ChainLink, rec.ChainLink)
	}
}

package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubVerifier struct {
	reports []*certledger.Report
	errs    []error
	calls   int
}

func (s *stubVerifier) VerifyAll(_ context.Context) (*certledger.Report, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.reports[i], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []certledger.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev certledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func valid(n int) *certledger.Report {
	return &certledger.Report{Valid: true, Length: n, Root: "root", Breaks: []certledger.Break{}}
}

func broken(n int, at int64) *certledger.Report {
	return &certledger.Report{Valid: false, Length: n, Root: "root", Breaks: []certledger.Break{
		{Position: at, CertificateID: "CERT-B", Reasons: []string{"previous link does not match predecessor's chain link"}},
	}}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_healthy(t *testing.T) {
	checker := New(&stubVerifier{reports: []*certledger.Report{valid(3)}}, Config{}, zap.NewNop())
	if checker.Ready() {
		t.Error("ready before the first check")
	}

	st := checker.Check(context.Background())
	if st.State != StateHealthy || st.Length != 3 || len(st.Breaks) != 0 {
		t.Errorf("status = %+v", st)
	}
	if !checker.Ready() {
		t.Error("expected ready after a healthy check")
	}
}

func TestCheck_degradesAndRecovers(t *testing.T) {
	v := &stubVerifier{reports: []*certledger.Report{valid(2), broken(3, 1), broken(3, 1), valid(3)}}
	n := &recordingNotifier{}
	checker := New(v, Config{}, zap.NewNop())
	checker.SetNotifier(n)

	var recorded int
	checker.SetMetricsRecord(func(*certledger.Report) { recorded++ })

	for i := 0; i < 4; i++ {
		checker.Check(context.Background())
		if i == 1 {
			st := checker.Status()
			if st.State != StateDegraded || len(st.Breaks) != 1 || st.Breaks[0] != 1 {
				t.Errorf("after break: %+v", st)
			}
			if !checker.Ready() {
				t.Error("degraded ledger should stay ready")
			}
		}
	}

	if recorded != 4 {
		t.Errorf("metrics recorded %d times, want 4", recorded)
	}
	// One event per transition, not per check.
	if len(n.events) != 2 {
		t.Fatalf("events = %+v, want 2", n.events)
	}
	if n.events[0].Type != certledger.EventChainBroken || n.events[0].Position != 1 || n.events[0].CertificateID != "CERT-B" {
		t.Errorf("first event = %+v", n.events[0])
	}
	if n.events[1].Type != certledger.EventChainRestored {
		t.Errorf("second event = %+v", n.events[1])
	}
	if checker.Status().State != StateHealthy {
		t.Errorf("final state = %s", checker.Status().State)
	}
}

func TestCheck_unavailableAfterThreshold(t *testing.T) {
	errStore := errors.New("connection refused")
	v := &stubVerifier{
		reports: []*certledger.Report{valid(1), nil, nil, nil, valid(1)},
		errs:    []error{nil, errStore, errStore, errStore, nil},
	}
	checker := New(v, Config{FailThreshold: 3, CheckTimeout: time.Second}, zap.NewNop())

	checker.Check(context.Background())
	for i := 0; i < 2; i++ {
		st := checker.Check(context.Background())
		if st.State != StateHealthy || st.Error == "" {
			t.Errorf("below threshold: %+v", st)
		}
	}
	if st := checker.Check(context.Background()); st.State != StateUnavailable {
		t.Errorf("at threshold: state = %s, want unavailable", st.State)
	}
	if checker.Ready() {
		t.Error("unavailable ledger reported ready")
	}

	if st := checker.Check(context.Background()); st.State != StateHealthy || st.Error != "" {
		t.Errorf("after recovery: %+v", st)
	}
}

func TestCheck_againstLedger(t *testing.T) {
	l := certledger.New(certledger.NewMemoryStore(), zap.NewNop())
	_, err := l.Append(context.Background(), certledger.AppendRequest{
		CertificateID: "CERT-001",
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

	st := New(l, Config{}, zap.NewNop()).Check(context.Background())
	if st.State != StateHealthy || st.Length != 1 || st.Root == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	v := &stubVerifier{reports: []*certledger.Report{valid(0)}}
	checker := New(v, Config{CheckInterval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

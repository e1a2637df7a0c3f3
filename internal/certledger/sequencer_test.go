package certledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"go.uber.org/zap"
)

func TestAppend_genesis(t *testing.T) {
	l, _ := newLedger(t)

	rec, err := l.Append(ctx, issuedReq("CERT-A"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Position != 0 {
		t.Errorf("position = %d, want 0", rec.Position)
	}
	if !rec.IsGenesis() {
		t.Errorf("genesis previous link = %q, want empty", rec.PreviousLink)
	}
	if rec.ChainLink == "" || rec.ContentHash == "" {
		t.Error("chain link and content hash must be set")
	}
	if rec.VerificationKey != certledger.VerificationDigest("secret-CERT-A") {
		t.Error("verification key is not the digest of the secret")
	}
	if rec.IsVerified || rec.VerifiedAt != nil {
		t.Error("new record must start unverified")
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l, _ := newLedger(t)
	recs := mustAppend(t, l, "CERT-A", "CERT-B", "CERT-C")

	for i, rec := range recs {
		if rec.Position != int64(i) {
			t.Errorf("%s position = %d, want %d", rec.CertificateID, rec.Position, i)
		}
		if i > 0 && rec.PreviousLink != recs[i-1].ChainLink {
			t.Errorf("%s previous link does not match %s chain link", rec.CertificateID, recs[i-1].CertificateID)
		}
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != recs[2].ChainLink {
		t.Errorf("root = %q, want tail chain link %q", root, recs[2].ChainLink)
	}
}

func TestAppend_duplicateID(t *testing.T) {
	l, _ := newLedger(t)
	mustAppend(t, l, "CERT-A")

	_, err := l.Append(ctx, issuedReq("CERT-A"))
	if !errors.Is(err, certledger.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	n, _ := l.Len(ctx)
	if n != 1 {
		t.Errorf("len = %d after rejected duplicate, want 1", n)
	}
}

func TestAppend_validation(t *testing.T) {
	l, _ := newLedger(t)

	cases := map[string]func(*certledger.AppendRequest){
		"empty id":       func(r *certledger.AppendRequest) { r.CertificateID = "" },
		"empty secret":   func(r *certledger.AppendRequest) { r.SecretMaterial = "" },
		"unknown origin": func(r *certledger.AppendRequest) { r.Content.Origin = "imported" },
		"no device info": func(r *certledger.AppendRequest) { r.Content.DeviceInfo = nil },
		"bad device":     func(r *certledger.AppendRequest) { r.Content.DeviceInfo = []byte(`{"model":`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := issuedReq("CERT-V")
			mutate(&req)
			if _, err := l.Append(ctx, req); err == nil {
				t.Error("expected error")
			}
		})
	}

	n, _ := l.Len(ctx)
	if n != 0 {
		t.Errorf("len = %d after rejected appends, want 0", n)
	}
}

func TestAppend_canceledContext(t *testing.T) {
	l, _ := newLedger(t)
	cctx, cancel := context.WithCancel(ctx)
	cancel()

	if _, err := l.Append(cctx, issuedReq("CERT-A")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAppend_createdAtNeverGoesBackwards(t *testing.T) {
	base := time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(time.Minute)}
	var i int
	clock := func() time.Time {
		now := times[i]
		i++
		return now
	}
	l, _ := newLedger(t, certledger.WithClock(clock))
	recs := mustAppend(t, l, "CERT-A", "CERT-B", "CERT-C")

	if !recs[1].CreatedAt.Equal(recs[0].CreatedAt) {
		t.Errorf("created_at after clock step back = %v, want clamp to %v", recs[1].CreatedAt, recs[0].CreatedAt)
	}
	if !recs[2].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at = %v, want %v", recs[2].CreatedAt, base.Add(time.Minute))
	}
}

func TestAppend_concurrent(t *testing.T) {
	l, _ := newLedger(t)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Append(ctx, issuedReq(fmt.Sprintf("CERT-%03d", i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append: %v", err)
	}

	report, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Length != n {
		t.Errorf("report = valid:%v length:%d breaks:%v, want valid chain of %d", report.Valid, report.Length, report.Breaks, n)
	}
}

// Two sequencers over one store stand in for two processes sharing a database.
func TestAppend_racingSequencersShareOneChain(t *testing.T) {
	store := certledger.NewMemoryStore()
	a := certledger.NewSequencer(store, 1000, nil, zap.NewNop())
	b := certledger.NewSequencer(store, 1000, nil, zap.NewNop())

	const perWriter = 25
	var wg sync.WaitGroup
	for w, seq := range []*certledger.Sequencer{a, b} {
		wg.Add(1)
		go func(w int, seq *certledger.Sequencer) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := seq.Append(ctx, issuedReq(fmt.Sprintf("W%d-%02d", w, i))); err != nil {
					t.Errorf("writer %d append %d: %v", w, i, err)
				}
			}
		}(w, seq)
	}
	wg.Wait()

	report, err := certledger.NewVerifier(store).VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Length != 2*perWriter {
		t.Errorf("report = valid:%v length:%d breaks:%v", report.Valid, report.Length, report.Breaks)
	}
}

// contendedStore always reports that another writer won the tail.
type contendedStore struct {
	*certledger.MemoryStore
	inserts atomic.Int32
}

func (s *contendedStore) Insert(context.Context, *certledger.Record) error {
	s.inserts.Add(1)
	return certledger.ErrTailMoved
}

func TestAppend_givesUpAfterMaxAttempts(t *testing.T) {
	store := &contendedStore{MemoryStore: certledger.NewMemoryStore()}
	seq := certledger.NewSequencer(store, 3, nil, zap.NewNop())

	_, err := seq.Append(ctx, issuedReq("CERT-A"))
	if !errors.Is(err, certledger.ErrSequencingConflict) {
		t.Fatalf("expected ErrSequencingConflict, got %v", err)
	}
	if got := store.inserts.Load(); got != 3 {
		t.Errorf("insert attempts = %d, want 3", got)
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("len = %d, want 0", n)
	}
}

// failingStore fails every write with a backend error.
type failingStore struct {
	*certledger.MemoryStore
}

func (failingStore) Insert(context.Context, *certledger.Record) error {
	return fmt.Errorf("insert certificate: %w: disk full", certledger.ErrStorageUnavailable)
}

func TestAppend_storageFailureLeavesNoRecord(t *testing.T) {
	store := failingStore{certledger.NewMemoryStore()}
	l := certledger.New(store, zap.NewNop())

	_, err := l.Append(ctx, issuedReq("CERT-A"))
	if !errors.Is(err, certledger.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if ok, _ := l.Exists(ctx, "CERT-A"); ok {
		t.Error("failed append left a record behind")
	}
}

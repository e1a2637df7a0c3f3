package certledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names a ledger event delivered to a Notifier.
type EventType string

const (
	EventAppended EventType = "certificate.appended"
	EventVerified EventType = "certificate.verified"

	// EventChainBroken and EventChainRestored are published by the integrity
	// monitor when a full walk starts or stops finding breaks.
	EventChainBroken   EventType = "chain.broken"
	EventChainRestored EventType = "chain.restored"
)

// Event is published after a ledger write has committed.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	CertificateID string    `json:"certificate_id"`
	Position      int64     `json:"position"`
	ChainLink     string    `json:"chain_link"`
	At            time.Time `json:"at"`
}

// Notifier receives ledger events. Implementations must not block the caller
// for long and cannot fail a ledger operation.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Ledger wires a Store to its Sequencer, Verifier and Index. It is the API
// the rest of the service uses; nothing else writes to the Store.
type Ledger struct {
	store    Store
	seq      *Sequencer
	verifier *Verifier
	index    *Index
	notifier Notifier
	logger   *zap.Logger
}

type options struct {
	maxAttempts int
	now         func() time.Time
	notifier    Notifier
}

// Option configures a Ledger.
type Option func(*options)

// WithMaxAppendAttempts bounds the Sequencer's retries.
func WithMaxAppendAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithClock overrides the time source for created_at and verified_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNotifier sets the event sink. nil disables notifications.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New creates a Ledger over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ledger{
		store:    store,
		seq:      NewSequencer(store, o.maxAttempts, o.now, logger),
		verifier: NewVerifier(store),
		index:    NewIndex(store, o.now),
		notifier: o.notifier,
		logger:   logger,
	}
}

// Append adds a certificate through the Sequencer.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*Record, error) {
	rec, err := l.seq.Append(ctx, req)
	if err != nil {
		return nil, err
	}
	l.notify(ctx, EventAppended, rec)
	return rec, nil
}

// Get returns a record by certificate_id.
func (l *Ledger) Get(ctx context.Context, certificateID string) (*Record, error) {
	return l.store.GetByID(ctx, certificateID)
}

// Exists reports whether certificateID is already in the ledger.
func (l *Ledger) Exists(ctx context.Context, certificateID string) (bool, error) {
	_, err := l.store.GetByID(ctx, certificateID)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// List returns records in ascending position order.
func (l *Ledger) List(ctx context.Context, offset, limit int) ([]*Record, error) {
	return l.store.Range(ctx, offset, limit)
}

// Recent returns up to n records, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]*Record, error) {
	total, err := l.store.Len(ctx)
	if err != nil {
		return nil, err
	}
	offset := total - n
	if offset < 0 {
		offset = 0
	}
	recs, err := l.store.Range(ctx, offset, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Len returns the number of records.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	return l.store.Len(ctx)
}

// Root returns the chain link of the tail, or "" for an empty ledger.
func (l *Ledger) Root(ctx context.Context) (string, error) {
	tail, err := l.store.Tail(ctx)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tail.ChainLink, nil
}

// VerifyOne loads certificateID and runs the local one-hop check on it.
func (l *Ledger) VerifyOne(ctx context.Context, certificateID string) (*Record, bool, error) {
	rec, err := l.store.GetByID(ctx, certificateID)
	if err != nil {
		return nil, false, err
	}
	ok, err := l.verifier.VerifyOne(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	return rec, ok, nil
}

// VerifyAll walks the whole chain.
func (l *Ledger) VerifyAll(ctx context.Context) (*Report, error) {
	report, err := l.verifier.VerifyAll(ctx)
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		l.logger.Warn("ledger integrity check found breaks",
			zap.Int("length", report.Length),
			zap.Int64s("positions", report.Positions()),
		)
	}
	return report, nil
}

// LookupByCode resolves a verification code and marks the record verified.
func (l *Ledger) LookupByCode(ctx context.Context, code string) (*Record, error) {
	rec, err := l.index.LookupByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	l.notify(ctx, EventVerified, rec)
	return rec, nil
}

func (l *Ledger) notify(ctx context.Context, typ EventType, rec *Record) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, Event{
		ID:            uuid.NewString(),
		Type:          typ,
		CertificateID: rec.CertificateID,
		Position:      rec.Position,
		ChainLink:     rec.ChainLink,
		At:            time.Now().UTC(),
	})
}

package certledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/WipeLedger/internal/canonjson"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds how often the Sequencer re-reads the tail after
// losing a race for it.
const DefaultMaxAttempts = 5

// AppendRequest is the input to Sequencer.Append.
type AppendRequest struct {
	CertificateID string
	Content       Content

	// SecretMaterial is hashed into the verification key and then dropped.
	SecretMaterial string
}

// Sequencer is the only writer path into a Store. It serialises appends
// in-process and retries when the store reports that another writer
// advanced the tail first.
type Sequencer struct {
	store       Store
	mu          sync.Mutex
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

// NewSequencer creates a Sequencer over store. maxAttempts <= 0 selects
// DefaultMaxAttempts; a nil now selects time.Now.
func NewSequencer(store Store, maxAttempts int, now func() time.Time, logger *zap.Logger) *Sequencer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &Sequencer{store: store, maxAttempts: maxAttempts, now: now, logger: logger}
}

// Append places a new record at the tail of the ledger.
func (s *Sequencer) Append(ctx context.Context, req AppendRequest) (*Record, error) {
	if req.CertificateID == "" {
		return nil, errors.New("certificate id is required")
	}
	if req.SecretMaterial == "" {
		return nil, errors.New("secret material is required")
	}

	content, err := normalizeContent(req.Content)
	if err != nil {
		return nil, err
	}
	contentHash, err := ContentHash(req.CertificateID, content)
	if err != nil {
		return nil, fmt.Errorf("content hash: %w", err)
	}
	key := VerificationDigest(req.SecretMaterial)

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tail, err := s.store.Tail(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		rec := s.next(tail, req.CertificateID, content, contentHash, key)

		err = s.store.Insert(ctx, rec)
		switch {
		case err == nil:
			s.logger.Debug("certificate appended",
				zap.String("certificate_id", rec.CertificateID),
				zap.Int64("position", rec.Position),
				zap.String("origin", string(rec.Origin)),
			)
			return rec, nil
		case errors.Is(err, ErrTailMoved):
			s.logger.Debug("ledger tail moved, retrying append",
				zap.String("certificate_id", req.CertificateID),
				zap.Int("attempt", attempt),
			)
			continue
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("append %s: gave up after %d attempts: %w",
		req.CertificateID, s.maxAttempts, ErrSequencingConflict)
}

// next derives the record that would follow tail (nil for an empty ledger).
func (s *Sequencer) next(tail *Record, id string, content Content, contentHash, key string) *Record {
	created := s.now().UTC().Truncate(time.Microsecond)
	rec := &Record{
		CertificateID:   id,
		Content:         content,
		ContentHash:     contentHash,
		VerificationKey: key,
		PreviousLink:    NoPreviousLink,
	}
	if tail != nil {
		rec.Position = tail.Position + 1
		rec.PreviousLink = tail.ChainLink
		if created.Before(tail.CreatedAt) {
			created = tail.CreatedAt.UTC()
		}
	}
	rec.CreatedAt = created
	rec.ChainLink = ChainDigest(chainInput(rec))
	return rec
}

// normalizeContent validates c and canonicalizes its device info so that the
// stored bytes hash the same way after any round trip.
func normalizeContent(c Content) (Content, error) {
	if !c.Origin.Valid() {
		return Content{}, fmt.Errorf("unknown origin %q", c.Origin)
	}
	if len(c.DeviceInfo) == 0 {
		return Content{}, errors.New("device info is required")
	}
	device, err := canonjson.Canonicalize(c.DeviceInfo)
	if err != nil {
		return Content{}, fmt.Errorf("device info: %w", err)
	}
	c.DeviceInfo = device
	return c, nil
}

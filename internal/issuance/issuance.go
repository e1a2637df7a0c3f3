// Package issuance creates first-party certificates: it assigns the
// certificate_id, generates the secret verification code and appends the
// record to the ledger. The code is returned once and never stored.
package issuance

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/ingest"
)

// codeBytes is the entropy of a verification code: 80 bits, which encodes
// to exactly 16 base32 characters.
const codeBytes = 10

// Appender is the subset of *certledger.Ledger used for issuance.
type Appender interface {
	Append(ctx context.Context, req certledger.AppendRequest) (*certledger.Record, error)
}

// Request describes the sanitization being certified.
type Request struct {
	DeviceInfo json.RawMessage `json:"device_info"`
	WipeMethod string          `json:"wipe_method"`
}

// Issued is the result of Issue. VerificationCode is shown to the holder
// exactly once.
type Issued struct {
	Certificate      *certledger.Record `json:"certificate"`
	VerificationCode string             `json:"verification_code"`
}

// Service issues certificates.
type Service struct {
	ledger Appender
	rand   io.Reader
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the issue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom overrides the entropy source for verification codes.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

// New creates an issuance Service.
func New(ledger Appender, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{ledger: ledger, rand: rand.Reader, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue validates req, generates an id and a code, and appends the
// certificate with origin "issued".
func (s *Service) Issue(ctx context.Context, req Request) (*Issued, error) {
	if strings.TrimSpace(req.WipeMethod) == "" {
		return nil, &ingest.ValidationError{Field: "wipe_method", Reason: ingest.ReasonMissing}
	}
	if len(req.DeviceInfo) == 0 || string(req.DeviceInfo) == "null" {
		return nil, &ingest.ValidationError{Field: "device_info", Reason: ingest.ReasonMissing}
	}
	var device map[string]any
	if err := json.Unmarshal(req.DeviceInfo, &device); err != nil || device == nil {
		return nil, &ingest.ValidationError{Field: "device_info", Reason: ingest.ReasonMalformed, Detail: "expected a JSON object"}
	}

	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	rec, err := s.ledger.Append(ctx, certledger.AppendRequest{
		CertificateID: uuid.NewString(),
		Content: certledger.Content{
			Origin:     certledger.OriginIssued,
			DeviceInfo: req.DeviceInfo,
			WipeMethod: strings.TrimSpace(req.WipeMethod),
			Timestamp:  s.now().UTC().Format(time.RFC3339),
		},
		SecretMaterial: code,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("certificate issued",
		zap.String("certificate_id", rec.CertificateID),
		zap.Int64("position", rec.Position),
	)
	return &Issued{Certificate: rec, VerificationCode: code}, nil
}

// newCode returns 80 random bits in canonical issued-code form,
// XXXX-XXXX-XXXX-XXXX.
func (s *Service) newCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := io.ReadFull(s.rand, b); err != nil {
		return "", err
	}
	code, ok := certledger.CanonicalIssuedCode(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b))
	if !ok {
		return "", errors.New("unexpected verification code length")
	}
	return code, nil
}

// Package ingest accepts certificates produced by the external wiping tool,
// validates them, recomputes their content hash and hands them to the ledger.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// ErrIntegrityMismatch is returned when the asserted certificate_hash does
// not match the hash recomputed from the submitted content.
var ErrIntegrityMismatch = errors.New("certificate integrity check failed")

// RecentLimit is the number of certificates Status reports.
const RecentLimit = 5

// Ledger is the subset of *certledger.Ledger the gateway needs.
type Ledger interface {
	Append(ctx context.Context, req certledger.AppendRequest) (*certledger.Record, error)
	Exists(ctx context.Context, certificateID string) (bool, error)
	Recent(ctx context.Context, n int) ([]*certledger.Record, error)
	Len(ctx context.Context) (int, error)
	Root(ctx context.Context) (string, error)
}

// Receipt acknowledges an ingested certificate.
type Receipt struct {
	CertificateID string `json:"certificate_id"`
	Position      int64  `json:"chain_index"`
	ChainLink     string `json:"blockchain_hash"`

	// WeakVerificationCode is set when no signature was supplied and the
	// certificate_id itself became the verification code.
	WeakVerificationCode bool `json:"weak_verification_code,omitempty"`
}

// Gateway validates submissions and appends them to the ledger.
type Gateway struct {
	ledger Ledger
	logger *zap.Logger
}

// NewGateway creates a Gateway.
func NewGateway(ledger Ledger, logger *zap.Logger) *Gateway {
	return &Gateway{ledger: ledger, logger: logger}
}

// Ingest runs the validation gates in order and appends the certificate.
// Nothing is written unless every gate passes.
func (g *Gateway) Ingest(ctx context.Context, sub Submission) (*Receipt, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	computed, err := certledger.IngestedContentHash(sub.CertificateID, sub.DeviceInfo, sub.WipeMethod, sub.Timestamp)
	if err != nil {
		return nil, malformed("device_info", err.Error())
	}
	asserted := strings.ToLower(strings.TrimSpace(sub.CertificateHash))
	if subtle.ConstantTimeCompare([]byte(computed), []byte(asserted)) != 1 {
		g.logger.Warn("certificate hash mismatch: possible tampering or spoofed upload",
			zap.String("certificate_id", sub.CertificateID),
			zap.String("asserted_hash", asserted),
			zap.String("computed_hash", computed),
		)
		return nil, ErrIntegrityMismatch
	}

	exists, err := g.ledger.Exists(ctx, sub.CertificateID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, certledger.ErrDuplicateID
	}

	secret := strings.TrimSpace(sub.Signature)
	weak := secret == ""
	if weak {
		secret = sub.CertificateID
		g.logger.Warn("certificate has no signature; certificate_id used as verification code",
			zap.String("certificate_id", sub.CertificateID),
		)
	}

	version := sub.WiperVersion
	if version == "" {
		version = certledger.DefaultWiperVersion
	}

	rec, err := g.ledger.Append(ctx, certledger.AppendRequest{
		CertificateID: sub.CertificateID,
		Content: certledger.Content{
			Origin:       certledger.OriginIngested,
			DeviceInfo:   sub.DeviceInfo,
			WipeMethod:   sub.WipeMethod,
			Timestamp:    sub.Timestamp,
			WiperVersion: version,
		},
		SecretMaterial: secret,
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("certificate ingested",
		zap.String("certificate_id", rec.CertificateID),
		zap.Int64("position", rec.Position),
		zap.String("wiper_version", version),
	)
	return &Receipt{
		CertificateID:        rec.CertificateID,
		Position:             rec.Position,
		ChainLink:            rec.ChainLink,
		WeakVerificationCode: weak,
	}, nil
}

// BatchItem is the outcome of one submission in a batch.
type BatchItem struct {
	CertificateID string   `json:"certificate_id"`
	Uploaded      bool     `json:"uploaded"`
	Receipt       *Receipt `json:"receipt,omitempty"`
	Error         string   `json:"error,omitempty"`
	err           error
}

// Err returns the error that rejected the item, if any.
func (b BatchItem) Err() error { return b.err }

// BatchResult summarises IngestBatch.
type BatchResult struct {
	Uploaded int         `json:"uploaded"`
	Failed   int         `json:"failed"`
	Total    int         `json:"total"`
	Results  []BatchItem `json:"results"`
}

// IngestBatch ingests each submission independently, in order. A failed
// item does not stop the batch. Context cancellation fails the remaining items.
func (g *Gateway) IngestBatch(ctx context.Context, subs []Submission) *BatchResult {
	res := &BatchResult{Total: len(subs), Results: make([]BatchItem, 0, len(subs))}
	for _, sub := range subs {
		item := BatchItem{CertificateID: sub.CertificateID}
		receipt, err := g.Ingest(ctx, sub)
		if err != nil {
			item.err = err
			item.Error = err.Error()
			res.Failed++
			g.logger.Debug("batch item rejected",
				zap.String("certificate_id", sub.CertificateID),
				zap.Error(err),
			)
		} else {
			item.Uploaded = true
			item.Receipt = receipt
			res.Uploaded++
		}
		res.Results = append(res.Results, item)
	}
	return res
}

// RecentCertificate is a Status summary line.
type RecentCertificate struct {
	CertificateID string    `json:"certificate_id"`
	CreatedAt     time.Time `json:"created_at"`
	WipeMethod    string    `json:"wipe_method"`
	DeviceModel   string    `json:"device_model"`
}

// Status is the summary the desktop tool polls.
type Status struct {
	Status             string              `json:"status"`
	TotalCertificates  int                 `json:"total_certificates"`
	ChainRoot          string              `json:"chain_root,omitempty"`
	RecentCertificates []RecentCertificate `json:"recent_certificates"`
}

// Status returns the ledger size, root and the most recent certificates.
func (g *Gateway) Status(ctx context.Context) (*Status, error) {
	total, err := g.ledger.Len(ctx)
	if err != nil {
		return nil, err
	}
	root, err := g.ledger.Root(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := g.ledger.Recent(ctx, RecentLimit)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Status:             "online",
		TotalCertificates:  total,
		ChainRoot:          root,
		RecentCertificates: make([]RecentCertificate, 0, len(recent)),
	}
	for _, rec := range recent {
		st.RecentCertificates = append(st.RecentCertificates, RecentCertificate{
			CertificateID: rec.CertificateID,
			CreatedAt:     rec.CreatedAt,
			WipeMethod:    rec.WipeMethod,
			DeviceModel:   DeviceModel(rec.DeviceInfo),
		})
	}
	return st, nil
}

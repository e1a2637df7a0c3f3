package handler

import (
	"encoding/json"
	"time"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
)

// CertificateView is the public representation of a ledger record. The
// verification key is never part of it. certificate_hash is the record's
// chain link, the value the successor's previous_hash points at; the
// content digest is content_hash.
type CertificateView struct {
	CertificateID   string          `json:"certificate_id"`
	Origin          string          `json:"origin"`
	DeviceInfo      json.RawMessage `json:"device_info"`
	WipeMethod      string          `json:"wipe_method"`
	Timestamp       string          `json:"timestamp"`
	WiperVersion    string          `json:"wiper_version,omitempty"`
	CertificateHash string          `json:"certificate_hash"`
	ContentHash     string          `json:"content_hash"`
	ContentCID      string          `json:"content_cid,omitempty"`
	ChainIndex      int64           `json:"chain_index"`
	PreviousHash    *string         `json:"previous_hash"`
	ChainLink       string          `json:"chain_link"`
	CreatedAt       time.Time       `json:"created_at"`
	IsVerified      bool            `json:"is_verified"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
}

// ChainEntry is one row of the chain listing.
type ChainEntry struct {
	CertificateID   string    `json:"certificate_id"`
	ChainIndex      int64     `json:"chain_index"`
	CertificateHash string    `json:"certificate_hash"`
	ContentHash     string    `json:"content_hash"`
	PreviousHash    *string   `json:"previous_hash"`
	ChainLink       string    `json:"chain_link"`
	CreatedAt       time.Time `json:"created_at"`
	IsVerified      bool      `json:"is_verified"`
}

func newCertificateView(rec *certledger.Record) CertificateView {
	v := CertificateView{
		CertificateID:   rec.CertificateID,
		Origin:          string(rec.Origin),
		DeviceInfo:      rec.DeviceInfo,
		WipeMethod:      rec.WipeMethod,
		Timestamp:       rec.Timestamp,
		WiperVersion:    rec.WiperVersion,
		CertificateHash: rec.ChainLink,
		ContentHash:     rec.ContentHash,
		ChainIndex:      rec.Position,
		PreviousHash:    previousHash(rec),
		ChainLink:       rec.ChainLink,
		CreatedAt:       rec.CreatedAt,
		IsVerified:      rec.IsVerified,
		VerifiedAt:      rec.VerifiedAt,
	}
	if cid, err := certledger.ContentCID(rec.CertificateID, rec.Content); err == nil {
		v.ContentCID = cid
	}
	return v
}

func newChainEntry(rec *certledger.Record) ChainEntry {
	return ChainEntry{
		CertificateID:   rec.CertificateID,
		ChainIndex:      rec.Position,
		CertificateHash: rec.ChainLink,
		ContentHash:     rec.ContentHash,
		PreviousHash:    previousHash(rec),
		ChainLink:       rec.ChainLink,
		CreatedAt:       rec.CreatedAt,
		IsVerified:      rec.IsVerified,
	}
}

// previousHash renders the genesis sentinel as JSON null.
func previousHash(rec *certledger.Record) *string {
	if rec.IsGenesis() {
		return nil
	}
	p := rec.PreviousLink
	return &p
}

package certledger

import (
	"encoding/json"
	"time"
)

// NoPreviousLink is the previous link of the genesis record.
const NoPreviousLink = ""

// DefaultWiperVersion is assumed for ingested certificates that omit it.
const DefaultWiperVersion = "1.0.0"

// Origin identifies the issuance path of a certificate. Each origin has its
// own content hash rule.
type Origin string

const (
	// OriginIssued marks certificates issued by this service.
	OriginIssued Origin = "issued"
	// OriginIngested marks certificates produced by an external wiping tool.
	OriginIngested Origin = "ingested"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginIssued || o == OriginIngested
}

// Content holds the certificate's immutable descriptive fields.
type Content struct {
	Origin       Origin          `json:"origin"`
	DeviceInfo   json.RawMessage `json:"device_info"`
	WipeMethod   string          `json:"wipe_method"`
	Timestamp    string          `json:"timestamp"`
	WiperVersion string          `json:"wiper_version,omitempty"`
}

// Record is a single certificate in the ledger.
//
// Everything except IsVerified and VerifiedAt is fixed at append time.
// The secret material the VerificationKey was derived from is never stored.
type Record struct {
	CertificateID string `json:"certificate_id"`
	Content
	ContentHash     string     `json:"content_hash"`
	VerificationKey string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	IsVerified      bool       `json:"is_verified"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	PreviousLink    string     `json:"previous_link,omitempty"`
	ChainLink       string     `json:"chain_link"`
	Position        int64      `json:"position"`
}

// IsGenesis reports whether the record claims to have no predecessor.
func (r *Record) IsGenesis() bool {
	return r.PreviousLink == NoPreviousLink
}

// clone returns a deep copy so stores never hand out their internal state.
func (r *Record) clone() *Record {
	cp := *r
	if r.DeviceInfo != nil {
		cp.DeviceInfo = append(json.RawMessage(nil), r.DeviceInfo...)
	}
	if r.VerifiedAt != nil {
		at := *r.VerifiedAt
		cp.VerifiedAt = &at
	}
	return &cp
}

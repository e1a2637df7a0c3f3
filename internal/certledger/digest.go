package certledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/jmerrifield20/WipeLedger/internal/canonjson"
	"github.com/multiformats/go-multihash"
)

// Domain tags. Each digest starts with its framed tag, so the chain-link and
// verification-code digests of identical inputs never coincide.
const (
	domainChainLink        = "wipeledger/chain-link/v1"
	domainVerificationCode = "wipeledger/verification-code/v1"
	domainIssuedContent    = "wipeledger/issued-content/v1"
)

// framer hashes a sequence of length-prefixed fields:
// uint64_be(len(field)) || field, starting with the domain tag.
type framer struct {
	h hash.Hash
}

func newFramer(domain string) *framer {
	f := &framer{h: sha256.New()}
	f.bytes([]byte(domain))
	return f
}

func (f *framer) bytes(b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	f.h.Write(n[:])
	f.h.Write(b)
}

func (f *framer) string(s string) { f.bytes([]byte(s)) }

func (f *framer) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	f.bytes(b[:])
}

func (f *framer) sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

// ChainInput is the immutable field set bound by a chain link.
type ChainInput struct {
	CertificateID   string
	Position        int64
	CreatedAt       time.Time
	Origin          Origin
	ContentHash     string
	WiperVersion    string
	VerificationKey string
	PreviousLink    string
}

// chainInput extracts the chain-link field set from a record.
func chainInput(r *Record) ChainInput {
	return ChainInput{
		CertificateID:   r.CertificateID,
		Position:        r.Position,
		CreatedAt:       r.CreatedAt,
		Origin:          r.Origin,
		ContentHash:     r.ContentHash,
		WiperVersion:    r.WiperVersion,
		VerificationKey: r.VerificationKey,
		PreviousLink:    r.PreviousLink,
	}
}

// ChainDigest computes a chain link. Field order:
// certificate_id, position, created_at (RFC3339Nano, UTC), origin,
// content_hash, wiper_version, verification_key, previous_link.
func ChainDigest(in ChainInput) string {
	f := newFramer(domainChainLink)
	f.string(in.CertificateID)
	f.uint64(uint64(in.Position))
	f.string(formatTime(in.CreatedAt))
	f.string(string(in.Origin))
	f.string(in.ContentHash)
	f.string(in.WiperVersion)
	f.string(in.VerificationKey)
	f.string(in.PreviousLink)
	return f.sum()
}

// VerificationDigest derives the lookup key for a secret verification code.
func VerificationDigest(secret string) string {
	f := newFramer(domainVerificationCode)
	f.string(secret)
	return f.sum()
}

// CanonicalContent returns the sorted-key JSON document
// {certificate_id, device_info, timestamp, wipe_method} that external
// wiping tools hash to produce their certificate_hash.
func CanonicalContent(certificateID string, c Content) ([]byte, error) {
	if len(c.DeviceInfo) == 0 {
		return nil, fmt.Errorf("device_info is empty")
	}
	device, err := canonjson.Canonicalize(c.DeviceInfo)
	if err != nil {
		return nil, fmt.Errorf("canonicalize device_info: %w", err)
	}
	return canonjson.Marshal(map[string]any{
		"certificate_id": certificateID,
		"device_info":    canonjson.RawValue(device),
		"timestamp":      c.Timestamp,
		"wipe_method":    c.WipeMethod,
	})
}

// IngestedContentHash is the content hash of a certificate produced by an
// external wiping tool: hex SHA-256 of CanonicalContent.
func IngestedContentHash(certificateID string, deviceInfo json.RawMessage, wipeMethod, timestamp string) (string, error) {
	doc, err := CanonicalContent(certificateID, Content{
		DeviceInfo: deviceInfo,
		WipeMethod: wipeMethod,
		Timestamp:  timestamp,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

// issuedContentHash is the content hash of a first-party certificate. Field
// order: certificate_id, device_info (canonical JSON), wipe_method, timestamp.
func issuedContentHash(certificateID string, c Content) (string, error) {
	device, err := canonjson.Canonicalize(c.DeviceInfo)
	if err != nil {
		return "", fmt.Errorf("canonicalize device_info: %w", err)
	}
	f := newFramer(domainIssuedContent)
	f.string(certificateID)
	f.bytes(device)
	f.string(c.WipeMethod)
	f.string(c.Timestamp)
	return f.sum(), nil
}

// ContentHash computes the content hash for c under its origin's rule.
func ContentHash(certificateID string, c Content) (string, error) {
	switch c.Origin {
	case OriginIngested:
		return IngestedContentHash(certificateID, c.DeviceInfo, c.WipeMethod, c.Timestamp)
	case OriginIssued:
		return issuedContentHash(certificateID, c)
	default:
		return "", fmt.Errorf("unknown origin %q", c.Origin)
	}
}

// ContentCID returns a CIDv1 (raw codec, sha2-256 multihash) addressing the
// canonical content document of a certificate.
func ContentCID(certificateID string, c Content) (string, error) {
	doc, err := CanonicalContent(certificateID, c)
	if err != nil {
		return "", err
	}
	sum, err := multihash.Sum(doc, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

package certledger

import (
	"context"
	"strings"
	"time"
)

// Index resolves verification codes to records.
type Index struct {
	store Store
	now   func() time.Time
}

// NewIndex creates an Index. A nil now selects time.Now.
func NewIndex(store Store, now func() time.Time) *Index {
	if now == nil {
		now = time.Now
	}
	return &Index{store: store, now: now}
}

// LookupByCode resolves code to its record and marks the record verified.
// Repeating a lookup refreshes VerifiedAt and changes nothing else.
func (ix *Index) LookupByCode(ctx context.Context, code string) (*Record, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	rec, err := ix.store.GetByVerificationKey(ctx, VerificationDigest(code))
	if isNotFound(err) {
		// Codes are matched byte for byte first; only then is the input
		// read as a hand-typed issued code.
		if alt, ok := CanonicalIssuedCode(code); ok && alt != code {
			rec, err = ix.store.GetByVerificationKey(ctx, VerificationDigest(alt))
		}
	}
	if err != nil {
		return nil, err
	}
	return ix.store.MarkVerified(ctx, rec.CertificateID, ix.now().UTC().Truncate(time.Microsecond))
}

// IssuedCodeLength is the number of base32 characters in an issued code.
const IssuedCodeLength = 16

// CanonicalIssuedCode returns code in the form issued codes are stored under:
// upper-case base32 in dash-separated groups of four. It accepts any case and
// any placement of dashes or spaces, and reports false when code cannot be an
// issued code.
func CanonicalIssuedCode(code string) (string, bool) {
	var b strings.Builder
	b.Grow(IssuedCodeLength + IssuedCodeLength/4 - 1)
	n := 0
	for _, r := range code {
		switch {
		case r == '-' || r == ' ':
			continue
		case r >= 'a' && r <= 'z':
			r -= 'a' - 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7'):
		default:
			return "", false
		}
		if n == IssuedCodeLength {
			return "", false
		}
		if n > 0 && n%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
		n++
	}
	if n != IssuedCodeLength {
		return "", false
	}
	return b.String(), true
}

package ingest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmerrifield20/WipeLedger/internal/canonjson"
)

// MaxCertificateIDLength bounds certificate_id in characters.
const MaxCertificateIDLength = 100

// Submission is a certificate as produced by the desktop wiping tool.
type Submission struct {
	CertificateID   string          `json:"certificate_id"`
	DeviceInfo      json.RawMessage `json:"device_info"`
	WipeMethod      string          `json:"wipe_method"`
	Timestamp       string          `json:"timestamp"`
	CertificateHash string          `json:"certificate_hash"`
	Signature       string          `json:"signature,omitempty"`
	WiperVersion    string          `json:"wiper_version,omitempty"`
}

// Reason classifies a ValidationError.
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonMalformed Reason = "malformed"
)

// ValidationError reports the first submission field that failed validation.
type ValidationError struct {
	Field  string
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Reason == ReasonMissing {
		return fmt.Sprintf("missing required field: %s", e.Field)
	}
	if e.Detail != "" {
		return fmt.Sprintf("malformed field %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("malformed field: %s", e.Field)
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: ReasonMissing}
}

func malformed(field, detail string) *ValidationError {
	return &ValidationError{Field: field, Reason: ReasonMalformed, Detail: detail}
}

// Layouts accepted for the asserted wipe timestamp. The wiper emits naive
// local ISO-8601 strings; other tools send RFC 3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses an ISO-8601 wipe timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Validate checks completeness first, then well-formedness, and returns the
// first failure. The checks run in field order so the result is stable.
func (s *Submission) Validate() error {
	switch {
	case strings.TrimSpace(s.CertificateID) == "":
		return missing("certificate_id")
	case isAbsent(s.DeviceInfo):
		return missing("device_info")
	case strings.TrimSpace(s.WipeMethod) == "":
		return missing("wipe_method")
	case strings.TrimSpace(s.Timestamp) == "":
		return missing("timestamp")
	case strings.TrimSpace(s.CertificateHash) == "":
		return missing("certificate_hash")
	}

	if utf8.RuneCountInString(s.CertificateID) > MaxCertificateIDLength {
		return malformed("certificate_id", fmt.Sprintf("longer than %d characters", MaxCertificateIDLength))
	}
	if err := checkObject(s.DeviceInfo); err != nil {
		return malformed("device_info", err.Error())
	}
	if _, err := ParseTimestamp(s.Timestamp); err != nil {
		return malformed("timestamp", "not an ISO-8601 date-time")
	}
	if b, err := hex.DecodeString(s.CertificateHash); err != nil || len(b) != 32 {
		return malformed("certificate_hash", "expected 64 hex characters")
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func checkObject(raw json.RawMessage) error {
	v, err := canonjson.Decode(raw)
	if err != nil {
		return err
	}
	if _, ok := v.(map[string]any); !ok {
		return fmt.Errorf("expected a JSON object")
	}
	return nil
}

// DeviceModel extracts the "model" field from device info, or "Unknown".
func DeviceModel(deviceInfo json.RawMessage) string {
	var d struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(deviceInfo, &d); err != nil || d.Model == "" {
		return "Unknown"
	}
	return d.Model
}

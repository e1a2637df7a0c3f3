package certledger_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newLedger(t *testing.T, opts ...certledger.Option) (*certledger.Ledger, *certledger.MemoryStore) {
	t.Helper()
	store := certledger.NewMemoryStore()
	return certledger.New(store, zap.NewNop(), opts...), store
}

func issuedReq(id string) certledger.AppendRequest {
	return certledger.AppendRequest{
		CertificateID: id,
		Content: certledger.Content{
			Origin:       certledger.OriginIssued,
			DeviceInfo:   json.RawMessage(`{"model":"Samsung 870 EVO","serial_number":"S6PNNX0T` + id + `","capacity":"1 TB"}`),
			WipeMethod:   "NIST Purge (Crypto Erase)",
			Timestamp:    "2025-09-20T10:15:30Z",
			WiperVersion: "2.1.0",
		},
		SecretMaterial: "secret-" + id,
	}
}

func mustAppend(t *testing.T, l *certledger.Ledger, ids ...string) []*certledger.Record {
	t.Helper()
	out := make([]*certledger.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := l.Append(ctx, issuedReq(id))
		if err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
		out = append(out, rec)
	}
	return out
}

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/api/handler"
	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/identity"
	"github.com/jmerrifield20/WipeLedger/internal/ingest"
	"github.com/jmerrifield20/WipeLedger/internal/issuance"
)

type testServer struct {
	router *gin.Engine
	ledger *certledger.Ledger
	dbPath string
}

func setupRouter(t *testing.T, tokens *identity.TokenIssuer) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := certledger.OpenSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ledger := certledger.New(store, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	legacy := r.Group("")

	lh := handler.NewLedgerHandler(ledger, logger)
	ih := handler.NewIngestHandler(ingest.NewGateway(ledger, logger), tokens, logger)
	vh := handler.NewVerifyHandler(ledger, logger)
	lh.Register(v1)
	ih.Register(v1)
	vh.Register(v1)
	handler.NewIssueHandler(issuance.New(ledger, logger), tokens, logger).Register(v1)
	lh.RegisterLegacy(legacy)
	ih.RegisterLegacy(legacy)
	vh.RegisterLegacy(legacy)

	return &testServer{router: r, ledger: ledger, dbPath: dbPath}
}

// exec runs raw SQL against the ledger database, bypassing the Sequencer.
func (s *testServer) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatal(err)
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

// submission returns an upload body whose certificate_hash matches its content.
func submission(t *testing.T, id string) map[string]any {
	t.Helper()
	device := json.RawMessage(`{"model":"Seagate Barracuda 2TB","serial_number":"SN-` + id + `"}`)
	hash, err := certledger.IngestedContentHash(id, device, "NIST Purge (Overwrite)", "2025-09-20T10:15:30")
	if err != nil {
		t.Fatal(err)
	}
	return map[string]any{
		"certificate_id":   id,
		"device_info":      device,
		"wipe_method":      "NIST Purge (Overwrite)",
		"timestamp":        "2025-09-20T10:15:30",
		"certificate_hash": hash,
		"signature":        "sig-" + id,
	}
}

func (s *testServer) upload(t *testing.T, id string) {
	t.Helper()
	if w := s.do(t, http.MethodPost, "/api/v1/certificates/upload", submission(t, id)); w.Code != http.StatusCreated {
		t.Fatalf("upload %s: %d %s", id, w.Code, w.Body.String())
	}
}

var bg = context.Background()

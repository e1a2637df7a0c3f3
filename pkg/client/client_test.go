package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/api/handler"
	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/identity"
	"github.com/jmerrifield20/WipeLedger/internal/ingest"
	"github.com/jmerrifield20/WipeLedger/internal/issuance"
	"github.com/jmerrifield20/WipeLedger/pkg/client"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// ── Test server ─────────────────────────────────────────────────────────

func ledgerServer(t *testing.T, tokens *identity.TokenIssuer) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	ledger := certledger.New(certledger.NewMemoryStore(), logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewLedgerHandler(ledger, logger).Register(v1)
	handler.NewIngestHandler(ingest.NewGateway(ledger, logger), tokens, logger).Register(v1)
	handler.NewVerifyHandler(ledger, logger).Register(v1)
	handler.NewIssueHandler(issuance.New(ledger, logger), tokens, logger).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func submission(t *testing.T, id string) client.Submission {
	t.Helper()
	device := json.RawMessage(`{"model":"Crucial MX500 500GB","serial_number":"SN-` + id + `"}`)
	hash, err := certledger.IngestedContentHash(id, device, "NIST Purge (Secure Erase)", "2025-09-21T09:44:05")
	if err != nil {
		t.Fatal(err)
	}
	return client.Submission{
		CertificateID:   id,
		DeviceInfo:      device,
		WipeMethod:      "NIST Purge (Secure Erase)",
		Timestamp:       "2025-09-21T09:44:05",
		CertificateHash: hash,
		Signature:       "sig-" + id,
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestNew_invalidBase(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for invalid base URL")
	}
}

func TestUploadAndQuery(t *testing.T) {
	srv := ledgerServer(t, nil)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	res, err := c.Upload(ctx, submission(t, "CERT-001"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.ChainIndex != 0 || res.BlockchainHash == "" {
		t.Errorf("unexpected receipt %+v", res)
	}

	_, err = c.Upload(ctx, submission(t, "CERT-001"))
	if !errors.Is(err, client.ErrConflict) {
		t.Errorf("duplicate upload: got %v, want ErrConflict", err)
	}

	cert, err := c.Certificate(ctx, "CERT-001")
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	if cert.PreviousHash != nil || cert.ChainLink != res.BlockchainHash {
		t.Errorf("unexpected certificate %+v", cert)
	}

	if _, err := c.Certificate(ctx, "missing"); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("missing certificate: got %v, want ErrNotFound", err)
	}

	root, err := c.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root.Length != 1 || root.Root != res.BlockchainHash {
		t.Errorf("root = %+v", root)
	}
}

func TestSyncAndChain(t *testing.T) {
	srv := ledgerServer(t, nil)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	bad := submission(t, "CERT-003")
	bad.WipeMethod = "tampered"
	res, err := c.Sync(ctx, []client.Submission{submission(t, "CERT-001"), submission(t, "CERT-002"), bad})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Uploaded != 2 || res.Failed != 1 || res.Total != 3 {
		t.Errorf("sync counts = %d/%d/%d", res.Uploaded, res.Failed, res.Total)
	}

	chain, err := c.Chain(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !chain.ChainValid || len(chain.Blockchain) != 2 {
		t.Errorf("chain = %+v", chain)
	}
	if *chain.Blockchain[1].PreviousHash != chain.Blockchain[0].ChainLink {
		t.Error("second entry does not link to the first")
	}

	report, err := c.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Length != 2 || len(report.Breaks) != 0 {
		t.Errorf("report = %+v", report)
	}

	link, err := c.VerifyLink(ctx, "CERT-002")
	if err != nil {
		t.Fatal(err)
	}
	if !link.ChainValid || link.ChainIndex != 1 {
		t.Errorf("link = %+v", link)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalCertificates != 2 || st.RecentCertificates[0].CertificateID != "CERT-002" {
		t.Errorf("status = %+v", st)
	}
}

func TestIssueAndVerifyCode(t *testing.T) {
	srv := ledgerServer(t, nil)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	issued, err := c.Issue(ctx, json.RawMessage(`{"model":"WD Black 4TB"}`), "NIST Clear")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Certificate.Origin != "issued" || issued.VerificationCode == "" {
		t.Errorf("issued = %+v", issued)
	}

	cert, ok, err := c.VerifyCode(ctx, issued.VerificationCode)
	if err != nil || !ok {
		t.Fatalf("VerifyCode: ok=%v err=%v", ok, err)
	}
	if cert.CertificateID != issued.Certificate.CertificateID || !cert.IsVerified {
		t.Errorf("verified certificate = %+v", cert)
	}

	cert, ok, err = c.VerifyCode(ctx, "WRONG-CODE")
	if err != nil || ok || cert != nil {
		t.Errorf("unknown code: cert=%v ok=%v err=%v", cert, ok, err)
	}
}

func TestBearerToken(t *testing.T) {
	tokens, err := identity.NewTokenIssuer(testSecret, "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := ledgerServer(t, tokens)
	ctx := context.Background()

	_, err = client.MustNew(srv.URL).Upload(ctx, submission(t, "CERT-001"))
	if !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("without token: got %v, want ErrUnauthorized", err)
	}

	token, _ := tokens.Issue("station-1", "")
	c := client.MustNew(srv.URL, client.WithBearerToken(token))
	if _, err := c.Upload(ctx, submission(t, "CERT-001")); err != nil {
		t.Fatalf("with token: %v", err)
	}
}

func TestAPIError_message(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"missing required field: timestamp"}`))
	}))
	defer srv.Close()

	_, err := client.MustNew(srv.URL).Upload(context.Background(), client.Submission{})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "missing required field: timestamp" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")

	if tok, err := client.LoadToken(path); err != nil || tok != "" {
		t.Fatalf("missing file: tok=%q err=%v", tok, err)
	}
	if err := client.SaveToken(path, "abc.def.ghi"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
	if tok, err := client.LoadToken(path); err != nil || tok != "abc.def.ghi" {
		t.Errorf("LoadToken = %q, %v", tok, err)
	}
}

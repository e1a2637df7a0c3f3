// Command seed populates a ledger with demo certificates for development.
//
// It appends through the same Sequencer the server uses, so the chain it
// leaves behind verifies. Ingested certificates that already exist are
// skipped, so running twice only adds new issued certificates.
//
// Usage:
//
//	go run ./cmd/seed                                  # sqlite at wipeledger.db
//	SQLITE_PATH=/tmp/demo.db go run ./cmd/seed
//	DATABASE_URL=postgres://... go run ./cmd/seed      # postgres (run cmd/migrate first)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/WipeLedger/internal/certledger"
	"github.com/jmerrifield20/WipeLedger/internal/ingest"
	"github.com/jmerrifield20/WipeLedger/internal/issuance"
)

const defaultSQLitePath = "wipeledger.db"

type demoDrive struct {
	Model    string `json:"model"`
	Type     string `json:"type"`
	Capacity string `json:"capacity"`
	Serial   string `json:"serial_number"`
}

var drives = []struct {
	id        string
	drive     demoDrive
	method    string
	timestamp string
}{
	{"CERT-DEMO-001", demoDrive{"Seagate Barracuda 2TB", "HDD", "2 TB", "SN-HDD-123456789"}, "NIST Purge (Overwrite)", "2025-09-20T10:15:30"},
	{"CERT-DEMO-002", demoDrive{"Samsung 970 EVO Plus 1TB", "NVMe", "1 TB", "SN-NVMe-987654321"}, "NIST Purge (Crypto Erase)", "2025-09-20T11:02:11"},
	{"CERT-DEMO-003", demoDrive{"Crucial MX500 500GB", "SSD", "500 GB", "SN-SSD-456789123"}, "NIST Purge (Secure Erase)", "2025-09-21T09:44:05"},
	{"CERT-DEMO-004", demoDrive{"Western Digital Blue 500GB", "HDD", "500 GB", "SN-HDD-741852963"}, "NIST Clear", "2025-09-21T14:30:00"},
}

var issued = []demoDrive{
	{"SanDisk SSD Plus 240GB", "SSD", "240 GB", "SN-SSD-369258147"},
	{"WD Black 4TB", "HDD", "4 TB", "SN-HDD-852963741"},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	logger := zap.NewNop()

	store, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger := certledger.New(store, logger)

	if err := seedIngested(ctx, ingest.NewGateway(ledger, logger)); err != nil {
		return fmt.Errorf("seed ingested: %w", err)
	}
	if err := seedIssued(ctx, issuance.New(ledger, logger)); err != nil {
		return fmt.Errorf("seed issued: %w", err)
	}

	report, err := ledger.VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Printf("\nchain length %d, valid=%t, root %s\n", report.Length, report.Valid, report.Root)
	return nil
}

func openStore(ctx context.Context, logger *zap.Logger) (certledger.Store, func(), error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping: %w", err)
		}
		fmt.Println("connected to postgres")
		return certledger.NewPostgresStore(db, logger), db.Close, nil
	}

	path := os.Getenv("SQLITE_PATH")
	if path == "" {
		path = defaultSQLitePath
	}
	s, err := certledger.OpenSQLiteStore(path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	fmt.Printf("opened sqlite ledger at %s\n", path)
	return s, func() { _ = s.Close() }, nil
}

func seedIngested(ctx context.Context, gw *ingest.Gateway) error {
	for _, d := range drives {
		device, err := json.Marshal(d.drive)
		if err != nil {
			return err
		}
		hash, err := certledger.IngestedContentHash(d.id, device, d.method, d.timestamp)
		if err != nil {
			return err
		}
		receipt, err := gw.Ingest(ctx, ingest.Submission{
			CertificateID:   d.id,
			DeviceInfo:      device,
			WipeMethod:      d.method,
			Timestamp:       d.timestamp,
			CertificateHash: hash,
			Signature:       "demo-" + d.id,
		})
		if errors.Is(err, certledger.ErrDuplicateID) {
			fmt.Printf("  skip   %s (already in ledger)\n", d.id)
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", d.id, err)
		}
		fmt.Printf("  ingest %s  #%d  code=%s\n", receipt.CertificateID, receipt.Position, "demo-"+d.id)
	}
	return nil
}

func seedIssued(ctx context.Context, svc *issuance.Service) error {
	for _, d := range issued {
		device, err := json.Marshal(d)
		if err != nil {
			return err
		}
		out, err := svc.Issue(ctx, issuance.Request{DeviceInfo: device, WipeMethod: "NIST Clear"})
		if err != nil {
			return fmt.Errorf("%s: %w", d.Serial, err)
		}
		fmt.Printf("  issue  %s  #%d  code=%s\n", out.Certificate.CertificateID, out.Certificate.Position, out.VerificationCode)
	}
	return nil
}

package certledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS certificates (
	position         INTEGER PRIMARY KEY,
	certificate_id   TEXT    NOT NULL UNIQUE,
	origin           TEXT    NOT NULL,
	device_info      TEXT    NOT NULL,
	wipe_method      TEXT    NOT NULL,
	timestamp        TEXT    NOT NULL,
	wiper_version    TEXT    NOT NULL DEFAULT '',
	content_hash     TEXT    NOT NULL,
	verification_key TEXT    NOT NULL,
	created_at       TEXT    NOT NULL,
	is_verified      INTEGER NOT NULL DEFAULT 0,
	verified_at      TEXT,
	previous_link    TEXT    NOT NULL,
	chain_link       TEXT    NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_certificates_verification_key ON certificates(verification_key);
`

const sqliteColumns = `position, certificate_id, origin, device_info, wipe_method, timestamp,
	wiper_version, content_hash, verification_key, created_at, is_verified, verified_at,
	previous_link, chain_link`

// SQLiteStore persists the ledger to a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteStore opens or creates a ledger database at path.
func OpenSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tail implements Store.
func (s *SQLiteStore) Tail(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx, "tail",
		`SELECT `+sqliteColumns+` FROM certificates ORDER BY position DESC LIMIT 1`)
}

// Insert implements Store. The tail condition and the insert are a single
// statement, so no other writer can slip in between them.
func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (`+sqliteColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?
		WHERE COALESCE((SELECT MAX(position) FROM certificates), -1) = ? - 1
		  AND COALESCE((SELECT chain_link FROM certificates WHERE position = ? - 1), '') = ?`,
		rec.Position, rec.CertificateID, string(rec.Origin), string(rec.DeviceInfo),
		rec.WipeMethod, rec.Timestamp, rec.WiperVersion, rec.ContentHash,
		rec.VerificationKey, formatTime(rec.CreatedAt), rec.PreviousLink, rec.ChainLink,
		rec.Position, rec.Position, rec.PreviousLink,
	)
	if err != nil {
		if isSQLiteUnique(err, "certificates.certificate_id") {
			return ErrDuplicateID
		}
		if isSQLiteUnique(err, "certificates.position") {
			return ErrTailMoved
		}
		return unavailable("insert certificate", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("insert certificate", err)
	}
	if n == 0 {
		return ErrTailMoved
	}
	return nil
}

// GetByID implements Store.
func (s *SQLiteStore) GetByID(ctx context.Context, certificateID string) (*Record, error) {
	return s.queryOne(ctx, "get certificate",
		`SELECT `+sqliteColumns+` FROM certificates WHERE certificate_id = ?`, certificateID)
}

// GetByChainLink implements Store.
func (s *SQLiteStore) GetByChainLink(ctx context.Context, link string) (*Record, error) {
	return s.queryOne(ctx, "get by chain link",
		`SELECT `+sqliteColumns+` FROM certificates WHERE chain_link = ?`, link)
}

// GetByVerificationKey implements Store.
func (s *SQLiteStore) GetByVerificationKey(ctx context.Context, key string) (*Record, error) {
	return s.queryOne(ctx, "get by verification key",
		`SELECT `+sqliteColumns+` FROM certificates WHERE verification_key = ?
		 ORDER BY position LIMIT 1`, key)
}

// Range implements Store.
func (s *SQLiteStore) Range(ctx context.Context, offset, limit int) ([]*Record, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM certificates ORDER BY position LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, unavailable("range certificates", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("range certificates", err)
	}
	return out, nil
}

// Scan implements Store. A single SELECT reads from one snapshot.
func (s *SQLiteStore) Scan(ctx context.Context, fn func(*Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM certificates ORDER BY position`)
	if err != nil {
		return unavailable("scan certificates", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return unavailable("scan certificates", err)
	}
	return nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates`).Scan(&n); err != nil {
		return 0, unavailable("count certificates", err)
	}
	return n, nil
}

// MarkVerified implements Store.
func (s *SQLiteStore) MarkVerified(ctx context.Context, certificateID string, at time.Time) (*Record, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE certificates SET is_verified = 1, verified_at = ? WHERE certificate_id = ?`,
		formatTime(at), certificateID)
	if err != nil {
		return nil, unavailable("mark verified", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, certificateID)
}

func (s *SQLiteStore) queryOne(ctx context.Context, op, query string, args ...any) (*Record, error) {
	rec, err := scanSQLite(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(op, err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*Record, error) {
	var (
		rec            Record
		origin, device string
		createdAt      string
		verified       int
		verifiedAt     sql.NullString
	)
	if err := row.Scan(
		&rec.Position, &rec.CertificateID, &origin, &device, &rec.WipeMethod,
		&rec.Timestamp, &rec.WiperVersion, &rec.ContentHash, &rec.VerificationKey,
		&createdAt, &verified, &verifiedAt, &rec.PreviousLink, &rec.ChainLink,
	); err != nil {
		return nil, err
	}
	rec.Origin = Origin(origin)
	rec.DeviceInfo = []byte(device)
	rec.IsVerified = verified != 0

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", rec.CertificateID, err)
	}
	rec.CreatedAt = ts.UTC()

	if verifiedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, verifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse verified_at of %s: %w", rec.CertificateID, err)
		}
		at = at.UTC()
		rec.VerifiedAt = &at
	}
	return &rec, nil
}

func isSQLiteUnique(err error, column string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return false
	}
	return strings.Contains(se.Error(), column)
}

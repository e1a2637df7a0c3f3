package certledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises inserts across every ledgerd instance sharing
// the database. The value is arbitrary but must be the same everywhere.
const advisoryLockKey = int64(2_026_091_701)

const pgColumns = `position, certificate_id, origin, device_info, wipe_method, timestamp,
	wiper_version, content_hash, verification_key, created_at, is_verified, verified_at,
	previous_link, chain_link`

// PostgresStore persists the ledger to PostgreSQL. The schema lives in
// migrations/001_certificates.up.sql.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx, "tail",
		`SELECT `+pgColumns+` FROM certificates ORDER BY position DESC LIMIT 1`)
}

// Insert implements Store. It takes a transaction-scoped advisory lock,
// re-reads the tail and inserts only if the tail is still the one rec was
// derived from.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return unavailable("acquire advisory lock", err)
	}

	var (
		tailPos  int64 = -1
		tailLink       = NoPreviousLink
	)
	err = tx.QueryRow(ctx,
		"SELECT position, chain_link FROM certificates ORDER BY position DESC LIMIT 1",
	).Scan(&tailPos, &tailLink)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return unavailable("read ledger tail", err)
	}
	if tailPos != rec.Position-1 || tailLink != rec.PreviousLink {
		return ErrTailMoved
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO certificates (`+pgColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, NULL, $11, $12)`,
		rec.Position, rec.CertificateID, string(rec.Origin), string(rec.DeviceInfo),
		rec.WipeMethod, rec.Timestamp, rec.WiperVersion, rec.ContentHash,
		rec.VerificationKey, rec.CreatedAt, rec.PreviousLink, rec.ChainLink,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "certificates_certificate_id_key" {
			return ErrDuplicateID
		}
		return unavailable("insert certificate", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit certificate tx", err)
	}
	return nil
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, certificateID string) (*Record, error) {
	return s.queryOne(ctx, "get certificate",
		`SELECT `+pgColumns+` FROM certificates WHERE certificate_id = $1`, certificateID)
}

// GetByChainLink implements Store.
func (s *PostgresStore) GetByChainLink(ctx context.Context, link string) (*Record, error) {
	return s.queryOne(ctx, "get by chain link",
		`SELECT `+pgColumns+` FROM certificates WHERE chain_link = $1`, link)
}

// GetByVerificationKey implements Store.
func (s *PostgresStore) GetByVerificationKey(ctx context.Context, key string) (*Record, error) {
	return s.queryOne(ctx, "get by verification key",
		`SELECT `+pgColumns+` FROM certificates WHERE verification_key = $1
		 ORDER BY position LIMIT 1`, key)
}

// Range implements Store.
func (s *PostgresStore) Range(ctx context.Context, offset, limit int) ([]*Record, error) {
	if offset < 0 {
		offset = 0
	}
	var lim any // NULL means ALL
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM certificates ORDER BY position LIMIT $1 OFFSET $2`,
		lim, offset)
	if err != nil {
		return nil, unavailable("range certificates", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, unavailable("scan certificate row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("range certificates", err)
	}
	return out, nil
}

// Scan implements Store. It streams all rows ordered by position inside a
// repeatable-read transaction so the walk sees a single snapshot.
func (s *PostgresStore) Scan(ctx context.Context, fn func(*Record) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return unavailable("begin scan tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT `+pgColumns+` FROM certificates ORDER BY position ASC`)
	if err != nil {
		return unavailable("query ledger", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return unavailable("scan certificate row", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return unavailable("query ledger", err)
	}
	return nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM certificates").Scan(&n); err != nil {
		return 0, unavailable("count certificates", err)
	}
	return n, nil
}

// MarkVerified implements Store.
func (s *PostgresStore) MarkVerified(ctx context.Context, certificateID string, at time.Time) (*Record, error) {
	return s.queryOne(ctx, "mark verified",
		`UPDATE certificates SET is_verified = true, verified_at = $2
		 WHERE certificate_id = $1
		 RETURNING `+pgColumns, certificateID, at)
}

func (s *PostgresStore) queryOne(ctx context.Context, op, query string, args ...any) (*Record, error) {
	rec, err := scanPostgres(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(op, err)
	}
	return rec, nil
}

func scanPostgres(row pgx.Row) (*Record, error) {
	var (
		rec            Record
		origin, device string
		verifiedAt     *time.Time
	)
	if err := row.Scan(
		&rec.Position, &rec.CertificateID, &origin, &device, &rec.WipeMethod,
		&rec.Timestamp, &rec.WiperVersion, &rec.ContentHash, &rec.VerificationKey,
		&rec.CreatedAt, &rec.IsVerified, &verifiedAt, &rec.PreviousLink, &rec.ChainLink,
	); err != nil {
		return nil, err
	}
	rec.Origin = Origin(origin)
	rec.DeviceInfo = []byte(device)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if verifiedAt != nil {
		at := verifiedAt.UTC()
		rec.VerifiedAt = &at
	}
	return &rec, nil
}

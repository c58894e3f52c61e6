package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"alert-trader/internal/orderlog"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertOrderSQL = `INSERT INTO order_log (
        created_at,
        symbol,
        side,
        price,
        quantity,
        status,
        message
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id;`

	listRecentOrdersSQL = `SELECT
        id,
        created_at,
        symbol,
        side,
        price::text,
        quantity::text,
        status,
        message
    FROM order_log
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listOrdersBetweenSQL = `SELECT
        id,
        created_at,
        symbol,
        side,
        price::text,
        quantity::text,
        status,
        message
    FROM order_log
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at, id
    LIMIT $3;`

	trimOrdersSQL = `DELETE FROM order_log
    WHERE id NOT IN (
        SELECT id FROM order_log ORDER BY created_at DESC, id DESC LIMIT $1
    );`

	countOrdersSQL = `SELECT COUNT(*) FROM order_log;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OrderStore defines operations for order log persistence.
type OrderStore interface {
	InsertOrder(ctx context.Context, rec OrderRecord) (int64, error)
	ListRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error)
	ListOrdersBetween(ctx context.Context, from, to time.Time, limit int) ([]OrderRecord, error)
	TrimOrders(ctx context.Context, keep int) (int64, error)
	CountOrders(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists the order log in PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	retention int
}

// NewStore wires a pgx pool into a Store. retention bounds the table size
// when entries are appended through AppendOrder; zero disables trimming.
func NewStore(pool *pgxpool.Pool, retention int) *Store {
	return &Store{pool: pool, retention: retention}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies every *.sql file in dir in lexical order. Files must be
// idempotent.
func (s *Store) Migrate(ctx context.Context, dir string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 解锁失败时连接释放后会话锁随之失效。
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendOrder implements orderlog.Sink, trimming the table to the retention bound.
func (s *Store) AppendOrder(ctx context.Context, entry orderlog.Entry) error {
	if _, err := s.InsertOrder(ctx, RecordFromEntry(entry)); err != nil {
		return err
	}
	if s.retention > 0 {
		if _, err := s.TrimOrders(ctx, s.retention); err != nil {
			return err
		}
	}
	return nil
}

// InsertOrder persists one order log row.
func (s *Store) InsertOrder(ctx context.Context, rec OrderRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertOrderSQL,
		rec.CreatedAt,
		rec.Symbol,
		rec.Side,
		nullableString(rec.Price),
		nullableString(rec.Quantity),
		rec.Status,
		rec.Message,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert order: %w", scanErr)
	}
	return id, nil
}

// ListRecentOrders lists the most recent rows, newest first.
func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOrdersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent orders: %w", queryErr)
	}
	defer rows.Close()

	return collectOrders(rows, limit)
}

// LoadOrders returns up to limit entries, most recent first, for warming the
// in-memory log.
func (s *Store) LoadOrders(ctx context.Context, limit int) ([]orderlog.Entry, error) {
	records, err := s.ListRecentOrders(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]orderlog.Entry, len(records))
	for i, rec := range records {
		entries[i] = rec.Entry()
	}
	return entries, nil
}

// ListOrdersBetween lists rows within a time window, oldest first.
func (s *Store) ListOrdersBetween(ctx context.Context, from, to time.Time, limit int) ([]OrderRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOrdersBetweenSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list orders between: %w", queryErr)
	}
	defer rows.Close()

	return collectOrders(rows, 0)
}

// TrimOrders deletes everything but the newest keep rows.
func (s *Store) TrimOrders(ctx context.Context, keep int) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, trimOrdersSQL, keep)
	if execErr != nil {
		return 0, fmt.Errorf("trim orders: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// CountOrders counts stored rows.
func (s *Store) CountOrders(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countOrdersSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count orders: %w", scanErr)
	}
	return count, nil
}

func collectOrders(rows pgx.Rows, capHint int) ([]OrderRecord, error) {
	if capHint < 0 {
		capHint = 0
	}
	records := make([]OrderRecord, 0, capHint)
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanOrder(rows pgx.Rows) (OrderRecord, error) {
	var (
		rec         OrderRecord
		priceStr    *string
		quantityStr *string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.CreatedAt,
		&rec.Symbol,
		&rec.Side,
		&priceStr,
		&quantityStr,
		&rec.Status,
		&rec.Message,
	); err != nil {
		return OrderRecord{}, err
	}

	var err error
	if rec.Price, err = parseNullable(priceStr); err != nil {
		return OrderRecord{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.Quantity, err = parseNullable(quantityStr); err != nil {
		return OrderRecord{}, fmt.Errorf("parse quantity: %w", err)
	}
	return rec, nil
}

func parseNullable(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var (
	_ OrderStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ orderlog.Sink  = (*Store)(nil)
)

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"salesinsight/internal/core"

	_ "modernc.org/sqlite"
)

const (
	insertProductSQL = `
		INSERT INTO products (id, title, price, price_text, description, category, image, sold, date_of_sale, month_key, bucket_idx)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectProductSQL = `
		SELECT id, title, price_text, description, category, image, sold, date_of_sale
		FROM products
		WHERE month_key = ?`
)

// SQLiteRepository is the durable TransactionStore.
type SQLiteRepository struct {
	db  *sql.DB
	dsn string
}

// Open connects to the database at dbPath without touching the schema.
// Call EnsureSchema before the first read or write.
func Open(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := buildDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, dsn: dsn}, nil
}

// NewSQLiteRepository opens the database and applies migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	repo, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(context.Background()); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// buildDSN enables WAL so readers keep seeing the last committed snapshot
// while a bulk insert is open, and takes the write lock at BEGIN.
func buildDSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// EnsureSchema creates the products table and its indexes if absent, then
// fills the derived columns of rows written by older versions.
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	if err := RunMigrations(r.dsn); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := r.backfillDerived(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	slog.DebugContext(ctx, "Schema is up to date", "dsn", r.dsn)
	return nil
}

// BulkInsert writes every record inside one transaction. Each statement is
// executed and checked before COMMIT is issued; the first failure rolls the
// whole batch back.
func (r *SQLiteRepository) BulkInsert(ctx context.Context, records []core.TransactionRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertProductSQL)
	if err != nil {
		return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("record %d (id %d): %w", i, rec.ID, err))
		}
		monthKey, _ := rec.MonthKey()
		bucket := core.BucketIndex(rec.Price)
		_, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.Title,
			rec.Price.InexactFloat64(),
			rec.Price.String(),
			nullString(rec.Description),
			rec.Category,
			nullString(rec.Image),
			boolToInt(rec.Sold),
			rec.DateOfSale,
			monthKey,
			bucket,
		)
		if err != nil {
			return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("insert record %d (id %d): %w", i, rec.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Wrap(core.ErrIngestion, "bulk insert", fmt.Errorf("commit: %w", err))
	}

	slog.InfoContext(ctx, "Products saved to SQLite", "count", len(records))
	return nil
}

// QueryByMonth streams the records of one month. Rows are read lazily and
// the cursor is released when iteration stops.
func (r *SQLiteRepository) QueryByMonth(ctx context.Context, monthKey string, filter core.MonthFilter) iter.Seq2[core.TransactionRecord, error] {
	return func(yield func(core.TransactionRecord, error) bool) {
		query := selectProductSQL
		args := []any{monthKey}
		if filter.Sold != nil {
			query += " AND sold = ?"
			args = append(args, boolToInt(*filter.Sold))
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(core.TransactionRecord{}, fmt.Errorf("query products by month %s: %w", monthKey, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanProduct(rows)
			if err != nil {
				yield(core.TransactionRecord{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(core.TransactionRecord{}, fmt.Errorf("iterate products: %w", err))
		}
	}
}

// Count returns the number of stored records.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// PriceHistogram groups the month's records by the bucket index stored at
// insert time, which was computed from the exact decimal price. Buckets
// without rows are not returned.
func (r *SQLiteRepository) PriceHistogram(ctx context.Context, monthKey string) ([]core.PriceRangeCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bucket_idx, COUNT(*) AS item_count
		FROM products
		WHERE month_key = ?
		GROUP BY bucket_idx
		ORDER BY bucket_idx`, monthKey)
	if err != nil {
		return nil, fmt.Errorf("query price histogram: %w", err)
	}
	defer rows.Close()

	var out []core.PriceRangeCount
	for rows.Next() {
		var (
			idx   sql.NullInt64
			count int64
		)
		if err := rows.Scan(&idx, &count); err != nil {
			return nil, fmt.Errorf("scan price histogram: %w", err)
		}
		if !idx.Valid || idx.Int64 < 0 || int(idx.Int64) >= len(core.PriceBuckets) {
			return nil, fmt.Errorf("month %s: unexpected bucket index %v", monthKey, idx)
		}
		out = append(out, core.PriceRangeCount{PriceRange: core.PriceBuckets[idx.Int64].Label, ItemCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price histogram: %w", err)
	}
	return out, nil
}

// CategoryCounts groups the month's records by exact category value.
func (r *SQLiteRepository) CategoryCounts(ctx context.Context, monthKey string) ([]core.CategoryCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS item_count
		FROM products
		WHERE month_key = ?
		GROUP BY category
		ORDER BY category`, monthKey)
	if err != nil {
		return nil, fmt.Errorf("query category counts: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryCount
	for rows.Next() {
		var cc core.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.ItemCount); err != nil {
			return nil, fmt.Errorf("scan category counts: %w", err)
		}
		out = append(out, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return out, nil
}

type derivedRow struct {
	id       int64
	monthKey string
	bucket   int
}

// backfillDerived computes bucket_idx, and recomputes month_key, for rows
// inserted before bucket_idx existed.
func (r *SQLiteRepository) backfillDerived(ctx context.Context) (err error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, price_text, date_of_sale FROM products WHERE bucket_idx IS NULL`)
	if err != nil {
		return fmt.Errorf("select rows to backfill: %w", err)
	}
	var pending []derivedRow
	for rows.Next() {
		var (
			id              int64
			priceText, date string
		)
		if err := rows.Scan(&id, &priceText, &date); err != nil {
			rows.Close()
			return fmt.Errorf("scan row to backfill: %w", err)
		}
		price, err := decimal.NewFromString(priceText)
		if err != nil {
			rows.Close()
			return fmt.Errorf("parse stored price %q for id %d: %w", priceText, id, err)
		}
		monthKey, err := core.MonthKeyFromDate(date)
		if err != nil {
			rows.Close()
			return fmt.Errorf("backfill id %d: %w", id, err)
		}
		pending = append(pending, derivedRow{id: id, monthKey: monthKey, bucket: core.BucketIndex(price)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate rows to backfill: %w", err)
	}
	rows.Close()
	if len(pending) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin backfill: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `UPDATE products SET bucket_idx = ?, month_key = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare backfill: %w", err)
	}
	defer stmt.Close()
	for _, row := range pending {
		if _, err := stmt.ExecContext(ctx, row.bucket, row.monthKey, row.id); err != nil {
			return fmt.Errorf("backfill id %d: %w", row.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backfill: %w", err)
	}

	slog.InfoContext(ctx, "Backfilled derived product columns", "count", len(pending))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (core.TransactionRecord, error) {
	var (
		rec         core.TransactionRecord
		priceText   string
		description sql.NullString
		image       sql.NullString
		sold        int64
	)
	if err := row.Scan(&rec.ID, &rec.Title, &priceText, &description, &rec.Category, &image, &sold, &rec.DateOfSale); err != nil {
		return core.TransactionRecord{}, fmt.Errorf("scan product: %w", err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return core.TransactionRecord{}, fmt.Errorf("parse stored price %q for id %d: %w", priceText, rec.ID, err)
	}
	rec.Price = price
	rec.Sold = sold != 0
	if description.Valid {
		rec.Description = &description.String
	}
	if image.Valid {
		rec.Image = &image.String
	}
	return rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

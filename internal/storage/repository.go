// Package storage implements the durable record store of the ledger: a
// single SQLite table of shipments plus a key-value table of product price
// overrides. All I/O errors are surfaced wrapped and unretried.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shipledger/internal/core"

	_ "modernc.org/sqlite"
)

// ErrShipmentNotFound is returned by update paths referencing an absent id.
var ErrShipmentNotFound = errors.New("shipment not found")

// Fields a scan can be ordered by.
const (
	OrderByCreatedAt   OrderField = "created_at"
	OrderByCompletedAt OrderField = "completed_at"
)

type (
	OrderField string

	// ScanOrder selects the ordering of a shipment scan. The zero value
	// is creation time descending, the ledger default.
	ScanOrder struct {
		Field     OrderField
		Ascending bool
	}

	SQLiteRepository struct {
		db *sql.DB
	}
)

// completionMonthExpr derives the "MM-YYYY" tag of completed_at in SQL.
// Timestamps are stored as unix milliseconds.
const completionMonthExpr = `strftime('%m-%Y', datetime(completed_at/1000, 'unixepoch'))`

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertShipment appends a record and returns the id assigned by the store.
// Ids are monotonic and never reused.
func (r *SQLiteRepository) InsertShipment(ctx context.Context, s core.Shipment) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO shipments (product, quantity, destination, created_at, unit_price_cents, status, returned_quantity, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.Product), s.Quantity, s.Destination, unixMilli(s.CreatedAt),
		s.UnitPrice.Cents, string(s.Status), s.ReturnedQuantity, nullMilli(s.CompletedAt))
	if err != nil {
		return 0, fmt.Errorf("insert shipment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("shipment id: %w", err)
	}

	slog.InfoContext(ctx, "Shipment saved",
		"id", id,
		"product", s.Product,
		"quantity", s.Quantity,
		"destination", s.Destination,
		"unit_price_cents", s.UnitPrice.Cents)

	return id, nil
}

// UpdateShipment replaces the record with the same id.
func (r *SQLiteRepository) UpdateShipment(ctx context.Context, s core.Shipment) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shipments
		SET product = ?, quantity = ?, destination = ?, created_at = ?, unit_price_cents = ?, status = ?, returned_quantity = ?, completed_at = ?
		WHERE id = ?`,
		string(s.Product), s.Quantity, s.Destination, unixMilli(s.CreatedAt),
		s.UnitPrice.Cents, string(s.Status), s.ReturnedQuantity, nullMilli(s.CompletedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update shipment %d: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update shipment %d: rows affected: %w", s.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update shipment %d: %w", s.ID, ErrShipmentNotFound)
	}
	return nil
}

// GetShipment returns the record with the given id, or nil when absent.
// Absence is not an error.
func (r *SQLiteRepository) GetShipment(ctx context.Context, id int64) (*core.Shipment, error) {
	row := r.db.QueryRowContext(ctx, selectShipment+` WHERE id = ?`, id)
	s, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment %d: %w", id, err)
	}
	return &s, nil
}

// DeleteShipment removes a record. Deleting an absent id is a no-op.
func (r *SQLiteRepository) DeleteShipment(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM shipments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete shipment %d: %w", id, err)
	}
	return nil
}

// ListShipments scans the store with the filter's composite predicate.
// A filter with no criteria returns every record.
func (r *SQLiteRepository) ListShipments(ctx context.Context, f core.ShipmentFilter, order ScanOrder) ([]core.Shipment, error) {
	where, args, ok := buildWhere(ctx, f)
	if !ok {
		return []core.Shipment{}, nil
	}

	rows, err := r.db.QueryContext(ctx, selectShipment+where+orderClause(order), args...)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	return collectShipments(rows)
}

// Totals aggregates value and count over the filtered subset in SQL.
func (r *SQLiteRepository) Totals(ctx context.Context, f core.ShipmentFilter) (core.Totals, error) {
	where, args, ok := buildWhere(ctx, f)
	if !ok {
		return core.Totals{}, nil
	}

	var t core.Totals
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((quantity - returned_quantity) * unit_price_cents), 0), COUNT(*)
		FROM shipments`+where, args...)
	if err := row.Scan(&t.Value.Cents, &t.Count); err != nil {
		return core.Totals{}, fmt.Errorf("shipment totals: %w", err)
	}
	return t, nil
}

// AvailableCompletionMonths returns the distinct month tags carrying at
// least one completed shipment, most recent month first.
func (r *SQLiteRepository) AvailableCompletionMonths(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+completionMonthExpr+` AS month_tag, MAX(completed_at) AS latest
		FROM shipments
		WHERE status = ? AND completed_at IS NOT NULL
		GROUP BY month_tag
		ORDER BY latest DESC`, string(core.StatusComplete))
	if err != nil {
		return nil, fmt.Errorf("completion months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var tag string
		var latest int64
		if err := rows.Scan(&tag, &latest); err != nil {
			return nil, fmt.Errorf("scan completion month: %w", err)
		}
		months = append(months, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("completion months: %w", err)
	}
	return months, nil
}

// CompletedValueByMonth sums the completed value booked in one completion
// month. A malformed tag sums to zero rather than raising an error.
func (r *SQLiteRepository) CompletedValueByMonth(ctx context.Context, monthTag string) (core.Money, error) {
	if _, _, err := core.ParseMonthTag(monthTag); err != nil {
		slog.WarnContext(ctx, "Malformed month tag, no completed value", "month", monthTag)
		return core.Money{}, nil
	}

	var m core.Money
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((quantity - returned_quantity) * unit_price_cents), 0)
		FROM shipments
		WHERE status = ? AND `+completionMonthExpr+` = ?`,
		string(core.StatusComplete), monthTag)
	if err := row.Scan(&m.Cents); err != nil {
		return core.Money{}, fmt.Errorf("completed value for %s: %w", monthTag, err)
	}
	return m, nil
}

// CompletedShipmentsByMonth lists the completed shipments of one completion
// month, newest completion first. A malformed tag yields an empty result.
func (r *SQLiteRepository) CompletedShipmentsByMonth(ctx context.Context, monthTag string) ([]core.Shipment, error) {
	if _, _, err := core.ParseMonthTag(monthTag); err != nil {
		slog.WarnContext(ctx, "Malformed month tag, no completed shipments", "month", monthTag)
		return []core.Shipment{}, nil
	}

	rows, err := r.db.QueryContext(ctx, selectShipment+`
		WHERE status = ? AND `+completionMonthExpr+` = ?
		ORDER BY completed_at DESC`,
		string(core.StatusComplete), monthTag)
	if err != nil {
		return nil, fmt.Errorf("completed shipments for %s: %w", monthTag, err)
	}
	defer rows.Close()

	return collectShipments(rows)
}

// GetPrices loads all persisted price overrides.
func (r *SQLiteRepository) GetPrices(ctx context.Context) (map[core.Product]core.Money, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT product, price_cents FROM product_prices`)
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[core.Product]core.Money)
	for rows.Next() {
		var product string
		var cents int64
		if err := rows.Scan(&product, &cents); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices[core.Product(product)] = core.Money{Cents: cents}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	return prices, nil
}

// SetPrice upserts a product's price override.
func (r *SQLiteRepository) SetPrice(ctx context.Context, product core.Product, price core.Money) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_prices (product, price_cents, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(product) DO UPDATE SET price_cents = excluded.price_cents, updated_at = excluded.updated_at`,
		string(product), price.Cents, unixMilli(time.Now()))
	if err != nil {
		return fmt.Errorf("set price for %s: %w", product, err)
	}

	slog.InfoContext(ctx, "Price override saved", "product", product, "price_cents", price.Cents)
	return nil
}

const selectShipment = `
	SELECT id, product, quantity, destination, created_at, unit_price_cents, status, returned_quantity, completed_at
	FROM shipments`

// buildWhere translates the composite predicate to SQL, one condition per
// present criterion. ok is false when the filter provably selects nothing
// (malformed month tag), so callers can skip the query entirely.
func buildWhere(ctx context.Context, f core.ShipmentFilter) (clause string, args []any, ok bool) {
	var conds []string

	if f.Product != nil {
		conds = append(conds, "product = ?")
		args = append(args, string(*f.Product))
	}
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.DateStart != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, unixMilli(*f.DateStart))
	}
	if f.DateEnd != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, unixMilli(*f.DateEnd))
	}
	if f.MonthTag != "" {
		start, end, err := core.MonthInterval(f.MonthTag)
		if err != nil {
			slog.WarnContext(ctx, "Malformed month tag in filter, empty result", "month", f.MonthTag)
			return "", nil, false
		}
		conds = append(conds, "created_at >= ?", "created_at <= ?")
		args = append(args, unixMilli(start), unixMilli(end))
	}

	if len(conds) == 0 {
		return "", nil, true
	}
	return " WHERE " + strings.Join(conds, " AND "), args, true
}

func orderClause(order ScanOrder) string {
	field := order.Field
	if field != OrderByCreatedAt && field != OrderByCompletedAt {
		field = OrderByCreatedAt
	}
	dir := "DESC"
	if order.Ascending {
		dir = "ASC"
	}
	return " ORDER BY " + string(field) + " " + dir
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (core.Shipment, error) {
	var (
		s         core.Shipment
		product   string
		status    string
		createdMs int64
		completed sql.NullInt64
	)
	err := row.Scan(&s.ID, &product, &s.Quantity, &s.Destination, &createdMs,
		&s.UnitPrice.Cents, &status, &s.ReturnedQuantity, &completed)
	if err != nil {
		return core.Shipment{}, err
	}
	s.Product = core.Product(product)
	s.Status = core.Status(status)
	s.CreatedAt = fromUnixMilli(createdMs)
	if completed.Valid {
		t := fromUnixMilli(completed.Int64)
		s.CompletedAt = &t
	}
	return s, nil
}

func collectShipments(rows *sql.Rows) ([]core.Shipment, error) {
	shipments := []core.Shipment{}
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		shipments = append(shipments, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipments: %w", err)
	}
	return shipments, nil
}

func unixMilli(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixMilli(*t)
}

// Package archive persists completed invoices and settlements to a
// relational database for reporting and audit. SQLite is the default;
// Postgres serves shared deployments.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/settlement"
	"github.com/instanttrade/itnd/internal/core/version"
)

// Config selects the driver and data source.
type Config struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// DB is the archive handle.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	sqldb, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", driver, err)
	}
	a := &DB{db: sqldb, driver: driver}
	if err := a.migrate(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return a, nil
}

func (a *DB) Close() error { return a.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		terms INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		fx_rate TEXT,
		fx_timestamp TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		accepted_at TIMESTAMP,
		archived_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		capital_provider_id TEXT NOT NULL,
		rail_name TEXT NOT NULL,
		advance_id TEXT,
		discount_rate TEXT NOT NULL,
		buyer_cost TEXT NOT NULL,
		status TEXT NOT NULL,
		acceptance_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		archived_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS migration_log (
		migration_id TEXT PRIMARY KEY,
		from_version TEXT NOT NULL,
		to_version TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(supplier_id)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_invoice ON settlements(invoice_id)`,
}

func (a *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
	}
	return nil
}

// placeholder renders the n-th bind parameter for the active driver.
func (a *DB) placeholder(n int) string {
	if a.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (a *DB) binds(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += a.placeholder(i)
	}
	return out
}

// SaveInvoice upserts one invoice row.
func (a *DB) SaveInvoice(ctx context.Context, inv *invoice.Invoice, archivedAt time.Time) error {
	del := fmt.Sprintf(`DELETE FROM invoices WHERE id = %s`, a.placeholder(1))
	if _, err := a.db.ExecContext(ctx, del, inv.ID); err != nil {
		return fmt.Errorf("archive invoice %s: %w", inv.ID, err)
	}
	ins := fmt.Sprintf(`INSERT INTO invoices
		(id, supplier_id, buyer_id, amount, currency, terms, content_hash,
		 status, fx_rate, fx_timestamp, created_at, accepted_at, archived_at)
		VALUES (%s)`, a.binds(13))
	_, err := a.db.ExecContext(ctx, ins,
		inv.ID, inv.SupplierID, inv.BuyerID, inv.Amount.StringFixed(2), inv.Currency,
		inv.Terms, inv.ContentHash, string(inv.Status), inv.FXRate.String(),
		nullTime(inv.FXTimestamp), inv.CreatedAt, nullTime(inv.AcceptedAt), archivedAt)
	if err != nil {
		return fmt.Errorf("archive invoice %s: %w", inv.ID, err)
	}
	return nil
}

// SaveSettlement upserts one settlement row.
func (a *DB) SaveSettlement(ctx context.Context, s *settlement.Settlement, archivedAt time.Time) error {
	del := fmt.Sprintf(`DELETE FROM settlements WHERE id = %s`, a.placeholder(1))
	if _, err := a.db.ExecContext(ctx, del, s.ID); err != nil {
		return fmt.Errorf("archive settlement %s: %w", s.ID, err)
	}
	ins := fmt.Sprintf(`INSERT INTO settlements
		(id, invoice_id, supplier_id, buyer_id, capital_provider_id, rail_name,
		 advance_id, discount_rate, buyer_cost, status, acceptance_at,
		 completed_at, archived_at)
		VALUES (%s)`, a.binds(13))
	_, err := a.db.ExecContext(ctx, ins,
		s.ID, s.InvoiceID, s.SupplierID, s.BuyerID, s.CapitalProviderID, s.RailName,
		s.AdvanceID, s.DiscountRate.String(), s.BuyerCost.StringFixed(2), string(s.Status),
		s.AcceptanceAt, nullTime(s.CompletedAt), archivedAt)
	if err != nil {
		return fmt.Errorf("archive settlement %s: %w", s.ID, err)
	}
	return nil
}

// AppendMigrationRecord writes one migration log row, satisfying
// version.RecordSink.
func (a *DB) AppendMigrationRecord(r version.Record) error {
	ins := fmt.Sprintf(`INSERT INTO migration_log
		(migration_id, from_version, to_version, status, error, started_at, completed_at)
		VALUES (%s)`, a.binds(7))
	_, err := a.db.Exec(ins,
		r.MigrationID, r.FromVersion, r.ToVersion, string(r.Status), r.Error,
		r.StartedAt, nullTime(r.CompletedAt))
	return err
}

// InvoiceRow is one archived invoice.
type InvoiceRow struct {
	ID         string
	SupplierID string
	BuyerID    string
	Amount     decimal.Decimal
	Currency   string
	Status     string
	CreatedAt  time.Time
	ArchivedAt time.Time
}

// InvoicesByStatus lists archived invoices in a status, newest first.
func (a *DB) InvoicesByStatus(ctx context.Context, status string, limit int) ([]InvoiceRow, error) {
	q := fmt.Sprintf(`SELECT id, supplier_id, buyer_id, amount, currency, status, created_at, archived_at
		FROM invoices WHERE status = %s ORDER BY created_at DESC LIMIT %s`,
		a.placeholder(1), a.placeholder(2))
	rows, err := a.db.QueryContext(ctx, q, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvoiceRow
	for rows.Next() {
		var r InvoiceRow
		var amount string
		if err := rows.Scan(&r.ID, &r.SupplierID, &r.BuyerID, &amount, &r.Currency, &r.Status, &r.CreatedAt, &r.ArchivedAt); err != nil {
			return nil, err
		}
		r.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("archived amount %q: %w", amount, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MigrationLog lists recorded migrations, oldest first.
func (a *DB) MigrationLog(ctx context.Context) ([]version.Record, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT migration_id, from_version, to_version, status, error, started_at, completed_at
		FROM migration_log ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []version.Record
	for rows.Next() {
		var r version.Record
		var status, errMsg string
		var completed sql.NullTime
		if err := rows.Scan(&r.MigrationID, &r.FromVersion, &r.ToVersion, &status, &errMsg, &r.StartedAt, &completed); err != nil {
			return nil, err
		}
		r.Status = version.MigrationStatus(status)
		r.Error = errMsg
		if completed.Valid {
			r.CompletedAt = completed.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

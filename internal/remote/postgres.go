package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoice-sync/internal/metrics"
	"invoice-sync/internal/model"
)

// Postgres implements Service on top of a pgx pool connected to Supabase.
type Postgres struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
	userID  string
}

// Config holds the connection parameters for the remote database.
type Config struct {
	DatabaseURL string
	Schema      string
	UserID      string
}

// NewPostgres opens a new connection pool with the desired search_path.
func NewPostgres(ctx context.Context, cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) (*Postgres, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, fmt.Errorf("remote user id is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if cfg.Schema != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}
	// Supabase's pooler does not support prepared statements.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	p := &Postgres{
		pool:    pool,
		logger:  logger.With("component", "remote"),
		metrics: metricRegistry,
		userID:  cfg.UserID,
	}
	// The pool connects lazily, so an unreachable remote is not fatal here.
	if err := p.Ping(ctx); err != nil {
		p.logger.Warn("remote unreachable at startup", "error", err)
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping remote: %w", err)
	}
	return nil
}

// RunMigrations applies the remote schema files in lexicographical order.
func (p *Postgres) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		sqlBytes, err := fs.ReadFile(filesystem, entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, string(sqlBytes))
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (p *Postgres) observe(op string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RemoteRequests.WithLabelValues(op, status).Inc()
	p.metrics.RemoteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

const storeColumns = `id, user_id, name, tagline, address, whatsapp, email, phone, instagram, website,
    logo_url, brand_color, invoice_prefix, bank_name, bank_account_number, bank_account_name,
    currency, signature_url, created_at, updated_at`

func scanStore(row pgx.Row) (*model.Store, error) {
	var s model.Store
	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.Tagline, &s.Address, &s.WhatsApp, &s.Email, &s.Phone,
		&s.Instagram, &s.Website, &s.LogoURL, &s.BrandColor, &s.InvoicePrefix, &s.BankName,
		&s.BankAccountNumber, &s.BankAccountName, &s.Currency, &s.LegacySignatureURL,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStore returns the user's store, or nil when it does not exist yet.
func (p *Postgres) GetStore(ctx context.Context) (store *model.Store, err error) {
	defer func(start time.Time) { p.observe("get_store", start, err) }(time.Now())

	q := `SELECT ` + storeColumns + ` FROM stores WHERE user_id = $1 LIMIT 1;`
	store, err = scanStore(p.pool.QueryRow(ctx, q, p.userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	return store, nil
}

// UpsertStore creates or updates the user's store row. Nil fields are
// written as NULL.
func (p *Postgres) UpsertStore(ctx context.Context, in model.StoreUpsert) (store *model.Store, err error) {
	defer func(start time.Time) { p.observe("upsert_store", start, err) }(time.Now())

	q := `
INSERT INTO stores (user_id, name, tagline, address, whatsapp, email, phone, instagram, website,
    logo_url, brand_color, invoice_prefix, bank_name, bank_account_number, bank_account_name, currency, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    name = EXCLUDED.name,
    tagline = EXCLUDED.tagline,
    address = EXCLUDED.address,
    whatsapp = EXCLUDED.whatsapp,
    email = EXCLUDED.email,
    phone = EXCLUDED.phone,
    instagram = EXCLUDED.instagram,
    website = EXCLUDED.website,
    logo_url = EXCLUDED.logo_url,
    brand_color = EXCLUDED.brand_color,
    invoice_prefix = EXCLUDED.invoice_prefix,
    bank_name = EXCLUDED.bank_name,
    bank_account_number = EXCLUDED.bank_account_number,
    bank_account_name = EXCLUDED.bank_account_name,
    currency = EXCLUDED.currency,
    updated_at = NOW()
RETURNING ` + storeColumns + `;`

	row := p.pool.QueryRow(ctx, q,
		p.userID, in.Name, in.Tagline, in.Address, in.WhatsApp, in.Email, in.Phone,
		in.Instagram, in.Website, in.LogoURL, in.BrandColor, in.InvoicePrefix, in.BankName,
		in.BankAccountNumber, in.BankAccountName, in.Currency,
	)
	store, err = scanStore(row)
	if err != nil {
		return nil, fmt.Errorf("upsert store: %w", err)
	}
	return store, nil
}

// DeleteStore removes the user's store and, by cascade, its contacts and
// invoices.
func (p *Postgres) DeleteStore(ctx context.Context) (err error) {
	defer func(start time.Time) { p.observe("delete_store", start, err) }(time.Now())

	if _, err = p.pool.Exec(ctx, `DELETE FROM stores WHERE user_id = $1;`, p.userID); err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	return nil
}

const contactColumns = `id, store_id, name, title, signature_url, is_primary, created_at, updated_at`

func scanContact(row pgx.Row) (*model.StoreContact, error) {
	var c model.StoreContact
	if err := row.Scan(&c.ID, &c.StoreID, &c.Name, &c.Title, &c.SignatureURL, &c.IsPrimary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetPrimaryContact returns the store's primary contact, if any.
func (p *Postgres) GetPrimaryContact(ctx context.Context, storeID string) (contact *model.StoreContact, err error) {
	defer func(start time.Time) { p.observe("get_primary_contact", start, err) }(time.Now())

	q := `SELECT ` + contactColumns + ` FROM store_contacts WHERE store_id = $1 AND is_primary LIMIT 1;`
	contact, err = scanContact(p.pool.QueryRow(ctx, q, storeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get primary contact: %w", err)
	}
	return contact, nil
}

// CreateContact inserts a contact. A new primary contact demotes the previous
// one inside the same transaction.
func (p *Postgres) CreateContact(ctx context.Context, in model.StoreContact) (contact *model.StoreContact, err error) {
	defer func(start time.Time) { p.observe("create_contact", start, err) }(time.Now())

	const insert = `
INSERT INTO store_contacts (store_id, name, title, signature_url, is_primary)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + contactColumns + `;`

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if in.IsPrimary {
			if _, err := tx.Exec(ctx, `UPDATE store_contacts SET is_primary = FALSE, updated_at = NOW() WHERE store_id = $1 AND is_primary;`, in.StoreID); err != nil {
				return fmt.Errorf("demote primary contact: %w", err)
			}
		}
		c, err := scanContact(tx.QueryRow(ctx, insert, in.StoreID, in.Name, in.Title, in.SignatureURL, in.IsPrimary))
		if err != nil {
			return err
		}
		contact = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return contact, nil
}

// UpdateContact overwrites the editable fields of an existing contact.
func (p *Postgres) UpdateContact(ctx context.Context, in model.StoreContact) (contact *model.StoreContact, err error) {
	defer func(start time.Time) { p.observe("update_contact", start, err) }(time.Now())

	const q = `
UPDATE store_contacts
SET name = $2, title = $3, signature_url = $4, updated_at = NOW()
WHERE id = $1
RETURNING ` + contactColumns + `;`

	contact, err = scanContact(p.pool.QueryRow(ctx, q, in.ID, in.Name, in.Title, in.SignatureURL))
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return contact, nil
}

// UpsertInvoiceWithItems writes the invoice header and replaces its items in
// one transaction.
func (p *Postgres) UpsertInvoiceWithItems(ctx context.Context, inv model.InvoiceRow, items []model.InvoiceItemRow) (err error) {
	defer func(start time.Time) { p.observe("upsert_invoice", start, err) }(time.Now())

	const upsert = `
INSERT INTO invoices (id, store_id, local_id, invoice_number, status, invoice_date, due_date,
    customer_name, customer_phone, customer_email, customer_address,
    subtotal, discount, shipping_cost, tax, total, notes, completed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
    COALESCE($19, NOW()), COALESCE($20, NOW()))
ON CONFLICT (id) DO UPDATE SET
    local_id = EXCLUDED.local_id,
    invoice_number = EXCLUDED.invoice_number,
    status = EXCLUDED.status,
    invoice_date = EXCLUDED.invoice_date,
    due_date = EXCLUDED.due_date,
    customer_name = EXCLUDED.customer_name,
    customer_phone = EXCLUDED.customer_phone,
    customer_email = EXCLUDED.customer_email,
    customer_address = EXCLUDED.customer_address,
    subtotal = EXCLUDED.subtotal,
    discount = EXCLUDED.discount,
    shipping_cost = EXCLUDED.shipping_cost,
    tax = EXCLUDED.tax,
    total = EXCLUDED.total,
    notes = EXCLUDED.notes,
    completed_at = EXCLUDED.completed_at,
    updated_at = EXCLUDED.updated_at
WHERE invoices.store_id = EXCLUDED.store_id
RETURNING id;
`
	const insertItem = `
INSERT INTO invoice_items (id, invoice_id, name, description, quantity, price, subtotal, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		// No row back means the conflict guard rejected a foreign store's id.
		var written string
		err := tx.QueryRow(ctx, upsert,
			inv.ID, inv.StoreID, inv.LocalID, inv.InvoiceNumber, inv.Status, inv.InvoiceDate, inv.DueDate,
			inv.CustomerName, inv.CustomerPhone, inv.CustomerEmail, inv.CustomerAddress,
			inv.Subtotal, inv.Discount, inv.ShippingCost, inv.Tax, inv.Total, inv.Notes, inv.CompletedAt,
			nullTime(inv.CreatedAt), nullTime(inv.UpdatedAt),
		).Scan(&written)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotOwned
		}
		if err != nil {
			return fmt.Errorf("upsert header: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1;`, inv.ID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, it := range items {
			batch.Queue(insertItem, it.ID, inv.ID, it.Name, it.Description, it.Quantity, it.Price, it.Subtotal, it.Position)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert invoice %s: %w", inv.ID, err)
	}
	return nil
}

// DeleteInvoice removes an invoice owned by the user. Missing rows are not an
// error.
func (p *Postgres) DeleteInvoice(ctx context.Context, invoiceID string) (err error) {
	defer func(start time.Time) { p.observe("delete_invoice", start, err) }(time.Now())

	const q = `
DELETE FROM invoices
WHERE id = $1
  AND store_id IN (SELECT id FROM stores WHERE user_id = $2);
`
	if _, err = p.pool.Exec(ctx, q, invoiceID, p.userID); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	return nil
}

// ListInvoices returns every invoice of the store, oldest first.
func (p *Postgres) ListInvoices(ctx context.Context, storeID string) (out []model.InvoiceRow, err error) {
	defer func(start time.Time) { p.observe("list_invoices", start, err) }(time.Now())

	const q = `
SELECT id, store_id, local_id, invoice_number, status, invoice_date, due_date,
    customer_name, customer_phone, customer_email, customer_address,
    subtotal, discount, shipping_cost, tax, total, notes, completed_at, created_at, updated_at
FROM invoices
WHERE store_id = $1
ORDER BY created_at ASC, id ASC;
`
	rows, err := p.pool.Query(ctx, q, storeID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.InvoiceRow
		if err = rows.Scan(
			&r.ID, &r.StoreID, &r.LocalID, &r.InvoiceNumber, &r.Status, &r.InvoiceDate, &r.DueDate,
			&r.CustomerName, &r.CustomerPhone, &r.CustomerEmail, &r.CustomerAddress,
			&r.Subtotal, &r.Discount, &r.ShippingCost, &r.Tax, &r.Total, &r.Notes, &r.CompletedAt,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return out, nil
}

// ListInvoiceItems returns the items of one invoice ordered by position.
func (p *Postgres) ListInvoiceItems(ctx context.Context, invoiceID string) (out []model.InvoiceItemRow, err error) {
	defer func(start time.Time) { p.observe("list_invoice_items", start, err) }(time.Now())

	const q = `
SELECT id, invoice_id, name, description, quantity, price, subtotal, position
FROM invoice_items
WHERE invoice_id = $1
ORDER BY position ASC;
`
	rows, err := p.pool.Query(ctx, q, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.InvoiceItemRow
		if err = rows.Scan(&it.ID, &it.InvoiceID, &it.Name, &it.Description, &it.Quantity, &it.Price, &it.Subtotal, &it.Position); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		out = append(out, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice items: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Service = (*Postgres)(nil)

// Package remote talks to the Supabase Postgres schema that backs the cloud
// copy of a user's store.
package remote

import (
	"context"
	"errors"

	"invoice-sync/internal/model"
)

// ErrStoreNotFound is returned when an operation needs the user's store row
// and none exists yet.
var ErrStoreNotFound = errors.New("store not found")

// ErrInvoiceNotOwned is returned when an invoice id already belongs to
// another store. Nothing is written in that case.
var ErrInvoiceNotOwned = errors.New("invoice belongs to another store")

// Service is the set of remote operations used by the sync core. All calls
// are scoped to the authenticated user.
type Service interface {
	Ping(ctx context.Context) error

	// GetStore returns nil, nil when the user has no store yet.
	GetStore(ctx context.Context) (*model.Store, error)
	UpsertStore(ctx context.Context, store model.StoreUpsert) (*model.Store, error)
	DeleteStore(ctx context.Context) error

	// GetPrimaryContact returns nil, nil when the store has no primary contact.
	GetPrimaryContact(ctx context.Context, storeID string) (*model.StoreContact, error)
	CreateContact(ctx context.Context, contact model.StoreContact) (*model.StoreContact, error)
	UpdateContact(ctx context.Context, contact model.StoreContact) (*model.StoreContact, error)

	// UpsertInvoiceWithItems writes the header and replaces all items
	// atomically. It fails with ErrInvoiceNotOwned, leaving items untouched,
	// when the id is held by another store.
	UpsertInvoiceWithItems(ctx context.Context, invoice model.InvoiceRow, items []model.InvoiceItemRow) error
	DeleteInvoice(ctx context.Context, invoiceID string) error
	ListInvoices(ctx context.Context, storeID string) ([]model.InvoiceRow, error)
	ListInvoiceItems(ctx context.Context, invoiceID string) ([]model.InvoiceItemRow, error)
}

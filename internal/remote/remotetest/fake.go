// Package remotetest provides an in-memory remote.Service for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"invoice-sync/internal/model"
	"invoice-sync/internal/remote"
)

// ErrInjected is returned by calls failed through FailTimes.
var ErrInjected = errors.New("injected remote failure")

// Fake is a goroutine-safe in-memory remote store for a single user.
type Fake struct {
	mu       sync.Mutex
	store    *model.Store
	contacts []model.StoreContact
	invoices map[string]model.InvoiceRow
	items    map[string][]model.InvoiceItemRow
	calls    map[string]int
	failures map[string]int
	failErr  map[string]error

	// PingErr is returned by Ping when set.
	PingErr error
	// BeforeCall runs before every operation, outside the lock.
	BeforeCall func(op string)
}

// NewFake returns an empty fake.
func NewFake() *Fake {
	return &Fake{
		invoices: make(map[string]model.InvoiceRow),
		items:    make(map[string][]model.InvoiceItemRow),
		calls:    make(map[string]int),
		failures: make(map[string]int),
		failErr:  make(map[string]error),
	}
}

// FailTimes makes the next n calls of op fail with ErrInjected.
func (f *Fake) FailTimes(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// FailAlways makes every call of op fail with err.
func (f *Fake) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr[op] = err
}

// Calls reports how many times op was invoked, failures included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Invoices returns a copy of the stored invoice headers ordered by number.
func (f *Fake) Invoices() []model.InvoiceRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.InvoiceRow, 0, len(f.invoices))
	for _, inv := range f.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out
}

// Items returns the stored items of one invoice.
func (f *Fake) Items(invoiceID string) []model.InvoiceItemRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.InvoiceItemRow(nil), f.items[invoiceID]...)
}

// Contacts returns a copy of the stored contacts.
func (f *Fake) Contacts() []model.StoreContact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.StoreContact(nil), f.contacts...)
}

// PutInvoice stores a row directly, bypassing the store check. Tests use it
// to plant rows owned by another store.
func (f *Fake) PutInvoice(inv model.InvoiceRow, items []model.InvoiceItemRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices[inv.ID] = inv
	f.items[inv.ID] = append([]model.InvoiceItemRow(nil), items...)
}

// SetLegacySignature fills the old store signature column.
func (f *Fake) SetLegacySignature(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store != nil {
		f.store.LegacySignatureURL = &url
	}
}

// enter records the call and returns the injected error, if any. It leaves
// f.mu held on return.
func (f *Fake) enter(op string) error {
	if f.BeforeCall != nil {
		f.BeforeCall(op)
	}
	f.mu.Lock()
	f.calls[op]++
	if err := f.failErr[op]; err != nil {
		return err
	}
	if f.failures[op] > 0 {
		f.failures[op]--
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.PingErr
}

func (f *Fake) GetStore(_ context.Context) (*model.Store, error) {
	err := f.enter("get_store")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if f.store == nil {
		return nil, nil
	}
	s := *f.store
	return &s, nil
}

func (f *Fake) UpsertStore(_ context.Context, in model.StoreUpsert) (*model.Store, error) {
	err := f.enter("upsert_store")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if f.store == nil {
		f.store = &model.Store{ID: uuid.NewString(), UserID: "user-1", CreatedAt: now}
	}
	s := f.store
	s.Name = in.Name
	s.Tagline = in.Tagline
	s.Address = in.Address
	s.WhatsApp = in.WhatsApp
	s.Email = in.Email
	s.Phone = in.Phone
	s.Instagram = in.Instagram
	s.Website = in.Website
	s.LogoURL = in.LogoURL
	s.BrandColor = in.BrandColor
	s.InvoicePrefix = in.InvoicePrefix
	s.BankName = in.BankName
	s.BankAccountNumber = in.BankAccountNumber
	s.BankAccountName = in.BankAccountName
	s.Currency = in.Currency
	s.UpdatedAt = now
	out := *s
	return &out, nil
}

func (f *Fake) DeleteStore(_ context.Context) error {
	err := f.enter("delete_store")
	defer f.mu.Unlock()
	if err != nil {
		return err
	}
	f.store = nil
	f.contacts = nil
	f.invoices = make(map[string]model.InvoiceRow)
	f.items = make(map[string][]model.InvoiceItemRow)
	return nil
}

func (f *Fake) GetPrimaryContact(_ context.Context, storeID string) (*model.StoreContact, error) {
	err := f.enter("get_primary_contact")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, c := range f.contacts {
		if c.StoreID == storeID && c.IsPrimary {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *Fake) CreateContact(_ context.Context, in model.StoreContact) (*model.StoreContact, error) {
	err := f.enter("create_contact")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if in.IsPrimary {
		for i := range f.contacts {
			if f.contacts[i].StoreID == in.StoreID {
				f.contacts[i].IsPrimary = false
			}
		}
	}
	in.ID = uuid.NewString()
	in.CreatedAt = time.Now().UTC()
	in.UpdatedAt = in.CreatedAt
	f.contacts = append(f.contacts, in)
	return &in, nil
}

func (f *Fake) UpdateContact(_ context.Context, in model.StoreContact) (*model.StoreContact, error) {
	err := f.enter("update_contact")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for i := range f.contacts {
		if f.contacts[i].ID == in.ID {
			c := &f.contacts[i]
			c.Name = in.Name
			c.Title = in.Title
			c.SignatureURL = in.SignatureURL
			c.UpdatedAt = time.Now().UTC()
			out := *c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("update contact: contact %s not found", in.ID)
}

func (f *Fake) UpsertInvoiceWithItems(_ context.Context, inv model.InvoiceRow, items []model.InvoiceItemRow) error {
	err := f.enter("upsert_invoice")
	defer f.mu.Unlock()
	if err != nil {
		return err
	}
	if f.store == nil || f.store.ID != inv.StoreID {
		return fmt.Errorf("upsert invoice: %w", remote.ErrStoreNotFound)
	}
	if existing, ok := f.invoices[inv.ID]; ok && existing.StoreID != inv.StoreID {
		return fmt.Errorf("upsert invoice %s: %w", inv.ID, remote.ErrInvoiceNotOwned)
	}
	f.invoices[inv.ID] = inv
	f.items[inv.ID] = append([]model.InvoiceItemRow(nil), items...)
	return nil
}

func (f *Fake) DeleteInvoice(_ context.Context, invoiceID string) error {
	err := f.enter("delete_invoice")
	defer f.mu.Unlock()
	if err != nil {
		return err
	}
	// Scoped to the user's store, like the Postgres delete.
	if inv, ok := f.invoices[invoiceID]; !ok || f.store == nil || inv.StoreID != f.store.ID {
		return nil
	}
	delete(f.invoices, invoiceID)
	delete(f.items, invoiceID)
	return nil
}

func (f *Fake) ListInvoices(_ context.Context, storeID string) ([]model.InvoiceRow, error) {
	err := f.enter("list_invoices")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []model.InvoiceRow
	for _, inv := range f.invoices {
		if inv.StoreID == storeID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *Fake) ListInvoiceItems(_ context.Context, invoiceID string) ([]model.InvoiceItemRow, error) {
	err := f.enter("list_invoice_items")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return append([]model.InvoiceItemRow(nil), f.items[invoiceID]...), nil
}

var _ remote.Service = (*Fake)(nil)

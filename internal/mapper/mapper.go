// Package mapper converts between the flat local shapes and the normalized
// remote rows. Every function here is pure.
package mapper

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"invoice-sync/internal/model"
)

const dateLayout = "2006-01-02"

// invoiceNamespace seeds the per-store namespace when a store id is not a UUID.
var invoiceNamespace = uuid.MustParse("6f1c2a0e-3b7d-4e52-9a0c-5d8f1e2b7c41")

// LocalToRemoteSettings maps local settings to the store upsert payload.
// Admin fields are not part of the store row; see PrimaryContactFromSettings.
func LocalToRemoteSettings(local model.LocalSettings) model.StoreUpsert {
	return model.StoreUpsert{
		Name:              local.Name,
		Tagline:           nullable(local.Tagline),
		Address:           nullable(local.Address),
		WhatsApp:          nullable(local.WhatsApp),
		Email:             nullable(local.Email),
		Phone:             nullable(local.Phone),
		Instagram:         nullable(local.Instagram),
		Website:           nullable(local.Website),
		LogoURL:           nullable(local.LogoURL),
		BrandColor:        nullable(local.BrandColor),
		InvoicePrefix:     nullable(local.InvoicePrefix),
		BankName:          nullable(local.BankName),
		BankAccountNumber: nullable(local.BankAccountNumber),
		BankAccountName:   nullable(local.BankAccountName),
		Currency:          nullable(local.Currency),
	}
}

// PrimaryContactFromSettings builds the signatory row for a store. ID is left
// empty; the caller reuses the existing primary contact id when there is one.
func PrimaryContactFromSettings(local model.LocalSettings, storeID string) model.StoreContact {
	return model.StoreContact{
		StoreID:      storeID,
		Name:         local.AdminName,
		Title:        nullable(local.AdminTitle),
		SignatureURL: nullable(local.SignatureURL),
		IsPrimary:    true,
	}
}

// RemoteToLocalSettings is the inverse of LocalToRemoteSettings. Admin fields
// are read from the primary contact and stay empty when there is none.
func RemoteToLocalSettings(store model.Store, primary *model.StoreContact) model.LocalSettings {
	local := model.LocalSettings{
		Name:              store.Name,
		Tagline:           deref(store.Tagline),
		Address:           deref(store.Address),
		WhatsApp:          deref(store.WhatsApp),
		Email:             deref(store.Email),
		Phone:             deref(store.Phone),
		Instagram:         deref(store.Instagram),
		Website:           deref(store.Website),
		LogoURL:           deref(store.LogoURL),
		BrandColor:        deref(store.BrandColor),
		InvoicePrefix:     deref(store.InvoicePrefix),
		BankName:          deref(store.BankName),
		BankAccountNumber: deref(store.BankAccountNumber),
		BankAccountName:   deref(store.BankAccountName),
		Currency:          deref(store.Currency),
	}
	if primary != nil {
		local.AdminName = primary.Name
		local.AdminTitle = deref(primary.Title)
		local.SignatureURL = deref(primary.SignatureURL)
	}
	return local
}

// LegacySignature reports a store whose signature only exists on the old
// store column. Such data does not survive RemoteToLocalSettings.
func LegacySignature(store model.Store, primary *model.StoreContact) bool {
	if deref(store.LegacySignatureURL) == "" {
		return false
	}
	return primary == nil || deref(primary.SignatureURL) == ""
}

// RemoteInvoiceID returns the remote id of a local invoice within a store.
// The id is a UUIDv5 of the local id in a namespace derived from the store,
// so equal local ids in different stores never share a remote row.
func RemoteInvoiceID(storeID, localID string) string {
	ns, err := uuid.Parse(storeID)
	if err != nil {
		ns = uuid.NewSHA1(invoiceNamespace, []byte(storeID))
	}
	return uuid.NewSHA1(ns, []byte(localID)).String()
}

// LocalToRemoteInvoice maps the invoice header for the given store.
func LocalToRemoteInvoice(local model.LocalInvoice, storeID string) model.InvoiceRow {
	return model.InvoiceRow{
		ID:              RemoteInvoiceID(storeID, local.ID),
		StoreID:         storeID,
		LocalID:         nullable(local.ID),
		InvoiceNumber:   local.Number,
		Status:          string(local.Status),
		InvoiceDate:     parseDate(local.Date),
		DueDate:         parseDate(local.DueDate),
		CustomerName:    local.Customer.Name,
		CustomerPhone:   nullable(local.Customer.Phone),
		CustomerEmail:   nullable(local.Customer.Email),
		CustomerAddress: nullable(local.Customer.Address),
		Subtotal:        local.Subtotal(),
		Discount:        local.Discount,
		ShippingCost:    local.ShippingCost,
		Tax:             local.Tax,
		Total:           local.Total(),
		Notes:           nullable(local.Notes),
		CompletedAt:     local.CompletedAt,
		CreatedAt:       local.CreatedAt,
		UpdatedAt:       local.UpdatedAt,
	}
}

// LocalToRemoteItems maps line items and assigns dense zero-based positions.
// Positions are recomputed on every call, so a previous remote ordering is
// not preserved across edits.
func LocalToRemoteItems(invoiceID string, items []model.LineItem) []model.InvoiceItemRow {
	rows := make([]model.InvoiceItemRow, 0, len(items))
	for i, item := range items {
		rows = append(rows, model.InvoiceItemRow{
			ID:          uuid.NewString(),
			InvoiceID:   invoiceID,
			Name:        item.Name,
			Description: nullable(item.Description),
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    item.Subtotal(),
			Position:    i,
		})
	}
	return rows
}

// RemoteToLocalInvoice rebuilds the flat invoice from its header and items.
func RemoteToLocalInvoice(row model.InvoiceRow, items []model.InvoiceItemRow) model.LocalInvoice {
	id := deref(row.LocalID)
	if id == "" {
		id = row.ID
	}

	ordered := make([]model.InvoiceItemRow, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	lines := make([]model.LineItem, 0, len(ordered))
	for _, it := range ordered {
		lines = append(lines, model.LineItem{
			Name:        it.Name,
			Description: deref(it.Description),
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}

	return model.LocalInvoice{
		ID:       id,
		Number:   row.InvoiceNumber,
		Status:   model.InvoiceStatus(row.Status),
		Date:     formatDate(row.InvoiceDate),
		DueDate:  formatDate(row.DueDate),
		Customer: model.Customer{
			Name:    row.CustomerName,
			Phone:   deref(row.CustomerPhone),
			Email:   deref(row.CustomerEmail),
			Address: deref(row.CustomerAddress),
		},
		Items:        lines,
		Discount:     row.Discount,
		ShippingCost: row.ShippingCost,
		Tax:          row.Tax,
		Notes:        deref(row.Notes),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		CompletedAt:  row.CompletedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

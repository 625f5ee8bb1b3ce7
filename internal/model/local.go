// Package model holds the local (device) and remote (Supabase) shapes of the
// invoicing data handled by the sync core.
package model

import "time"

// InvoiceStatus is the lifecycle state of a local invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusCompleted InvoiceStatus = "completed"
)

// LocalSettings is the flat store settings object edited on the device.
type LocalSettings struct {
	Name              string `json:"name"`
	Tagline           string `json:"tagline,omitempty"`
	Address           string `json:"address,omitempty"`
	WhatsApp          string `json:"whatsapp,omitempty"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Instagram         string `json:"instagram,omitempty"`
	Website           string `json:"website,omitempty"`
	LogoURL           string `json:"logo_url,omitempty"`
	BrandColor        string `json:"brand_color,omitempty"`
	InvoicePrefix     string `json:"invoice_prefix,omitempty"`
	BankName          string `json:"bank_name,omitempty"`
	BankAccountNumber string `json:"bank_account_number,omitempty"`
	BankAccountName   string `json:"bank_account_name,omitempty"`
	Currency          string `json:"currency,omitempty"`

	// Admin fields live on the primary store contact remotely.
	AdminName    string `json:"admin_name,omitempty"`
	AdminTitle   string `json:"admin_title,omitempty"`
	SignatureURL string `json:"signature_url,omitempty"`
}

// HasAdmin reports whether any signatory field is filled in.
func (s *LocalSettings) HasAdmin() bool {
	return s.AdminName != "" || s.AdminTitle != "" || s.SignatureURL != ""
}

// Customer is the billed party embedded in a local invoice.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// LineItem is one row of a local invoice.
type LineItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
}

// Subtotal returns quantity times unit price.
func (li LineItem) Subtotal() float64 {
	return li.Quantity * li.Price
}

// LocalInvoice is the flat invoice object kept on the device.
type LocalInvoice struct {
	ID           string        `json:"id"`
	Number       string        `json:"number"`
	Status       InvoiceStatus `json:"status"`
	Date         string        `json:"date,omitempty"`
	DueDate      string        `json:"due_date,omitempty"`
	Customer     Customer      `json:"customer"`
	Items        []LineItem    `json:"items"`
	Discount     float64       `json:"discount,omitempty"`
	ShippingCost float64       `json:"shipping_cost,omitempty"`
	Tax          float64       `json:"tax,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// IsDraft returns true if the invoice has not been completed yet.
func (i *LocalInvoice) IsDraft() bool {
	return i.Status == InvoiceStatusDraft
}

// Subtotal sums the line totals.
func (i *LocalInvoice) Subtotal() float64 {
	var total float64
	for _, item := range i.Items {
		total += item.Subtotal()
	}
	return total
}

// Total applies discount, shipping and tax on top of the subtotal.
func (i *LocalInvoice) Total() float64 {
	return i.Subtotal() - i.Discount + i.ShippingCost + i.Tax
}

package model

import "time"

// Store represents a row in the stores table.
type Store struct {
	ID                string
	UserID            string
	Name              string
	Tagline           *string
	Address           *string
	WhatsApp          *string
	Email             *string
	Phone             *string
	Instagram         *string
	Website           *string
	LogoURL           *string
	BrandColor        *string
	InvoicePrefix     *string
	BankName          *string
	BankAccountNumber *string
	BankAccountName   *string
	Currency          *string
	// LegacySignatureURL is the pre-contacts signature column, read only.
	LegacySignatureURL *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StoreUpsert carries the columns written by a settings upsert. Nil pointers
// are written as NULL so a cleared field is cleared remotely too.
type StoreUpsert struct {
	Name              string
	Tagline           *string
	Address           *string
	WhatsApp          *string
	Email             *string
	Phone             *string
	Instagram         *string
	Website           *string
	LogoURL           *string
	BrandColor        *string
	InvoicePrefix     *string
	BankName          *string
	BankAccountNumber *string
	BankAccountName   *string
	Currency          *string
}

// StoreContact represents a row in store_contacts.
type StoreContact struct {
	ID           string
	StoreID      string
	Name         string
	Title        *string
	SignatureURL *string
	IsPrimary    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InvoiceRow represents a row in the invoices table.
type InvoiceRow struct {
	ID              string
	StoreID         string
	LocalID         *string
	InvoiceNumber   string
	Status          string
	InvoiceDate     *time.Time
	DueDate         *time.Time
	CustomerName    string
	CustomerPhone   *string
	CustomerEmail   *string
	CustomerAddress *string
	Subtotal        float64
	Discount        float64
	ShippingCost    float64
	Tax             float64
	Total           float64
	Notes           *string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InvoiceItemRow represents a row in invoice_items.
type InvoiceItemRow struct {
	ID          string
	InvoiceID   string
	Name        string
	Description *string
	Quantity    float64
	Price       float64
	Subtotal    float64
	Position    int
}

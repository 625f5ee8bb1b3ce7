// Package local stores the device-side copy of settings and invoices that the
// UI edits while offline.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-sync/internal/model"
)

// Repository is the typed access to local data used by the sync core.
type Repository interface {
	// GetSettings returns nil, nil when nothing has been saved yet.
	GetSettings(ctx context.Context) (*model.LocalSettings, error)
	SaveSettings(ctx context.Context, settings model.LocalSettings) error
	DeleteSettings(ctx context.Context) error

	GetInvoices(ctx context.Context) ([]model.LocalInvoice, error)
	SaveInvoice(ctx context.Context, invoice model.LocalInvoice) error
	DeleteInvoice(ctx context.Context, id string) error
	// SetInvoices replaces every stored invoice with the given list.
	SetInvoices(ctx context.Context, invoices []model.LocalInvoice) error

	GetFlag(ctx context.Context, key string) (string, bool, error)
	SetFlag(ctx context.Context, key, value string) error
	DeleteFlag(ctx context.Context, key string) error
}

type settingsRecord struct {
	ID        uint                `gorm:"primaryKey"`
	Settings  model.LocalSettings `gorm:"embedded"`
	UpdatedAt time.Time
}

func (settingsRecord) TableName() string { return "local_settings" }

type invoiceRecord struct {
	ID           string `gorm:"primaryKey"`
	Number       string `gorm:"index"`
	Status       string `gorm:"index"`
	Date         string
	DueDate      string
	Customer     model.Customer   `gorm:"serializer:json"`
	Items        []model.LineItem `gorm:"serializer:json"`
	Discount     float64
	ShippingCost float64
	Tax          float64
	Notes        string
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	CompletedAt  *time.Time
}

func (invoiceRecord) TableName() string { return "local_invoices" }

type flagRecord struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (flagRecord) TableName() string { return "local_flags" }

// GormRepository implements Repository with gorm on SQLite.
type GormRepository struct {
	db *gorm.DB
}

// Open opens the SQLite database at dsn and migrates the local tables.
func Open(dsn string) (*GormRepository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("local database path is empty")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	return NewGormRepository(db)
}

// NewGormRepository wraps an existing gorm handle and migrates the local tables.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&settingsRecord{}, &invoiceRecord{}, &flagRecord{}); err != nil {
		return nil, fmt.Errorf("automigrate local tables: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Close releases the underlying connection.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *GormRepository) GetSettings(ctx context.Context) (*model.LocalSettings, error) {
	var rec settingsRecord
	err := r.db.WithContext(ctx).First(&rec, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &rec.Settings, nil
}

func (r *GormRepository) SaveSettings(ctx context.Context, settings model.LocalSettings) error {
	rec := settingsRecord{ID: 1, Settings: settings}
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (r *GormRepository) DeleteSettings(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Delete(&settingsRecord{}, 1).Error; err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return nil
}

func (r *GormRepository) GetInvoices(ctx context.Context) ([]model.LocalInvoice, error) {
	var recs []invoiceRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get invoices: %w", err)
	}
	out := make([]model.LocalInvoice, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

func (r *GormRepository) SaveInvoice(ctx context.Context, invoice model.LocalInvoice) error {
	if invoice.ID == "" {
		return fmt.Errorf("save invoice: empty id")
	}
	rec := invoiceFromModel(invoice)
	if err := r.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("save invoice %s: %w", invoice.ID, err)
	}
	return nil
}

func (r *GormRepository) DeleteInvoice(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&invoiceRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete invoice %s: %w", id, err)
	}
	return nil
}

func (r *GormRepository) SetInvoices(ctx context.Context, invoices []model.LocalInvoice) error {
	recs := make([]invoiceRecord, 0, len(invoices))
	for _, inv := range invoices {
		recs = append(recs, invoiceFromModel(inv))
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&invoiceRecord{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.Create(&recs).Error
	})
	if err != nil {
		return fmt.Errorf("set invoices: %w", err)
	}
	return nil
}

func (r *GormRepository) GetFlag(ctx context.Context, key string) (string, bool, error) {
	var rec flagRecord
	err := r.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get flag %s: %w", key, err)
	}
	return rec.Value, true, nil
}

func (r *GormRepository) SetFlag(ctx context.Context, key, value string) error {
	if err := r.db.WithContext(ctx).Save(&flagRecord{Key: key, Value: value}).Error; err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}

func (r *GormRepository) DeleteFlag(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Delete(&flagRecord{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("delete flag %s: %w", key, err)
	}
	return nil
}

func invoiceFromModel(inv model.LocalInvoice) invoiceRecord {
	return invoiceRecord{
		ID:           inv.ID,
		Number:       inv.Number,
		Status:       string(inv.Status),
		Date:         inv.Date,
		DueDate:      inv.DueDate,
		Customer:     inv.Customer,
		Items:        inv.Items,
		Discount:     inv.Discount,
		ShippingCost: inv.ShippingCost,
		Tax:          inv.Tax,
		Notes:        inv.Notes,
		CreatedAt:    inv.CreatedAt,
		UpdatedAt:    inv.UpdatedAt,
		CompletedAt:  inv.CompletedAt,
	}
}

func (rec invoiceRecord) toModel() model.LocalInvoice {
	return model.LocalInvoice{
		ID:           rec.ID,
		Number:       rec.Number,
		Status:       model.InvoiceStatus(rec.Status),
		Date:         rec.Date,
		DueDate:      rec.DueDate,
		Customer:     rec.Customer,
		Items:        rec.Items,
		Discount:     rec.Discount,
		ShippingCost: rec.ShippingCost,
		Tax:          rec.Tax,
		Notes:        rec.Notes,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		CompletedAt:  rec.CompletedAt,
	}
}

// CompletedInvoices filters invoices down to the completed ones.
func CompletedInvoices(invoices []model.LocalInvoice) []model.LocalInvoice {
	var out []model.LocalInvoice
	for _, inv := range invoices {
		if inv.Status == model.InvoiceStatusCompleted {
			out = append(out, inv)
		}
	}
	return out
}

// DraftInvoices filters invoices down to the drafts.
func DraftInvoices(invoices []model.LocalInvoice) []model.LocalInvoice {
	var out []model.LocalInvoice
	for _, inv := range invoices {
		if inv.IsDraft() {
			out = append(out, inv)
		}
	}
	return out
}

var _ Repository = (*GormRepository)(nil)

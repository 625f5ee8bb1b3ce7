// Package migration performs the one-time transfer of pre-cloud local data
// into the remote store.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"invoice-sync/internal/local"
	"invoice-sync/internal/metrics"
	"invoice-sync/internal/model"
)

// MarkerKey is the local flag holding the completion marker.
const MarkerKey = "cloud_migration"

// DefaultPause is the wait after each invoice to stay under remote rate limits.
const DefaultPause = 100 * time.Millisecond

// Step is a migration phase. Steps only move forward.
type Step string

const (
	StepSettings  Step = "settings"
	StepDrafts    Step = "drafts"
	StepCompleted Step = "completed"
	StepDone      Step = "done"
)

// Order returns the position of the step in the fixed sequence.
func (s Step) Order() int {
	switch s {
	case StepSettings:
		return 0
	case StepDrafts:
		return 1
	case StepCompleted:
		return 2
	case StepDone:
		return 3
	default:
		return -1
	}
}

// Progress is reported to the caller after every step and sub-step.
type Progress struct {
	Step    Step   `json:"step"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Summary is the outcome of MigrateAllData. Success means the run was
// attempted and recorded, not that every entity was transferred.
type Summary struct {
	Success           bool     `json:"success"`
	SettingsMigrated  bool     `json:"settings_migrated"`
	DraftsMigrated    int      `json:"drafts_migrated"`
	CompletedMigrated int      `json:"completed_migrated"`
	TotalMigrated     int      `json:"total_migrated"`
	Errors            []string `json:"errors"`
}

// LocalDataSummary describes what local data exists.
type LocalDataSummary struct {
	HasSettings    bool `json:"has_settings"`
	HasDrafts      bool `json:"has_drafts"`
	HasCompleted   bool `json:"has_completed"`
	TotalInvoices  int  `json:"total_invoices"`
	DraftCount     int  `json:"draft_count"`
	CompletedCount int  `json:"completed_count"`
}

// Empty reports whether there is nothing to migrate.
func (s LocalDataSummary) Empty() bool {
	return !s.HasSettings && s.TotalInvoices == 0
}

// Marker is the persisted completion record.
type Marker struct {
	CompletedAt time.Time        `json:"completed_at"`
	Summary     LocalDataSummary `json:"summary"`
}

// Writer pushes local entities to the remote store. *syncer.EntityWriter
// satisfies it.
type Writer interface {
	SyncSettings(ctx context.Context, settings model.LocalSettings) error
	SyncInvoice(ctx context.Context, inv model.LocalInvoice) error
}

// Migrator runs the migration and manages its marker.
type Migrator struct {
	local   local.Repository
	writer  Writer
	logger  *slog.Logger
	metrics *metrics.Metrics
	pause   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New builds a Migrator. A pause of zero uses DefaultPause.
func New(repo local.Repository, writer Writer, logger *slog.Logger, metricRegistry *metrics.Metrics, pause time.Duration) *Migrator {
	if pause <= 0 {
		pause = DefaultPause
	}
	return &Migrator{
		local:   repo,
		writer:  writer,
		logger:  logger.With("component", "migration"),
		metrics: metricRegistry,
		pause:   pause,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// MigrateAllData runs settings, drafts and completed invoices in order.
// Per-entity failures are collected and never abort the run.
func (m *Migrator) MigrateAllData(ctx context.Context, onProgress func(Progress)) Summary {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	summary := Summary{Errors: []string{}}

	settingsOK := m.migrateSettings(ctx, &summary, report)

	invoiceErrors := 0
	invoices, err := m.local.GetInvoices(ctx)
	if err != nil {
		invoiceErrors++
		summary.Errors = append(summary.Errors, fmt.Sprintf("read local invoices: %v", err))
		m.logger.Error("failed reading local invoices", "error", err)
	}

	drafts := local.DraftInvoices(invoices)
	draftMsg := "No drafts to migrate"
	if len(drafts) > 0 {
		draftMsg = fmt.Sprintf("Skipped %d drafts", len(drafts))
		m.count(StepDrafts, "skipped", len(drafts))
	}
	report(Progress{Step: StepDrafts, Current: 0, Total: len(drafts), Message: draftMsg})

	completed := local.CompletedInvoices(invoices)
	total := len(completed)
	report(Progress{Step: StepCompleted, Current: 0, Total: total, Message: fmt.Sprintf("Migrating %d completed invoices", total)})

	for i, inv := range completed {
		if err := ctx.Err(); err != nil {
			invoiceErrors++
			summary.Errors = append(summary.Errors, fmt.Sprintf("migration cancelled with %d invoices left", total-i))
			break
		}

		if err := m.writer.SyncInvoice(ctx, inv); err != nil {
			invoiceErrors++
			summary.Errors = append(summary.Errors, fmt.Sprintf("invoice %s: %v", invoiceLabel(inv), err))
			m.count(StepCompleted, "failed", 1)
			m.logger.Warn("invoice migration failed", "invoice_id", inv.ID, "error", err)
		} else {
			summary.CompletedMigrated++
			m.count(StepCompleted, "migrated", 1)
		}
		report(Progress{Step: StepCompleted, Current: i + 1, Total: total, Message: fmt.Sprintf("Migrated %d of %d invoices", i+1, total)})

		_ = m.sleep(ctx, m.pause)
	}

	summary.TotalMigrated = summary.DraftsMigrated + summary.CompletedMigrated
	if invoiceErrors == 0 && settingsOK {
		summary.Success = true
	} else {
		summary.Success = summary.TotalMigrated > 0
	}

	if summary.Success {
		if err := m.MarkMigrationComplete(ctx); err != nil {
			m.logger.Error("failed persisting migration marker", "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("persist marker: %v", err))
		}
	}

	doneMsg := "Migration complete"
	if len(summary.Errors) > 0 {
		doneMsg = fmt.Sprintf("Migration finished with %d errors", len(summary.Errors))
	}
	report(Progress{Step: StepDone, Current: total, Total: total, Message: doneMsg})

	m.logger.Info("migration finished",
		"success", summary.Success,
		"settings", summary.SettingsMigrated,
		"completed", summary.CompletedMigrated,
		"errors", len(summary.Errors),
	)
	return summary
}

func (m *Migrator) migrateSettings(ctx context.Context, summary *Summary, report func(Progress)) bool {
	report(Progress{Step: StepSettings, Current: 0, Total: 1, Message: "Migrating store settings"})

	settings, err := m.local.GetSettings(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("read local settings: %v", err))
		m.count(StepSettings, "failed", 1)
		report(Progress{Step: StepSettings, Current: 1, Total: 1, Message: "Could not read store settings"})
		return false
	}
	if settings == nil || strings.TrimSpace(settings.Name) == "" {
		report(Progress{Step: StepSettings, Current: 1, Total: 1, Message: "No store settings to migrate"})
		return true
	}

	if err := m.writer.SyncSettings(ctx, *settings); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("settings: %v", err))
		m.count(StepSettings, "failed", 1)
		m.logger.Warn("settings migration failed", "error", err)
		report(Progress{Step: StepSettings, Current: 1, Total: 1, Message: "Store settings failed"})
		return false
	}

	summary.SettingsMigrated = true
	m.count(StepSettings, "migrated", 1)
	report(Progress{Step: StepSettings, Current: 1, Total: 1, Message: "Store settings migrated"})
	return true
}

// DetectLocalData inspects the local repository.
func (m *Migrator) DetectLocalData(ctx context.Context) (LocalDataSummary, error) {
	var out LocalDataSummary

	settings, err := m.local.GetSettings(ctx)
	if err != nil {
		return out, fmt.Errorf("detect local settings: %w", err)
	}
	out.HasSettings = settings != nil && strings.TrimSpace(settings.Name) != ""

	invoices, err := m.local.GetInvoices(ctx)
	if err != nil {
		return out, fmt.Errorf("detect local invoices: %w", err)
	}
	out.TotalInvoices = len(invoices)
	out.DraftCount = len(local.DraftInvoices(invoices))
	out.CompletedCount = len(local.CompletedInvoices(invoices))
	out.HasDrafts = out.DraftCount > 0
	out.HasCompleted = out.CompletedCount > 0
	return out, nil
}

// HasMigrated reports whether the marker is present. Storage errors read as
// not migrated.
func (m *Migrator) HasMigrated(ctx context.Context) bool {
	_, ok, err := m.local.GetFlag(ctx, MarkerKey)
	if err != nil {
		m.logger.Warn("failed reading migration marker", "error", err)
		return false
	}
	return ok
}

// NeedsMigration reports whether local data exists that was never migrated.
func (m *Migrator) NeedsMigration(ctx context.Context) bool {
	if m.HasMigrated(ctx) {
		return false
	}
	data, err := m.DetectLocalData(ctx)
	if err != nil {
		m.logger.Warn("failed detecting local data", "error", err)
		return false
	}
	return !data.Empty()
}

// Marker returns the persisted marker, or nil when there is none.
func (m *Migrator) Marker(ctx context.Context) (*Marker, error) {
	raw, ok, err := m.local.GetFlag(ctx, MarkerKey)
	if err != nil {
		return nil, fmt.Errorf("read migration marker: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var marker Marker
	if err := json.Unmarshal([]byte(raw), &marker); err != nil {
		return nil, fmt.Errorf("decode migration marker: %w", err)
	}
	return &marker, nil
}

// MarkMigrationComplete persists the marker with a snapshot of local counts.
func (m *Migrator) MarkMigrationComplete(ctx context.Context) error {
	data, err := m.DetectLocalData(ctx)
	if err != nil {
		m.logger.Warn("marking migration without local data snapshot", "error", err)
	}
	raw, err := json.Marshal(Marker{CompletedAt: m.now().UTC(), Summary: data})
	if err != nil {
		return fmt.Errorf("encode migration marker: %w", err)
	}
	if err := m.local.SetFlag(ctx, MarkerKey, string(raw)); err != nil {
		return fmt.Errorf("persist migration marker: %w", err)
	}
	return nil
}

// ResetMigrationStatus clears the marker so the migration can run again.
func (m *Migrator) ResetMigrationStatus(ctx context.Context) error {
	if err := m.local.DeleteFlag(ctx, MarkerKey); err != nil {
		return fmt.Errorf("reset migration status: %w", err)
	}
	m.logger.Warn("migration marker cleared")
	return nil
}

func (m *Migrator) count(step Step, outcome string, n int) {
	if m.metrics != nil {
		m.metrics.MigrationItems.WithLabelValues(string(step), outcome).Add(float64(n))
	}
}

func invoiceLabel(inv model.LocalInvoice) string {
	if inv.Number != "" {
		return inv.Number
	}
	return inv.ID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

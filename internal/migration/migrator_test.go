package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-sync/internal/local"
	"invoice-sync/internal/model"
	"invoice-sync/internal/remote/remotetest"
	"invoice-sync/internal/syncer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalRepo(t *testing.T) *local.GormRepository {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	repo, err := local.NewGormRepository(db)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// stubWriter fails settings or specific invoices on demand.
type stubWriter struct {
	mu            sync.Mutex
	failSettings  bool
	failInvoices  map[string]bool
	block         chan struct{}
	settingsCalls int
	invoiceCalls  []string
}

func (w *stubWriter) SyncSettings(context.Context, model.LocalSettings) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settingsCalls++
	if w.failSettings {
		return errors.New("settings rejected")
	}
	return nil
}

func (w *stubWriter) SyncInvoice(_ context.Context, inv model.LocalInvoice) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.invoiceCalls = append(w.invoiceCalls, inv.ID)
	if w.failInvoices[inv.ID] {
		return errors.New("remote unavailable")
	}
	return nil
}

func newTestMigrator(repo local.Repository, w Writer) (*Migrator, *int) {
	m := New(repo, w, testLogger(), nil, time.Millisecond)
	sleeps := new(int)
	m.sleep = func(context.Context, time.Duration) error {
		*sleeps++
		return nil
	}
	return m, sleeps
}

func seedInvoices(t *testing.T, repo local.Repository, completed, drafts int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	add := func(status model.InvoiceStatus) {
		n++
		inv := model.LocalInvoice{
			ID:        fmt.Sprintf("inv-%d", n),
			Number:    fmt.Sprintf("INV-%03d", n),
			Status:    status,
			Date:      "2025-02-01",
			Customer:  model.Customer{Name: "Customer"},
			Items:     []model.LineItem{{Name: "Item", Quantity: 1, Price: 1000}},
			CreatedAt: base.Add(time.Duration(n) * time.Minute),
		}
		if err := repo.SaveInvoice(ctx, inv); err != nil {
			t.Fatalf("seed invoice: %v", err)
		}
	}
	for i := 0; i < completed; i++ {
		add(model.InvoiceStatusCompleted)
	}
	for i := 0; i < drafts; i++ {
		add(model.InvoiceStatusDraft)
	}
}

func TestMigrateAllDataAcme(t *testing.T) {
	ctx := context.Background()
	repo := newLocalRepo(t)
	if err := repo.SaveSettings(ctx, model.LocalSettings{Name: "Acme", AdminName: "Budi"}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	seedInvoices(t, repo, 2, 1)

	fake := remotetest.NewFake()
	m, sleeps := newTestMigrator(repo, syncer.NewEntityWriter(fake, testLogger()))

	var progress []Progress
	summary := m.MigrateAllData(ctx, func(p Progress) { progress = append(progress, p) })

	if !summary.Success || !summary.SettingsMigrated || summary.CompletedMigrated != 2 || summary.TotalMigrated != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", summary.Errors)
	}
	if !m.HasMigrated(ctx) {
		t.Fatal("completion marker not set")
	}
	if got := len(fake.Invoices()); got != 2 {
		t.Fatalf("remote invoices = %d", got)
	}
	if len(fake.Contacts()) != 1 {
		t.Fatal("primary contact not migrated")
	}
	if *sleeps != 2 {
		t.Fatalf("pauses = %d, want one per invoice", *sleeps)
	}

	last := -1
	sawDrafts := false
	for _, p := range progress {
		if p.Step.Order() < last {
			t.Fatalf("step regressed to %s in %+v", p.Step, progress)
		}
		last = p.Step.Order()
		if p.Step == StepDrafts {
			sawDrafts = true
			if p.Message != "Skipped 1 drafts" {
				t.Fatalf("drafts message = %q", p.Message)
			}
		}
	}
	if !sawDrafts {
		t.Fatal("drafts step not reported")
	}
	if progress[len(progress)-1].Step != StepDone {
		t.Fatalf("last step = %s", progress[len(progress)-1].Step)
	}

	marker, err := m.Marker(ctx)
	if err != nil || marker == nil {
		t.Fatalf("marker = %+v err=%v", marker, err)
	}
	if marker.Summary.CompletedCount != 2 || marker.Summary.DraftCount != 1 || !marker.Summary.HasSettings {
		t.Fatalf("marker summary = %+v", marker.Summary)
	}
}

func TestDetectLocalDataEmpty(t *testing.T) {
	m, _ := newTestMigrator(newLocalRepo(t), &stubWriter{})
	got, err := m.DetectLocalData(context.Background())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	want := LocalDataSummary{}
	if got != want {
		t.Fatalf("detect = %+v", got)
	}
	if m.NeedsMigration(context.Background()) {
		t.Fatal("empty store needs no migration")
	}
}

func TestEmptyMigrationReportsNoDrafts(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMigrator(newLocalRepo(t), &stubWriter{})
	var msgs []string
	summary := m.MigrateAllData(ctx, func(p Progress) {
		if p.Step == StepDrafts {
			msgs = append(msgs, p.Message)
		}
	})
	if !summary.Success || summary.TotalMigrated != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(msgs) != 1 || msgs[0] != "No drafts to migrate" {
		t.Fatalf("drafts messages = %v", msgs)
	}
}

// Success here means "attempted and recorded": one of two invoices failing
// still marks the migration done.
func TestPartialSuccessCountsAsDone(t *testing.T) {
	ctx := context.Background()
	repo := newLocalRepo(t)
	seedInvoices(t, repo, 2, 0)
	w := &stubWriter{failInvoices: map[string]bool{"inv-1": true}}
	m, sleeps := newTestMigrator(repo, w)

	summary := m.MigrateAllData(ctx, nil)
	if !summary.Success || summary.CompletedMigrated != 1 || len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.Contains(summary.Errors[0], "INV-001") {
		t.Fatalf("error should name the invoice: %q", summary.Errors[0])
	}
	if len(w.invoiceCalls) != 2 || *sleeps != 2 {
		t.Fatalf("calls=%v sleeps=%d", w.invoiceCalls, *sleeps)
	}
	if !m.HasMigrated(ctx) {
		t.Fatal("partial success should set the marker")
	}
}

func TestTotalFailureLeavesMarkerUnset(t *testing.T) {
	ctx := context.Background()
	repo := newLocalRepo(t)
	if err := repo.SaveSettings(ctx, model.LocalSettings{Name: "Acme"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedInvoices(t, repo, 1, 0)
	w := &stubWriter{failSettings: true, failInvoices: map[string]bool{"inv-1": true}}
	m, _ := newTestMigrator(repo, w)

	summary := m.MigrateAllData(ctx, nil)
	if summary.Success || summary.SettingsMigrated || len(summary.Errors) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if m.HasMigrated(ctx) {
		t.Fatal("marker must not be set")
	}
}

func TestSettingsFailureWithMigratedInvoicesIsSuccess(t *testing.T) {
	ctx := context.Background()
	repo := newLocalRepo(t)
	if err := repo.SaveSettings(ctx, model.LocalSettings{Name: "Acme"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedInvoices(t, repo, 1, 0)
	m, _ := newTestMigrator(repo, &stubWriter{failSettings: true})

	summary := m.MigrateAllData(ctx, nil)
	if !summary.Success || summary.SettingsMigrated || summary.TotalMigrated != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestResetMigrationStatus(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMigrator(newLocalRepo(t), &stubWriter{})
	if err := m.MarkMigrationComplete(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !m.HasMigrated(ctx) {
		t.Fatal("expected migrated")
	}
	if err := m.ResetMigrationStatus(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if m.HasMigrated(ctx) {
		t.Fatal("expected marker cleared")
	}
	if marker, err := m.Marker(ctx); marker != nil || err != nil {
		t.Fatalf("marker = %+v err=%v", marker, err)
	}
}

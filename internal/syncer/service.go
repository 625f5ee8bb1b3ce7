package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"invoice-sync/internal/local"
	"invoice-sync/internal/mapper"
	"invoice-sync/internal/metrics"
	"invoice-sync/internal/model"
	"invoice-sync/internal/queue"
	"invoice-sync/internal/remote"
)

// SnapshotKey is the cache key of the last remote snapshot.
const SnapshotKey = "invoice-sync:snapshot"

// SnapshotCache stores JSON values with a TTL. cache.Redis satisfies it.
type SnapshotCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Status is the UI-facing view of the sync state.
type Status struct {
	IsSyncing       bool       `json:"is_syncing"`
	QueueCount      int        `json:"queue_count"`
	AutoSyncEnabled bool       `json:"auto_sync_enabled"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Snapshot is the remote state pulled by RefreshFromRemote.
type Snapshot struct {
	Settings  *model.LocalSettings `json:"settings,omitempty"`
	Invoices  []model.LocalInvoice `json:"invoices"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// RefreshResult reports the outcome of RefreshFromRemote.
type RefreshResult struct {
	Success         bool   `json:"success"`
	SettingsLoaded  bool   `json:"settings_loaded"`
	InvoicesLoaded  int    `json:"invoices_loaded"`
	LegacySignature bool   `json:"legacy_signature,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ServiceOptions holds the optional parts of a Service.
type ServiceOptions struct {
	Cache    SnapshotCache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

// Service is the façade used by the HTTP layer and the CLI.
type Service struct {
	queue     queue.Store
	processor *Processor
	remote    remote.Service
	local     local.Repository
	cache     SnapshotCache
	cacheTTL  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService builds the façade.
func NewService(store queue.Store, processor *Processor, svc remote.Service, repo local.Repository, logger *slog.Logger, opts ServiceOptions) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		queue:     store,
		processor: processor,
		remote:    svc,
		local:     repo,
		cache:     opts.Cache,
		cacheTTL:  ttl,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "sync_service"),
	}
}

// Processor exposes the underlying processor for auto-sync control.
func (s *Service) Processor() *Processor {
	return s.processor
}

// Enqueue validates a mutation and records it for the next drain.
func (s *Service) Enqueue(ctx context.Context, m queue.Mutation) (queue.Item, error) {
	if err := ValidateMutation(m); err != nil {
		return queue.Item{}, err
	}
	item, err := s.queue.Enqueue(ctx, m)
	if err != nil {
		return queue.Item{}, fmt.Errorf("enqueue %s %s: %w", m.Action, m.EntityType, err)
	}
	s.updateDepth(ctx)
	return item, nil
}

// EnqueueSettings queues an upsert of the store settings.
func (s *Service) EnqueueSettings(ctx context.Context, settings model.LocalSettings) (queue.Item, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return queue.Item{}, fmt.Errorf("encode settings: %w", err)
	}
	return s.Enqueue(ctx, queue.Mutation{
		Action:     queue.ActionUpsert,
		EntityType: queue.EntitySettings,
		EntityID:   "settings",
		Data:       data,
	})
}

// EnqueueInvoice queues a create, update or upsert of an invoice.
func (s *Service) EnqueueInvoice(ctx context.Context, action queue.Action, inv model.LocalInvoice) (queue.Item, error) {
	if action == queue.ActionDelete {
		return s.EnqueueInvoiceDelete(ctx, inv.ID)
	}
	if inv.ID == "" {
		return queue.Item{}, fmt.Errorf("enqueue invoice: empty id")
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return queue.Item{}, fmt.Errorf("encode invoice: %w", err)
	}
	return s.Enqueue(ctx, queue.Mutation{
		Action:     action,
		EntityType: queue.EntityInvoice,
		EntityID:   inv.ID,
		Data:       data,
	})
}

// EnqueueInvoiceDelete queues removal of an invoice by local id.
func (s *Service) EnqueueInvoiceDelete(ctx context.Context, id string) (queue.Item, error) {
	if id == "" {
		return queue.Item{}, fmt.Errorf("enqueue invoice delete: empty id")
	}
	return s.Enqueue(ctx, queue.Mutation{
		Action:     queue.ActionDelete,
		EntityType: queue.EntityInvoice,
		EntityID:   id,
	})
}

// SaveSettings stores settings on the device and queues their upload.
func (s *Service) SaveSettings(ctx context.Context, settings model.LocalSettings) (queue.Item, error) {
	if err := validateSettings(settings); err != nil {
		return queue.Item{}, err
	}
	if err := s.local.SaveSettings(ctx, settings); err != nil {
		return queue.Item{}, fmt.Errorf("save settings: %w", err)
	}
	s.invalidateSnapshot(ctx)
	return s.EnqueueSettings(ctx, settings)
}

// SaveInvoice stores an invoice on the device and queues an upsert.
func (s *Service) SaveInvoice(ctx context.Context, inv model.LocalInvoice) (queue.Item, error) {
	if err := validateInvoice(inv); err != nil {
		return queue.Item{}, err
	}
	if err := s.local.SaveInvoice(ctx, inv); err != nil {
		return queue.Item{}, fmt.Errorf("save invoice: %w", err)
	}
	s.invalidateSnapshot(ctx)
	return s.EnqueueInvoice(ctx, queue.ActionUpsert, inv)
}

// DeleteInvoice removes an invoice from the device and queues the remote delete.
func (s *Service) DeleteInvoice(ctx context.Context, id string) (queue.Item, error) {
	if strings.TrimSpace(id) == "" {
		return queue.Item{}, fmt.Errorf("%w: invoice id is required", ErrInvalidMutation)
	}
	if err := s.local.DeleteInvoice(ctx, id); err != nil {
		return queue.Item{}, fmt.Errorf("delete invoice: %w", err)
	}
	s.invalidateSnapshot(ctx)
	return s.EnqueueInvoiceDelete(ctx, id)
}

// LocalSettings returns the device copy of the settings, nil when unset.
func (s *Service) LocalSettings(ctx context.Context) (*model.LocalSettings, error) {
	return s.local.GetSettings(ctx)
}

// LocalInvoices returns the device copy of every invoice.
func (s *Service) LocalInvoices(ctx context.Context) ([]model.LocalInvoice, error) {
	invoices, err := s.local.GetInvoices(ctx)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []model.LocalInvoice{}
	}
	return invoices, nil
}

// TriggerSync runs a drain on the caller's goroutine.
func (s *Service) TriggerSync(ctx context.Context) Stats {
	stats := s.processor.Drain(ctx)
	if stats.Succeeded > 0 {
		s.invalidateSnapshot(ctx)
	}
	return stats
}

// GetStatus returns the current sync status. It never fails.
func (s *Service) GetStatus(ctx context.Context) Status {
	st := Status{
		IsSyncing:       s.processor.Syncing(),
		QueueCount:      s.queue.Count(ctx),
		AutoSyncEnabled: s.processor.AutoSyncEnabled(),
	}
	at, lastErr := s.processor.LastRun()
	if !at.IsZero() {
		st.LastSyncAt = &at
	}
	st.LastError = lastErr
	return st
}

// PendingOperations lists queued mutations in FIFO order.
func (s *Service) PendingOperations(ctx context.Context) []queue.Item {
	items := s.queue.GetAll(ctx)
	if items == nil {
		return []queue.Item{}
	}
	return items
}

// ClearQueue abandons every pending mutation.
func (s *Service) ClearQueue(ctx context.Context) error {
	n := s.queue.Count(ctx)
	if err := s.queue.Clear(ctx); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	s.logger.Warn("sync queue cleared, pending changes discarded", "discarded", n)
	s.updateDepth(ctx)
	return nil
}

// RefreshFromRemote replaces local settings and invoices with the remote
// copy. It refuses to run while local changes are still queued.
func (s *Service) RefreshFromRemote(ctx context.Context) RefreshResult {
	if n := s.queue.Count(ctx); n > 0 {
		return RefreshResult{Error: fmt.Sprintf("%d pending changes have not been synced yet", n)}
	}

	snap, legacy, err := s.fetchSnapshot(ctx)
	if err != nil {
		s.logger.Error("refresh from remote failed", "error", err)
		return RefreshResult{Error: err.Error()}
	}
	if snap.Settings == nil {
		s.logger.Info("no remote store yet, local data left untouched")
		return RefreshResult{Success: true}
	}

	if err := s.local.SaveSettings(ctx, *snap.Settings); err != nil {
		return RefreshResult{Error: fmt.Sprintf("save local settings: %v", err)}
	}
	if err := s.local.SetInvoices(ctx, snap.Invoices); err != nil {
		return RefreshResult{Error: fmt.Sprintf("save local invoices: %v", err)}
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, SnapshotKey, snap, s.cacheTTL); err != nil {
			s.logger.Warn("failed caching remote snapshot", "error", err)
		}
	}

	s.logger.Info("local data refreshed from remote", "invoices", len(snap.Invoices))
	return RefreshResult{
		Success:         true,
		SettingsLoaded:  true,
		InvoicesLoaded:  len(snap.Invoices),
		LegacySignature: legacy,
	}
}

// CachedSnapshot returns the last snapshot stored by RefreshFromRemote.
func (s *Service) CachedSnapshot(ctx context.Context) (*Snapshot, bool) {
	if s.cache == nil {
		return nil, false
	}
	var snap Snapshot
	ok, err := s.cache.GetJSON(ctx, SnapshotKey, &snap)
	if err != nil {
		s.logger.Warn("failed reading cached snapshot", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &snap, true
}

// invalidateSnapshot drops the cached snapshot once it no longer matches the
// remote or local state.
func (s *Service) invalidateSnapshot(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, SnapshotKey); err != nil {
		s.logger.Warn("failed dropping cached snapshot", "error", err)
	}
}

func (s *Service) fetchSnapshot(ctx context.Context) (Snapshot, bool, error) {
	snap := Snapshot{Invoices: []model.LocalInvoice{}, FetchedAt: time.Now().UTC()}

	store, err := s.remote.GetStore(ctx)
	if err != nil {
		return snap, false, fmt.Errorf("fetch store: %w", err)
	}
	if store == nil {
		return snap, false, nil
	}

	primary, err := s.remote.GetPrimaryContact(ctx, store.ID)
	if err != nil {
		return snap, false, fmt.Errorf("fetch primary contact: %w", err)
	}
	legacy := mapper.LegacySignature(*store, primary)
	if legacy {
		s.logger.Warn("store signature only present on legacy column", "store_id", store.ID)
	}
	settings := mapper.RemoteToLocalSettings(*store, primary)
	snap.Settings = &settings

	rows, err := s.remote.ListInvoices(ctx, store.ID)
	if err != nil {
		return snap, legacy, fmt.Errorf("fetch invoices: %w", err)
	}
	for _, row := range rows {
		items, err := s.remote.ListInvoiceItems(ctx, row.ID)
		if err != nil {
			return snap, legacy, fmt.Errorf("fetch items of invoice %s: %w", row.ID, err)
		}
		snap.Invoices = append(snap.Invoices, mapper.RemoteToLocalInvoice(row, items))
	}
	return snap, legacy, nil
}

func (s *Service) updateDepth(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.SyncQueueDepth.Set(float64(s.queue.Count(ctx)))
	}
}

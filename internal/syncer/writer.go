package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"invoice-sync/internal/mapper"
	"invoice-sync/internal/model"
	"invoice-sync/internal/queue"
	"invoice-sync/internal/remote"
)

// ErrUnsupportedEntity is returned for queue items the writer cannot apply.
var ErrUnsupportedEntity = errors.New("unsupported entity type")

// Applier pushes one queued mutation to the remote store.
type Applier interface {
	Apply(ctx context.Context, item queue.Item) error
}

// EntityWriter maps local entities and writes them through remote.Service.
type EntityWriter struct {
	remote remote.Service
	logger *slog.Logger
}

// NewEntityWriter builds a writer over svc.
func NewEntityWriter(svc remote.Service, logger *slog.Logger) *EntityWriter {
	return &EntityWriter{
		remote: svc,
		logger: logger.With("component", "entity_writer"),
	}
}

// Apply dispatches on the item's entity type and action.
func (w *EntityWriter) Apply(ctx context.Context, item queue.Item) error {
	switch item.EntityType {
	case queue.EntitySettings:
		if item.Action == queue.ActionDelete {
			return w.DeleteSettings(ctx)
		}
		var settings model.LocalSettings
		if err := json.Unmarshal(item.Data, &settings); err != nil {
			return fmt.Errorf("decode settings payload: %w", err)
		}
		return w.SyncSettings(ctx, settings)

	case queue.EntityInvoice:
		if item.Action == queue.ActionDelete {
			return w.DeleteInvoice(ctx, item.EntityID)
		}
		var inv model.LocalInvoice
		if err := json.Unmarshal(item.Data, &inv); err != nil {
			return fmt.Errorf("decode invoice payload: %w", err)
		}
		if inv.ID == "" {
			inv.ID = item.EntityID
		}
		return w.SyncInvoice(ctx, inv)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEntity, item.EntityType)
	}
}

// SyncSettings upserts the store row and keeps the primary contact in step
// with the admin fields.
func (w *EntityWriter) SyncSettings(ctx context.Context, settings model.LocalSettings) error {
	if strings.TrimSpace(settings.Name) == "" {
		return fmt.Errorf("sync settings: store name is required")
	}

	store, err := w.remote.UpsertStore(ctx, mapper.LocalToRemoteSettings(settings))
	if err != nil {
		return fmt.Errorf("sync settings: %w", err)
	}

	primary, err := w.remote.GetPrimaryContact(ctx, store.ID)
	if err != nil {
		return fmt.Errorf("sync settings: %w", err)
	}
	if mapper.LegacySignature(*store, primary) && settings.SignatureURL == "" {
		w.logger.Warn("store signature only present on legacy column", "store_id", store.ID)
	}

	if !settings.HasAdmin() {
		return nil
	}

	contact := mapper.PrimaryContactFromSettings(settings, store.ID)
	if primary == nil {
		if _, err := w.remote.CreateContact(ctx, contact); err != nil {
			return fmt.Errorf("sync settings: create primary contact: %w", err)
		}
		return nil
	}
	contact.ID = primary.ID
	if _, err := w.remote.UpdateContact(ctx, contact); err != nil {
		return fmt.Errorf("sync settings: update primary contact: %w", err)
	}
	return nil
}

// DeleteSettings removes the user's store.
func (w *EntityWriter) DeleteSettings(ctx context.Context) error {
	if err := w.remote.DeleteStore(ctx); err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return nil
}

// SyncInvoice writes the invoice header and its items for the user's store.
func (w *EntityWriter) SyncInvoice(ctx context.Context, inv model.LocalInvoice) error {
	store, err := w.remote.GetStore(ctx)
	if err != nil {
		return fmt.Errorf("sync invoice %s: %w", inv.ID, err)
	}
	if store == nil {
		return fmt.Errorf("sync invoice %s: %w", inv.ID, remote.ErrStoreNotFound)
	}

	row := mapper.LocalToRemoteInvoice(inv, store.ID)
	items := mapper.LocalToRemoteItems(row.ID, inv.Items)
	if err := w.remote.UpsertInvoiceWithItems(ctx, row, items); err != nil {
		return fmt.Errorf("sync invoice %s: %w", inv.ID, err)
	}
	return nil
}

// DeleteInvoice removes the remote copy of a local invoice. Without a remote
// store there is nothing to delete.
func (w *EntityWriter) DeleteInvoice(ctx context.Context, localID string) error {
	store, err := w.remote.GetStore(ctx)
	if err != nil {
		return fmt.Errorf("delete invoice %s: %w", localID, err)
	}
	if store == nil {
		w.logger.Debug("no remote store, invoice delete is a no-op", "invoice_id", localID)
		return nil
	}
	if err := w.remote.DeleteInvoice(ctx, mapper.RemoteInvoiceID(store.ID, localID)); err != nil {
		return fmt.Errorf("delete invoice %s: %w", localID, err)
	}
	return nil
}

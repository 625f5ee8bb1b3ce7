package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"invoice-sync/internal/model"
	"invoice-sync/internal/queue"
)

// ErrInvalidMutation is returned for mutations that could never be applied.
var ErrInvalidMutation = errors.New("invalid mutation")

// ValidateMutation rejects a mutation before it reaches the queue when its
// action, entity or payload can not be applied by the EntityWriter.
func ValidateMutation(m queue.Mutation) error {
	switch m.Action {
	case queue.ActionCreate, queue.ActionUpdate, queue.ActionUpsert, queue.ActionDelete:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMutation, m.Action)
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidMutation)
	}

	switch m.EntityType {
	case queue.EntitySettings:
		if m.Action == queue.ActionDelete {
			return nil
		}
		var settings model.LocalSettings
		if err := json.Unmarshal(m.Data, &settings); err != nil {
			return fmt.Errorf("%w: settings payload: %v", ErrInvalidMutation, err)
		}
		return validateSettings(settings)

	case queue.EntityInvoice:
		if m.Action == queue.ActionDelete {
			return nil
		}
		var inv model.LocalInvoice
		if err := json.Unmarshal(m.Data, &inv); err != nil {
			return fmt.Errorf("%w: invoice payload: %v", ErrInvalidMutation, err)
		}
		if inv.ID != "" && inv.ID != m.EntityID {
			return fmt.Errorf("%w: payload id %q does not match entity_id %q", ErrInvalidMutation, inv.ID, m.EntityID)
		}
		inv.ID = m.EntityID
		return validateInvoice(inv)

	case queue.EntityInvoiceItem:
		return nil

	default:
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidMutation, m.EntityType)
	}
}

func validateSettings(s model.LocalSettings) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: store name is required", ErrInvalidMutation)
	}
	return nil
}

func validateInvoice(inv model.LocalInvoice) error {
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidMutation)
	}
	switch inv.Status {
	case "", model.InvoiceStatusDraft, model.InvoiceStatusCompleted:
	default:
		return fmt.Errorf("%w: unknown invoice status %q", ErrInvalidMutation, inv.Status)
	}
	return nil
}

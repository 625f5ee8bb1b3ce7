package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"invoice-sync/internal/mapper"
	"invoice-sync/internal/model"
	"invoice-sync/internal/queue"
	"invoice-sync/internal/remote"
	"invoice-sync/internal/remote/remotetest"
)

func TestSyncSettingsKeepsSinglePrimaryContact(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	w := NewEntityWriter(fake, testLogger())

	settings := model.LocalSettings{Name: "Acme", AdminName: "Budi", AdminTitle: "Owner"}
	if err := w.SyncSettings(ctx, settings); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	settings.AdminName = "Sari"
	if err := w.SyncSettings(ctx, settings); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	contacts := fake.Contacts()
	if len(contacts) != 1 {
		t.Fatalf("expected one contact, got %d", len(contacts))
	}
	if contacts[0].Name != "Sari" || !contacts[0].IsPrimary {
		t.Fatalf("unexpected contact %+v", contacts[0])
	}
	if fake.Calls("create_contact") != 1 || fake.Calls("update_contact") != 1 {
		t.Fatalf("create=%d update=%d", fake.Calls("create_contact"), fake.Calls("update_contact"))
	}
}

func TestSyncSettingsWithoutAdminSkipsContact(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	w := NewEntityWriter(fake, testLogger())

	if err := w.SyncSettings(ctx, model.LocalSettings{Name: "Acme"}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if fake.Calls("create_contact") != 0 {
		t.Fatal("no contact expected without admin fields")
	}
}

func TestSyncSettingsRequiresName(t *testing.T) {
	w := NewEntityWriter(remotetest.NewFake(), testLogger())
	if err := w.SyncSettings(context.Background(), model.LocalSettings{Name: "  "}); err == nil {
		t.Fatal("expected error for blank store name")
	}
}

func TestSyncInvoiceWithoutStore(t *testing.T) {
	w := NewEntityWriter(remotetest.NewFake(), testLogger())
	err := w.SyncInvoice(context.Background(), model.LocalInvoice{ID: "inv-1"})
	if !errors.Is(err, remote.ErrStoreNotFound) {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
}

func TestSyncInvoiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	w := NewEntityWriter(fake, testLogger())
	if err := w.SyncSettings(ctx, model.LocalSettings{Name: "Acme"}); err != nil {
		t.Fatalf("sync settings: %v", err)
	}

	inv := model.LocalInvoice{
		ID:     "inv-1",
		Number: "INV-1",
		Items:  []model.LineItem{{Name: "a", Quantity: 1, Price: 1}, {Name: "b", Quantity: 2, Price: 3}},
	}
	for i := 0; i < 2; i++ {
		if err := w.SyncInvoice(ctx, inv); err != nil {
			t.Fatalf("sync invoice: %v", err)
		}
	}
	invoices := fake.Invoices()
	if len(invoices) != 1 {
		t.Fatalf("expected one remote invoice, got %d", len(invoices))
	}
	store, _ := fake.GetStore(ctx)
	if invoices[0].ID != mapper.RemoteInvoiceID(store.ID, "inv-1") {
		t.Fatalf("remote id = %s", invoices[0].ID)
	}
	if items := fake.Items(invoices[0].ID); len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	if err := w.Apply(ctx, queue.Item{Action: queue.ActionDelete, EntityType: queue.EntityInvoice, EntityID: "inv-1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.Invoices()) != 0 {
		t.Fatal("invoice not deleted")
	}
}

func TestApplyRejectsUnknownEntity(t *testing.T) {
	w := NewEntityWriter(remotetest.NewFake(), testLogger())
	err := w.Apply(context.Background(), queue.Item{Action: queue.ActionCreate, EntityType: "customer"})
	if !errors.Is(err, ErrUnsupportedEntity) {
		t.Fatalf("expected ErrUnsupportedEntity, got %v", err)
	}
}

func TestApplyBadPayload(t *testing.T) {
	w := NewEntityWriter(remotetest.NewFake(), testLogger())
	err := w.Apply(context.Background(), queue.Item{Action: queue.ActionUpsert, EntityType: queue.EntitySettings, Data: []byte("{")})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSyncInvoiceRefusesForeignRow(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	w := NewEntityWriter(fake, testLogger())
	if err := w.SyncSettings(ctx, model.LocalSettings{Name: "Acme"}); err != nil {
		t.Fatalf("sync settings: %v", err)
	}
	store, _ := fake.GetStore(ctx)

	// Another store already holds the id this store would write to.
	id := mapper.RemoteInvoiceID(store.ID, "INV-001")
	foreign := model.InvoiceRow{ID: id, StoreID: "other-store", InvoiceNumber: "THEIRS"}
	fake.PutInvoice(foreign, []model.InvoiceItemRow{{ID: "it-1", InvoiceID: id, Name: "theirs"}})

	inv := model.LocalInvoice{ID: "INV-001", Number: "INV-001", Items: []model.LineItem{{Name: "ours", Quantity: 1}}}
	err := w.SyncInvoice(ctx, inv)
	if !errors.Is(err, remote.ErrInvoiceNotOwned) {
		t.Fatalf("expected ErrInvoiceNotOwned, got %v", err)
	}
	items := fake.Items(id)
	if len(items) != 1 || items[0].Name != "theirs" {
		t.Fatalf("foreign items were touched: %+v", items)
	}
}

func TestInvoicesOfTwoStoresDoNotCollide(t *testing.T) {
	ctx := context.Background()
	inv := model.LocalInvoice{ID: "INV-001", Number: "INV-001", Items: []model.LineItem{{Name: "a", Quantity: 1, Price: 1}}}

	var ids []string
	for i := 0; i < 2; i++ {
		fake := remotetest.NewFake()
		w := NewEntityWriter(fake, testLogger())
		if err := w.SyncSettings(ctx, model.LocalSettings{Name: fmt.Sprintf("Store %d", i)}); err != nil {
			t.Fatalf("sync settings: %v", err)
		}
		if err := w.SyncInvoice(ctx, inv); err != nil {
			t.Fatalf("sync invoice: %v", err)
		}
		ids = append(ids, fake.Invoices()[0].ID)
	}
	if ids[0] == ids[1] {
		t.Fatalf("two stores wrote the same remote invoice id %s", ids[0])
	}
}

func TestDeleteInvoiceWithoutStore(t *testing.T) {
	fake := remotetest.NewFake()
	w := NewEntityWriter(fake, testLogger())
	if err := w.DeleteInvoice(context.Background(), "inv-1"); err != nil {
		t.Fatalf("delete without store: %v", err)
	}
	if fake.Calls("delete_invoice") != 0 {
		t.Fatal("delete_invoice should not be called without a store")
	}
}

package fsstore

import (
	"context"
	"fmt"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"

	"cloud.google.com/go/firestore"
)

// Batch queues migration writes and commits them in one transaction.
// Firestore caps a transaction at 500 writes.
type Batch struct {
	s         *Store
	userID    string
	products  []*models.Product
	instances []models.Instance
}

// NewBatch starts an empty write batch for a user
func (s *Store) NewBatch(userID string) models.WriteBatch {
	return &Batch{s: s, userID: userID}
}

// CreateProduct queues a product and its key document
func (b *Batch) CreateProduct(p *models.Product) {
	b.products = append(b.products, p)
}

// MigrateInstance queues the rewrite of a legacy document
func (b *Batch) MigrateInstance(inst models.Instance) {
	b.instances = append(b.instances, inst)
}

// Len counts document writes: two per product, one per instance
func (b *Batch) Len() int {
	return 2*len(b.products) + len(b.instances)
}

// Commit writes everything queued or nothing. Products whose key was taken
// since they were queued take the existing product's ID.
func (b *Batch) Commit(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}

	var remap map[string]string
	err := b.s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// reads first
		remap = make(map[string]string)
		for _, p := range b.products {
			p.DedupKey = catalog.ProductKey(p)
			snap, err := tx.Get(b.s.keyDoc(b.userID, p.DedupKey))
			if err != nil && !isNotFound(err) {
				return err
			}
			if err == nil && snap.Exists() {
				if existing, _ := snap.Data()["product_id"].(string); existing != "" {
					remap[p.ID] = existing
				}
			}
		}
		for _, inst := range b.instances {
			doc, err := tx.Get(b.s.inventory(b.userID).Doc(inst.ID))
			if err != nil {
				return fmt.Errorf("failed to read item %s: %w", inst.ID, err)
			}
			if pid, _ := doc.Data()["product_id"].(string); pid != "" {
				return fmt.Errorf("item %s changed during migration", inst.ID)
			}
		}

		for _, p := range b.products {
			if _, taken := remap[p.ID]; taken {
				continue
			}
			if err := tx.Create(b.s.keyDoc(b.userID, p.DedupKey), keyData(p)); err != nil {
				return err
			}
			if err := tx.Create(b.s.products(b.userID).Doc(p.ID), productData(p)); err != nil {
				return err
			}
		}

		stamp := now()
		for _, inst := range b.instances {
			if id, ok := remap[inst.ProductID]; ok {
				inst.ProductID = id
			}
			inst.UpdatedAt = stamp
			// Set without merge drops the relocated product fields
			if err := tx.Set(b.s.inventory(b.userID).Doc(inst.ID), instanceData(&inst)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range b.products {
		if id, ok := remap[p.ID]; ok {
			p.ID = id
		}
	}
	b.products = nil
	b.instances = nil
	return nil
}

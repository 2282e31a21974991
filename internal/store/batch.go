package store

import (
	"context"
	"fmt"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"
)

// Batch queues migration writes and commits them in one transaction
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

// CreateProduct queues a product insert
func (b *Batch) CreateProduct(p *models.Product) {
	b.products = append(b.products, p)
}

// MigrateInstance queues the rewrite of a legacy row
func (b *Batch) MigrateInstance(inst models.Instance) {
	b.instances = append(b.instances, inst)
}

// Len returns the number of queued statements
func (b *Batch) Len() int {
	return len(b.products) + len(b.instances)
}

const migrateInstanceSQL = `UPDATE inventory SET product_id = ?, estimated_remaining = ?,
	purchase_date = ?, open_date = ?, memo = ?, legacy_product = NULL, updated_at = ?
	WHERE user_id = ? AND id = ? AND product_id IS NULL`

// Commit writes everything queued or nothing. A product whose dedup key was
// taken since it was queued is replaced by the existing one, and its ID is
// rewritten to match.
func (b *Batch) Commit(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}

	tx, err := b.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	remap := make(map[string]string)
	for _, p := range b.products {
		p.DedupKey = catalog.ProductKey(p)
		res, err := tx.NamedExecContext(ctx, insertProductSQL+" ON CONFLICT (user_id, dedup_key) DO NOTHING", p)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var existing string
			err := tx.GetContext(ctx, &existing,
				b.s.q("SELECT id FROM products WHERE user_id = ? AND dedup_key = ?"), b.userID, p.DedupKey)
			if err != nil {
				return fmt.Errorf("failed to load existing product: %w", err)
			}
			remap[p.ID] = existing
		}
	}

	stamp := now()
	for _, inst := range b.instances {
		productID := inst.ProductID
		if id, ok := remap[productID]; ok {
			productID = id
		}
		res, err := tx.ExecContext(ctx, b.s.q(migrateInstanceSQL),
			productID, inst.EstimatedRemaining, inst.PurchaseDate, inst.OpenDate, inst.Memo, stamp,
			b.userID, inst.ID)
		if err != nil {
			return fmt.Errorf("failed to migrate item %s: %w", inst.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("item %s changed during migration", inst.ID)
		}
	}

	if err := tx.Commit(); err != nil {
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

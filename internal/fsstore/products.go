package fsstore

import (
	"context"
	"fmt"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// ListProducts returns the user's whole catalog
func (s *Store) ListProducts(ctx context.Context, userID string) ([]models.Product, error) {
	iter := s.products(userID).Documents(ctx)
	defer iter.Stop()

	products := []models.Product{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list products: %w", err)
		}
		p, err := docToProduct(userID, doc)
		if err != nil {
			util.GetLogger().Warn("Product document has malformed fields",
				zap.String("user_id", userID), zap.String("product_id", doc.Ref.ID), zap.Error(err))
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, userID, productID string) (*models.Product, error) {
	doc, err := s.products(userID).Doc(productID).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p, err := docToProduct(userID, doc)
	if err != nil {
		util.GetLogger().Warn("Product document has malformed fields",
			zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(err))
	}
	return &p, nil
}

// GetOrCreateProduct creates the product and its key document in one
// transaction unless the key document already points at a product
func (s *Store) GetOrCreateProduct(ctx context.Context, p *models.Product) (string, bool, error) {
	p.DedupKey = catalog.ProductKey(p)
	keyRef := s.keyDoc(p.UserID, p.DedupKey)
	productRef := s.products(p.UserID).Doc(p.ID)

	var id string
	var created bool
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(keyRef)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil && snap.Exists() {
			existing, _ := snap.Data()["product_id"].(string)
			if existing == "" {
				return fmt.Errorf("dedup key %q has no product", p.DedupKey)
			}
			id, created = existing, false
			return nil
		}

		if err := tx.Create(keyRef, keyData(p)); err != nil {
			return err
		}
		if err := tx.Create(productRef, productData(p)); err != nil {
			return err
		}
		id, created = p.ID, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get or create product: %w", err)
	}
	return id, created, nil
}

func keyData(p *models.Product) map[string]interface{} {
	return map[string]interface{}{
		"product_id": p.ID,
		"dedup_key":  p.DedupKey,
	}
}

// UpdateProduct applies product-owned fields and bumps updated_at, moving
// the key document when the dedup key changes. Only the patched paths are
// written; fields this version does not decode stay on the document.
func (s *Store) UpdateProduct(ctx context.Context, userID, productID string, fields models.Fields) error {
	productRef := s.products(userID).Doc(productID)

	return s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(productRef)
		if isNotFound(err) {
			return fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
		}
		if err != nil {
			return err
		}

		p, err := docToProduct(userID, doc)
		if err != nil {
			util.GetLogger().Warn("Product document has malformed fields",
				zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(err))
		}
		oldKey := p.DedupKey
		if err := p.Apply(fields); err != nil {
			return err
		}
		p.DedupKey = catalog.ProductKey(&p)

		if p.DedupKey != oldKey {
			newKeyRef := s.keyDoc(userID, p.DedupKey)
			snap, err := tx.Get(newKeyRef)
			if err != nil && !isNotFound(err) {
				return err
			}
			if err == nil && snap.Exists() {
				return models.ErrDuplicateProduct
			}
			if err := tx.Delete(s.keyDoc(userID, oldKey)); err != nil {
				return err
			}
			if err := tx.Create(newKeyRef, keyData(&p)); err != nil {
				return err
			}
		}

		return tx.Update(productRef, patchUpdates(doc.Data(), p.Fields(), fields.Keys(),
			firestore.Update{Path: "dedup_key", Value: p.DedupKey},
			firestore.Update{Path: "updated_at", Value: now()},
		))
	})
}

// patchUpdates turns the patched keys into field updates. typed holds the
// decoded values; a key it lacks was cleared and is deleted. Older alias
// names of a patched field are deleted so they cannot shadow the new value.
func patchUpdates(stored map[string]interface{}, typed models.Fields, keys []string, extra ...firestore.Update) []firestore.Update {
	updates := append([]firestore.Update{}, extra...)
	for _, k := range keys {
		v, ok := typed[k]
		if !ok || v == nil {
			v = firestore.Delete
		}
		updates = append(updates, firestore.Update{Path: k, Value: v})
		for _, alias := range catalog.AliasesOf(k) {
			if _, ok := stored[alias]; ok {
				updates = append(updates, firestore.Update{Path: alias, Value: firestore.Delete})
			}
		}
	}
	return updates
}

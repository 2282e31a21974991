package fsstore

import (
	"context"
	"fmt"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// CreateInstance stores an instance that references a product
func (s *Store) CreateInstance(ctx context.Context, inst *models.Instance) error {
	if inst.ProductID == "" {
		return fmt.Errorf("instance %s has no product: %w", inst.ID, models.ErrValidation)
	}
	if _, err := s.inventory(inst.UserID).Doc(inst.ID).Create(ctx, instanceData(inst)); err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// CreateLegacy stores a flat document with product fields next to the instance
func (s *Store) CreateLegacy(ctx context.Context, inst *models.Instance, product models.Fields) error {
	data := instanceData(inst)
	delete(data, "product_id")
	for k, v := range product {
		data[k] = v
	}
	if _, err := s.inventory(inst.UserID).Doc(inst.ID).Create(ctx, data); err != nil {
		return fmt.Errorf("failed to create legacy item: %w", err)
	}
	return nil
}

// GetInstance retrieves a record by ID
func (s *Store) GetInstance(ctx context.Context, userID, id string) (models.Record, error) {
	doc, err := s.inventory(userID).Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return docToRecord(userID, doc)
}

// ListInstances returns the user's records ordered by document id after cursor
func (s *Store) ListInstances(ctx context.Context, userID, cursor string, limit int) ([]models.Record, error) {
	q := s.inventory(userID).OrderBy(firestore.DocumentID, firestore.Asc)
	if cursor != "" {
		q = q.StartAfter(cursor)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []models.Record
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list items: %w", err)
		}
		rec, err := docToRecord(userID, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// UpdateInstance writes instance-owned fields and bumps updated_at
func (s *Store) UpdateInstance(ctx context.Context, userID, id string, fields models.Fields) error {
	var inst models.Instance
	if err := inst.Apply(fields); err != nil {
		return err
	}
	typed := inst.Fields()

	updates := []firestore.Update{{Path: "updated_at", Value: now()}}
	for _, k := range fields.Keys() {
		updates = append(updates, firestore.Update{Path: k, Value: typed[k]})
	}

	_, err := s.inventory(userID).Doc(id).Update(ctx, updates)
	if isNotFound(err) {
		return fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	return err
}

// UpdateLegacy writes a whole patch to a legacy document in one update.
// A null product field is removed from the document.
func (s *Store) UpdateLegacy(ctx context.Context, userID, id string, instance, product models.Fields) error {
	var inst models.Instance
	if err := inst.Apply(instance); err != nil {
		return err
	}
	typed := inst.Fields()
	ref := s.inventory(userID).Doc(id)

	return s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if isNotFound(err) {
			return fmt.Errorf("item %s: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if pid, _ := doc.Data()["product_id"].(string); pid != "" {
			return fmt.Errorf("item %s was migrated concurrently", id)
		}

		updates := []firestore.Update{{Path: "updated_at", Value: now()}}
		for _, k := range instance.Keys() {
			updates = append(updates, firestore.Update{Path: k, Value: typed[k]})
		}
		for _, k := range product.Keys() {
			v := product[k]
			if v == nil {
				v = firestore.Delete
			}
			updates = append(updates, firestore.Update{Path: k, Value: v})
			for _, alias := range catalog.AliasesOf(k) {
				if _, ok := doc.Data()[alias]; ok {
					updates = append(updates, firestore.Update{Path: alias, Value: firestore.Delete})
				}
			}
		}
		return tx.Update(ref, updates)
	})
}

// DeleteInstance removes an instance. The product it references stays.
func (s *Store) DeleteInstance(ctx context.Context, userID, id string) error {
	_, err := s.inventory(userID).Doc(id).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	return err
}

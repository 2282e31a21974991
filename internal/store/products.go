package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"
)

const productColumns = `id, user_id, dedup_key, brand, product_name, category, item_type,
	color_code, color_name, color_description, texture, stats, rarity, pao_months, price,
	product_url, image_url, marketplace_image_url, images, source, confidence,
	created_at, updated_at`

const insertProductSQL = `INSERT INTO products (` + productColumns + `) VALUES (
	:id, :user_id, :dedup_key, :brand, :product_name, :category, :item_type,
	:color_code, :color_name, :color_description, :texture, :stats, :rarity, :pao_months, :price,
	:product_url, :image_url, :marketplace_image_url, :images, :source, :confidence,
	:created_at, :updated_at)`

const updateProductSQL = `UPDATE products SET
	dedup_key = :dedup_key, brand = :brand, product_name = :product_name, category = :category,
	item_type = :item_type, color_code = :color_code, color_name = :color_name,
	color_description = :color_description, texture = :texture, stats = :stats, rarity = :rarity,
	pao_months = :pao_months, price = :price, product_url = :product_url, image_url = :image_url,
	marketplace_image_url = :marketplace_image_url, images = :images, source = :source,
	confidence = :confidence, updated_at = :updated_at
	WHERE user_id = :user_id AND id = :id`

// ListProducts returns the user's whole catalog
func (s *Store) ListProducts(ctx context.Context, userID string) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		s.q("SELECT "+productColumns+" FROM products WHERE user_id = ? ORDER BY created_at, id"), userID)
	return products, err
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, userID, productID string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		s.q("SELECT "+productColumns+" FROM products WHERE user_id = ? AND id = ?"), userID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetOrCreateProduct inserts p unless its dedup key is taken. The unique
// index on (user_id, dedup_key) arbitrates concurrent callers.
func (s *Store) GetOrCreateProduct(ctx context.Context, p *models.Product) (string, bool, error) {
	p.DedupKey = catalog.ProductKey(p)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, insertProductSQL+" ON CONFLICT (user_id, dedup_key) DO NOTHING", p)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}

	id := p.ID
	created := n == 1
	if !created {
		err = tx.GetContext(ctx, &id,
			s.q("SELECT id FROM products WHERE user_id = ? AND dedup_key = ?"), p.UserID, p.DedupKey)
		if err != nil {
			return "", false, fmt.Errorf("failed to load existing product: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return id, created, nil
}

// UpdateProduct applies product-owned fields and bumps updated_at. A change
// to brand, name or color code moves the dedup key.
func (s *Store) UpdateProduct(ctx context.Context, userID, productID string, fields models.Fields) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var p models.Product
	err = tx.GetContext(ctx, &p,
		s.q("SELECT "+productColumns+" FROM products WHERE user_id = ? AND id = ?"+s.forUpdate()), userID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}

	if err := p.Apply(fields); err != nil {
		return err
	}
	p.DedupKey = catalog.ProductKey(&p)
	p.UpdatedAt = now()

	if _, err := tx.NamedExecContext(ctx, updateProductSQL, &p); err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateProduct
		}
		return fmt.Errorf("failed to update product: %w", err)
	}
	return tx.Commit()
}

func (s *Store) forUpdate() string {
	if s.db.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

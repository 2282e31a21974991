package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"

	"github.com/jmoiron/sqlx"
)

const inventoryColumns = `id, user_id, product_id, estimated_remaining, purchase_date, open_date,
	memo, legacy_product, created_at, updated_at`

type inventoryRow struct {
	ID                 string         `db:"id"`
	UserID             string         `db:"user_id"`
	ProductID          sql.NullString `db:"product_id"`
	EstimatedRemaining string         `db:"estimated_remaining"`
	PurchaseDate       *string        `db:"purchase_date"`
	OpenDate           *string        `db:"open_date"`
	Memo               *string        `db:"memo"`
	LegacyProduct      sql.NullString `db:"legacy_product"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *inventoryRow) instance() models.Instance {
	return models.Instance{
		ID:                 r.ID,
		UserID:             r.UserID,
		ProductID:          r.ProductID.String,
		EstimatedRemaining: r.EstimatedRemaining,
		PurchaseDate:       r.PurchaseDate,
		OpenDate:           r.OpenDate,
		Memo:               r.Memo,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (r *inventoryRow) legacyFields() (models.Fields, error) {
	fields := models.Fields{}
	if !r.LegacyProduct.Valid || r.LegacyProduct.String == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(r.LegacyProduct.String), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode legacy fields of %s: %w", r.ID, err)
	}
	return fields, nil
}

// record resolves the row into its legacy or migrated shape
func (r *inventoryRow) record() (models.Record, error) {
	if r.ProductID.Valid && r.ProductID.String != "" {
		return models.MigratedRecord{Instance: r.instance()}, nil
	}
	fields, err := r.legacyFields()
	if err != nil {
		return nil, err
	}
	return models.LegacyRecord{Instance: r.instance(), Product: fields}, nil
}

func rowFromInstance(inst *models.Instance) inventoryRow {
	return inventoryRow{
		ID:                 inst.ID,
		UserID:             inst.UserID,
		ProductID:          sql.NullString{String: inst.ProductID, Valid: inst.ProductID != ""},
		EstimatedRemaining: inst.EstimatedRemaining,
		PurchaseDate:       inst.PurchaseDate,
		OpenDate:           inst.OpenDate,
		Memo:               inst.Memo,
		CreatedAt:          inst.CreatedAt,
		UpdatedAt:          inst.UpdatedAt,
	}
}

func encodeLegacy(fields models.Fields) (sql.NullString, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode legacy fields: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

const insertInventorySQL = `INSERT INTO inventory (` + inventoryColumns + `) VALUES (
	:id, :user_id, :product_id, :estimated_remaining, :purchase_date, :open_date,
	:memo, :legacy_product, :created_at, :updated_at)`

// CreateInstance inserts an instance that references a product
func (s *Store) CreateInstance(ctx context.Context, inst *models.Instance) error {
	if inst.ProductID == "" {
		return fmt.Errorf("instance %s has no product: %w", inst.ID, models.ErrValidation)
	}
	row := rowFromInstance(inst)
	if _, err := s.db.NamedExecContext(ctx, insertInventorySQL, &row); err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

// CreateLegacy inserts a flat row holding product fields alongside the instance
func (s *Store) CreateLegacy(ctx context.Context, inst *models.Instance, product models.Fields) error {
	row := rowFromInstance(inst)
	row.ProductID = sql.NullString{}
	legacy, err := encodeLegacy(product)
	if err != nil {
		return err
	}
	row.LegacyProduct = legacy
	if _, err := s.db.NamedExecContext(ctx, insertInventorySQL, &row); err != nil {
		return fmt.Errorf("failed to insert legacy item: %w", err)
	}
	return nil
}

// GetInstance retrieves a record by ID
func (s *Store) GetInstance(ctx context.Context, userID, id string) (models.Record, error) {
	row, err := s.getRow(ctx, s.db, userID, id, "")
	if err != nil {
		return nil, err
	}
	return row.record()
}

func (s *Store) getRow(ctx context.Context, q sqlx.QueryerContext, userID, id, suffix string) (*inventoryRow, error) {
	var row inventoryRow
	err := sqlx.GetContext(ctx, q, &row,
		s.q("SELECT "+inventoryColumns+" FROM inventory WHERE user_id = ? AND id = ?"+suffix), userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListInstances returns the user's records ordered by id after cursor
func (s *Store) ListInstances(ctx context.Context, userID, cursor string, limit int) ([]models.Record, error) {
	query := "SELECT " + inventoryColumns + " FROM inventory WHERE user_id = ? AND id > ? ORDER BY id"
	args := []interface{}{userID, cursor}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []inventoryRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

const updateInstanceSQL = `UPDATE inventory SET estimated_remaining = :estimated_remaining,
	purchase_date = :purchase_date, open_date = :open_date, memo = :memo,
	legacy_product = :legacy_product, updated_at = :updated_at
	WHERE user_id = :user_id AND id = :id`

// UpdateInstance writes instance-owned fields and bumps updated_at
func (s *Store) UpdateInstance(ctx context.Context, userID, id string, fields models.Fields) error {
	return s.updateRow(ctx, userID, id, func(row *inventoryRow) error {
		inst := row.instance()
		if err := inst.Apply(fields); err != nil {
			return err
		}
		*row = mergeInstance(*row, inst)
		return nil
	})
}

// UpdateLegacy writes a whole patch to a legacy row in one statement
func (s *Store) UpdateLegacy(ctx context.Context, userID, id string, instance, product models.Fields) error {
	return s.updateRow(ctx, userID, id, func(row *inventoryRow) error {
		if row.ProductID.Valid && row.ProductID.String != "" {
			return fmt.Errorf("item %s was migrated concurrently", id)
		}
		inst := row.instance()
		if err := inst.Apply(instance); err != nil {
			return err
		}
		legacy, err := row.legacyFields()
		if err != nil {
			return err
		}
		for k, v := range product {
			for _, alias := range catalog.AliasesOf(k) {
				delete(legacy, alias)
			}
			if v == nil {
				delete(legacy, k)
				continue
			}
			legacy[k] = v
		}
		encoded, err := encodeLegacy(legacy)
		if err != nil {
			return err
		}
		*row = mergeInstance(*row, inst)
		row.LegacyProduct = encoded
		return nil
	})
}

func mergeInstance(row inventoryRow, inst models.Instance) inventoryRow {
	row.EstimatedRemaining = inst.EstimatedRemaining
	row.PurchaseDate = inst.PurchaseDate
	row.OpenDate = inst.OpenDate
	row.Memo = inst.Memo
	return row
}

func (s *Store) updateRow(ctx context.Context, userID, id string, mutate func(*inventoryRow) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row, err := s.getRow(ctx, tx, userID, id, s.forUpdate())
	if err != nil {
		return err
	}
	if err := mutate(row); err != nil {
		return err
	}
	row.UpdatedAt = now()

	if _, err := tx.NamedExecContext(ctx, updateInstanceSQL, row); err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return tx.Commit()
}

// DeleteInstance removes an instance. The product it references stays.
func (s *Store) DeleteInstance(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM inventory WHERE user_id = ? AND id = ?"), userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	return nil
}

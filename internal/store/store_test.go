package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cosme-inventory/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newProduct(userID, brand, name, color string) *models.Product {
	ts := time.Now().UTC()
	return &models.Product{
		ID:          uuid.New().String(),
		UserID:      userID,
		Brand:       brand,
		ProductName: name,
		ColorCode:   color,
		Category:    models.CategoryLip,
		ItemType:    "lipstick",
		Texture:     models.TextureSatin,
		Source:      "manual",
		Confidence:  models.ConfidenceMedium,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}

func newInstance(userID, productID string) *models.Instance {
	ts := time.Now().UTC()
	return &models.Instance{
		ID:                 uuid.New().String(),
		UserID:             userID,
		ProductID:          productID,
		EstimatedRemaining: "100%",
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
}

func TestGetOrCreateProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pao := 18
	first := newProduct("u1", "KATE", "Lip Monster", "05")
	first.PAOMonths = &pao
	first.Stats = &models.Stats{Pigment: 5, Longevity: 4, ShelfLife: 4, NaturalFinish: 4}
	first.Images = models.StringList{"a.jpg"}

	id, created, err := s.GetOrCreateProduct(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, id)

	t.Run("same key returns the existing product", func(t *testing.T) {
		dup := newProduct("u1", "kate", "LIP MONSTER", "05")
		id2, created, err := s.GetOrCreateProduct(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, id2)
	})

	t.Run("other user gets their own product", func(t *testing.T) {
		other := newProduct("u2", "KATE", "Lip Monster", "05")
		_, created, err := s.GetOrCreateProduct(ctx, other)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("columns round trip", func(t *testing.T) {
		got, err := s.GetProduct(ctx, "u1", id)
		require.NoError(t, err)
		assert.Equal(t, "kate::lip monster::05", got.DedupKey)
		require.NotNil(t, got.Stats)
		assert.Equal(t, 17, got.Stats.Sum())
		assert.Equal(t, 18, *got.PAOMonths)
		assert.Nil(t, got.Price)
		assert.Equal(t, models.StringList{"a.jpg"}, got.Images)
		assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Second)
	})

	products, err := s.ListProducts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, products, 1)

	_, err = s.GetProduct(ctx, "u2", id)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestUpdateProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newProduct("u1", "KATE", "Lip Monster", "05")
	b := newProduct("u1", "KATE", "Lip Monster", "06")
	_, _, err := s.GetOrCreateProduct(ctx, a)
	require.NoError(t, err)
	_, _, err = s.GetOrCreateProduct(ctx, b)
	require.NoError(t, err)

	require.NoError(t, s.UpdateProduct(ctx, "u1", a.ID, models.Fields{"color_name": "Dusk", "price": 1650}))
	got, err := s.GetProduct(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dusk", got.ColorName)
	assert.Equal(t, int64(1650), *got.Price)
	assert.True(t, got.UpdatedAt.After(a.UpdatedAt) || got.UpdatedAt.Equal(a.UpdatedAt))

	err = s.UpdateProduct(ctx, "u1", a.ID, models.Fields{"color_code": "06"})
	assert.True(t, errors.Is(err, models.ErrDuplicateProduct))

	err = s.UpdateProduct(ctx, "u1", "missing", models.Fields{"color_name": "x"})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = s.UpdateProduct(ctx, "u1", a.ID, models.Fields{"stats": map[string]any{"pigment": 0}})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestIsUniqueViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := s.q("INSERT INTO inventory (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, insert, "i1", "u1", now(), now())
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, insert, "i1", "u1", now(), now())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "sqlite primary key clash")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres unique wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"postgres foreign key", &pq.Error{Code: "23503"}, false},
		{"text mentioning unique", errors.New("unique constraint failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProduct("u1", "KATE", "Lip Monster", "")
	_, _, err := s.GetOrCreateProduct(ctx, p)
	require.NoError(t, err)

	inst := newInstance("u1", p.ID)
	require.NoError(t, s.CreateInstance(ctx, inst))

	legacy := newInstance("u1", "")
	require.NoError(t, s.CreateLegacy(ctx, legacy, models.Fields{"brand": "CANMAKE", "category": "リップ"}))

	t.Run("records resolve to their shape", func(t *testing.T) {
		rec, err := s.GetInstance(ctx, "u1", inst.ID)
		require.NoError(t, err)
		migrated, ok := rec.(models.MigratedRecord)
		require.True(t, ok)
		assert.Equal(t, p.ID, migrated.ProductID)

		rec, err = s.GetInstance(ctx, "u1", legacy.ID)
		require.NoError(t, err)
		l, ok := rec.(models.LegacyRecord)
		require.True(t, ok)
		assert.Equal(t, "CANMAKE", l.Product["brand"])
	})

	t.Run("update instance fields", func(t *testing.T) {
		require.NoError(t, s.UpdateInstance(ctx, "u1", inst.ID, models.Fields{"estimated_remaining": "30%", "memo": "travel"}))
		rec, err := s.GetInstance(ctx, "u1", inst.ID)
		require.NoError(t, err)
		base := rec.Base()
		assert.Equal(t, "30%", base.EstimatedRemaining)
		require.NotNil(t, base.Memo)
		assert.Equal(t, "travel", *base.Memo)
		assert.Equal(t, p.ID, base.ProductID)
	})

	t.Run("update legacy merges product fields", func(t *testing.T) {
		require.NoError(t, s.UpdateLegacy(ctx, "u1", legacy.ID,
			models.Fields{"open_date": "2024-01-01"},
			models.Fields{"texture": "matte", "category": nil}))
		rec, err := s.GetInstance(ctx, "u1", legacy.ID)
		require.NoError(t, err)
		l := rec.(models.LegacyRecord)
		assert.Equal(t, "matte", l.Product["texture"])
		assert.Equal(t, "CANMAKE", l.Product["brand"])
		assert.NotContains(t, l.Product, "category")
		require.NotNil(t, l.OpenDate)
		assert.Equal(t, "2024-01-01", *l.OpenDate)
	})

	t.Run("clearing a field drops its old name too", func(t *testing.T) {
		old := newInstance("u1", "")
		require.NoError(t, s.CreateLegacy(ctx, old, models.Fields{
			"brand":             "KATE",
			"rakuten_image_url": "https://thumbnail.image.rakuten.co.jp/a.jpg",
		}))
		require.NoError(t, s.UpdateLegacy(ctx, "u1", old.ID, models.Fields{},
			models.Fields{"marketplace_image_url": nil}))

		rec, err := s.GetInstance(ctx, "u1", old.ID)
		require.NoError(t, err)
		l := rec.(models.LegacyRecord)
		assert.NotContains(t, l.Product, "rakuten_image_url")
		assert.NotContains(t, l.Product, "marketplace_image_url")
		assert.Equal(t, "KATE", l.Product["brand"])
	})

	t.Run("list pages by id", func(t *testing.T) {
		all, err := s.ListInstances(ctx, "u1", "", 0)
		require.NoError(t, err)
		require.Len(t, all, 2)

		page, err := s.ListInstances(ctx, "u1", "", 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		rest, err := s.ListInstances(ctx, "u1", page[0].Base().ID, 1)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.NotEqual(t, page[0].Base().ID, rest[0].Base().ID)
	})

	t.Run("delete keeps the product", func(t *testing.T) {
		require.NoError(t, s.DeleteInstance(ctx, "u1", inst.ID))
		_, err := s.GetInstance(ctx, "u1", inst.ID)
		assert.True(t, errors.Is(err, models.ErrNotFound))
		_, err = s.GetProduct(ctx, "u1", p.ID)
		assert.NoError(t, err)
		assert.True(t, errors.Is(s.DeleteInstance(ctx, "u1", inst.ID), models.ErrNotFound))
	})

	t.Run("instance without product is rejected", func(t *testing.T) {
		err := s.CreateInstance(ctx, newInstance("u1", ""))
		assert.True(t, errors.Is(err, models.ErrValidation))
	})
}

func TestBatchCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	legacy := newInstance("u1", "")
	require.NoError(t, s.CreateLegacy(ctx, legacy, models.Fields{"brand": "KATE", "product_name": "Lip Monster"}))

	existing := newProduct("u1", "KATE", "Lip Monster", "")
	_, _, err := s.GetOrCreateProduct(ctx, existing)
	require.NoError(t, err)

	// queued product collides with one created after the batch was planned
	queued := newProduct("u1", "KATE", "Lip Monster", "")
	batch := s.NewBatch("u1")
	batch.CreateProduct(queued)
	migrated := *legacy
	migrated.ProductID = queued.ID
	batch.MigrateInstance(migrated)
	assert.Equal(t, 2, batch.Len())

	require.NoError(t, batch.Commit(ctx))
	assert.Equal(t, 0, batch.Len())

	rec, err := s.GetInstance(ctx, "u1", legacy.ID)
	require.NoError(t, err)
	m, ok := rec.(models.MigratedRecord)
	require.True(t, ok)
	assert.Equal(t, existing.ID, m.ProductID)

	products, err := s.ListProducts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, products, 1)

	t.Run("rewriting a migrated row fails the batch", func(t *testing.T) {
		again := s.NewBatch("u1")
		again.MigrateInstance(migrated)
		assert.Error(t, again.Commit(ctx))
	})
}

func TestProcessedEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeMigrationRequested))
	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeMigrationRequested))

	done, err = s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Integration test - requires database")
	}

	s, err := NewStore("postgres", dsn)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	userID := "pg-" + uuid.New().String()
	p := newProduct(userID, "KATE", "Lip Monster", "")
	_, created, err := s.GetOrCreateProduct(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.GetOrCreateProduct(ctx, newProduct(userID, "KATE", "Lip Monster", ""))
	require.NoError(t, err)
	assert.False(t, created)
}

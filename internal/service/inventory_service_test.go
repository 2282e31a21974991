package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosme-inventory/internal/agent"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kateLipMonster() models.Fields {
	return models.Fields{
		"brand":        "KATE",
		"product_name": "リップモンスター",
		"color_code":   "05",
		"color_name":   "ダークフィグ",
		"category":     "リップ",
		"texture":      "マット",
		"stats": map[string]any{
			"pigment": 5, "longevity": 4, "shelf_life": 4, "natural_finish": 4,
		},
		"product_url":         "https://evil.example.com/lip",
		"estimated_remaining": "80%",
		"memo":                "daily",
	}
}

func TestRegisterItems(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster()}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.ProductsCreated)
	require.Len(t, res.ItemIDs, 1)

	item, err := f.svc.GetItem(ctx, "u1", res.ItemIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "KATE", item.Brand)
	assert.Equal(t, models.CategoryLip, item.Category)
	assert.Equal(t, models.TextureMatte, item.Texture)
	assert.Equal(t, "lipstick", item.ItemType)
	require.NotNil(t, item.PAOMonths)
	assert.Equal(t, 18, *item.PAOMonths)
	assert.Equal(t, models.RaritySSR, item.Rarity)
	assert.Empty(t, item.ProductURL, "off-marketplace url is dropped")
	assert.Equal(t, "manual", item.Source)
	assert.Equal(t, models.ConfidenceMedium, item.Confidence)
	assert.Equal(t, "80%", item.EstimatedRemaining)
	require.NotNil(t, item.Memo)
	assert.Equal(t, "daily", *item.Memo)
	assert.False(t, item.ProductMissing)

	require.Len(t, f.pub.registered, 1)
	assert.Equal(t, res.ItemIDs, f.pub.registered[0].ItemIDs)

	t.Run("same product again only adds an instance", func(t *testing.T) {
		again := kateLipMonster()
		again["brand"] = " kate "
		again["estimated_remaining"] = "100%"

		res2, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{again}, "")
		require.NoError(t, err)
		assert.Equal(t, 0, res2.ProductsCreated)
		assert.Equal(t, res.ProductIDs, res2.ProductIDs)

		products, err := f.svc.ListProducts(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, products, 1)

		items, err := f.svc.ListItems(ctx, "u1", "")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("catalogs are per user", func(t *testing.T) {
		res3, err := f.svc.RegisterItems(ctx, "u2", []models.Fields{kateLipMonster()}, "")
		require.NoError(t, err)
		assert.Equal(t, 1, res3.ProductsCreated)
		assert.NotEqual(t, res.ProductIDs[0], res3.ProductIDs[0])
	})
}

func TestRegisterDedupWithinOneRequest(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	a := models.Fields{"brand": "CANMAKE", "product_name": "Marshmallow Finish Powder", "color_code": "MB"}
	b := models.Fields{"brand": "canmake", "product_name": "marshmallow finish powder", "color_code": "mb"}

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{a, b}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, res.ProductsCreated)
	assert.Equal(t, res.ProductIDs[0], res.ProductIDs[1])
}

func TestRegisterFillsMissingProductFields(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	base := models.Fields{"brand": "rom&nd", "product_name": "Juicy Lasting Tint", "color_code": "06"}
	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{base}, "")
	require.NoError(t, err)

	withPrice := base.Clone()
	withPrice["price"] = 1320
	_, err = f.svc.RegisterItems(ctx, "u1", []models.Fields{withPrice}, "")
	require.NoError(t, err)

	p, err := f.svc.GetProduct(ctx, "u1", res.ProductIDs[0])
	require.NoError(t, err)
	require.NotNil(t, p.Price)
	assert.Equal(t, int64(1320), *p.Price)

	otherPrice := base.Clone()
	otherPrice["price"] = 990
	_, err = f.svc.RegisterItems(ctx, "u1", []models.Fields{otherPrice}, "")
	require.NoError(t, err)

	p, err = f.svc.GetProduct(ctx, "u1", res.ProductIDs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1320), *p.Price, "stored values are never overwritten")
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name  string
		items []models.Fields
	}{
		{"empty request", nil},
		{"missing brand", []models.Fields{{"product_name": "Lip"}}},
		{"unknown field", []models.Fields{{"brand": "KATE", "product_name": "Lip", "shade_hex": "#aa0000"}}},
		{"stats out of range", []models.Fields{{"brand": "KATE", "product_name": "Lip", "stats": map[string]any{"pigment": 9}}}},
		{"second item invalid", []models.Fields{
			{"brand": "KATE", "product_name": "Lip"},
			{"brand": "KATE"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RegisterItems(ctx, "u1", tt.items, "")
			assert.True(t, errors.Is(err, models.ErrValidation), "got %v", err)
		})
	}

	items, err := f.svc.ListItems(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, items, "no partial writes")
}

func TestRegisterIgnoresReservedFields(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{{
		"id":                "draft-1",
		"product_id":        "forged",
		"brand":             "KATE",
		"product_name":      "Lip",
		"candidates":        []any{map[string]any{"name": "x"}},
		"rakuten_image_url": "https://thumbnail.image.rakuten.co.jp/x.jpg",
	}}, "")
	require.NoError(t, err)
	assert.NotEqual(t, "draft-1", res.ItemIDs[0])
	assert.NotEqual(t, "forged", res.ProductIDs[0])

	item, err := f.svc.GetItem(ctx, "u1", res.ItemIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "https://thumbnail.image.rakuten.co.jp/x.jpg", item.MarketplaceImageURL)
}

func TestRegisterIdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer rc.Close()

	f := newFixture(t, Options{IdempotencyTTL: time.Hour})
	f.svc = NewInventoryService(f.repo, f.pub, rc, nil, Options{MarketplaceDomains: []string{"rakuten.co.jp"}})
	ctx := context.Background()

	first, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster()}, "req-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster()}, "req-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ItemIDs, second.ItemIDs)

	items, err := f.svc.ListItems(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	t.Run("keys are scoped per user", func(t *testing.T) {
		other, err := f.svc.RegisterItems(ctx, "u2", []models.Fields{kateLipMonster()}, "req-1")
		require.NoError(t, err)
		assert.False(t, other.Replayed)
	})
}

func TestLegacyWrites(t *testing.T) {
	f := newFixture(t, Options{LegacyWrites: true})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster()}, "")
	require.NoError(t, err)
	assert.Empty(t, res.ProductIDs)

	rec, err := f.store.GetInstance(ctx, "u1", res.ItemIDs[0])
	require.NoError(t, err)
	_, legacy := rec.(models.LegacyRecord)
	assert.True(t, legacy)

	products, err := f.svc.ListProducts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, products)

	item, err := f.svc.GetItem(ctx, "u1", res.ItemIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.CategoryLip, item.Category)
	assert.Equal(t, "80%", item.EstimatedRemaining)

	upd, err := f.svc.UpdateItem(ctx, "u1", res.ItemIDs[0], models.Fields{"price": 1650, "memo": "gift"})
	require.NoError(t, err)
	require.NotNil(t, upd.Item.Price)
	assert.Equal(t, int64(1650), *upd.Item.Price)
	assert.Equal(t, "gift", *upd.Item.Memo)
}

func TestUpdateItemRoutesFields(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster()}, "")
	require.NoError(t, err)
	id := res.ItemIDs[0]

	t.Run("instance only", func(t *testing.T) {
		f.repo.reset()
		upd, err := f.svc.UpdateItem(ctx, "u1", id, models.Fields{"estimated_remaining": "30%", "memo": nil})
		require.NoError(t, err)
		assert.Equal(t, 0, f.repo.productUpdates)
		assert.Equal(t, 1, f.repo.instanceUpdates)
		assert.Equal(t, "30%", upd.Item.EstimatedRemaining)
		assert.Nil(t, upd.Item.Memo)
		assert.Equal(t, []string{"estimated_remaining", "memo"}, upd.InstanceFields)
	})

	t.Run("product only", func(t *testing.T) {
		f.repo.reset()
		upd, err := f.svc.UpdateItem(ctx, "u1", id, models.Fields{"texture": "ツヤ", "price": "1,650"})
		require.NoError(t, err)
		assert.Equal(t, 1, f.repo.productUpdates)
		assert.Equal(t, 0, f.repo.instanceUpdates)
		assert.Equal(t, models.TextureGlossy, upd.Item.Texture)
		assert.Equal(t, int64(1650), *upd.Item.Price)
	})

	t.Run("mixed writes both", func(t *testing.T) {
		f.repo.reset()
		_, err := f.svc.UpdateItem(ctx, "u1", id, models.Fields{"color_name": "Fig", "open_date": "2026-01-01"})
		require.NoError(t, err)
		assert.Equal(t, 1, f.repo.productUpdates)
		assert.Equal(t, 1, f.repo.instanceUpdates)
	})

	t.Run("stats change rederives rarity", func(t *testing.T) {
		upd, err := f.svc.UpdateItem(ctx, "u1", id, models.Fields{
			"stats": map[string]any{"pigment": 2, "longevity": 2, "shelf_life": 2, "natural_finish": 2},
		})
		require.NoError(t, err)
		assert.Equal(t, models.RarityN, upd.Item.Rarity)
	})

	t.Run("rejections", func(t *testing.T) {
		f.repo.reset()
		for _, patch := range []models.Fields{
			{},
			{"created_at": "2020-01-01"},
			{"brand": ""},
			{"nickname": "x"},
			{"pao_months": "soon"},
		} {
			_, err := f.svc.UpdateItem(ctx, "u1", id, patch)
			assert.True(t, errors.Is(err, models.ErrValidation), "patch %v: %v", patch, err)
		}
		assert.Equal(t, 0, f.repo.productUpdates+f.repo.instanceUpdates)
	})

	t.Run("missing item", func(t *testing.T) {
		_, err := f.svc.UpdateItem(ctx, "u1", "nope", models.Fields{"memo": "x"})
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("other user's item", func(t *testing.T) {
		_, err := f.svc.UpdateItem(ctx, "u2", id, models.Fields{"memo": "x"})
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})
}

func TestUpdateItemSharedProduct(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster(), kateLipMonster()}, "")
	require.NoError(t, err)
	require.Len(t, res.ItemIDs, 2)

	_, err = f.svc.UpdateItem(ctx, "u1", res.ItemIDs[0], models.Fields{"color_description": "deep fig red"})
	require.NoError(t, err)

	sibling, err := f.svc.GetItem(ctx, "u1", res.ItemIDs[1])
	require.NoError(t, err)
	assert.Equal(t, "deep fig red", sibling.ColorDescription, "product edits show on every instance")
	assert.Equal(t, "80%", sibling.EstimatedRemaining)
}

func TestOrphanedItem(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	ts := time.Now().UTC()
	inst := &models.Instance{
		ID:                 uuid.New().String(),
		UserID:             "u1",
		ProductID:          "gone",
		EstimatedRemaining: "40%",
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	require.NoError(t, f.store.CreateInstance(ctx, inst))

	item, err := f.svc.GetItem(ctx, "u1", inst.ID)
	require.NoError(t, err)
	assert.True(t, item.ProductMissing)
	assert.Equal(t, "gone", item.ProductID)
	assert.Empty(t, item.Brand)
	assert.Equal(t, "40%", item.EstimatedRemaining)

	items, err := f.svc.ListItems(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].ProductMissing)

	_, err = f.svc.UpdateItem(ctx, "u1", inst.ID, models.Fields{"brand": "KATE"})
	assert.True(t, errors.Is(err, models.ErrBrokenReference))

	upd, err := f.svc.UpdateItem(ctx, "u1", inst.ID, models.Fields{"memo": "still usable"})
	require.NoError(t, err)
	assert.Equal(t, "still usable", *upd.Item.Memo)
}

func TestListItemsCategoryFilter(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{
		kateLipMonster(),
		{"brand": "CEZANNE", "product_name": "UV Foundation", "category": "base makeup"},
		{"brand": "d program", "product_name": "Lotion", "item_type": "化粧水"},
	}, "")
	require.NoError(t, err)

	lips, err := f.svc.ListItems(ctx, "u1", "リップ")
	require.NoError(t, err)
	require.Len(t, lips, 1)
	assert.Equal(t, "KATE", lips[0].Brand)

	base, err := f.svc.ListItems(ctx, "u1", "base-makeup")
	require.NoError(t, err)
	require.Len(t, base, 1)
	assert.Equal(t, "liquid-foundation", base[0].ItemType)

	all, err := f.svc.ListItems(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteItem(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{kateLipMonster()}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteItem(ctx, "u1", res.ItemIDs[0]))
	assert.True(t, errors.Is(f.svc.DeleteItem(ctx, "u1", res.ItemIDs[0]), models.ErrNotFound))

	_, err = f.svc.GetProduct(ctx, "u1", res.ProductIDs[0])
	assert.NoError(t, err, "product outlives its instances")
	require.Len(t, f.pub.deleted, 1)
}

func TestBulk(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.RegisterItems(ctx, "u1", []models.Fields{
		kateLipMonster(),
		{"brand": "CEZANNE", "product_name": "Cheek", "category": "cheek"},
	}, "")
	require.NoError(t, err)

	upd, err := f.svc.Bulk(ctx, "u1", &BulkRequest{
		Action:  "update",
		IDs:     append(res.ItemIDs, "missing"),
		Updates: models.Fields{"estimated_remaining": "10%"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, res.ItemIDs, upd.Succeeded)
	assert.Contains(t, upd.Failed, "missing")

	del, err := f.svc.Bulk(ctx, "u1", &BulkRequest{Action: "delete", IDs: res.ItemIDs})
	require.NoError(t, err)
	assert.Len(t, del.Succeeded, 2)
	assert.Empty(t, del.Failed)

	_, err = f.svc.Bulk(ctx, "u1", &BulkRequest{Action: "archive", IDs: res.ItemIDs})
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, err = f.svc.Bulk(ctx, "u1", &BulkRequest{Action: "update", IDs: res.ItemIDs})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

type stubScanner struct {
	items []models.Fields
	err   error
}

func (s *stubScanner) Scan(context.Context, string, []agent.Image) ([]models.Fields, error) {
	return s.items, s.err
}

func TestScanDrafts(t *testing.T) {
	f := newFixture(t, Options{})
	scanner := &stubScanner{items: []models.Fields{
		{
			"brand":             "KATE",
			"product_name":      "Lip Monster",
			"category":          "リップ",
			"price":             1650,
			"product_url":       "https://item.rakuten.co.jp/kate/lm05",
			"rakuten_image_url": "https://thumbnail.image.rakuten.co.jp/lm05.jpg",
			"candidates":        []any{map[string]any{"name": "Lip Monster 05"}},
		},
		{"texture": "パウダー"},
	}}
	f.svc = NewInventoryService(f.repo, f.pub, nil, scanner, Options{MarketplaceDomains: []string{"rakuten.co.jp"}})
	ctx := context.Background()

	drafts, err := f.svc.Scan(ctx, "u1", []agent.Image{{Base64: "aGk=", MimeType: "image/jpeg"}})
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	enriched := drafts[0]
	assert.Equal(t, "scan+marketplace", enriched["source"])
	assert.Equal(t, "lip", enriched["category"])
	assert.Equal(t, "lipstick", enriched["item_type"])
	assert.Equal(t, "https://thumbnail.image.rakuten.co.jp/lm05.jpg", enriched["marketplace_image_url"])
	assert.NotContains(t, enriched, "rakuten_image_url")
	assert.Contains(t, enriched, "candidates")
	assert.Equal(t, "50%", enriched["estimated_remaining"])
	assert.Regexp(t, `^draft-`, enriched["id"])

	bare := drafts[1]
	assert.Equal(t, "scan", bare["source"])
	assert.Equal(t, "unknown", bare["brand"])
	assert.Equal(t, "powder", bare["texture"])
	assert.Equal(t, "other", bare["category"])

	t.Run("confirm persists the drafts", func(t *testing.T) {
		res, err := f.svc.ConfirmItems(ctx, "u1", drafts)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)

		item, err := f.svc.GetItem(ctx, "u1", res.ItemIDs[0])
		require.NoError(t, err)
		assert.Equal(t, "scan+marketplace", item.Source)
		assert.Equal(t, "50%", item.EstimatedRemaining)
		assert.Equal(t, "https://item.rakuten.co.jp/kate/lm05", item.ProductURL)
	})

	t.Run("confirm requires items", func(t *testing.T) {
		_, err := f.svc.ConfirmItems(ctx, "u1", nil)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("scanner outage", func(t *testing.T) {
		scanner.err = agent.ErrUnavailable
		_, err := f.svc.Scan(ctx, "u1", []agent.Image{{Base64: "aGk=", MimeType: "image/jpeg"}})
		assert.True(t, errors.Is(err, agent.ErrUnavailable))
	})

	t.Run("no scanner configured", func(t *testing.T) {
		svc := NewInventoryService(f.repo, f.pub, nil, nil, Options{})
		_, err := svc.Scan(ctx, "u1", []agent.Image{{Base64: "aGk=", MimeType: "image/jpeg"}})
		assert.True(t, errors.Is(err, agent.ErrUnavailable))
	})
}

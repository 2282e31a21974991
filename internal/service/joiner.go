package service

import (
	"cosme-inventory/internal/catalog"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/util"

	"go.uber.org/zap"
)

// Joiner turns stored records into the flat item view. Legacy and migrated
// records come out in the same shape.
type Joiner struct {
	logger *zap.Logger
}

// NewJoiner creates a new joiner
func NewJoiner() *Joiner {
	return &Joiner{logger: util.GetLogger()}
}

// Join builds the item for rec. products maps product id to product; a
// migrated record whose product is absent yields an item flagged
// product_missing that carries only the instance fields.
func (j *Joiner) Join(rec models.Record, products map[string]*models.Product) models.Item {
	switch r := rec.(type) {
	case models.MigratedRecord:
		p, ok := products[r.ProductID]
		if !ok {
			j.logger.Warn("Item references a missing product",
				zap.String("item_id", r.ID),
				zap.String("product_id", r.ProductID))
			item := itemFromInstance(r.Instance)
			item.ProductMissing = true
			return item
		}
		product := *p
		catalog.NormalizeProduct(&product)
		return joinProduct(r.Instance, &product)

	case models.LegacyRecord:
		product := j.legacyProduct(r)
		return joinProduct(r.Instance, &product)

	default:
		return itemFromInstance(rec.Base())
	}
}

// legacyProduct decodes the product half of a legacy row under current field
// names. Fields that do not decode are skipped; the read path never fails on
// old data.
func (j *Joiner) legacyProduct(r models.LegacyRecord) models.Product {
	var p models.Product
	if err := p.Apply(catalog.RenameAliases(r.Product)); err != nil {
		j.logger.Warn("Legacy item has malformed fields",
			zap.String("item_id", r.ID), zap.Error(err))
	}
	catalog.NormalizeProduct(&p)
	return p
}

func itemFromInstance(inst models.Instance) models.Item {
	remaining := inst.EstimatedRemaining
	if remaining == "" {
		remaining = models.DefaultEstimatedRemaining
	}
	return models.Item{
		ID:                 inst.ID,
		ProductID:          inst.ProductID,
		EstimatedRemaining: remaining,
		PurchaseDate:       inst.PurchaseDate,
		OpenDate:           inst.OpenDate,
		Memo:               inst.Memo,
		CreatedAt:          inst.CreatedAt,
		UpdatedAt:          inst.UpdatedAt,
	}
}

func joinProduct(inst models.Instance, p *models.Product) models.Item {
	item := itemFromInstance(inst)
	item.Brand = p.Brand
	item.ProductName = p.ProductName
	item.Category = p.Category
	item.ItemType = p.ItemType
	item.ColorCode = p.ColorCode
	item.ColorName = p.ColorName
	item.ColorDescription = p.ColorDescription
	item.Texture = p.Texture
	item.Stats = p.Stats
	item.Rarity = p.Rarity
	item.PAOMonths = p.PAOMonths
	item.Price = p.Price
	item.ProductURL = p.ProductURL
	item.ImageURL = p.ImageURL
	item.MarketplaceImageURL = p.MarketplaceImageURL
	item.Images = p.Images
	item.Source = p.Source
	item.Confidence = p.Confidence
	return item
}

// Package catalog holds the pure rules of the inventory: category and texture
// normalization, PAO and rarity derivation, dedup keys, field ownership and
// default filling. Nothing here does I/O.
package catalog

import (
	"strings"

	"cosme-inventory/internal/models"
)

var categories = map[models.Category]struct{}{
	models.CategoryBaseMakeup: {},
	models.CategoryEyeMakeup:  {},
	models.CategoryLip:        {},
	models.CategorySkincare:   {},
	models.CategoryOther:      {},
}

// legacy names written by older clients
var categoryAliases = map[string]models.Category{
	"ベースメイク":    models.CategoryBaseMakeup,
	"アイメイク":     models.CategoryEyeMakeup,
	"リップ":       models.CategoryLip,
	"スキンケア":     models.CategorySkincare,
	"その他":       models.CategoryOther,
	"base":      models.CategoryBaseMakeup,
	"cheek":     models.CategoryBaseMakeup,
	"face":      models.CategoryBaseMakeup,
	"eye":       models.CategoryEyeMakeup,
	"eyes":      models.CategoryEyeMakeup,
	"lips":      models.CategoryLip,
	"skin":      models.CategorySkincare,
	"skin-care": models.CategorySkincare,
}

var textures = map[models.Texture]struct{}{
	models.TextureMatte:   {},
	models.TextureGlossy:  {},
	models.TextureSatin:   {},
	models.TextureShimmer: {},
	models.TextureCream:   {},
	models.TexturePowder:  {},
	models.TextureLiquid:  {},
}

var textureAliases = map[string]models.Texture{
	"マット":     models.TextureMatte,
	"ツヤ":      models.TextureGlossy,
	"ツヤあり":    models.TextureGlossy,
	"グロッシー":   models.TextureGlossy,
	"サテン":     models.TextureSatin,
	"シマー":     models.TextureShimmer,
	"ラメ":      models.TextureShimmer,
	"パール":     models.TextureShimmer,
	"クリーム":    models.TextureCream,
	"パウダー":    models.TexturePowder,
	"リキッド":    models.TextureLiquid,
	"gloss":   models.TextureGlossy,
	"glitter": models.TextureShimmer,
	"pearl":   models.TextureShimmer,
}

// NormalizeCategory maps any category spelling onto a canonical category.
// Unknown input maps to other.
func NormalizeCategory(raw string) models.Category {
	key := foldKey(raw)
	if _, ok := categories[models.Category(key)]; ok {
		return models.Category(key)
	}
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	if c, ok := categoryAliases[strings.TrimSpace(raw)]; ok {
		return c
	}
	return models.CategoryOther
}

// NormalizeTexture maps any texture spelling onto a canonical texture.
// Unknown input maps to cream.
func NormalizeTexture(raw string) models.Texture {
	key := foldKey(raw)
	if _, ok := textures[models.Texture(key)]; ok {
		return models.Texture(key)
	}
	if t, ok := textureAliases[key]; ok {
		return t
	}
	if t, ok := textureAliases[strings.TrimSpace(raw)]; ok {
		return t
	}
	return models.TextureCream
}

// foldKey lowercases and joins words with hyphens: "Base Makeup" -> "base-makeup"
func foldKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), "-")
}

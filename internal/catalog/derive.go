package catalog

import (
	"strings"

	"cosme-inventory/internal/models"
)

type itemTypeInfo struct {
	category  models.Category
	paoMonths int
}

// itemTypes is the period-after-opening table, keyed by canonical item type
var itemTypes = map[string]itemTypeInfo{
	"primer":             {models.CategoryBaseMakeup, 6},
	"bb-cc-cream":        {models.CategoryBaseMakeup, 6},
	"liquid-foundation":  {models.CategoryBaseMakeup, 6},
	"powder-foundation":  {models.CategoryBaseMakeup, 12},
	"cushion-foundation": {models.CategoryBaseMakeup, 6},
	"concealer":          {models.CategoryBaseMakeup, 6},
	"face-powder":        {models.CategoryBaseMakeup, 24},
	"powder-blush":       {models.CategoryBaseMakeup, 12},
	"cream-blush":        {models.CategoryBaseMakeup, 6},
	"powder-highlighter": {models.CategoryBaseMakeup, 24},
	"cream-highlighter":  {models.CategoryBaseMakeup, 6},

	"powder-eyeshadow": {models.CategoryEyeMakeup, 12},
	"liquid-eyeshadow": {models.CategoryEyeMakeup, 6},
	"mascara":          {models.CategoryEyeMakeup, 3},
	"liquid-eyeliner":  {models.CategoryEyeMakeup, 3},
	"pencil-eyeliner":  {models.CategoryEyeMakeup, 12},
	"glitter-liner":    {models.CategoryEyeMakeup, 12},
	"eyebrow-pencil":   {models.CategoryEyeMakeup, 12},
	"eyebrow-powder":   {models.CategoryEyeMakeup, 12},
	"brow-mascara":     {models.CategoryEyeMakeup, 6},
	"liquid-eyebrow":   {models.CategoryEyeMakeup, 6},
	"lash-curler-pad":  {models.CategoryEyeMakeup, 2},

	"lip-gloss": {models.CategoryLip, 12},
	"lipstick":  {models.CategoryLip, 18},
	"lip-tint":  {models.CategoryLip, 12},

	"sunscreen":      {models.CategorySkincare, 12},
	"toner":          {models.CategorySkincare, 9},
	"emulsion-cream": {models.CategorySkincare, 9},
	"serum":          {models.CategorySkincare, 7},
	"cleansing":      {models.CategorySkincare, 9},
	"face-wash":      {models.CategorySkincare, 6},
	"sheet-mask":     {models.CategorySkincare, 1},

	"puff-sponge": {models.CategoryOther, 3},
	"other":       {models.CategoryOther, 12},
}

var itemTypeAliases = map[string]string{
	"化粧下地":         "primer",
	"bb・ccクリーム":    "bb-cc-cream",
	"bbクリーム":       "bb-cc-cream",
	"ccクリーム":       "bb-cc-cream",
	"リキッドファンデ":     "liquid-foundation",
	"リキッドファンデーション": "liquid-foundation",
	"パウダーファンデ":     "powder-foundation",
	"パウダーファンデーション": "powder-foundation",
	"クッションファンデ":    "cushion-foundation",
	"コンシーラー":       "concealer",
	"フェイスパウダー":     "face-powder",
	"パウダーチーク":      "powder-blush",
	"クリームチーク":      "cream-blush",
	"パウダーハイライト":    "powder-highlighter",
	"クリームハイライト":    "cream-highlighter",
	"パウダーアイシャドウ":   "powder-eyeshadow",
	"リキッドアイシャドウ":   "liquid-eyeshadow",
	"マスカラ":         "mascara",
	"リキッドアイライナー":   "liquid-eyeliner",
	"ペンシルアイライナー":   "pencil-eyeliner",
	"グリッターライナー":    "glitter-liner",
	"アイブロウペンシル":    "eyebrow-pencil",
	"アイブロウパウダー":    "eyebrow-powder",
	"眉マスカラ":        "brow-mascara",
	"リキッドアイブロウ":    "liquid-eyebrow",
	"ビューラー替えゴム":    "lash-curler-pad",
	"リップグロス":       "lip-gloss",
	"口紅":           "lipstick",
	"リップスティック":     "lipstick",
	"リップティント":      "lip-tint",
	"日焼け止め":        "sunscreen",
	"化粧水":          "toner",
	"乳液・クリーム":      "emulsion-cream",
	"乳液":           "emulsion-cream",
	"美容液":          "serum",
	"クレンジング":       "cleansing",
	"洗顔":           "face-wash",
	"シートマスク":       "sheet-mask",
	"パフ・スポンジ":      "puff-sponge",
	"その他":          "other",
	"foundation":   "liquid-foundation",
	"blush":        "powder-blush",
	"cheek":        "powder-blush",
	"highlighter":  "powder-highlighter",
	"eyeshadow":    "powder-eyeshadow",
	"eyeliner":     "liquid-eyeliner",
	"lip-stick":    "lipstick",
	"lipgloss":     "lip-gloss",
	"moisturizer":  "emulsion-cream",
	"cleanser":     "cleansing",
}

var defaultItemTypes = map[models.Category]string{
	models.CategoryBaseMakeup: "liquid-foundation",
	models.CategoryEyeMakeup:  "powder-eyeshadow",
	models.CategoryLip:        "lipstick",
	models.CategorySkincare:   "toner",
	models.CategoryOther:      "other",
}

// NormalizeItemType canonicalizes known item types and aliases. Unknown item
// types are free-form and returned trimmed.
func NormalizeItemType(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if it, ok := itemTypeAliases[trimmed]; ok {
		return it
	}
	key := foldKey(raw)
	if _, ok := itemTypes[key]; ok {
		return key
	}
	if it, ok := itemTypeAliases[key]; ok {
		return it
	}
	return trimmed
}

// CategoryOfItemType returns the category a known item type belongs to
func CategoryOfItemType(itemType string) (models.Category, bool) {
	info, ok := itemTypes[NormalizeItemType(itemType)]
	return info.category, ok
}

// DefaultItemType is the fallback item type for a category
func DefaultItemType(c models.Category) string {
	if it, ok := defaultItemTypes[NormalizeCategory(string(c))]; ok {
		return it
	}
	return "other"
}

// DerivePAO returns the explicit value when set, otherwise the table value
// for the item type, otherwise nil
func DerivePAO(itemType string, explicit *int) *int {
	if explicit != nil {
		v := *explicit
		return &v
	}
	info, ok := itemTypes[NormalizeItemType(itemType)]
	if !ok {
		return nil
	}
	v := info.paoMonths
	return &v
}

// DeriveRarity grades a stat block by its sum
func DeriveRarity(s models.Stats) models.Rarity {
	switch sum := s.Sum(); {
	case sum >= 17:
		return models.RaritySSR
	case sum >= 14:
		return models.RaritySR
	case sum >= 10:
		return models.RarityR
	default:
		return models.RarityN
	}
}

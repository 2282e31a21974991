package catalog

import (
	"cosme-inventory/internal/models"
)

type rule struct {
	field string
	fill  func(f models.Fields) any
}

// Policy is an ordered table of default values. A rule runs only when its
// field is absent, and later rules see what earlier rules filled.
type Policy struct {
	rules []rule
}

func constant(v any) func(models.Fields) any {
	return func(models.Fields) any { return v }
}

// RegisterDefaults is consulted by register and confirm
var RegisterDefaults = Policy{rules: []rule{
	{"category", func(f models.Fields) any {
		if c, ok := CategoryOfItemType(f.String("item_type")); ok {
			return string(c)
		}
		return string(models.CategoryOther)
	}},
	{"item_type", func(f models.Fields) any {
		return DefaultItemType(models.Category(f.String("category")))
	}},
	{"texture", constant(string(models.TextureCream))},
	{"pao_months", func(f models.Fields) any {
		if pao := DerivePAO(f.String("item_type"), nil); pao != nil {
			return *pao
		}
		return nil
	}},
	{"estimated_remaining", constant(models.DefaultEstimatedRemaining)},
	{"source", constant("manual")},
	{"confidence", constant(models.ConfidenceMedium)},
}}

// DraftDefaults fills scan output before it is shown for confirmation
var DraftDefaults = Policy{rules: append([]rule{
	{"brand", constant("unknown")},
	{"product_name", constant("unknown")},
	{"estimated_remaining", constant("50%")},
	{"source", constant("scan")},
}, RegisterDefaults.rules...)}

// Apply returns a copy of f with absent fields filled
func (p Policy) Apply(f models.Fields) models.Fields {
	out := f.Clone()
	for _, r := range p.rules {
		if out.Has(r.field) {
			continue
		}
		if v := r.fill(out); v != nil {
			out[r.field] = v
		}
	}
	return out
}

// NormalizeFields canonicalizes category, texture and item type, sanitizes
// product_url and derives rarity from stats when no rarity is given. The
// second return is false when a product_url was dropped.
func NormalizeFields(f models.Fields, urls URLPolicy) (models.Fields, bool) {
	out := f.Clone()
	if s, ok := out["category"].(string); ok && s != "" {
		out["category"] = string(NormalizeCategory(s))
	}
	if s, ok := out["texture"].(string); ok && s != "" {
		out["texture"] = string(NormalizeTexture(s))
	}
	if s, ok := out["item_type"].(string); ok && s != "" {
		out["item_type"] = NormalizeItemType(s)
	}
	urlKept := true
	if s, ok := out["product_url"].(string); ok {
		var clean string
		if clean, urlKept = urls.Sanitize(s); clean == "" {
			out["product_url"] = nil
		}
	}
	if out.Has("stats") && !out.Has("rarity") {
		var p models.Product
		if err := p.Apply(models.Fields{"stats": out["stats"]}); err == nil && p.Stats != nil {
			out["rarity"] = string(DeriveRarity(*p.Stats))
		}
	}
	return out, urlKept
}

// NormalizeProduct brings a decoded product to canonical form in place.
// It is safe to run repeatedly.
func NormalizeProduct(p *models.Product) {
	p.ItemType = NormalizeItemType(p.ItemType)
	if p.Category == "" {
		if c, ok := CategoryOfItemType(p.ItemType); ok {
			p.Category = c
		}
	}
	p.Category = NormalizeCategory(string(p.Category))
	if p.ItemType == "" {
		p.ItemType = DefaultItemType(p.Category)
	}
	p.Texture = NormalizeTexture(string(p.Texture))
	p.PAOMonths = DerivePAO(p.ItemType, p.PAOMonths)
	if p.Stats != nil && p.Rarity == "" {
		p.Rarity = DeriveRarity(*p.Stats)
	}
}

package catalog

import (
	"strings"

	"cosme-inventory/internal/models"
)

var productFields = map[string]struct{}{
	"brand":                 {},
	"product_name":          {},
	"category":              {},
	"item_type":             {},
	"color_code":            {},
	"color_name":            {},
	"color_description":     {},
	"texture":               {},
	"stats":                 {},
	"rarity":                {},
	"pao_months":            {},
	"price":                 {},
	"product_url":           {},
	"image_url":             {},
	"marketplace_image_url": {},
	"images":                {},
	"source":                {},
	"confidence":            {},
}

var instanceFields = map[string]struct{}{
	"estimated_remaining": {},
	"purchase_date":       {},
	"open_date":           {},
	"memo":                {},
}

// assigned by the store, never taken from a payload
var reservedFields = map[string]struct{}{
	"id":         {},
	"user_id":    {},
	"product_id": {},
	"created_at": {},
	"updated_at": {},
}

// scan output the client may echo back on confirm
var scratchFields = map[string]struct{}{
	"candidates": {},
}

// older clients send the marketplace image under its previous name
var aliasFields = map[string]string{
	"rakuten_image_url": "marketplace_image_url",
}

// IsProductField reports whether the product owns the field
func IsProductField(name string) bool {
	_, ok := productFields[name]
	return ok
}

// IsInstanceField reports whether the instance model can hold the field
func IsInstanceField(name string) bool {
	_, ok := instanceFields[name]
	return ok
}

// RenameAliases returns a copy of f with aliased keys under their current
// name. A value already present under the current name wins.
func RenameAliases(f models.Fields) models.Fields {
	out := f.Clone()
	for alias, name := range aliasFields {
		v, ok := out[alias]
		if !ok {
			continue
		}
		delete(out, alias)
		if !out.Has(name) {
			out[name] = v
		}
	}
	return out
}

// AliasesOf returns the older names field name may be stored under
func AliasesOf(name string) []string {
	var out []string
	for alias, current := range aliasFields {
		if current == name {
			out = append(out, alias)
		}
	}
	return out
}

// Strip returns a copy of f without reserved and scratch keys. Aliases are
// renamed.
func Strip(f models.Fields) models.Fields {
	out := make(models.Fields, len(f))
	for k, v := range RenameAliases(f) {
		if _, ok := reservedFields[k]; ok {
			continue
		}
		if _, ok := scratchFields[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Route splits f into product-owned and instance-owned fields. Every key
// lands in exactly one half.
func Route(f models.Fields) (product, instance models.Fields) {
	product = models.Fields{}
	instance = models.Fields{}
	for k, v := range f {
		if IsProductField(k) {
			product[k] = v
		} else {
			instance[k] = v
		}
	}
	return product, instance
}

// CheckInstanceFields rejects keys the instance model cannot hold
func CheckInstanceFields(f models.Fields) error {
	var unknown []string
	for _, k := range f.Keys() {
		if !IsInstanceField(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return models.Invalid("unknown fields: %s", strings.Join(unknown, ", "))
	}
	return nil
}

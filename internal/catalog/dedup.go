package catalog

import (
	"strings"

	"cosme-inventory/internal/models"
)

const dedupSeparator = "::"

// DedupKey identifies a product variant within a user's catalog
func DedupKey(brand, productName, colorCode string) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(brand)),
		strings.ToLower(strings.TrimSpace(productName)),
		strings.ToLower(strings.TrimSpace(colorCode)),
	}, dedupSeparator)
}

// ProductKey is DedupKey over a product's own fields
func ProductKey(p *models.Product) string {
	return DedupKey(p.Brand, p.ProductName, p.ColorCode)
}

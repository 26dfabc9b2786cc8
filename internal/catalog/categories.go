package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category is an entry of the storefront's category navigation
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Categories lists the catalog categories offered for navigation. IDs are
// the catalog's own category labels.
var Categories = []Category{
	{ID: "electronics", Name: "Electronics"},
	{ID: "jewelery", Name: "Jewelry"},
	{ID: "men's clothing", Name: "Men's Clothing"},
	{ID: "women's clothing", Name: "Women's Clothing"},
}

// DisplayStock is the per-product stock figure shown next to the quantity picker
const DisplayStock = 20

// FormatCategoryName upper-cases the first letter of every space separated word
func FormatCategoryName(category string) string {
	words := strings.Split(category, " ")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

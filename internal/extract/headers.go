package extract

import (
	"strings"

	"github.com/cookcard/ingest/internal/normalize"
)

// sectionLabels are names that only ever appear as list headers. Matching
// is on the whole normalized name, so "soy sauce" or "pizza dough" never
// match "sauce" or "dough".
var sectionLabels = map[string]bool{
	"ingredients": true, "ingredient": true, "ingredient list": true, "main ingredients": true,
	"what you need": true, "you will need": true, "you'll need": true, "shopping list": true,
	"dry ingredients": true, "wet ingredients": true, "dry": true, "wet": true,
	"equipment": true, "tools": true, "method": true, "instructions": true, "directions": true,
	"steps": true, "notes": true, "optional": true, "optional extras": true, "extras": true,
	"sauce": true, "the sauce": true, "dressing": true, "marinade": true, "glaze": true,
	"topping": true, "toppings": true, "garnish": true, "garnishes": true, "filling": true,
	"frosting": true, "icing": true, "crust": true, "base": true, "batter": true, "dough": true,
	"seasoning": true, "spice mix": true, "spice blend": true, "to serve": true,
	"for serving": true, "to garnish": true, "main": true, "other": true, "the rest": true,
}

// sectionPrefixes introduce a sub-recipe label such as "For the chicken".
var sectionPrefixes = []string{"for the ", "for ", "to make the ", "to make ", "make the "}

// maxLabelWords bounds what may follow a section prefix. Longer phrases
// read as prose, not as a header.
const maxLabelWords = 3

// IsSectionHeader reports whether name is a structural label rather than an
// ingredient.
func IsSectionHeader(name string) bool {
	n := normalize.Name(name)
	if n == "" {
		return false
	}
	if sectionLabels[n] {
		return true
	}
	if strings.HasSuffix(n, " ingredients") {
		return true
	}
	for _, p := range sectionPrefixes {
		rest, ok := strings.CutPrefix(n, p)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest != "" && len(strings.Fields(rest)) <= maxLabelWords {
			return true
		}
	}
	return false
}

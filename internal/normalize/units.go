package normalize

import "strings"

// unitAliases maps spellings seen in captions to a canonical short unit.
var unitAliases = map[string]string{
	"t": "tsp", "tsp": "tsp", "tsps": "tsp", "teaspoon": "tsp", "teaspoons": "tsp",
	"tbsp": "tbsp", "tbsps": "tbsp", "tbs": "tbsp", "tbl": "tbsp", "tablespoon": "tbsp", "tablespoons": "tbsp",
	"c": "cup", "cup": "cup", "cups": "cup",
	"oz": "oz", "ounce": "oz", "ounces": "oz",
	"fl oz": "fl oz", "fluid ounce": "fl oz", "fluid ounces": "fl oz",
	"lb": "lb", "lbs": "lb", "pound": "lb", "pounds": "lb",
	"g": "g", "gr": "g", "gram": "g", "grams": "g", "gramm": "g",
	"kg": "kg", "kilo": "kg", "kilos": "kg", "kilogram": "kg", "kilograms": "kg",
	"mg": "mg", "milligram": "mg", "milligrams": "mg",
	"ml": "ml", "milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml",
	"l": "l", "liter": "l", "liters": "l", "litre": "l", "litres": "l",
	"dl": "dl", "cl": "cl",
	"pt": "pint", "pint": "pint", "pints": "pint",
	"qt": "quart", "quart": "quart", "quarts": "quart",
	"gal": "gallon", "gallon": "gallon", "gallons": "gallon",
	"clove": "clove", "cloves": "clove",
	"pinch": "pinch", "pinches": "pinch",
	"dash": "dash", "dashes": "dash",
	"can": "can", "cans": "can", "tin": "can", "tins": "can",
	"stick": "stick", "sticks": "stick",
	"slice": "slice", "slices": "slice",
	"piece": "piece", "pieces": "piece", "pc": "piece", "pcs": "piece",
	"bunch": "bunch", "bunches": "bunch",
	"sprig": "sprig", "sprigs": "sprig",
	"handful": "handful", "handfuls": "handful",
	"package": "package", "packages": "package", "pkg": "package", "packet": "package",
	"jar": "jar", "jars": "jar",
	"head": "head", "heads": "head",
}

// Unit maps a free-text unit to its canonical spelling. Unknown units are
// returned lowercased and trimmed rather than dropped.
func Unit(u string) string {
	key := strings.Trim(Name(u), ".")
	if key == "" {
		return ""
	}
	if canon, ok := unitAliases[key]; ok {
		return canon
	}
	return key
}

// IsKnownUnit reports whether the word is a recognized unit spelling.
func IsKnownUnit(u string) bool {
	_, ok := unitAliases[strings.Trim(Name(u), ".")]
	return ok
}

// Amount normalizes a quantity string: fractions expanded, decimal commas
// unified, whitespace collapsed.
func Amount(a string) string {
	a = ExpandFractions(a)
	a = punctuation.Replace(a)
	a = decimalComma.ReplaceAllString(a, "$1.$2")
	return Collapse(a)
}

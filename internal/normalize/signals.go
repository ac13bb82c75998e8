package normalize

import (
	"regexp"
	"strings"
)

var (
	// quantityPattern matches "2", "1/2", "1 1/2", "1.5", "½" followed by an
	// optional unit word.
	quantityPattern = regexp.MustCompile(`(?i)(?:^|[\s(])(\d+(?:[.,]\d+)?(?:\s+\d+/\d+)?|\d+/\d+|[¼½¾⅓⅔⅛⅜⅝⅞])\s*(?:x\s*)?([a-z]+\.?)?`)
	unitPattern     = regexp.MustCompile(`(?i)\b\d+(?:[.,/]\d+)?\s*(?:tsp|tbsp|tbs|teaspoons?|tablespoons?|cups?|oz|ounces?|lbs?|pounds?|g|grams?|kg|ml|l|liters?|litres?|cloves?|pinch|cans?|sticks?)\b`)
	bulletPattern   = regexp.MustCompile(`(?m)^\s*(?:[-*•·▪◦✓✔]|\d+[.)])\s+\S`)
)

// foodNouns is a compact list of ingredient words common in recipe captions.
var foodNouns = []string{
	"flour", "sugar", "salt", "pepper", "butter", "oil", "garlic", "onion", "egg", "eggs",
	"milk", "cream", "cheese", "chicken", "beef", "pork", "fish", "salmon", "shrimp",
	"rice", "pasta", "noodles", "bread", "tomato", "tomatoes", "potato", "potatoes",
	"lemon", "lime", "vinegar", "honey", "yogurt", "soy sauce", "ginger", "chili",
	"paprika", "cumin", "cinnamon", "vanilla", "basil", "parsley", "cilantro", "oregano",
	"thyme", "rosemary", "spinach", "carrot", "carrots", "broccoli", "mushroom", "mushrooms",
	"beans", "lentils", "tofu", "bacon", "sausage", "avocado", "corn", "cocoa", "chocolate",
	"baking powder", "baking soda", "yeast", "stock", "broth", "water", "wine", "vodka",
	"parmesan", "mozzarella", "olive oil", "sesame", "peanut", "almond", "oats", "banana",
}

// actionVerbs are cooking verbs that signal recipe-like prose.
var actionVerbs = []string{
	"bake", "boil", "simmer", "fry", "saute", "sauté", "roast", "grill", "whisk", "stir",
	"chop", "dice", "mince", "slice", "mix", "combine", "preheat", "season", "marinate",
	"knead", "blend", "fold", "drizzle", "sprinkle", "toss", "melt", "pour", "serve",
}

// HasMeasurement reports whether text contains a number followed by a unit.
func HasMeasurement(text string) bool {
	return unitPattern.MatchString(ExpandFractions(text))
}

// CountMeasurements counts number+unit occurrences.
func CountMeasurements(text string) int {
	return len(unitPattern.FindAllStringIndex(ExpandFractions(text), -1))
}

// CountQuantities counts bare quantity tokens, with or without a unit.
func CountQuantities(text string) int {
	return len(quantityPattern.FindAllStringIndex(text, -1))
}

// CountFoodNouns counts distinct food words present in text.
func CountFoodNouns(text string) int {
	return countWords(Evidence(text), foodNouns)
}

// HasActionVerb reports whether text contains at least one cooking verb.
func HasActionVerb(text string) bool {
	return countWords(Evidence(text), actionVerbs) > 0
}

// CountBullets counts lines that look like list items.
func CountBullets(text string) int {
	return len(bulletPattern.FindAllStringIndex(text, -1))
}

// LooksLikeRecipe is the cheap quality signal used before paying for an LLM
// call: measurement units, food nouns or cooking verbs must be present.
func LooksLikeRecipe(text string) bool {
	return HasMeasurement(text) || CountFoodNouns(text) >= 2 || HasActionVerb(text)
}

func countWords(normalized string, words []string) int {
	n := 0
	padded := " " + wordBoundaries.Replace(normalized) + " "
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			n++
		}
	}
	return n
}

var wordBoundaries = strings.NewReplacer(
	",", " ", ".", " ", ";", " ", ":", " ", "!", " ", "?", " ", "(", " ", ")", " ",
	"\n", " ", "\t", " ", "-", " ", "/", " ", "#", " ",
)

// Package normalize holds the text canonicalization shared by the ladder,
// the LLM evidence gate and the vision path.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// vulgarFractions maps single-rune fractions to their ASCII spelling.
var vulgarFractions = map[rune]string{
	'¼': "1/4", '½': "1/2", '¾': "3/4",
	'⅐': "1/7", '⅑': "1/9", '⅒': "1/10",
	'⅓': "1/3", '⅔': "2/3",
	'⅕': "1/5", '⅖': "2/5", '⅗': "3/5", '⅘': "4/5",
	'⅙': "1/6", '⅚': "5/6",
	'⅛': "1/8", '⅜': "3/8", '⅝': "5/8", '⅞': "7/8",
}

var zeroWidth = strings.NewReplacer(
	"\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "", "\ufeff", "", "\u00ad", "",
)

var punctuation = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-",
	"⁄", "/", "∕", "/",
)

var (
	decimalComma = regexp.MustCompile(`(\d),(\d)`)
	spaces       = regexp.MustCompile(`\s+`)
	lower        = cases.Lower(language.Und)
)

// ExpandFractions rewrites Unicode vulgar fractions as ASCII ("1½" becomes
// "1 1/2", "¾" becomes "3/4").
func ExpandFractions(s string) string {
	if !strings.ContainsFunc(s, isVulgarFraction) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	var prev rune
	for _, r := range s {
		if frac, ok := vulgarFractions[r]; ok {
			if prev >= '0' && prev <= '9' {
				b.WriteByte(' ')
			}
			b.WriteString(frac)
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func isVulgarFraction(r rune) bool {
	_, ok := vulgarFractions[r]
	return ok
}

// Evidence canonicalizes text for the evidence substring check. Source text
// and evidence phrases must both pass through it before comparison.
func Evidence(s string) string {
	s = zeroWidth.Replace(s)
	s = ExpandFractions(s)
	s = norm.NFKC.String(s)
	s = punctuation.Replace(s)
	s = lower.String(s)
	s = decimalComma.ReplaceAllString(s, "$1.$2")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ContainsEvidence reports whether phrase occurs in an already-normalized
// source text. An empty phrase never matches.
func ContainsEvidence(normalizedSource, phrase string) bool {
	p := Evidence(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(normalizedSource, p)
}

// Name produces the normalized_name of an ingredient: NFKC, lowercase,
// single-spaced, with surrounding punctuation removed.
func Name(s string) string {
	s = zeroWidth.Replace(s)
	s = norm.NFKC.String(s)
	s = punctuation.Replace(s)
	s = lower.String(s)
	s = spaces.ReplaceAllString(s, " ")
	return strings.Trim(s, " .,;:!?*-•·\"'()[]")
}

// Collapse trims and folds runs of whitespace into single spaces.
func Collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

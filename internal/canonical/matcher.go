// Package canonical attaches stable vocabulary IDs to free-text ingredient
// names so a Cook Card can later be reconciled against a user's inventory.
package canonical

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/normalize"
)

// DefaultFuzzyThreshold bounds the fuzzy tier: a term matches only when its
// edit-distance ratio (distance divided by the longer name's rune count) is
// below it.
const DefaultFuzzyThreshold = 0.2

// MatchKind names the rule that produced a match.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchAlias     MatchKind = "alias"
	MatchPlural    MatchKind = "plural"
	MatchSubstring MatchKind = "substring"
	MatchFuzzy     MatchKind = "fuzzy"
)

// Match is the result of matching one name.
type Match struct {
	ItemID string
	Kind   MatchKind
}

// Loader returns the full vocabulary. It is called once per batch.
type Loader interface {
	LoadCanonicalItems(ctx context.Context) ([]model.CanonicalItem, error)
}

// Matcher is an indexed, immutable view of the vocabulary.
type Matcher struct {
	byName    map[string]string
	byAlias   map[string]string
	terms     []term
	threshold float64
}

type term struct {
	text   string
	itemID string
}

// NewMatcher indexes items. Names and aliases are compared after
// normalize.Name; the first item wins on duplicate keys.
func NewMatcher(items []model.CanonicalItem, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	m := &Matcher{
		byName:    make(map[string]string, len(items)),
		byAlias:   make(map[string]string, len(items)),
		threshold: threshold,
	}
	for _, item := range items {
		name := normalize.Name(item.CanonicalName)
		if name == "" || item.ID == "" {
			continue
		}
		if _, dup := m.byName[name]; !dup {
			m.byName[name] = item.ID
		}
		m.terms = append(m.terms, term{text: name, itemID: item.ID})
		for _, alias := range item.Aliases {
			a := normalize.Name(alias)
			if a == "" {
				continue
			}
			if _, dup := m.byAlias[a]; !dup {
				m.byAlias[a] = item.ID
			}
			m.terms = append(m.terms, term{text: a, itemID: item.ID})
		}
	}
	return m
}

// Len returns the number of indexed canonical names.
func (m *Matcher) Len() int {
	return len(m.byName)
}

// Match resolves a single ingredient name. ok is false when no rule matched.
func (m *Matcher) Match(name string) (Match, bool) {
	n := normalize.Name(name)
	if n == "" {
		return Match{}, false
	}

	if id, ok := m.byName[n]; ok {
		return Match{ItemID: id, Kind: MatchExact}, true
	}
	if id, ok := m.byAlias[n]; ok {
		return Match{ItemID: id, Kind: MatchAlias}, true
	}
	for _, v := range variants(n) {
		if id, ok := m.byName[v]; ok {
			return Match{ItemID: id, Kind: MatchPlural}, true
		}
		if id, ok := m.byAlias[v]; ok {
			return Match{ItemID: id, Kind: MatchPlural}, true
		}
	}
	if id, ok := m.containment(n); ok {
		return Match{ItemID: id, Kind: MatchSubstring}, true
	}
	if id, ok := m.fuzzy(n); ok {
		return Match{ItemID: id, Kind: MatchFuzzy}, true
	}
	return Match{}, false
}

// Apply sets CanonicalItemID on every ingredient it can match and returns
// the number matched. Unmatched ingredients are left untouched.
func (m *Matcher) Apply(ingredients []model.Ingredient) int {
	matched := 0
	for i := range ingredients {
		name := ingredients[i].NormalizedName
		if name == "" {
			name = ingredients[i].Name
		}
		if mt, ok := m.Match(name); ok {
			ingredients[i].CanonicalItemID = mt.ItemID
			matched++
		}
	}
	return matched
}

// containment finds the longest vocabulary term that appears as whole words
// inside name ("extra virgin olive oil" contains "olive oil").
func (m *Matcher) containment(name string) (string, bool) {
	padded := " " + name + " "
	bestLen := 0
	bestID := ""
	for _, t := range m.terms {
		if len(t.text) <= bestLen {
			continue
		}
		if strings.Contains(padded, " "+t.text+" ") {
			bestLen = len(t.text)
			bestID = t.itemID
		}
	}
	if bestID != "" {
		return bestID, true
	}
	// Singular forms of multi-word names: "cherry tomatoes" -> "cherry tomato".
	for _, v := range variants(name) {
		vp := " " + v + " "
		for _, t := range m.terms {
			if len(t.text) > bestLen && strings.Contains(vp, " "+t.text+" ") {
				bestLen = len(t.text)
				bestID = t.itemID
			}
		}
	}
	return bestID, bestID != ""
}

// fuzzy returns the closest term whose edit distance, relative to the longer
// of the two names in runes, is strictly below the threshold.
func (m *Matcher) fuzzy(name string) (string, bool) {
	bestRatio := m.threshold
	bestID := ""
	nameLen := utf8.RuneCountInString(name)
	for _, t := range m.terms {
		termLen := utf8.RuneCountInString(t.text)
		longest := max(nameLen, termLen)
		if longest == 0 {
			continue
		}
		// Skip terms whose length alone rules them out.
		if float64(abs(nameLen-termLen))/float64(longest) >= bestRatio {
			continue
		}
		ratio := float64(levenshtein.Distance(name, t.text, nil)) / float64(longest)
		if ratio < bestRatio {
			bestRatio = ratio
			bestID = t.itemID
		}
	}
	return bestID, bestID != ""
}

// variants returns singular/plural spellings of the last word of name.
func variants(name string) []string {
	head, last := "", name
	if i := strings.LastIndexByte(name, ' '); i >= 0 {
		head, last = name[:i+1], name[i+1:]
	}
	var out []string
	add := func(w string) {
		if w != "" && w != last {
			out = append(out, head+w)
		}
	}
	switch {
	case strings.HasSuffix(last, "ies") && len(last) > 4:
		add(strings.TrimSuffix(last, "ies") + "y")
	case strings.HasSuffix(last, "oes"):
		add(strings.TrimSuffix(last, "es"))
	case strings.HasSuffix(last, "ches"), strings.HasSuffix(last, "shes"), strings.HasSuffix(last, "xes"), strings.HasSuffix(last, "sses"):
		add(strings.TrimSuffix(last, "es"))
	case strings.HasSuffix(last, "s") && !strings.HasSuffix(last, "ss"):
		add(strings.TrimSuffix(last, "s"))
	}
	switch {
	case strings.HasSuffix(last, "y") && len(last) > 2 && !strings.ContainsRune("aeiou", rune(last[len(last)-2])):
		add(strings.TrimSuffix(last, "y") + "ies")
	case strings.HasSuffix(last, "o"):
		add(last + "es")
		add(last + "s")
	case strings.HasSuffix(last, "ch"), strings.HasSuffix(last, "sh"), strings.HasSuffix(last, "x"), strings.HasSuffix(last, "ss"):
		add(last + "es")
	case !strings.HasSuffix(last, "s"):
		add(last + "s")
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Service loads the vocabulary once per batch and applies it.
type Service struct {
	loader    Loader
	threshold float64
	matcher   *Matcher
}

// NewService creates a Service backed by loader.
func NewService(loader Loader, threshold float64) *Service {
	return &Service{loader: loader, threshold: threshold}
}

// Attach loads the vocabulary and matches every ingredient. A load failure
// is returned but callers treat it as non-fatal.
func (s *Service) Attach(ctx context.Context, ingredients []model.Ingredient) (int, error) {
	if len(ingredients) == 0 || s == nil {
		return 0, nil
	}
	m := s.matcher
	if m == nil {
		if s.loader == nil {
			return 0, nil
		}
		items, err := s.loader.LoadCanonicalItems(ctx)
		if err != nil {
			return 0, eris.Wrap(err, "canonical: load vocabulary")
		}
		m = NewMatcher(items, s.threshold)
	}
	matched := m.Apply(ingredients)
	zap.L().Debug("canonical: matched ingredients",
		zap.Int("ingredients", len(ingredients)),
		zap.Int("matched", matched),
		zap.Int("vocabulary", m.Len()),
	)
	return matched, nil
}

// Preload loads the vocabulary once and returns a Service that reuses it
// for every Attach. Batch runs use it so the table is read once.
func Preload(ctx context.Context, loader Loader, threshold float64) (*Service, error) {
	items, err := loader.LoadCanonicalItems(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: preload vocabulary")
	}
	return &Service{loader: loader, threshold: threshold, matcher: NewMatcher(items, threshold)}, nil
}

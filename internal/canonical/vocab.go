package canonical

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/cookcard/ingest/internal/model"
)

// vocabColumns are the recognised spreadsheet headers.
var vocabColumns = []string{"id", "canonical_name", "aliases", "category"}

// LoadVocabularyFile reads canonical items from a .yaml/.yml, .xlsx or .csv
// file. Spreadsheets need a header row naming at least id and
// canonical_name; aliases are separated by ";" or "|". Later rows replace
// earlier rows with the same id.
func LoadVocabularyFile(path string) ([]model.CanonicalItem, error) {
	var (
		items []model.CanonicalItem
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		items, err = readVocabYAML(path)
	case ".xlsx":
		items, err = readVocabXLSX(path)
	case ".csv":
		items, err = readVocabCSV(path)
	default:
		return nil, eris.Errorf("canonical: unsupported vocabulary file %q", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	return cleanVocabulary(items)
}

func readVocabYAML(path string) ([]model.CanonicalItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "canonical: read %s", path)
	}

	var doc struct {
		Items []model.CanonicalItem `yaml:"items"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Items) > 0 {
		return doc.Items, nil
	}
	var items []model.CanonicalItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, eris.Wrap(err, "canonical: parse yaml vocabulary")
	}
	return items, nil
}

func readVocabXLSX(path string) ([]model.CanonicalItem, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "canonical: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("canonical: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return itemsFromRows(rows)
}

func readVocabCSV(path string) ([]model.CanonicalItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "canonical: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "canonical: parse csv vocabulary")
	}
	return itemsFromRows(rows)
}

// itemsFromRows maps a header row plus data rows onto items.
func itemsFromRows(rows [][]string) ([]model.CanonicalItem, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range vocabColumns[:2] {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("canonical: vocabulary header missing %q column", col)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	items := make([]model.CanonicalItem, 0, len(rows)-1)
	for _, row := range rows[1:] {
		item := model.CanonicalItem{
			ID:            cell(row, "id"),
			CanonicalName: cell(row, "canonical_name"),
			Category:      cell(row, "category"),
		}
		if raw := cell(row, "aliases"); raw != "" {
			item.Aliases = strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' })
		}
		if item.ID == "" && item.CanonicalName == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// cleanVocabulary trims fields, drops empty aliases and dedupes by id.
func cleanVocabulary(items []model.CanonicalItem) ([]model.CanonicalItem, error) {
	pos := make(map[string]int, len(items))
	out := make([]model.CanonicalItem, 0, len(items))
	for n, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		it.CanonicalName = strings.TrimSpace(it.CanonicalName)
		it.Category = strings.TrimSpace(it.Category)
		if it.ID == "" || it.CanonicalName == "" {
			return nil, eris.Errorf("canonical: item %d needs both id and canonical_name", n+1)
		}
		aliases := make([]string, 0, len(it.Aliases))
		for _, a := range it.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		it.Aliases = aliases

		if i, ok := pos[it.ID]; ok {
			out[i] = it
			continue
		}
		pos[it.ID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

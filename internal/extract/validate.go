package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/normalize"
)

// Rejection reasons recorded in telemetry.
const (
	ReasonEmptyName        = "empty_name"
	ReasonMissingEvidence  = "missing_evidence_phrase"
	ReasonEvidenceNotFound = "evidence_not_found_in_source"
	ReasonSectionHeader    = "section_header"
	ReasonStepNotFound     = "step_not_found_in_source"
)

// defaultConfidence applies when the model omits a confidence.
const defaultConfidence = 0.9

// Validated is the outcome of the evidence gate.
type Validated struct {
	Ingredients []model.Ingredient
	Steps       []string
	Rejections  map[string]int
}

// Validate keeps only proposals whose evidence phrase occurs in sourceText
// after normalization, drops section labels, and keeps only literal steps.
func Validate(sourceText string, src model.EvidenceSource, resp *Response) Validated {
	out := Validated{Rejections: map[string]int{}}
	if resp == nil {
		return out
	}
	normSource := normalize.Evidence(sourceText)

	reject := func(reason, name string) {
		out.Rejections[reason]++
		zap.L().Debug("extract: ingredient rejected",
			zap.String("reason", reason),
			zap.String("name", name),
		)
	}

	for _, raw := range resp.Ingredients {
		name := normalize.Collapse(raw.Name)
		switch {
		case normalize.Name(name) == "":
			reject(ReasonEmptyName, raw.Name)
			continue
		case strings.TrimSpace(raw.EvidencePhrase) == "":
			reject(ReasonMissingEvidence, name)
			continue
		case !normalize.ContainsEvidence(normSource, raw.EvidencePhrase):
			reject(ReasonEvidenceNotFound, name)
			continue
		case IsSectionHeader(name):
			reject(ReasonSectionHeader, name)
			continue
		}

		ing := BuildIngredient(raw, model.ProvenanceCreator, src, len(out.Ingredients))
		ing.Group = groupFor(normSource, raw.Group)
		out.Ingredients = append(out.Ingredients, ing)
	}

	for _, step := range resp.Steps {
		step = normalize.Collapse(step)
		if step == "" {
			continue
		}
		if !normalize.ContainsEvidence(normSource, step) {
			reject(ReasonStepNotFound, step)
			continue
		}
		out.Steps = append(out.Steps, step)
	}

	if len(out.Rejections) == 0 {
		out.Rejections = nil
	}
	return out
}

// BuildIngredient normalizes one model proposal. The caller has already
// decided the proposal is acceptable.
func BuildIngredient(raw RawIngredient, prov model.Provenance, src model.EvidenceSource, order int) model.Ingredient {
	name := normalize.Collapse(raw.Name)
	conf := defaultConfidence
	if raw.Confidence != nil {
		conf = clamp(*raw.Confidence)
	}
	return model.Ingredient{
		Name:           name,
		NormalizedName: normalize.Name(name),
		Amount:         normalize.Amount(string(raw.Amount)),
		Unit:           normalize.Unit(raw.Unit),
		Confidence:     conf,
		Provenance:     prov,
		EvidencePhrase: normalize.Collapse(raw.EvidencePhrase),
		EvidenceSource: src,
		SortOrder:      order,
	}
}

// groupFor keeps a model-provided sub-header only when the header text is
// present in the source.
func groupFor(normSource, group string) string {
	g := strings.TrimRight(normalize.Collapse(group), ": ")
	if g == "" || !normalize.ContainsEvidence(normSource, g) {
		return ""
	}
	return g
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

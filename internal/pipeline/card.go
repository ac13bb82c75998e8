package pipeline

import (
	"github.com/google/uuid"

	"github.com/cookcard/ingest/internal/cache"
	"github.com/cookcard/ingest/internal/ladder"
	"github.com/cookcard/ingest/internal/model"
)

func (p *Pipeline) buildCard(canonicalURL string, plat model.Platform, lr *ladder.Result, run *attempt, path []string) *model.CookCard {
	card := &model.CookCard{
		ID:           uuid.NewString(),
		SourceURL:    canonicalURL,
		Platform:     plat,
		Title:        lr.Meta.Title,
		Description:  lr.Meta.Description,
		Creator:      lr.Meta.Creator,
		ImageURL:     lr.Meta.ThumbnailURL,
		Instructions: model.Instructions{Mode: model.InstructionsLinkOnly},
		Ingredients:  run.ingredients,
		Extraction: model.Extraction{
			Method:         run.method,
			Confidence:     run.confidence,
			Version:        cache.ExtractionVersion,
			CostUSD:        run.cost,
			ExtractedAt:    p.now().UTC(),
			EvidenceSource: run.source,
			LadderPath:     path,
		},
	}
	if len(run.steps) > 0 {
		card.Instructions = model.Instructions{Mode: model.InstructionsSteps, Steps: run.steps}
	}
	return card
}

// linkOnlyCard is the degraded card: title and link, no ingredients. lr is
// nil when the ladder never ran, in which case the request hints are used.
func (p *Pipeline) linkOnlyCard(canonicalURL string, plat model.Platform, lr *ladder.Result, req Request, path []string) *model.CookCard {
	card := &model.CookCard{
		ID:           uuid.NewString(),
		SourceURL:    canonicalURL,
		Platform:     plat,
		Title:        req.Title,
		Description:  req.Description,
		Instructions: model.Instructions{Mode: model.InstructionsLinkOnly},
		Ingredients:  []model.Ingredient{},
		Extraction: model.Extraction{
			Method:      model.MethodLinkOnly,
			Version:     cache.ExtractionVersion,
			ExtractedAt: p.now().UTC(),
			LadderPath:  path,
		},
	}
	if lr != nil && lr.Meta != nil {
		card.Title = lr.Meta.Title
		card.Description = lr.Meta.Description
		card.Creator = lr.Meta.Creator
		card.ImageURL = lr.Meta.ThumbnailURL
		card.Extraction.EvidenceSource = lr.EvidenceSource
	}
	return card
}

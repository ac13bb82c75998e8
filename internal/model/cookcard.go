package model

import "time"

// Platform identifies where a shared link points.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformWeb       Platform = "web"
)

// IsVideo reports whether the platform serves video posts (comments and
// transcripts are only meaningful there).
func (p Platform) IsVideo() bool {
	switch p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram:
		return true
	default:
		return false
	}
}

// Provenance records who asserted an ingredient.
type Provenance string

const (
	ProvenanceCreator     Provenance = "creator"
	ProvenanceDetected    Provenance = "detected"
	ProvenanceUser        Provenance = "user"
	ProvenanceVideoVision Provenance = "video_vision"
)

// EvidenceSource names the text an ingredient was grounded in.
type EvidenceSource string

const (
	EvidenceDescription EvidenceSource = "description"
	EvidenceComment     EvidenceSource = "comment"
	EvidenceTranscript  EvidenceSource = "transcript"
	EvidenceVideo       EvidenceSource = "video"
)

// ExtractionMethod is the ladder level that produced the card.
type ExtractionMethod string

const (
	MethodLLMText     ExtractionMethod = "llm_text"
	MethodVideoVision ExtractionMethod = "video_vision"
	MethodLinkOnly    ExtractionMethod = "link_only"
)

// InstructionsMode says whether the card carries steps or only points back
// to the source.
type InstructionsMode string

const (
	InstructionsLinkOnly InstructionsMode = "link_only"
	InstructionsSteps    InstructionsMode = "steps"
)

// CookCard is the structured, attributed result of one extraction. Cards are
// immutable once cached.
type CookCard struct {
	ID           string       `json:"id"`
	SourceURL    string       `json:"source_url"`
	Platform     Platform     `json:"platform"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Creator      string       `json:"creator,omitempty"`
	ImageURL     string       `json:"image_url,omitempty"`
	Instructions Instructions `json:"instructions"`
	Ingredients  []Ingredient `json:"ingredients"`
	Extraction   Extraction   `json:"extraction"`
}

// Instructions holds literal steps, or nothing when the card is link-only.
type Instructions struct {
	Mode  InstructionsMode `json:"mode"`
	Steps []string         `json:"steps,omitempty"`
}

// Extraction records how a card was produced.
type Extraction struct {
	Method         ExtractionMethod `json:"method"`
	Confidence     float64          `json:"confidence"`
	Version        string           `json:"version"`
	CostUSD        float64          `json:"cost_usd"`
	ExtractedAt    time.Time        `json:"extracted_at"`
	EvidenceSource EvidenceSource   `json:"evidence_source,omitempty"`
	LadderPath     []string         `json:"ladder_path,omitempty"`
}

// Ingredient is a single attributed line of a Cook Card.
type Ingredient struct {
	Name            string         `json:"name"`
	NormalizedName  string         `json:"normalized_name"`
	Amount          string         `json:"amount,omitempty"`
	Unit            string         `json:"unit,omitempty"`
	Confidence      float64        `json:"confidence"`
	Provenance      Provenance     `json:"provenance"`
	EvidencePhrase  string         `json:"evidence_phrase,omitempty"`
	EvidenceSource  EvidenceSource `json:"evidence_source"`
	CanonicalItemID string         `json:"canonical_item_id,omitempty"`
	SortOrder       int            `json:"sort_order"`
	Group           string         `json:"group,omitempty"`
}

// AverageConfidence returns the mean ingredient confidence, or 0 for a card
// without ingredients.
func (c *CookCard) AverageConfidence() float64 {
	if len(c.Ingredients) == 0 {
		return 0
	}
	var sum float64
	for _, ing := range c.Ingredients {
		sum += ing.Confidence
	}
	return sum / float64(len(c.Ingredients))
}

// RequiresConfirmation reports whether the client should ask the user to
// review the ingredients before saving.
func (c *CookCard) RequiresConfirmation() bool {
	return c.AverageConfidence() < ConfirmationThreshold
}

// ConfirmationThreshold is the average confidence below which a card must be
// confirmed by the user.
const ConfirmationThreshold = 0.80

// CanonicalItem is an entry of the externally maintained vocabulary.
type CanonicalItem struct {
	ID            string   `json:"id" yaml:"id"`
	CanonicalName string   `json:"canonical_name" yaml:"canonical_name"`
	Aliases       []string `json:"aliases,omitempty" yaml:"aliases"`
	Category      string   `json:"category,omitempty" yaml:"category"`
}

// CacheEntry is a stored extraction result keyed by input fingerprint.
type CacheEntry struct {
	InputHash string    `json:"input_hash"`
	CookCard  CookCard  `json:"cook_card"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

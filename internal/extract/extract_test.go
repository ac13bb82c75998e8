package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cookcard/ingest/internal/cost"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/normalize"
	"github.com/cookcard/ingest/pkg/anthropic"
	"github.com/cookcard/ingest/pkg/anthropic/mocks"
)

const pastaSource = "Easy weeknight pasta! 1 lb pasta, 2 tbsp olive oil, 4 cloves garlic. Simmer and toss."

func textResponse(text string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:      "claude-haiku-4-5-20251001",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

func ptr(f float64) *float64 { return &f }

func TestValidate_RejectsUngroundedIngredient(t *testing.T) {
	t.Parallel()
	source := "1 lb pasta, 2 tbsp olive oil, 4 cloves garlic"
	resp := &Response{Ingredients: []RawIngredient{
		{Name: "pasta", Amount: "1", Unit: "lb", EvidencePhrase: "1 lb pasta"},
		{Name: "olive oil", Amount: "2", Unit: "tbsp", EvidencePhrase: "2 tbsp olive oil"},
		{Name: "garlic", Amount: "4", Unit: "cloves", EvidencePhrase: "4 cloves garlic"},
		{Name: "vodka", Amount: "2", Unit: "tbsp", EvidencePhrase: "2 tbsp vodka"},
	}}

	v := Validate(source, model.EvidenceDescription, resp)
	require.Len(t, v.Ingredients, 3)
	assert.Equal(t, map[string]int{ReasonEvidenceNotFound: 1}, v.Rejections)

	norm := normalize.Evidence(source)
	for i, ing := range v.Ingredients {
		assert.NotEqual(t, "vodka", ing.NormalizedName)
		assert.True(t, normalize.ContainsEvidence(norm, ing.EvidencePhrase), ing.Name)
		assert.Equal(t, i, ing.SortOrder)
		assert.Equal(t, model.ProvenanceCreator, ing.Provenance)
		assert.Equal(t, model.EvidenceDescription, ing.EvidenceSource)
	}
	assert.Equal(t, "clove", v.Ingredients[2].Unit)
}

func TestValidate_NormalizedEvidence(t *testing.T) {
	t.Parallel()
	source := "Add ½ cup of “crème fraîche” and 1,5 dl\u200b milk"
	resp := &Response{Ingredients: []RawIngredient{
		{Name: "crème fraîche", Amount: "½", Unit: "cup", EvidencePhrase: `1/2 cup of "Crème Fraîche"`},
		{Name: "milk", Amount: "1,5", Unit: "dl", EvidencePhrase: "1.5 dl milk"},
	}}

	v := Validate(source, model.EvidenceComment, resp)
	require.Len(t, v.Ingredients, 2)
	assert.Nil(t, v.Rejections)
	assert.Equal(t, "1/2", v.Ingredients[0].Amount)
	assert.Equal(t, "1.5", v.Ingredients[1].Amount)
}

func TestValidate_RejectionReasons(t *testing.T) {
	t.Parallel()
	source := "Ingredients: 2 eggs, 1 cup sugar. For the sauce: 1 tbsp soy sauce, 2 tbsp pesto"
	resp := &Response{
		Ingredients: []RawIngredient{
			{Name: "  ", EvidencePhrase: "2 eggs"},
			{Name: "eggs", Amount: "2"},
			{Name: "Ingredients:", EvidencePhrase: "Ingredients"},
			{Name: "For the sauce", EvidencePhrase: "For the sauce"},
			{Name: "soy sauce", Amount: "1", Unit: "tbsp", EvidencePhrase: "1 tbsp soy sauce", Group: "For the sauce:"},
			{Name: "pesto", Amount: "2", Unit: "tbsp", EvidencePhrase: "2 tbsp pesto", Group: "Dressing"},
			{Name: "sugar", Amount: "1", Unit: "cup", EvidencePhrase: "1 cup sugar", Confidence: ptr(1.7)},
		},
		Steps: []string{"", "Whisk everything together"},
	}

	v := Validate(source, model.EvidenceDescription, resp)
	assert.Equal(t, map[string]int{
		ReasonEmptyName:       1,
		ReasonMissingEvidence: 1,
		ReasonSectionHeader:   2,
		ReasonStepNotFound:    1,
	}, v.Rejections)

	require.Len(t, v.Ingredients, 3)
	assert.Equal(t, "soy sauce", v.Ingredients[0].NormalizedName)
	assert.Equal(t, "For the sauce", v.Ingredients[0].Group)
	assert.Equal(t, "pesto", v.Ingredients[1].NormalizedName)
	assert.Empty(t, v.Ingredients[1].Group, "group absent from source is dropped")
	assert.Equal(t, 1.0, v.Ingredients[2].Confidence)
	assert.Empty(t, v.Steps)
}

func TestValidate_LiteralStepsKept(t *testing.T) {
	t.Parallel()
	source := "2 eggs, 1 cup flour. Whisk the eggs. Fold in the flour and bake 20 minutes."
	v := Validate(source, model.EvidenceDescription, &Response{
		Steps: []string{"Whisk the eggs.", "Fold in the flour and bake 20 minutes.", "Let cool completely."},
	})
	assert.Equal(t, []string{"Whisk the eggs.", "Fold in the flour and bake 20 minutes."}, v.Steps)
	assert.Equal(t, map[string]int{ReasonStepNotFound: 1}, v.Rejections)
}

func TestValidate_DefaultConfidence(t *testing.T) {
	t.Parallel()
	v := Validate("2 eggs", model.EvidenceDescription, &Response{Ingredients: []RawIngredient{
		{Name: "eggs", EvidencePhrase: "2 eggs"},
		{Name: "eggs", EvidencePhrase: "2 eggs", Confidence: ptr(-0.3)},
	}})
	require.Len(t, v.Ingredients, 2)
	assert.Equal(t, defaultConfidence, v.Ingredients[0].Confidence)
	assert.Equal(t, 0.0, v.Ingredients[1].Confidence)
}

func TestIsSectionHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"Ingredients", true},
		{"INGREDIENTS:", true},
		{"For the sauce", true},
		{"for the chicken marinade", true},
		{"Topping", true},
		{"Marinade:", true},
		{"cake ingredients", true},
		{"To serve", true},
		{"soy sauce", false},
		{"hot sauce", false},
		{"pizza dough", false},
		{"pesto", false},
		{"caesar dressing", false},
		{"whipped topping", false},
		{"marinara sauce", false},
		{"for the best results use room temperature butter", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsSectionHeader(tt.name))
		})
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		wantIng int
		wantErr bool
	}{
		{"plain", `{"ingredients":[{"name":"salt","evidence_phrase":"salt"}],"steps":[]}`, 1, false},
		{"fenced", "```json\n{\"ingredients\":[{\"name\":\"salt\",\"evidence_phrase\":\"salt\"}]}\n```", 1, false},
		{"prose around", "Here you go:\n{\"ingredients\":[{\"name\":\"a\"},{\"name\":\"b\"}]}\nEnjoy!", 2, false},
		{"numeric amount", `{"ingredients":[{"name":"eggs","amount":2,"evidence_phrase":"2 eggs"}]}`, 1, false},
		{"truncated mid string", `{"ingredients":[{"name":"salt","evidence_phrase":"salt"},{"name":"pep`, 1, false},
		{"truncated after key", `{"ingredients":[{"name":"salt","evidence_phrase":"1 tsp sa`, 1, false},
		{"empty", "", 0, true},
		{"no object", "I could not find a recipe.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseResponse(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnparseable)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.Ingredients, tt.wantIng)
		})
	}
}

func TestParseResponse_TruncatedPhraseDropped(t *testing.T) {
	t.Parallel()
	got, err := ParseResponse(`{"ingredients":[{"name":"salt","evidence_phrase":"1 tsp sa`)
	require.NoError(t, err)
	require.Len(t, got.Ingredients, 1)
	assert.Equal(t, "salt", got.Ingredients[0].Name)
	assert.Empty(t, got.Ingredients[0].EvidencePhrase)
}

func TestScalar(t *testing.T) {
	t.Parallel()
	var r RawIngredient
	require.NoError(t, r.Amount.UnmarshalJSON([]byte(`1.5`)))
	assert.Equal(t, Scalar("1.5"), r.Amount)
	require.NoError(t, r.Amount.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, Scalar(""), r.Amount)
	require.NoError(t, r.Amount.UnmarshalJSON([]byte(`"1/2"`)))
	assert.Equal(t, Scalar("1/2"), r.Amount)
	assert.Error(t, r.Amount.UnmarshalJSON([]byte(`true`)))
}

func TestExtractor_Extract(t *testing.T) {
	t.Parallel()
	client := mocks.NewMockClient(t)
	answer := `{"ingredients":[
		{"name":"pasta","amount":"1","unit":"lb","evidence_phrase":"1 lb pasta","confidence":0.95},
		{"name":"olive oil","amount":"2","unit":"tbsp","evidence_phrase":"2 tbsp olive oil","confidence":0.9},
		{"name":"garlic","amount":"4","unit":"cloves","evidence_phrase":"4 cloves garlic","confidence":0.9},
		{"name":"vodka","amount":"2","unit":"tbsp","evidence_phrase":"2 tbsp vodka","confidence":0.8}
	],"steps":["Simmer and toss."]}`
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" && len(req.Messages) == 1 && req.Temperature != nil
	})).Return(textResponse(answer, 1_000_000, 100_000), nil).Once()

	e := New(client, cost.NewCalculator(cost.DefaultRates()), DefaultConfig())
	res, err := e.Extract(context.Background(), pastaSource, model.EvidenceDescription)
	require.NoError(t, err)

	assert.True(t, res.Called)
	assert.Len(t, res.Ingredients, 3)
	assert.Equal(t, []string{"Simmer and toss."}, res.Steps)
	assert.Equal(t, map[string]int{ReasonEvidenceNotFound: 1}, res.Rejections)
	assert.Equal(t, 1_000_000, res.Usage.InputTokens)
	assert.InDelta(t, 1.0+0.5, res.CostUSD, 1e-9)
}

func TestExtractor_PreGateSkipsCall(t *testing.T) {
	t.Parallel()
	client := mocks.NewMockClient(t)
	e := New(client, nil, DefaultConfig())

	for _, text := range []string{
		"2 eggs",
		"Check out my vlog from the trip to Lisbon last summer, it was a great time with friends!",
	} {
		res, err := e.Extract(context.Background(), text, model.EvidenceDescription)
		require.NoError(t, err)
		assert.False(t, res.Called)
		assert.Empty(t, res.Ingredients)
	}
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExtractor_CallFailureNotRetried(t *testing.T) {
	t.Parallel()
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded")).Once()

	res, err := New(client, nil, DefaultConfig()).Extract(context.Background(), pastaSource, model.EvidenceDescription)
	require.Error(t, err)
	assert.True(t, res.Called)
	assert.Zero(t, res.CostUSD)
}

func TestExtractor_UnparseableKeepsCost(t *testing.T) {
	t.Parallel()
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Sorry, no recipe here.", 2_000, 20), nil).Once()

	res, err := New(client, nil, DefaultConfig()).Extract(context.Background(), pastaSource, model.EvidenceDescription)
	require.ErrorIs(t, err, ErrUnparseable)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Empty(t, res.Ingredients)
}

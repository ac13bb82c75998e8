// Package gemini wraps the Gemini SDK for single-shot video analysis.
package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client defines the Gemini operations used by the vision fallback.
type Client interface {
	AnalyzeVideo(ctx context.Context, req VideoRequest) (*VideoResponse, error)
	Close() error
}

// VideoRequest asks the model to read a video by URI.
type VideoRequest struct {
	Model           string
	System          string
	Prompt          string
	VideoURI        string
	MIMEType        string // defaults to video/mp4
	MaxOutputTokens int32
	Temperature     float32
}

// VideoResponse is the model's text answer plus reported usage.
type VideoResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage tracks token consumption as reported by the API.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: API key is required")
	}
	c, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: c}, nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

func (c *sdkClient) AnalyzeVideo(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	if req.VideoURI == "" {
		return nil, eris.New("gemini: video URI is required")
	}

	model := c.client.GenerativeModel(req.Model)
	configureModel(model, req)

	resp, err := model.GenerateContent(ctx, buildParts(req)...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}

	out := fromResponse(resp)
	out.Model = req.Model
	if out.Text == "" {
		zap.L().Warn("gemini: empty response",
			zap.String("model", req.Model),
			zap.String("finish_reason", out.FinishReason),
		)
	}
	return out, nil
}

func configureModel(model *genai.GenerativeModel, req VideoRequest) {
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.ResponseMIMEType = "application/json"
	model.GenerationConfig.Temperature = genai.Ptr(req.Temperature)
	if req.MaxOutputTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(req.MaxOutputTokens)
	}
}

func buildParts(req VideoRequest) []genai.Part {
	mime := req.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return []genai.Part{
		genai.FileData{MIMEType: mime, URI: req.VideoURI},
		genai.Text(req.Prompt),
	}
}

func fromResponse(resp *genai.GenerateContentResponse) *VideoResponse {
	out := &VideoResponse{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return out
	}
	cand := resp.Candidates[0]
	out.FinishReason = cand.FinishReason.String()
	if cand.Content == nil {
		return out
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out.Text = b.String()
	return out
}

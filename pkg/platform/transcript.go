package platform

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

// TranscriptClient calls an internal caption service that returns plain
// text auto-captions for a video.
//
//	GET {base}/v1/transcripts?platform=youtube&video_id=ID&lang=en
//	200 {"text": "...", "language": "en"}
//	404 when no captions exist
type TranscriptClient struct {
	rest    *resty.Client
	lang    string
	limiter *AdaptiveLimiter
}

// NewTranscriptClient creates a TranscriptClient. An empty baseURL yields a
// client whose Fetch always returns ErrUnsupported.
func NewTranscriptClient(baseURL, apiKey, lang string, timeout time.Duration) *TranscriptClient {
	if baseURL == "" {
		return &TranscriptClient{}
	}
	if lang == "" {
		lang = "en"
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	rc := newRestClient(strings.TrimRight(baseURL, "/"), timeout, nil)
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return &TranscriptClient{rest: rc, lang: lang, limiter: NewAdaptiveLimiter("transcript", 5, 5)}
}

type transcriptResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Fetch returns the transcript text for a video.
func (c *TranscriptClient) Fetch(ctx context.Context, p Platform, videoID string) (string, error) {
	if c == nil || c.rest == nil {
		return "", ErrUnsupported
	}
	if videoID == "" {
		return "", eris.Wrap(ErrUnsupported, "transcript requires a video id")
	}
	var resp transcriptResponse
	err := getJSON(ctx, "transcript", c.rest, c.limiter, "/v1/transcripts", map[string]string{
		"platform": string(p),
		"video_id": videoID,
		"lang":     c.lang,
	}, &resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

package platform

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTikTokOEmbedURL    = "https://www.tiktok.com"
	defaultInstagramOEmbedURL = "https://graph.facebook.com"
	maxTitleRunes             = 100
)

// OEmbedClient reads caption metadata from TikTok and Instagram oEmbed
// endpoints. Neither exposes duration or comments.
type OEmbedClient struct {
	tiktok         *resty.Client
	instagram      *resty.Client
	instagramToken string
	limiter        *AdaptiveLimiter
}

// OEmbedConfig configures an OEmbedClient.
type OEmbedConfig struct {
	TikTokBaseURL    string
	InstagramBaseURL string
	InstagramToken   string // app access token, "appid|secret"
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// NewOEmbedClient creates an OEmbedClient.
func NewOEmbedClient(cfg OEmbedConfig) *OEmbedClient {
	if cfg.TikTokBaseURL == "" {
		cfg.TikTokBaseURL = defaultTikTokOEmbedURL
	}
	if cfg.InstagramBaseURL == "" {
		cfg.InstagramBaseURL = defaultInstagramOEmbedURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &OEmbedClient{
		tiktok:         newRestClient(cfg.TikTokBaseURL, cfg.Timeout, cfg.HTTPClient),
		instagram:      newRestClient(cfg.InstagramBaseURL, cfg.Timeout, cfg.HTTPClient),
		instagramToken: cfg.InstagramToken,
		limiter:        NewAdaptiveLimiter("oembed", 5, 5),
	}
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Fetch returns caption metadata for a TikTok or Instagram link.
func (c *OEmbedClient) Fetch(ctx context.Context, p Platform, canonicalURL string) (*Metadata, error) {
	var (
		resp oembedResponse
		err  error
	)
	switch p {
	case TikTok:
		err = getJSON(ctx, "tiktok-oembed", c.tiktok, c.limiter, "/oembed", map[string]string{
			"url": canonicalURL,
		}, &resp)
	case Instagram:
		err = getJSON(ctx, "instagram-oembed", c.instagram, c.limiter, "/v21.0/instagram_oembed", map[string]string{
			"url":          canonicalURL,
			"access_token": c.instagramToken,
			"omitscript":   "true",
		}, &resp)
	default:
		return nil, ErrUnsupported
	}
	if err != nil {
		return nil, err
	}

	caption := strings.TrimSpace(resp.Title)
	title := captionTitle(caption)
	if title == "" && resp.AuthorName != "" {
		title = "Video by " + resp.AuthorName
	}
	return &Metadata{
		Platform:     p,
		URL:          canonicalURL,
		VideoID:      ShortVideoID(p, canonicalURL),
		Title:        title,
		Description:  caption,
		Creator:      resp.AuthorName,
		ThumbnailURL: resp.ThumbnailURL,
		ShortForm:    true,
	}, nil
}

// captionTitle uses the first caption line, truncated, as a title.
func captionTitle(caption string) string {
	line, _, _ := strings.Cut(caption, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}

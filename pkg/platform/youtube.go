package platform

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const defaultYouTubeBaseURL = "https://www.googleapis.com"

// YouTubeClient reads the YouTube Data API v3.
type YouTubeClient struct {
	apiKey  string
	rest    *resty.Client
	limiter *AdaptiveLimiter
}

// YouTubeOption configures a YouTubeClient.
type YouTubeOption func(*youtubeOpts)

type youtubeOpts struct {
	baseURL string
	timeout time.Duration
}

// WithYouTubeBaseURL overrides the API host (tests).
func WithYouTubeBaseURL(u string) YouTubeOption {
	return func(o *youtubeOpts) { o.baseURL = u }
}

// WithYouTubeTimeout sets the per-request timeout.
func WithYouTubeTimeout(d time.Duration) YouTubeOption {
	return func(o *youtubeOpts) { o.timeout = d }
}

// NewYouTubeClient creates a client authenticated with an API key.
func NewYouTubeClient(apiKey string, opts ...YouTubeOption) *YouTubeClient {
	o := youtubeOpts{baseURL: defaultYouTubeBaseURL, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &YouTubeClient{
		apiKey:  apiKey,
		rest:    newRestClient(o.baseURL, o.timeout, nil),
		limiter: NewAdaptiveLimiter("youtube", 10, 10),
	}
}

type ytVideoList struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type ytCommentThreads struct {
	Items []struct {
		Snippet struct {
			TopLevelComment struct {
				Snippet struct {
					TextOriginal      string `json:"textOriginal"`
					TextDisplay       string `json:"textDisplay"`
					AuthorDisplayName string `json:"authorDisplayName"`
					LikeCount         int64  `json:"likeCount"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

// Video fetches snippet and duration for a video ID.
func (c *YouTubeClient) Video(ctx context.Context, videoID string) (*Metadata, error) {
	var list ytVideoList
	err := getJSON(ctx, "youtube", c.rest, c.limiter, "/youtube/v3/videos", map[string]string{
		"part": "snippet,contentDetails",
		"id":   videoID,
		"key":  c.apiKey,
	}, &list)
	if err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "youtube video %s", videoID)
	}

	item := list.Items[0]
	dur, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		dur = 0
	}
	return &Metadata{
		Platform:     YouTube,
		URL:          "https://www.youtube.com/watch?v=" + videoID,
		VideoID:      videoID,
		Title:        item.Snippet.Title,
		Description:  item.Snippet.Description,
		Creator:      item.Snippet.ChannelTitle,
		ThumbnailURL: bestThumbnail(item.Snippet.Thumbnails),
		Duration:     dur,
	}, nil
}

// Comments returns up to limit top-level comments ordered by relevance.
func (c *YouTubeClient) Comments(ctx context.Context, videoID string, limit int) ([]Comment, error) {
	if limit <= 0 {
		return nil, nil
	}
	var threads ytCommentThreads
	err := getJSON(ctx, "youtube", c.rest, c.limiter, "/youtube/v3/commentThreads", map[string]string{
		"part":       "snippet",
		"videoId":    videoID,
		"order":      "relevance",
		"textFormat": "plainText",
		"maxResults": strconv.Itoa(min(limit, 100)),
		"key":        c.apiKey,
	}, &threads)
	if err != nil {
		return nil, err
	}

	out := make([]Comment, 0, len(threads.Items))
	for _, it := range threads.Items {
		s := it.Snippet.TopLevelComment.Snippet
		text := s.TextOriginal
		if text == "" {
			text = s.TextDisplay
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, Comment{Text: text, Author: s.AuthorDisplayName, Likes: s.LikeCount})
	}
	return out, nil
}

func bestThumbnail(thumbs map[string]struct {
	URL string `json:"url"`
}) string {
	for _, k := range []string{"maxres", "standard", "high", "medium", "default"} {
		if t, ok := thumbs[k]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration parses the ISO-8601 durations YouTube reports
// ("PT1M30S", "P1DT2H").
func ParseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, eris.Errorf("platform: invalid ISO-8601 duration %q", s)
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, eris.Wrapf(err, "platform: duration %q", s)
		}
		d += time.Duration(n) * u
	}
	return d, nil
}

// Package platform fetches free public metadata for shared recipe links:
// titles and captions, top comments and transcripts. Each source is a small
// resty-based client with its own adaptive rate limiter; Router dispatches
// by detected platform.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

var (
	// ErrUnsupported means the platform has no source for the requested data.
	ErrUnsupported = eris.New("platform: unsupported for this platform")
	// ErrNotFound means the item does not exist or is not public.
	ErrNotFound = eris.New("platform: not found")
)

// Metadata is what level zero of the ladder knows about a link.
type Metadata struct {
	Platform     Platform      `json:"platform"`
	URL          string        `json:"url"`
	VideoID      string        `json:"video_id,omitempty"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Creator      string        `json:"creator,omitempty"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	Duration     time.Duration `json:"duration"` // zero when unknown
	ShortForm    bool          `json:"short_form"`
}

// Comment is a single top-level viewer comment.
type Comment struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
	Likes  int64  `json:"likes"`
}

// Client fetches metadata, comments and transcripts for any supported link.
type Client interface {
	Metadata(ctx context.Context, rawURL string) (*Metadata, error)
	Comments(ctx context.Context, meta *Metadata, limit int) ([]Comment, error)
	Transcript(ctx context.Context, meta *Metadata) (string, error)
}

// StatusError is returned when an upstream answers with a non-2xx code.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("platform: %s returned status %d: %s", e.Service, e.Code, body)
}

// Temporary reports whether the failure is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// newRestClient builds the shared resty configuration.
func newRestClient(baseURL string, timeout time.Duration, hc *http.Client) *resty.Client {
	var c *resty.Client
	if hc != nil {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New()
	}
	return c.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "cookcard/1.0 (+https://cookcard.app)")
}

// getJSON issues a rate-limited GET and decodes a JSON body into out.
func getJSON(ctx context.Context, service string, rc *resty.Client, lim *AdaptiveLimiter, path string, query map[string]string, out any) error {
	resp, err := get(ctx, service, rc, lim, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return eris.Wrapf(err, "platform: decode %s response", service)
	}
	return nil
}

func get(ctx context.Context, service string, rc *resty.Client, lim *AdaptiveLimiter, path string, query map[string]string) (*resty.Response, error) {
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "platform: %s rate limiter wait", service)
	}
	resp, err := rc.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, eris.Wrapf(err, "platform: %s request", service)
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		lim.OnRateLimit()
	case resp.StatusCode() == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "%s %s", service, path)
	case resp.IsSuccess():
		lim.OnSuccess()
		return resp, nil
	}
	return nil, &StatusError{Service: service, Code: resp.StatusCode(), Body: resp.String()}
}

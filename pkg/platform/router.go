package platform

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// shortFormMax is the longest video still treated as short-form.
const shortFormMax = 3 * time.Minute

// Router implements Client by dispatching on the detected platform.
type Router struct {
	youtube    *YouTubeClient
	oembed     *OEmbedClient
	web        *WebClient
	transcript *TranscriptClient
}

var _ Client = (*Router)(nil)

// NewRouter wires the per-platform clients. Any of them may be nil, in
// which case that platform reports ErrUnsupported.
func NewRouter(yt *YouTubeClient, oe *OEmbedClient, web *WebClient, tr *TranscriptClient) *Router {
	return &Router{youtube: yt, oembed: oe, web: web, transcript: tr}
}

// Metadata implements Client.
func (r *Router) Metadata(ctx context.Context, rawURL string) (*Metadata, error) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}
	p, err := Detect(canonical)
	if err != nil {
		return nil, err
	}

	var meta *Metadata
	switch p {
	case YouTube:
		if r.youtube == nil {
			return nil, ErrUnsupported
		}
		id, short := YouTubeID(canonical)
		if id == "" {
			return nil, eris.Wrapf(ErrInvalidURL, "no video id in %q", rawURL)
		}
		meta, err = r.youtube.Video(ctx, id)
		if err == nil {
			meta.URL = canonical
			meta.ShortForm = short || (meta.Duration > 0 && meta.Duration <= shortFormMax)
		}
	case TikTok, Instagram:
		if r.oembed == nil {
			return nil, ErrUnsupported
		}
		meta, err = r.oembed.Fetch(ctx, p, canonical)
	default:
		if r.web == nil {
			return nil, ErrUnsupported
		}
		meta, err = r.web.Fetch(ctx, canonical)
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Comments implements Client. Only YouTube exposes public comments.
func (r *Router) Comments(ctx context.Context, meta *Metadata, limit int) ([]Comment, error) {
	if meta == nil || meta.Platform != YouTube || r.youtube == nil || meta.VideoID == "" {
		return nil, ErrUnsupported
	}
	return r.youtube.Comments(ctx, meta.VideoID, limit)
}

// Transcript implements Client.
func (r *Router) Transcript(ctx context.Context, meta *Metadata) (string, error) {
	if meta == nil || r.transcript == nil {
		return "", ErrUnsupported
	}
	return r.transcript.Fetch(ctx, meta.Platform, meta.VideoID)
}

package ladder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/resilience"
	"github.com/cookcard/ingest/pkg/platform"
)

// descriptionLevel accepts the caption on its own when it is long enough.
type descriptionLevel struct {
	minChars int
}

func (l *descriptionLevel) Name() string { return StepDescription }

func (l *descriptionLevel) Applies(*State) bool { return true }

func (l *descriptionLevel) Attempt(_ context.Context, s *State) (Outcome, error) {
	if s.TextLen() >= l.minChars {
		return Sufficient, nil
	}
	return Next, nil
}

// commentsLevel appends the single best recipe-like comment on video posts.
type commentsLevel struct {
	client   platform.Client
	breakers *resilience.Breakers
	limit    int
	minScore int
	timeout  time.Duration
}

func (l *commentsLevel) Name() string { return StepComments }

func (l *commentsLevel) Applies(s *State) bool {
	return model.Platform(s.Meta.Platform).IsVideo()
}

func (l *commentsLevel) Attempt(ctx context.Context, s *State) (Outcome, error) {
	breaker := l.breakers.Get("comments:" + string(s.Meta.Platform))
	comments, err := resilience.Call(ctx, breaker, func(ctx context.Context) ([]platform.Comment, error) {
		callCtx, cancel := withTimeout(ctx, l.timeout)
		defer cancel()
		return l.client.Comments(callCtx, s.Meta, l.limit)
	})
	if err != nil {
		if errors.Is(err, platform.ErrUnsupported) {
			return Next, nil
		}
		return Next, eris.Wrap(err, "ladder: fetch comments")
	}

	best, ok := BestComment(comments, s.Meta.Creator, l.minScore)
	if !ok {
		return Next, nil
	}
	s.appendText(best.Text, model.EvidenceComment)
	return Sufficient, nil
}

// transcriptLevel appends captions for short videos whose text is still
// thin after the description and comments.
type transcriptLevel struct {
	client      platform.Client
	breakers    *resilience.Breakers
	maxDuration time.Duration
	belowChars  int
	timeout     time.Duration
}

func (l *transcriptLevel) Name() string { return StepTranscript }

// Applies requires a short-form video. oEmbed platforms do not report a
// duration, so an unknown duration on a short-form post is accepted.
func (l *transcriptLevel) Applies(s *State) bool {
	m := s.Meta
	if !model.Platform(m.Platform).IsVideo() || !m.ShortForm {
		return false
	}
	if m.Duration > 0 && m.Duration >= l.maxDuration {
		return false
	}
	return s.TextLen() < l.belowChars
}

func (l *transcriptLevel) Attempt(ctx context.Context, s *State) (Outcome, error) {
	breaker := l.breakers.Get("transcript")
	text, err := resilience.Call(ctx, breaker, func(ctx context.Context) (string, error) {
		callCtx, cancel := withTimeout(ctx, l.timeout)
		defer cancel()
		return l.client.Transcript(callCtx, s.Meta)
	})
	if err != nil {
		if errors.Is(err, platform.ErrUnsupported) || errors.Is(err, platform.ErrNotFound) {
			return Next, nil
		}
		return Next, eris.Wrap(err, "ladder: fetch transcript")
	}
	if strings.TrimSpace(text) == "" {
		return Next, nil
	}
	s.appendText(text, model.EvidenceTranscript)
	return Sufficient, nil
}

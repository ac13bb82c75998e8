// Package ladder gathers the cheapest sufficient evidence text for a link:
// metadata first, then the description, top comments and finally a
// transcript for short videos. Every level here is free.
package ladder

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/resilience"
	"github.com/cookcard/ingest/pkg/platform"
)

// ErrMetadataUnavailable means level zero failed. Nothing downstream can run
// without a title.
var ErrMetadataUnavailable = eris.New("ladder: metadata unavailable")

// Step names recorded in a request's ladder path.
const (
	StepMetadata    = "metadata"
	StepDescription = "description"
	StepComments    = "comments"
	StepTranscript  = "transcript"
)

// Outcome tells the ladder whether to stop.
type Outcome int

const (
	// Next means the level did not produce enough text.
	Next Outcome = iota
	// Sufficient stops the descent.
	Sufficient
)

// State is threaded through the levels. Levels append to Text and set
// EvidenceSource when they contribute.
type State struct {
	Meta           *platform.Metadata
	Text           string
	EvidenceSource model.EvidenceSource
	Path           []string
}

// TextLen is the accumulated text length in characters.
func (s *State) TextLen() int {
	return utf8.RuneCountInString(strings.TrimSpace(s.Text))
}

func (s *State) appendText(more string, src model.EvidenceSource) {
	if strings.TrimSpace(s.Text) == "" {
		s.Text = strings.TrimSpace(more)
	} else {
		s.Text = strings.TrimSpace(s.Text) + "\n\n" + strings.TrimSpace(more)
	}
	s.EvidenceSource = src
}

// Level is one rung after metadata. Applies reports whether the level is
// relevant to the current state at all; skipped levels are not recorded in
// the path.
type Level interface {
	Name() string
	Applies(s *State) bool
	Attempt(ctx context.Context, s *State) (Outcome, error)
}

// Config tunes the ladder.
type Config struct {
	DescriptionMinChars   int
	CommentLimit          int
	CommentMinScore       int
	TranscriptMaxDuration time.Duration
	TranscriptBelowChars  int
	MetadataTimeout       time.Duration
	CommentsTimeout       time.Duration
	TranscriptTimeout     time.Duration
	Retry                 resilience.RetryPolicy
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		DescriptionMinChars:   100,
		CommentLimit:          20,
		CommentMinScore:       4,
		TranscriptMaxDuration: 180 * time.Second,
		TranscriptBelowChars:  200,
		MetadataTimeout:       10 * time.Second,
		CommentsTimeout:       10 * time.Second,
		TranscriptTimeout:     5 * time.Second,
		Retry:                 resilience.DefaultRetryPolicy(),
	}
}

// Hints are optional values from the client's share payload.
type Hints struct {
	Title       string
	Description string
}

// Result is the ladder's output.
type Result struct {
	Meta           *platform.Metadata
	Text           string
	EvidenceSource model.EvidenceSource
	Path           []string
}

// Ladder runs the levels in order.
type Ladder struct {
	client   platform.Client
	breakers *resilience.Breakers
	cfg      Config
	levels   []Level
}

// New creates a Ladder with the standard levels.
func New(client platform.Client, breakers *resilience.Breakers, cfg Config) *Ladder {
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	l := &Ladder{client: client, breakers: breakers, cfg: cfg}
	l.levels = []Level{
		&descriptionLevel{minChars: cfg.DescriptionMinChars},
		&commentsLevel{client: client, breakers: breakers, limit: cfg.CommentLimit, minScore: cfg.CommentMinScore, timeout: cfg.CommentsTimeout},
		&transcriptLevel{client: client, breakers: breakers, maxDuration: cfg.TranscriptMaxDuration, belowChars: cfg.TranscriptBelowChars, timeout: cfg.TranscriptTimeout},
	}
	return l
}

// Run fetches metadata and descends until a level is sufficient or the
// levels run out. Only a metadata failure is returned as an error.
func (l *Ladder) Run(ctx context.Context, canonicalURL string, hints Hints) (*Result, error) {
	log := zap.L().With(zap.String("url", canonicalURL))

	meta, err := l.FetchMetadata(ctx, canonicalURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(meta.Description) == "" && strings.TrimSpace(hints.Description) != "" {
		meta.Description = hints.Description
	}

	st := &State{
		Meta:           meta,
		Text:           strings.TrimSpace(meta.Description),
		EvidenceSource: model.EvidenceDescription,
		Path:           []string{StepMetadata},
	}

	for _, lvl := range l.levels {
		if !lvl.Applies(st) {
			continue
		}
		st.Path = append(st.Path, lvl.Name())
		outcome, err := lvl.Attempt(ctx, st)
		if err != nil {
			log.Warn("ladder: level failed, falling through",
				zap.String("level", lvl.Name()),
				zap.Error(err),
			)
			continue
		}
		if outcome == Sufficient {
			log.Debug("ladder: sufficient evidence",
				zap.String("level", lvl.Name()),
				zap.Int("chars", st.TextLen()),
			)
			break
		}
	}

	return &Result{
		Meta:           meta,
		Text:           st.Text,
		EvidenceSource: st.EvidenceSource,
		Path:           st.Path,
	}, nil
}

// FetchMetadata is level zero. The call goes through the platform's
// circuit breaker and a bounded retry for transient failures.
func (l *Ladder) FetchMetadata(ctx context.Context, canonicalURL string) (*platform.Metadata, error) {
	p, err := platform.Detect(canonicalURL)
	if err != nil {
		return nil, eris.Wrap(ErrMetadataUnavailable, err.Error())
	}
	breaker := l.breakers.Get("metadata:" + string(p))

	meta, err := resilience.Retry(ctx, l.cfg.Retry, "metadata", func(ctx context.Context) (*platform.Metadata, error) {
		return resilience.Call(ctx, breaker, func(ctx context.Context) (*platform.Metadata, error) {
			callCtx, cancel := withTimeout(ctx, l.cfg.MetadataTimeout)
			defer cancel()
			return l.client.Metadata(callCtx, canonicalURL)
		})
	})
	if err != nil {
		zap.L().Warn("ladder: metadata fetch failed",
			zap.String("url", canonicalURL),
			zap.String("platform", string(p)),
			zap.Error(err),
		)
		return nil, eris.Wrap(ErrMetadataUnavailable, err.Error())
	}
	if meta == nil || strings.TrimSpace(meta.Title) == "" {
		return nil, eris.Wrap(ErrMetadataUnavailable, "empty title")
	}
	return meta, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

package insight

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/render"
)

// ErrNoCoverage is returned when no analyst covers the instrument.
var ErrNoCoverage = errors.New("no analyst coverage")

// RatingSource returns an analyst consensus.
type RatingSource interface {
	Rating(ctx context.Context, symbol string) (*models.Rating, error)
}

// RatingStep renders the analyst consensus.
type RatingStep struct {
	source RatingSource
}

// NewRatingStep creates the analyst rating step.
func NewRatingStep(source RatingSource) *RatingStep {
	return &RatingStep{source: source}
}

// Name identifies the step in logs.
func (s *RatingStep) Name() string { return "analyst_rating" }

// Run renders the analyst consensus, or ErrNoCoverage when there is none.
func (s *RatingStep) Run(ctx context.Context, instrument string) (*models.Artifact, error) {
	r, err := s.source.Rating(ctx, instrument)
	if err != nil {
		return nil, fmt.Errorf("failed to load rating: %w", err)
	}
	if r == nil || r.NumAnalysts == 0 {
		return nil, ErrNoCoverage
	}
	return &models.Artifact{Kind: models.ArtifactText, Name: s.Name(), Text: render.Rating(*r)}, nil
}

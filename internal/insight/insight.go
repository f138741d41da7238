// Package insight holds the best-effort enrichment that follows a quote reply.
//
// Each Step produces at most one artifact. Steps run one after another and every
// outcome, including a recovered panic, is returned as a Result for the caller to
// log. Nothing here is allowed to fail the primary reply.
package insight

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/sourcegraph/conc/panics"
)

// Step is one enrichment computation.
type Step interface {
	Name() string
	Run(ctx context.Context, instrument string) (*models.Artifact, error)
}

// Result is the outcome of one Step. Artifact is nil when Err is set.
type Result struct {
	Name     string
	Artifact *models.Artifact
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the step produced an artifact.
func (r Result) OK() bool {
	return r.Err == nil && r.Artifact != nil
}

// Enricher runs steps in order.
type Enricher struct {
	steps []Step
}

// NewEnricher creates an Enricher over steps.
func NewEnricher(steps ...Step) *Enricher {
	return &Enricher{steps: steps}
}

// Enrich runs every step for instrument and returns their results in step order.
func (e *Enricher) Enrich(ctx context.Context, instrument string) []Result {
	results := make([]Result, 0, len(e.steps))
	for _, step := range e.steps {
		if ctx.Err() != nil {
			results = append(results, Result{Name: step.Name(), Err: ctx.Err()})
			continue
		}

		res := Result{Name: step.Name()}
		start := time.Now()
		recovered := panics.Try(func() {
			res.Artifact, res.Err = step.Run(ctx, instrument)
		})
		if recovered != nil {
			res.Artifact = nil
			res.Err = fmt.Errorf("step panicked: %w", recovered.AsError())
		}
		if res.Err == nil && res.Artifact == nil {
			res.Err = fmt.Errorf("step produced no artifact")
		}
		res.Elapsed = time.Since(start)

		if res.Err != nil {
			logger.Debug("Enrichment %s for %s failed: %v", res.Name, instrument, res.Err)
		}
		results = append(results, res)
	}
	return results
}

// Package pipeline runs a single frame through detection, classification
// and annotation.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/maskguard/internal/annotate"
	"github.com/andresmejia3/maskguard/internal/classify"
	"github.com/andresmejia3/maskguard/internal/log"
	"github.com/andresmejia3/maskguard/internal/sampler"
	"github.com/andresmejia3/maskguard/internal/types"
	"gocv.io/x/gocv"
)

// Pipeline owns no models itself; the capabilities are injected.
type Pipeline struct {
	sampler *sampler.Sampler
	adapter *classify.Adapter
}

// New builds a pipeline from a detector and a classifier.
func New(detector types.Detector, classifier types.Classifier) *Pipeline {
	return &Pipeline{
		sampler: sampler.New(detector),
		adapter: classify.New(classifier),
	}
}

// Process returns a new, channel-swapped and annotated copy of frame. The
// caller owns the returned Mat. A frame without faces comes back swapped and
// otherwise untouched.
func (p *Pipeline) Process(ctx context.Context, frame gocv.Mat, isVideo bool) (gocv.Mat, error) {
	start := time.Now()

	sample, err := p.sampler.Sample(ctx, frame)
	if err != nil {
		return gocv.Mat{}, err
	}
	if sample == nil {
		return annotate.SwapChannels(frame), nil
	}
	defer sample.Close()
	sampled := time.Now()

	results, err := p.adapter.Classify(ctx, sample.Crops)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("mask classification failed: %w", err)
	}
	classified := time.Now()

	resized := image.Pt(sample.Resized.Cols(), sample.Resized.Rows())
	out := annotate.Annotate(frame, resized, sample.Boxes, results, isVideo)

	log.WithRunID(ctx).WithFields(log.Fields{
		"faces":    len(results),
		"sample":   sampled.Sub(start),
		"classify": classified.Sub(sampled),
		"annotate": time.Since(classified),
	}).Debug("frame processed")
	return out, nil
}

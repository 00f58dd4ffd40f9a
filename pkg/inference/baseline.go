/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package inference holds the default point estimator. The production model
// runs outside this repo; Baseline keeps the pipeline runnable without it by
// anchoring estimates in recent scoring and the feature store's averages.
package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/worker"
)

const (
	// DefaultWindow is how many recent games feed the estimate.
	DefaultWindow = 10

	minConfidence = 0.30
	maxConfidence = 0.90
)

// Baseline estimates points as a recency-weighted average of recent games,
// blended with the feature store's scoring averages when present. The
// candidate line does not move the estimate; line-relative judgement is the
// worker's job.
type Baseline struct {
	version string
	window  int
}

type Option func(*Baseline)

// WithVersion overrides the model version stamped on records.
func WithVersion(version string) Option {
	return func(b *Baseline) { b.version = version }
}

// WithWindow overrides the recent-game window.
func WithWindow(n int) Option {
	return func(b *Baseline) { b.window = n }
}

func NewBaseline(opts ...Option) *Baseline {
	b := &Baseline{version: "baseline_v1", window: DefaultWindow}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Baseline) ModelVersion() string {
	return b.version
}

// Predict implements the worker's inference boundary. History arrives newest
// first; an empty history with no scoring features is an error, not a zero.
func (b *Baseline) Predict(_ context.Context, features prediction.FeatureRow, history []prediction.GameLog, _ *float64) (worker.Estimate, error) {
	points := lo.Map(lo.Subset(history, 0, uint(b.window)), func(game prediction.GameLog, _ int) float64 {
		return game.Points
	})
	recent, haveRecent := weightedAverage(points)
	anchor, haveAnchor := featureAverage(features)

	var predicted float64
	switch {
	case haveRecent && haveAnchor:
		predicted = 0.6*recent + 0.4*anchor
	case haveRecent:
		predicted = recent
	case haveAnchor:
		predicted = anchor
	default:
		return worker.Estimate{}, fmt.Errorf("no scoring history for %s", features.PlayerLookup)
	}
	return worker.Estimate{
		PredictedPoints: predicted,
		Confidence:      confidence(points, predicted),
	}, nil
}

// weightedAverage favors the newest games linearly: the most recent game
// carries n times the weight of the oldest in the window.
func weightedAverage(points []float64) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	var sum, weights float64
	for i, p := range points {
		w := float64(len(points) - i)
		sum += w * p
		weights += w
	}
	return sum / weights, true
}

// featureAverage reads the feature store's scoring averages when the vector
// carries them, preferring the longer window.
func featureAverage(features prediction.FeatureRow) (float64, bool) {
	for _, name := range []string{"points_avg_last_10", "points_avg_last_5"} {
		if i := lo.IndexOf(features.FeatureNames, name); i >= 0 && i < len(features.Features) {
			return features.Features[i], true
		}
	}
	return 0, false
}

// confidence grows with sample depth and shrinks with scoring volatility
// relative to the estimate, clamped well away from certainty.
func confidence(points []float64, predicted float64) float64 {
	c := minConfidence + 0.05*float64(len(points))
	if len(points) > 1 && predicted > 0 {
		var variance float64
		for _, p := range points {
			variance += (p - predicted) * (p - predicted)
		}
		stddev := math.Sqrt(variance / float64(len(points)))
		c -= 0.5 * (stddev / predicted)
	}
	return math.Max(minConfidence, math.Min(maxConfidence, c))
}

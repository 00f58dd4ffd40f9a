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

// Package worker turns one prediction request into staged records: inference
// per candidate line, recommendation derivation, then a batched staging write.
package worker

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
	"github.com/hoopsight/propcore/pkg/utils/sanitize"
)

// DefaultDeadband is the band around the line, in points, inside which a
// prediction is a PASS rather than a directional call.
const DefaultDeadband = 1.0

// Estimate is one inference output for one candidate line.
type Estimate struct {
	PredictedPoints float64
	Confidence      float64
}

// Inference is the opaque model boundary. Implementations receive the feature
// vector and recent game history and return a point estimate; everything
// downstream of the estimate is this package's job.
type Inference interface {
	Predict(ctx context.Context, features prediction.FeatureRow, history []prediction.GameLog, line *float64) (Estimate, error)
	ModelVersion() string
}

// FeatureSource loads feature vectors and game history. *features.Provider
// implements it.
type FeatureSource interface {
	Features(ctx context.Context, player string, date prediction.GameDate) (*prediction.FeatureRow, error)
	History(ctx context.Context, player string, date prediction.GameDate) ([]prediction.GameLog, error)
}

// Writer stages completed records. *staging.Writer implements it.
type Writer interface {
	Write(ctx context.Context, records []prediction.Record, batchID, workerID string) (prediction.StagingWriteResult, error)
}

// Worker executes single requests; fleet concurrency lives with the caller.
type Worker struct {
	features FeatureSource
	infer    Inference
	writer   Writer
	systemID string
	deadband float64
	clock    clock.PassiveClock
}

type Option func(*Worker)

func WithDeadband(deadband float64) Option {
	return func(w *Worker) { w.deadband = deadband }
}

func WithClock(c clock.PassiveClock) Option {
	return func(w *Worker) { w.clock = c }
}

func NewWorker(features FeatureSource, infer Inference, writer Writer, systemID string, opts ...Option) *Worker {
	w := &Worker{
		features: features,
		infer:    infer,
		writer:   writer,
		systemID: systemID,
		deadband: DefaultDeadband,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleRequest runs inference for every candidate line in the request and
// stages the resulting records. An empty feature store for the player is an
// insufficient-data result, not an error; the batch continues without them.
func (w *Worker) HandleRequest(ctx context.Context, request prediction.PredictionRequest, batchID, workerID string) (prediction.StagingWriteResult, error) {
	log := logging.FromContext(ctx).With(
		"player", request.PlayerLookup,
		"game-date", request.GameDate.String(),
		"batch-id", batchID,
	)

	features, err := w.features.Features(ctx, request.PlayerLookup, request.GameDate)
	if err != nil {
		return prediction.StagingWriteResult{Status: prediction.StatusFailure}, fmt.Errorf("loading features, %w", err)
	}
	if features == nil {
		log.Warnf("no features for player, skipping")
		return prediction.StagingWriteResult{Status: prediction.StatusNoData, InsufficientData: true}, nil
	}
	history, err := w.features.History(ctx, request.PlayerLookup, request.GameDate)
	if err != nil {
		return prediction.StagingWriteResult{Status: prediction.StatusFailure}, fmt.Errorf("loading history, %w", err)
	}

	var records []prediction.Record
	var errs error
	for _, line := range request.LineValues {
		estimate, err := w.infer.Predict(ctx, *features, history, line)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("inference for %s at line %v, %w", request.PlayerLookup, line, err))
			continue
		}
		record, ok := w.buildRecord(ctx, request, features, line, estimate)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		log.Warnf("request produced no records")
		return prediction.StagingWriteResult{Status: prediction.StatusFailure}, errs
	}

	result, err := w.writer.Write(ctx, records, batchID, workerID)
	if err != nil {
		return result, err
	}
	metrics.PredictionsStaged.WithLabelValues(w.systemID).Add(float64(result.RowsWritten))
	return result, errs
}

// buildRecord composes one record, dropping it with a warning when the
// estimate is not finite or the composed record fails validation.
func (w *Worker) buildRecord(ctx context.Context, request prediction.PredictionRequest, features *prediction.FeatureRow, line *float64, estimate Estimate) (prediction.Record, bool) {
	log := logging.FromContext(ctx).With("player", request.PlayerLookup)
	if sanitize.Float(estimate.PredictedPoints) == nil || sanitize.Float(estimate.Confidence) == nil {
		log.Warnf("dropping non-finite estimate for line %v", line)
		return prediction.Record{}, false
	}

	predicted := sanitize.Round(estimate.PredictedPoints, 2)
	now := w.clock.Now().UTC()
	record := prediction.Record{
		PredictionID: uuid.NewString(),
		GameID:       request.GameID,
		GameDate:     request.GameDate,
		PlayerLookup: request.PlayerLookup,
		Team:         request.Team,
		Opponent:     request.Opponent,
		HomeGame:     request.HomeGame,
		SystemID:     w.systemID,

		PredictedPoints:   predicted,
		ConfidenceScore:   sanitize.Round(estimate.Confidence, 4),
		Recommendation:    Recommend(predicted, line, w.deadband),
		CurrentPointsLine: sanitize.OptFloat(line),

		LineSource:        request.LineSource,
		LineSourceAPI:     request.LineSourceAPI,
		Sportsbook:        request.Sportsbook,
		MinutesBeforeGame: request.MinutesBeforeGame,
		WasLineFallback:   request.WasLineFallback,
		HasPropLine:       request.HasPropLine,

		EstimatedLineValue: sanitize.OptRound(request.EstimatedLineValue, 1),
		ProjectedMinutes:   sanitize.OptRound(request.ProjectedMinutes, 1),

		ModelVersion:        w.infer.ModelVersion(),
		FeatureQualityScore: sanitize.OptRound(features.FeatureQualityScore, 3),

		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Re-check direction after derivation; a directional call that does not
	// clear the line numerically is downgraded rather than emitted.
	if line != nil {
		if (record.Recommendation == prediction.RecommendationOver && predicted <= *line) ||
			(record.Recommendation == prediction.RecommendationUnder && predicted >= *line) {
			log.Warnf("recommendation %s contradicts predicted %.2f vs line %.2f, downgrading to PASS",
				record.Recommendation, predicted, *line)
			record.Recommendation = prediction.RecommendationPass
		}
	}
	if err := record.Validate(); err != nil {
		log.With("error", err).Warnf("dropping invalid record")
		return prediction.Record{}, false
	}
	return record, true
}

// Recommend derives the bet direction. No line is NO_LINE; a prediction
// within deadband of the line is PASS.
func Recommend(predicted float64, line *float64, deadband float64) prediction.Recommendation {
	if line == nil {
		return prediction.RecommendationNoLine
	}
	diff := predicted - *line
	switch {
	case math.Abs(diff) <= deadband:
		return prediction.RecommendationPass
	case diff > 0:
		return prediction.RecommendationOver
	default:
		return prediction.RecommendationUnder
	}
}

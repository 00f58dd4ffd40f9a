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

// Package grading scores active predictions against box-score outcomes and
// rewrites the accuracy table for the date under the grading lock.
package grading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/locks"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
	"github.com/hoopsight/propcore/pkg/staging"
	"github.com/hoopsight/propcore/pkg/store"
	"github.com/hoopsight/propcore/pkg/utils/sanitize"
)

const (
	// AccuracyTable is the graded-outcomes table.
	AccuracyTable = "prediction_accuracy"

	DefaultMaxWait = 120 * time.Second
)

// BoxscoreSource supplies actual outcomes and injury reports for a date.
// *boxscore.Provider implements it.
type BoxscoreSource interface {
	Actuals(ctx context.Context, date prediction.GameDate) (map[string]prediction.GameLog, error)
	InjuryReports(ctx context.Context, date prediction.GameDate) (map[string]prediction.InjuryReport, error)
}

// Grader rewrites the accuracy table for one date at a time.
type Grader struct {
	store     *store.Client
	locker    *locks.Locker
	boxscores BoxscoreSource
	maxWait   time.Duration
	clock     clock.PassiveClock
}

type Option func(*Grader)

func WithMaxWait(d time.Duration) Option {
	return func(g *Grader) { g.maxWait = d }
}

func WithClock(c clock.PassiveClock) Option {
	return func(g *Grader) { g.clock = c }
}

func NewGrader(client *store.Client, locker *locks.Locker, boxscores BoxscoreSource, opts ...Option) *Grader {
	g := &Grader{
		store:     client,
		locker:    locker,
		boxscores: boxscores,
		maxWait:   DefaultMaxWait,
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ActiveRow is the slice of an active prediction the grader needs.
type ActiveRow struct {
	PlayerLookup    string
	GameID          string
	GameDate        prediction.GameDate
	SystemID        string
	Line            *float64
	PredictedPoints float64
	Confidence      float64
	Recommendation  prediction.Recommendation
}

// GradeDate grades every active prediction for the date that has a box-score
// outcome, then replaces the date's accuracy rows in one delete+insert
// critical section. Safe to re-run; each run rebuilds the date from scratch,
// which is also how backfills repair gaps.
func (g *Grader) GradeDate(ctx context.Context, gameDate prediction.GameDate) (prediction.GradingResult, error) {
	log := logging.FromContext(ctx).With("game-date", gameDate.String())
	result := prediction.GradingResult{
		Status:         prediction.StatusFailure,
		GameDate:       gameDate,
		VoidedByReason: map[prediction.VoidReason]int{},
	}

	actives, err := g.activePredictions(ctx, gameDate)
	if err != nil {
		return result, err
	}
	result.PredictionsFound = len(actives)
	if len(actives) == 0 {
		log.Infof("no active predictions to grade")
		result.Status = prediction.StatusNoData
		return result, nil
	}

	actuals, err := g.boxscores.Actuals(ctx, gameDate)
	if err != nil {
		return result, err
	}
	result.ActualsFound = len(actuals)
	if len(actuals) == 0 {
		log.Infof("no box scores yet, nothing gradable")
		result.Status = prediction.StatusNoData
		return result, nil
	}

	captured, err := g.capturedStatuses(ctx, gameDate)
	if err != nil {
		return result, err
	}
	reports, err := g.boxscores.InjuryReports(ctx, gameDate)
	if err != nil {
		return result, err
	}

	now := g.clock.Now().UTC()
	var graded []prediction.Graded
	for _, active := range actives {
		actual, ok := actuals[active.PlayerLookup]
		if !ok {
			continue
		}
		var report *prediction.InjuryReport
		if r, ok := reports[active.PlayerLookup]; ok {
			report = &r
		}
		graded = append(graded, GradeOne(active, actual, captured[active.PlayerLookup], report, now))
	}
	if len(graded) == 0 {
		log.Infof("no prediction matched a box score")
		result.Status = prediction.StatusNoData
		return result, nil
	}

	handle, err := g.locker.Acquire(ctx, prediction.LockGrading, gameDate, "grade-"+gameDate.String(), g.maxWait)
	if err != nil {
		return result, fmt.Errorf("acquiring grading lock, %w", err)
	}
	defer handle.Release(ctx)

	if _, err := g.store.Exec(ctx, deleteAccuracySQL, gameDate.String()); err != nil {
		return result, fmt.Errorf("clearing accuracy rows for %s, %w", gameDate, err)
	}
	rows := lo.Map(graded, func(row prediction.Graded, _ int) []any { return sanitize.Values(row.Values()) })
	if _, err := g.store.CopyFrom(ctx, pgx.Identifier{staging.Schema, AccuracyTable}, prediction.GradedColumns, rows); err != nil {
		return result, fmt.Errorf("writing %d accuracy rows for %s, %w", len(rows), gameDate, err)
	}

	duplicates, err := store.QueryValue[int64](ctx, g.store, duplicateGradedSQL, gameDate.String())
	if err != nil {
		return result, fmt.Errorf("validating graded keys, %w", err)
	}

	result = g.summarize(graded, result)
	result.Status = prediction.StatusSuccess
	if duplicates > 0 {
		// Loud but non-fatal: the rows are written and forensics can use them.
		log.Errorf("%d duplicate graded business keys for %s", duplicates, gameDate)
		result.Status = prediction.StatusDuplicatesDetected
		result.DuplicateCount = int(duplicates)
	}

	log.With(
		"graded", result.Graded,
		"voided", result.VoidedCount,
		"mae", result.MAE,
		"net-accuracy", result.NetAccuracy,
	).Infof("graded date")
	return result, nil
}

// GradeOne scores a single prediction against its actual outcome.
func GradeOne(active ActiveRow, actual prediction.GameLog, captured *prediction.InjuryStatus, report *prediction.InjuryReport, now time.Time) prediction.Graded {
	absErr := math.Abs(active.PredictedPoints - actual.Points)
	graded := prediction.Graded{
		PlayerLookup: active.PlayerLookup,
		GameID:       active.GameID,
		GameDate:     active.GameDate,
		SystemID:     active.SystemID,
		LineValue:    active.Line,

		PredictedPoints: sanitize.Round(active.PredictedPoints, 2),
		ActualPoints:    actual.Points,
		MinutesPlayed:   actual.MinutesPlayed,

		AbsoluteError: sanitize.Round(absErr, 2),
		SignedError:   sanitize.Round(active.PredictedPoints-actual.Points, 2),
		Within3Points: absErr <= 3,
		Within5Points: absErr <= 5,

		Recommendation:      active.Recommendation,
		PreGameInjuryStatus: captured,
		PreGameInjuryFlag:   captured != nil,
		GradedAt:            now,
	}

	if active.Line != nil {
		graded.PredictedMargin = lo.ToPtr(sanitize.Round(active.PredictedPoints-*active.Line, 2))
		graded.ActualMargin = lo.ToPtr(sanitize.Round(actual.Points-*active.Line, 2))
	}
	graded.PredictionCorrect = correctness(active.Recommendation, active.Line, actual.Points)

	confidence := active.Confidence
	if confidence > 1 {
		confidence /= 100
	}
	graded.ConfidenceScore = sanitize.Round(confidence, 4)
	graded.ConfidenceDecile = min(10, int(math.Floor(confidence*10))+1)

	// DNP voiding: zero points with zero or unknown minutes means the player
	// never took the floor. Error metrics are kept for model analysis but the
	// row drops out of accuracy.
	if actual.Points == 0 && (actual.MinutesPlayed == nil || *actual.MinutesPlayed == 0) {
		graded.IsVoided = true
		reason := classifyVoid(captured, report)
		graded.VoidReason = &reason
		graded.PredictionCorrect = nil
	}
	return graded
}

// correctness is tri-valued: nil for non-directional recommendations, a
// missing line, or a push.
func correctness(rec prediction.Recommendation, line *float64, actual float64) *bool {
	if !rec.Actionable() || line == nil || actual == *line {
		return nil
	}
	correct := (rec == prediction.RecommendationOver && actual > *line) ||
		(rec == prediction.RecommendationUnder && actual < *line)
	return &correct
}

// classifyVoid maps the captured pre-game status first, then falls back to
// the retroactive injury report.
func classifyVoid(captured *prediction.InjuryStatus, report *prediction.InjuryReport) prediction.VoidReason {
	if captured != nil {
		if reason, ok := statusReason(*captured); ok {
			return reason
		}
	}
	if report != nil {
		if reason, ok := statusReason(report.Status); ok {
			return reason
		}
	}
	return prediction.VoidDNPUnknown
}

func statusReason(status prediction.InjuryStatus) (prediction.VoidReason, bool) {
	switch status {
	case prediction.InjuryOut, prediction.InjuryDoubtful:
		return prediction.VoidDNPInjuryConfirmed, true
	case prediction.InjuryQuestionable, prediction.InjuryProbable:
		return prediction.VoidDNPLateScratch, true
	}
	return "", false
}

func (g *Grader) summarize(graded []prediction.Graded, result prediction.GradingResult) prediction.GradingResult {
	result.Graded = len(graded)
	var absSum, signedSum float64
	var correct, wrong int
	for _, row := range graded {
		absSum += row.AbsoluteError
		signedSum += row.SignedError
		metrics.GradedPredictions.WithLabelValues(fmt.Sprintf("%t", row.IsVoided)).Inc()
		if row.IsVoided {
			result.VoidedCount++
			if row.VoidReason != nil {
				result.VoidedByReason[*row.VoidReason]++
			}
			continue
		}
		if row.PredictionCorrect == nil {
			continue
		}
		if *row.PredictionCorrect {
			correct++
		} else {
			wrong++
		}
	}
	result.MAE = sanitize.Round(absSum/float64(len(graded)), 3)
	result.Bias = sanitize.Round(signedSum/float64(len(graded)), 3)
	if correct+wrong > 0 {
		result.NetAccuracy = sanitize.Round(float64(correct)/float64(correct+wrong), 4)
	}
	result.RecommendationAccuracy = result.NetAccuracy
	return result
}

const activePredictionsSQL = `
SELECT player_lookup, game_id, game_date::text, system_id, current_points_line,
       predicted_points, confidence_score, recommendation
FROM ` + staging.Schema + `.` + staging.MainTable + `
WHERE game_date = $1::date AND is_active`

func (g *Grader) activePredictions(ctx context.Context, gameDate prediction.GameDate) ([]ActiveRow, error) {
	var actives []ActiveRow
	err := g.store.Query(ctx, func(rows pgx.Rows) error {
		var row ActiveRow
		var dateStr, recStr string
		if err := rows.Scan(&row.PlayerLookup, &row.GameID, &dateStr, &row.SystemID, &row.Line,
			&row.PredictedPoints, &row.Confidence, &recStr); err != nil {
			return err
		}
		row.GameDate = prediction.GameDate(dateStr)
		row.Recommendation = prediction.Recommendation(recStr)
		actives = append(actives, row)
		return nil
	}, activePredictionsSQL, gameDate.String())
	if err != nil {
		return nil, fmt.Errorf("loading active predictions for %s, %w", gameDate, err)
	}
	return actives, nil
}

// capturedStatusesSQL is the latest context row per player, the same
// deduplication the slate uses, because that row is what the worker saw.
const capturedStatusesSQL = `
SELECT player_lookup, player_status
FROM (
    SELECT player_lookup, player_status,
           ROW_NUMBER() OVER (PARTITION BY player_lookup ORDER BY created_at DESC) AS rn
    FROM analytics.upcoming_player_game_context
    WHERE game_date = $1::date
) deduped
WHERE rn = 1 AND player_status IS NOT NULL`

func (g *Grader) capturedStatuses(ctx context.Context, gameDate prediction.GameDate) (map[string]*prediction.InjuryStatus, error) {
	statuses := map[string]*prediction.InjuryStatus{}
	err := g.store.Query(ctx, func(rows pgx.Rows) error {
		var player, statusStr string
		if err := rows.Scan(&player, &statusStr); err != nil {
			return err
		}
		status := prediction.InjuryStatus(statusStr)
		statuses[player] = &status
		return nil
	}, capturedStatusesSQL, gameDate.String())
	if err != nil {
		return nil, fmt.Errorf("loading captured injury statuses for %s, %w", gameDate, err)
	}
	return statuses, nil
}

const deleteAccuracySQL = `
DELETE FROM ` + staging.Schema + `.` + AccuracyTable + `
WHERE game_date = $1::date`

const duplicateGradedSQL = `
SELECT COUNT(*)::bigint FROM (
    SELECT player_lookup, game_id, system_id, COALESCE(line_value, -1)
    FROM ` + staging.Schema + `.` + AccuracyTable + `
    WHERE game_date = $1::date
    GROUP BY 1, 2, 3, 4
    HAVING COUNT(*) > 1
) AS duplicated`

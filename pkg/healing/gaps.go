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

package healing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/store"
)

const (
	// GradingFloor is the graded/gradable ratio below which a date is a gap.
	GradingFloor = 0.80

	DefaultLookbackDays = 7
)

// Regrader re-runs grading for one date. *grading.Grader implements it.
type Regrader interface {
	GradeDate(ctx context.Context, gameDate prediction.GameDate) (prediction.GradingResult, error)
}

// GapDetector finds past dates whose grading coverage fell below the floor
// and backfills them through the grader.
type GapDetector struct {
	store   *store.Client
	grader  Regrader
	tracker *Tracker
}

func NewGapDetector(client *store.Client, grader Regrader, tracker *Tracker) *GapDetector {
	return &GapDetector{store: client, grader: grader, tracker: tracker}
}

// gradableSQL counts predictions that should eventually grade: active, line
// from a real sportsbook feed, and a real line value. The 20.0 exclusion
// keeps legacy placeholder rows out of the denominator.
const gapsSQL = `
WITH gradable AS (
    SELECT game_date, COUNT(*) AS gradable
    FROM predictions.player_prop_predictions
    WHERE is_active
      AND (line_source = 'ACTUAL_PROP' OR line_source_api IN ('ODDS_API', 'BETTINGPROS'))
      AND current_points_line IS NOT NULL
      AND current_points_line <> 20.0
      AND game_date >= CURRENT_DATE - $1::int
      AND game_date < CURRENT_DATE
    GROUP BY game_date
),
graded AS (
    SELECT game_date, COUNT(*) AS graded
    FROM predictions.prediction_accuracy
    GROUP BY game_date
)
SELECT g.game_date::text, g.gradable::bigint, COALESCE(a.graded, 0)::bigint
FROM gradable g
LEFT JOIN graded a USING (game_date)
WHERE COALESCE(a.graded, 0)::float / g.gradable < $2
ORDER BY g.game_date`

// DetectGaps returns one report per under-graded date in the lookback window.
func (d *GapDetector) DetectGaps(ctx context.Context, lookbackDays int) ([]prediction.GapReport, error) {
	var gaps []prediction.GapReport
	err := d.store.Query(ctx, func(rows pgx.Rows) error {
		var dateStr string
		var gradable, graded int64
		if err := rows.Scan(&dateStr, &gradable, &graded); err != nil {
			return err
		}
		gaps = append(gaps, prediction.GapReport{
			GameDate:   prediction.GameDate(dateStr),
			Gradable:   int(gradable),
			Graded:     int(graded),
			GradingPct: 100 * float64(graded) / float64(gradable),
			Status:     "gap",
		})
		return nil
	}, gapsSQL, lookbackDays, GradingFloor)
	if err != nil {
		return nil, fmt.Errorf("detecting grading gaps, %w", err)
	}
	return gaps, nil
}

// Heal backfills every detected gap through the grader and records each
// attempt. One failed date does not stop the rest.
func (d *GapDetector) Heal(ctx context.Context, lookbackDays int) ([]prediction.GapReport, error) {
	gaps, err := d.DetectGaps(ctx, lookbackDays)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)
	for i, gap := range gaps {
		result, gradeErr := d.grader.GradeDate(ctx, gap.GameDate)
		success := gradeErr == nil && result.Status == prediction.StatusSuccess
		after := gap
		if success {
			after.Graded = result.Graded
			after.Status = "backfilled"
			if after.Gradable > 0 {
				after.GradingPct = 100 * float64(result.Graded) / float64(after.Gradable)
			}
			gaps[i] = after
		}
		if _, _, err := d.tracker.Record(ctx,
			prediction.HealingTypeBackfill,
			fmt.Sprintf("grading coverage %.0f%% below %.0f%% floor", gap.GradingPct, GradingFloor*100),
			fmt.Sprintf("re-graded %s", gap.GameDate),
			gap, after, success,
			map[string]string{"game_date": gap.GameDate.String()},
		); err != nil {
			log.Warnf("failed to record backfill healing event, %s", err)
		}
		if gradeErr != nil {
			log.With("game-date", gap.GameDate.String()).Errorf("backfill grading failed, %s", gradeErr)
		}
	}
	return gaps, nil
}

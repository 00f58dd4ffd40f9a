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

package prediction

import "time"

// Graded is one row of the accuracy table: a prediction joined to its actual
// box-score outcome. Business key (player_lookup, game_id, system_id, line_value).
type Graded struct {
	PlayerLookup string
	GameID       string
	GameDate     GameDate
	SystemID     string
	LineValue    *float64

	PredictedPoints float64
	ActualPoints    float64
	MinutesPlayed   *float64

	AbsoluteError float64
	SignedError   float64
	Within3Points bool
	Within5Points bool

	PredictedMargin *float64
	ActualMargin    *float64

	Recommendation Recommendation
	// PredictionCorrect is tri-valued: nil on push, PASS/HOLD/NO_LINE, or a
	// missing line.
	PredictionCorrect *bool

	ConfidenceScore  float64
	ConfidenceDecile int

	IsVoided   bool
	VoidReason *VoidReason
	// PreGameInjuryStatus is the captured report status at prediction time,
	// nil when no report existed.
	PreGameInjuryStatus *InjuryStatus
	PreGameInjuryFlag   bool

	GradedAt time.Time
}

// GradedColumns is the canonical column order of the accuracy table.
var GradedColumns = []string{
	"player_lookup",
	"game_id",
	"game_date",
	"system_id",
	"line_value",
	"predicted_points",
	"actual_points",
	"minutes_played",
	"absolute_error",
	"signed_error",
	"within_3_points",
	"within_5_points",
	"predicted_margin",
	"actual_margin",
	"recommendation",
	"prediction_correct",
	"confidence_score",
	"confidence_decile",
	"is_voided",
	"void_reason",
	"pre_game_injury_status",
	"pre_game_injury_flag",
	"graded_at",
}

// Values returns the row's values in GradedColumns order.
func (g *Graded) Values() []any {
	return []any{
		g.PlayerLookup,
		g.GameID,
		g.GameDate.String(),
		g.SystemID,
		g.LineValue,
		g.PredictedPoints,
		g.ActualPoints,
		g.MinutesPlayed,
		g.AbsoluteError,
		g.SignedError,
		g.Within3Points,
		g.Within5Points,
		g.PredictedMargin,
		g.ActualMargin,
		string(g.Recommendation),
		g.PredictionCorrect,
		g.ConfidenceScore,
		g.ConfidenceDecile,
		g.IsVoided,
		optString((*string)(g.VoidReason)),
		optString((*string)(g.PreGameInjuryStatus)),
		g.PreGameInjuryFlag,
		g.GradedAt,
	}
}

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

import (
	"fmt"
	"time"
)

// Record is one row of the main predictions table. The business key is
// (game_id, player_lookup, system_id, COALESCE(current_points_line, -1));
// prediction_id is a surrogate.
type Record struct {
	PredictionID string
	GameID       string
	GameDate     GameDate
	PlayerLookup string
	Team         string
	Opponent     string
	HomeGame     bool
	SystemID     string

	PredictedPoints   float64
	ConfidenceScore   float64
	Recommendation    Recommendation
	CurrentPointsLine *float64

	LineSource        LineSource
	LineSourceAPI     *LineSourceAPI
	Sportsbook        *Sportsbook
	MinutesBeforeGame *int
	WasLineFallback   bool
	HasPropLine       bool

	EstimatedLineValue *float64
	ProjectedMinutes   *float64

	ModelVersion        string
	FeatureQualityScore *float64

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordColumns is the canonical column order of the main predictions table.
// Staging loads, MERGE projection and schema validation all derive from it.
var RecordColumns = []string{
	"prediction_id",
	"game_id",
	"game_date",
	"player_lookup",
	"team",
	"opponent",
	"home_game",
	"system_id",
	"predicted_points",
	"confidence_score",
	"recommendation",
	"current_points_line",
	"line_source",
	"line_source_api",
	"sportsbook",
	"line_minutes_before_game",
	"was_line_fallback",
	"has_prop_line",
	"estimated_line_value",
	"projected_minutes",
	"model_version",
	"feature_quality_score",
	"is_active",
	"created_at",
	"updated_at",
}

// BusinessKeyColumns identify a logical prediction; the MERGE joins on them
// with a COALESCE(-1) sentinel so null lines compare equal.
var BusinessKeyColumns = []string{"game_id", "player_lookup", "system_id", "current_points_line"}

// Values returns the record's values in RecordColumns order.
func (r *Record) Values() []any {
	return []any{
		r.PredictionID,
		r.GameID,
		r.GameDate.String(),
		r.PlayerLookup,
		r.Team,
		r.Opponent,
		r.HomeGame,
		r.SystemID,
		r.PredictedPoints,
		r.ConfidenceScore,
		string(r.Recommendation),
		r.CurrentPointsLine,
		string(r.LineSource),
		optString((*string)(r.LineSourceAPI)),
		optString((*string)(r.Sportsbook)),
		r.MinutesBeforeGame,
		r.WasLineFallback,
		r.HasPropLine,
		r.EstimatedLineValue,
		r.ProjectedMinutes,
		r.ModelVersion,
		r.FeatureQualityScore,
		r.IsActive,
		r.CreatedAt,
		r.UpdatedAt,
	}
}

// Fields returns the record as a column-keyed map for schema validation and
// sanitization.
func (r *Record) Fields() map[string]any {
	fields := map[string]any{}
	values := r.Values()
	for i, col := range RecordColumns {
		fields[col] = values[i]
	}
	return fields
}

// BusinessKey renders the logical identity of the record. Nil lines use the
// same -1 sentinel as the MERGE join.
func (r *Record) BusinessKey() string {
	line := -1.0
	if r.CurrentPointsLine != nil {
		line = *r.CurrentPointsLine
	}
	return fmt.Sprintf("%s|%s|%s|%g", r.GameID, r.PlayerLookup, r.SystemID, line)
}

// Validate enforces the write-side invariants on a single record.
func (r *Record) Validate() error {
	if r.CurrentPointsLine != nil && *r.CurrentPointsLine == PlaceholderLine {
		return fmt.Errorf("record %s carries the reserved placeholder line %.1f", r.BusinessKey(), PlaceholderLine)
	}
	if r.LineSource == LineSourceActualProp && r.CurrentPointsLine == nil {
		return fmt.Errorf("record %s has line_source ACTUAL_PROP but no line", r.BusinessKey())
	}
	if r.CurrentPointsLine != nil {
		line := *r.CurrentPointsLine
		if r.Recommendation == RecommendationOver && r.PredictedPoints <= line {
			return fmt.Errorf("record %s recommends OVER with predicted %.2f <= line %.2f", r.BusinessKey(), r.PredictedPoints, line)
		}
		if r.Recommendation == RecommendationUnder && r.PredictedPoints >= line {
			return fmt.Errorf("record %s recommends UNDER with predicted %.2f >= line %.2f", r.BusinessKey(), r.PredictedPoints, line)
		}
	}
	return nil
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

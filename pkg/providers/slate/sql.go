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

package slate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/store"
)

// SQLSource reads game contexts and stale-line comparisons from the store.
type SQLSource struct {
	store *store.Client
}

func NewSQLSource(client *store.Client) *SQLSource {
	return &SQLSource{store: client}
}

// eligibleContextsSQL dedups to the latest context row per player, excludes
// ruled-out players, and keeps anyone projected above the minutes floor or
// carrying a prop line. The only interpolated value is the config-controlled
// dataset prefix.
const eligibleContextsSQL = `
SELECT player_lookup, game_date::text, game_id, team, opponent, home_game,
       days_rest, back_to_back, avg_minutes_per_game_last_7,
       points_avg_last_5, points_avg_last_10, l10_games_used,
       has_prop_line, current_points_line, player_status,
       is_production_ready, created_at
FROM (
    SELECT c.*, ROW_NUMBER() OVER (PARTITION BY player_lookup ORDER BY created_at DESC) AS rn
    FROM %sanalytics.upcoming_player_game_context c
    WHERE game_date = $1::date
      AND (player_status IS NULL OR player_status NOT IN ('OUT', 'DOUBTFUL'))
) deduped
WHERE rn = 1
  AND (COALESCE(avg_minutes_per_game_last_7, 0) >= $2 OR has_prop_line)
ORDER BY player_lookup
LIMIT %d`

func (s *SQLSource) EligibleContexts(ctx context.Context, date prediction.GameDate, minMinutes int, datasetPrefix string) ([]prediction.GameContext, error) {
	var contexts []prediction.GameContext
	query := fmt.Sprintf(eligibleContextsSQL, datasetPrefix, MaxSlateSize)
	err := s.store.Query(ctx, func(rows pgx.Rows) error {
		var c prediction.GameContext
		var dateStr string
		var statusStr *string
		if err := rows.Scan(
			&c.PlayerLookup, &dateStr, &c.GameID, &c.Team, &c.Opponent, &c.HomeGame,
			&c.DaysRest, &c.BackToBack, &c.AvgMinutesLast7,
			&c.PointsAvgLast5, &c.PointsAvgLast10, &c.L10GamesUsed,
			&c.HasPropLine, &c.CurrentPointsLine, &statusStr,
			&c.IsProductionReady, &c.CreatedAt,
		); err != nil {
			return err
		}
		c.GameDate = prediction.GameDate(dateStr)
		if statusStr != nil {
			status := prediction.InjuryStatus(*statusStr)
			c.PlayerStatus = &status
		}
		contexts = append(contexts, c)
		return nil
	}, query, date.String(), minMinutes)
	return contexts, err
}

// stalePlayersSQL compares the latest current line per player against the
// line on the latest active prediction. The threshold comparison is >=, so a
// move of exactly the threshold is stale.
const stalePlayersSQL = `
WITH current_lines AS (
    SELECT player_lookup, points_line,
           ROW_NUMBER() OVER (PARTITION BY player_lookup ORDER BY snapshot_timestamp DESC) AS rn
    FROM raw.odds_api_player_points_props
    WHERE game_date = $1::date
),
prediction_lines AS (
    SELECT player_lookup, current_points_line,
           ROW_NUMBER() OVER (PARTITION BY player_lookup ORDER BY created_at DESC) AS rn
    FROM predictions.player_prop_predictions
    WHERE game_date = $1::date AND is_active AND current_points_line IS NOT NULL
)
SELECT DISTINCT cl.player_lookup, ABS(cl.points_line - pl.current_points_line) AS line_change
FROM current_lines cl
JOIN prediction_lines pl ON cl.player_lookup = pl.player_lookup
WHERE cl.rn = 1 AND pl.rn = 1
  AND ABS(cl.points_line - pl.current_points_line) >= $2
ORDER BY line_change DESC
LIMIT 500`

func (s *SQLSource) StalePlayers(ctx context.Context, date prediction.GameDate, threshold float64) ([]string, error) {
	var players []string
	err := s.store.Query(ctx, func(rows pgx.Rows) error {
		var player string
		var change float64
		if err := rows.Scan(&player, &change); err != nil {
			return err
		}
		players = append(players, player)
		return nil
	}, stalePlayersSQL, date.String(), threshold)
	return players, err
}

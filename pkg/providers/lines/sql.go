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

package lines

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/store"
)

// SQLSource reads snapshots from the raw odds tables.
type SQLSource struct {
	store *store.Client
}

func NewSQLSource(client *store.Client) *SQLSource {
	return &SQLSource{store: client}
}

const latestOddsAPISQL = `
SELECT player_lookup, game_date::text, bookmaker, points_line, snapshot_timestamp, minutes_before_tipoff
FROM raw.odds_api_player_points_props
WHERE player_lookup = $1 AND game_date = $2::date AND bookmaker = $3
ORDER BY snapshot_timestamp DESC
LIMIT 1`

func (s *SQLSource) LatestOddsAPI(ctx context.Context, player string, date prediction.GameDate, book prediction.Sportsbook) (*prediction.LineSnapshot, error) {
	var snapshot *prediction.LineSnapshot
	err := s.store.Query(ctx, func(rows pgx.Rows) error {
		var snap prediction.LineSnapshot
		var dateStr, bookStr string
		if err := rows.Scan(&snap.PlayerLookup, &dateStr, &bookStr, &snap.PointsLine, &snap.SnapshotTimestamp, &snap.MinutesBeforeTipoff); err != nil {
			return err
		}
		snap.GameDate = prediction.GameDate(dateStr)
		snap.Book = prediction.Sportsbook(bookStr)
		snapshot = &snap
		return nil
	}, latestOddsAPISQL, player, date.String(), string(book))
	return snapshot, err
}

const latestBettingProsSQL = `
SELECT player_lookup, game_date::text, bookmaker, points_line, created_at
FROM raw.bettingpros_player_points_props
WHERE player_lookup = $1 AND game_date = $2::date
  AND market_type = 'points' AND bet_side = 'over' AND is_active
  AND ($3 = '' OR bookmaker = $3)
ORDER BY created_at DESC
LIMIT 1`

func (s *SQLSource) LatestBettingPros(ctx context.Context, player string, date prediction.GameDate, book prediction.Sportsbook) (*prediction.LineSnapshot, error) {
	var snapshot *prediction.LineSnapshot
	err := s.store.Query(ctx, func(rows pgx.Rows) error {
		var snap prediction.LineSnapshot
		var dateStr, bookStr string
		if err := rows.Scan(&snap.PlayerLookup, &dateStr, &bookStr, &snap.PointsLine, &snap.SnapshotTimestamp); err != nil {
			return err
		}
		snap.GameDate = prediction.GameDate(dateStr)
		snap.Book = prediction.Sportsbook(bookStr)
		snapshot = &snap
		return nil
	}, latestBettingProsSQL, player, date.String(), string(book))
	return snapshot, err
}

const recentPointsSQL = `
SELECT points
FROM analytics.player_game_summary
WHERE player_lookup = $1 AND game_date < $2::date
ORDER BY game_date DESC
LIMIT $3`

func (s *SQLSource) RecentPoints(ctx context.Context, player string, date prediction.GameDate, n int) ([]float64, error) {
	var points []float64
	err := s.store.Query(ctx, func(rows pgx.Rows) error {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return err
		}
		points = append(points, p)
		return nil
	}, recentPointsSQL, player, date.String(), n)
	return points, err
}

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

// Package boxscore reads actual game outcomes and injury reports for grading.
package boxscore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/store"
)

// Provider reads analytics.player_game_summary and raw.injury_report.
type Provider struct {
	store *store.Client
}

func NewProvider(client *store.Client) *Provider {
	return &Provider{store: client}
}

const actualsSQL = `
SELECT player_lookup, game_date::text, game_id, points, minutes_played, team, opponent
FROM analytics.player_game_summary
WHERE game_date = $1::date`

// Actuals returns the box-score outcomes for a date, keyed by player.
func (p *Provider) Actuals(ctx context.Context, date prediction.GameDate) (map[string]prediction.GameLog, error) {
	actuals := map[string]prediction.GameLog{}
	err := p.store.Query(ctx, func(rows pgx.Rows) error {
		var game prediction.GameLog
		var dateStr string
		if err := rows.Scan(&game.PlayerLookup, &dateStr, &game.GameID, &game.Points, &game.MinutesPlayed, &game.Team, &game.Opponent); err != nil {
			return err
		}
		game.GameDate = prediction.GameDate(dateStr)
		actuals[game.PlayerLookup] = game
		return nil
	}, actualsSQL, date.String())
	if err != nil {
		return nil, fmt.Errorf("loading actuals for %s, %w", date, err)
	}
	return actuals, nil
}

const injuryReportsSQL = `
SELECT DISTINCT ON (player_lookup)
    player_lookup, game_date::text, report_date::text, report_hour, injury_status, reason
FROM raw.injury_report
WHERE game_date = $1::date
ORDER BY player_lookup, report_date DESC, report_hour DESC`

// InjuryReports returns the latest injury report per player for a date.
func (p *Provider) InjuryReports(ctx context.Context, date prediction.GameDate) (map[string]prediction.InjuryReport, error) {
	reports := map[string]prediction.InjuryReport{}
	err := p.store.Query(ctx, func(rows pgx.Rows) error {
		var report prediction.InjuryReport
		var dateStr, reportDateStr, statusStr string
		if err := rows.Scan(&report.PlayerLookup, &dateStr, &reportDateStr, &report.ReportHour, &statusStr, &report.Reason); err != nil {
			return err
		}
		report.GameDate = prediction.GameDate(dateStr)
		report.ReportDate = prediction.GameDate(reportDateStr)
		report.Status = prediction.InjuryStatus(statusStr)
		reports[report.PlayerLookup] = report
		return nil
	}, injuryReportsSQL, date.String())
	if err != nil {
		return nil, fmt.Errorf("loading injury reports for %s, %w", date, err)
	}
	return reports, nil
}

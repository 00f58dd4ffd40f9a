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

// Package features batch-loads per-player feature vectors and game history
// for a date, fronted by in-process caches so a fleet of workers on the same
// date hits the store once.
package features

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/cache"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/store"
)

// HistoryLimit caps the games loaded per player.
const HistoryLimit = 30

// Provider loads features and history with caching.
type Provider struct {
	store        *store.Client
	featureCache *cache.FeatureCache
	historyCache *cache.DateKeyed
}

func NewProvider(client *store.Client, featureCache *cache.FeatureCache, historyCache *cache.DateKeyed) *Provider {
	return &Provider{
		store:        client,
		featureCache: featureCache,
		historyCache: historyCache,
	}
}

const featureRowsSQL = `
SELECT player_lookup, game_date::text, feature_version, features, feature_names, feature_quality_score, data_source
FROM predictions.ml_feature_store_v2
WHERE game_date = $1::date`

// LoadDate batch-loads every feature row for the date into the cache and
// returns the number loaded. Zero rows is not an error; workers translate it
// into an insufficient-data result.
func (p *Provider) LoadDate(ctx context.Context, date prediction.GameDate) (int, error) {
	count := 0
	err := p.store.Query(ctx, func(rows pgx.Rows) error {
		var row prediction.FeatureRow
		var dateStr string
		if err := rows.Scan(&row.PlayerLookup, &dateStr, &row.FeatureVersion, &row.Features, &row.FeatureNames, &row.FeatureQualityScore, &row.DataSource); err != nil {
			return err
		}
		row.GameDate = prediction.GameDate(dateStr)
		p.featureCache.Set(row.PlayerLookup, row.GameDate, &row)
		count++
		return nil
	}, featureRowsSQL, date.String())
	if err != nil {
		return 0, fmt.Errorf("loading feature rows for %s, %w", date, err)
	}
	logging.FromContext(ctx).With("game-date", date.String(), "feature-rows", count).
		Debugf("loaded feature store for date")
	return count, nil
}

// Features returns the feature row for a player+date, loading the whole date
// on a cache miss.
func (p *Provider) Features(ctx context.Context, player string, date prediction.GameDate) (*prediction.FeatureRow, error) {
	if row, ok := p.featureCache.Get(player, date); ok {
		return row, nil
	}
	if _, err := p.LoadDate(ctx, date); err != nil {
		return nil, err
	}
	row, ok := p.featureCache.Get(player, date)
	if !ok {
		return nil, nil
	}
	return row, nil
}

const historySQL = `
SELECT player_lookup, game_date::text, game_id, points, minutes_played, team, opponent
FROM analytics.player_game_summary
WHERE player_lookup = $1 AND game_date < $2::date
ORDER BY game_date DESC
LIMIT $3`

// History returns the player's most recent games before the date, newest
// first, capped at HistoryLimit.
func (p *Provider) History(ctx context.Context, player string, date prediction.GameDate) ([]prediction.GameLog, error) {
	cacheName := "history|" + player
	if cached, ok := p.historyCache.Get(date, cacheName); ok {
		return cached.([]prediction.GameLog), nil
	}
	var history []prediction.GameLog
	err := p.store.Query(ctx, func(rows pgx.Rows) error {
		var game prediction.GameLog
		var dateStr string
		if err := rows.Scan(&game.PlayerLookup, &dateStr, &game.GameID, &game.Points, &game.MinutesPlayed, &game.Team, &game.Opponent); err != nil {
			return err
		}
		game.GameDate = prediction.GameDate(dateStr)
		history = append(history, game)
		return nil
	}, historySQL, player, date.String(), HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s, %w", player, err)
	}
	p.historyCache.Set(date, cacheName, history)
	return history, nil
}

// CachedPlayers reports which of the given players have features resident
// for the date.
func (p *Provider) CachedPlayers(date prediction.GameDate, players []string) []string {
	return lo.Filter(players, func(player string, _ int) bool {
		_, ok := p.featureCache.Get(player, date)
		return ok
	})
}

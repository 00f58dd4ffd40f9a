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

// GameContext is one row of analytics.upcoming_player_game_context, the
// eligibility source for slate assembly. Optional columns decode to nil.
type GameContext struct {
	PlayerLookup        string
	GameDate            GameDate
	GameID              string
	Team                string
	Opponent            string
	HomeGame            bool
	DaysRest            *int
	BackToBack          bool
	AvgMinutesLast7     *float64
	PointsAvgLast5      *float64
	PointsAvgLast10     *float64
	L10GamesUsed        *int
	HasPropLine         bool
	CurrentPointsLine   *float64
	PlayerStatus        *InjuryStatus
	IsProductionReady   bool
	CreatedAt           time.Time
}

// GameLog is one row of analytics.player_game_summary: an actual box-score
// outcome for a played game.
type GameLog struct {
	PlayerLookup  string
	GameDate      GameDate
	GameID        string
	Points        float64
	MinutesPlayed *float64
	Team          string
	Opponent      string
}

// InjuryReport is one row of raw.injury_report.
type InjuryReport struct {
	PlayerLookup string
	GameDate     GameDate
	ReportDate   GameDate
	ReportHour   int
	Status       InjuryStatus
	Reason       *string
}

// LineSnapshot is one sportsbook line observation from either odds feed.
type LineSnapshot struct {
	PlayerLookup      string
	GameDate          GameDate
	Book              Sportsbook
	PointsLine        float64
	SnapshotTimestamp time.Time
	// MinutesBeforeTipoff is only populated by the OddsAPI feed.
	MinutesBeforeTipoff *int
}

// FeatureRow is one row of the ML feature store for a player+date.
type FeatureRow struct {
	PlayerLookup        string
	GameDate            GameDate
	FeatureVersion      string
	Features            []float64
	FeatureNames        []string
	FeatureQualityScore *float64
	DataSource          *string
}

// BatchState is the progress bookkeeping row for one prediction batch,
// consumed by the stalled-batch healer.
type BatchState struct {
	BatchID          string
	GameDate         GameDate
	Mode             BatchMode
	PlayersExpected  int
	PlayersCompleted int
	IsComplete       bool
	CreatedAt        time.Time
	LastUpdatedAt    time.Time
}

// CompletionPct returns completed/expected as a percentage, 0 when nothing
// was expected.
func (b *BatchState) CompletionPct() float64 {
	if b.PlayersExpected == 0 {
		return 0
	}
	return 100 * float64(b.PlayersCompleted) / float64(b.PlayersExpected)
}

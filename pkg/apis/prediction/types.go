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

// Package prediction defines the typed records exchanged between the slate
// builder, workers, consolidator and grader, along with the enums and
// structured results of the operational surface.
package prediction

import (
	"fmt"
	"time"
)

// PlaceholderLine is a reserved sentinel inherited from upstream data; it is
// never a real prop line and must never be written as one.
const PlaceholderLine = 20.0

// GameDate is a calendar date in YYYY-MM-DD form.
type GameDate string

// ParseGameDate validates and normalizes a game date string.
func ParseGameDate(s string) (GameDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return "", fmt.Errorf("invalid game date %q, %w", s, err)
	}
	return GameDate(t.Format("2006-01-02")), nil
}

func (d GameDate) String() string { return string(d) }

// Time returns the date at midnight UTC.
func (d GameDate) Time() time.Time {
	t, _ := time.Parse("2006-01-02", string(d))
	return t
}

// LineSource describes how the authoritative line for a request was obtained.
type LineSource string

const (
	LineSourceActualProp     LineSource = "ACTUAL_PROP"
	LineSourceNoPropLine     LineSource = "NO_PROP_LINE"
	LineSourceNeedsBootstrap LineSource = "NEEDS_BOOTSTRAP"
)

// LineSourceAPI identifies the upstream feed a line was read from.
type LineSourceAPI string

const (
	LineAPIOddsAPI     LineSourceAPI = "ODDS_API"
	LineAPIBettingPros LineSourceAPI = "BETTINGPROS"
	LineAPIEstimated   LineSourceAPI = "ESTIMATED"
)

// Recommendation is the bet direction derived from a prediction vs its line.
type Recommendation string

const (
	RecommendationOver   Recommendation = "OVER"
	RecommendationUnder  Recommendation = "UNDER"
	RecommendationPass   Recommendation = "PASS"
	RecommendationHold   Recommendation = "HOLD"
	RecommendationNoLine Recommendation = "NO_LINE"
)

// Actionable reports whether the recommendation takes a side.
func (r Recommendation) Actionable() bool {
	return r == RecommendationOver || r == RecommendationUnder
}

// VoidReason classifies why a graded prediction was voided.
type VoidReason string

const (
	VoidDNPInjuryConfirmed VoidReason = "dnp_injury_confirmed"
	VoidDNPLateScratch     VoidReason = "dnp_late_scratch"
	VoidDNPUnknown         VoidReason = "dnp_unknown"
)

// LockType namespaces distributed locks. Different types are independent and
// may be held simultaneously on the same date.
type LockType string

const (
	LockConsolidation LockType = "consolidation"
	LockGrading       LockType = "grading"
)

// BatchMode distinguishes the scheduled prediction runs over a game day.
type BatchMode string

const (
	BatchModeFirst      BatchMode = "FIRST"
	BatchModeRetry      BatchMode = "RETRY"
	BatchModeFinalRetry BatchMode = "FINAL_RETRY"
	BatchModeLastCall   BatchMode = "LAST_CALL"
	BatchModeBackfill   BatchMode = "BACKFILL"
	BatchModeCheckLines BatchMode = "CHECK_LINES"
)

// InjuryStatus is the report designation for a player on a date.
type InjuryStatus string

const (
	InjuryOut          InjuryStatus = "OUT"
	InjuryDoubtful     InjuryStatus = "DOUBTFUL"
	InjuryQuestionable InjuryStatus = "QUESTIONABLE"
	InjuryProbable     InjuryStatus = "PROBABLE"
)

// Sportsbook is a line provider.
type Sportsbook string

const (
	BookDraftKings Sportsbook = "draftkings"
	BookFanDuel    Sportsbook = "fanduel"
	BookBetMGM     Sportsbook = "betmgm"
	BookPointsBet  Sportsbook = "pointsbet"
	BookCaesars    Sportsbook = "caesars"
)

// PreferredBooks are tried first, in order, across both feeds.
var PreferredBooks = []Sportsbook{BookDraftKings, BookFanDuel}

// SecondaryBooks are tried after the preferred books, preserving order.
var SecondaryBooks = []Sportsbook{BookBetMGM, BookPointsBet, BookCaesars}

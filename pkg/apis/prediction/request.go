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

// LineInfo is the resolver's answer for one player+date: either a real line
// with provenance, an estimated line, or a marker that no line exists.
type LineInfo struct {
	Source LineSource
	// Line is nil for NO_PROP_LINE and NEEDS_BOOTSTRAP.
	Line *float64
	API  *LineSourceAPI
	Book *Sportsbook
	// MinutesBeforeGame is only known for OddsAPI snapshots.
	MinutesBeforeGame *int
	// WasFallback is true when the line came from any book other than DraftKings.
	WasFallback bool
}

// PredictionRequest is one unit of work: one player on one game date,
// carrying the candidate lines a worker should run inference against.
type PredictionRequest struct {
	PlayerLookup     string
	GameDate         GameDate
	GameID           string
	Team             string
	Opponent         string
	HomeGame         bool
	ProjectedMinutes *float64

	// LineValues is nonempty; it may contain a single nil sentinel when the
	// request runs in no-line mode.
	LineValues []*float64

	// ActualPropLine is the single line recorded as the authoritative Vegas
	// line, nil when none was found.
	ActualPropLine    *float64
	LineSource        LineSource
	LineSourceAPI     *LineSourceAPI
	Sportsbook        *Sportsbook
	MinutesBeforeGame *int
	WasLineFallback   bool
	HasPropLine       bool

	// EstimatedLineValue is the always-populated L5 baseline, never exactly 20.0.
	EstimatedLineValue *float64
}

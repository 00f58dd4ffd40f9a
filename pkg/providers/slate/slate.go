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

// Package slate assembles the day's prediction requests: eligible players
// from the upcoming game context, each bound to a line by the resolver.
package slate

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
)

const (
	// MaxSlateSize caps the players per date.
	MaxSlateSize = 500

	DefaultMinMinutes       = 15
	DefaultLineSpreadRadius = 2.0
	DefaultLineSpreadStep   = 1.0
)

// Options shape slate assembly.
type Options struct {
	// MinMinutes filters players projected below this unless they carry a
	// real prop line.
	MinMinutes int
	// UseMultipleLines expands each request to a band of candidate lines
	// around the base line.
	UseMultipleLines bool
	LineSpreadRadius float64
	LineSpreadStep   float64
	// RequireRealLines drops players without a sportsbook line.
	RequireRealLines bool
	// DatasetPrefix namespaces source tables for test isolation.
	DatasetPrefix string
}

// DefaultOptions returns the production slate options.
func DefaultOptions() Options {
	return Options{
		MinMinutes:       DefaultMinMinutes,
		LineSpreadRadius: DefaultLineSpreadRadius,
		LineSpreadStep:   DefaultLineSpreadStep,
	}
}

// LineResolver binds players to lines. *lines.Provider implements it.
type LineResolver interface {
	Resolve(ctx context.Context, player string, date prediction.GameDate) (prediction.LineInfo, error)
	Baseline(ctx context.Context, player string, date prediction.GameDate) (*float64, error)
}

// ContextSource reads eligible player game contexts. *SQLSource implements it.
type ContextSource interface {
	EligibleContexts(ctx context.Context, date prediction.GameDate, minMinutes int, datasetPrefix string) ([]prediction.GameContext, error)
	StalePlayers(ctx context.Context, date prediction.GameDate, threshold float64) ([]string, error)
}

// Builder assembles slates.
type Builder struct {
	contexts ContextSource
	lines    LineResolver
}

func NewBuilder(contexts ContextSource, resolver LineResolver) *Builder {
	return &Builder{contexts: contexts, lines: resolver}
}

// BuildSlate returns one prediction request per eligible player on the date.
// Players the resolver flags NEEDS_BOOTSTRAP are dropped; players without a
// line are dropped only under RequireRealLines.
func (b *Builder) BuildSlate(ctx context.Context, date prediction.GameDate, opts Options) ([]prediction.PredictionRequest, error) {
	log := logging.FromContext(ctx).With("game-date", date.String())
	contexts, err := b.contexts.EligibleContexts(ctx, date, opts.MinMinutes, opts.DatasetPrefix)
	if err != nil {
		return nil, fmt.Errorf("loading eligible contexts, %w", err)
	}

	var requests []prediction.PredictionRequest
	var errs error
	dropped := map[string]int{}
	for _, gameContext := range contexts {
		request, drop, err := b.buildRequest(ctx, gameContext, date, opts)
		if err != nil {
			// One player failing to resolve should not sink the slate.
			errs = multierr.Append(errs, err)
			continue
		}
		if drop != "" {
			dropped[drop]++
			continue
		}
		requests = append(requests, request)
	}

	log.With(
		"eligible", len(contexts),
		"requested", len(requests),
		"dropped", dropped,
	).Infof("assembled slate")
	if len(requests) == 0 && errs != nil {
		return nil, errs
	}
	return requests, nil
}

func (b *Builder) buildRequest(ctx context.Context, gameContext prediction.GameContext, date prediction.GameDate, opts Options) (prediction.PredictionRequest, string, error) {
	info, err := b.lines.Resolve(ctx, gameContext.PlayerLookup, date)
	if err != nil {
		return prediction.PredictionRequest{}, "", fmt.Errorf("resolving line for %s, %w", gameContext.PlayerLookup, err)
	}
	if info.Source == prediction.LineSourceNeedsBootstrap {
		return prediction.PredictionRequest{}, "needs_bootstrap", nil
	}
	if opts.RequireRealLines && info.Source != prediction.LineSourceActualProp {
		return prediction.PredictionRequest{}, "no_real_line", nil
	}

	baseline, err := b.lines.Baseline(ctx, gameContext.PlayerLookup, date)
	if err != nil {
		return prediction.PredictionRequest{}, "", fmt.Errorf("computing baseline for %s, %w", gameContext.PlayerLookup, err)
	}

	request := prediction.PredictionRequest{
		PlayerLookup:       gameContext.PlayerLookup,
		GameDate:           date,
		GameID:             gameContext.GameID,
		Team:               gameContext.Team,
		Opponent:           gameContext.Opponent,
		HomeGame:           gameContext.HomeGame,
		ProjectedMinutes:   gameContext.AvgMinutesLast7,
		LineValues:         LineValues(info.Line, baseline, opts),
		ActualPropLine:     info.Line,
		LineSource:         info.Source,
		LineSourceAPI:      info.API,
		Sportsbook:         info.Book,
		MinutesBeforeGame:  info.MinutesBeforeGame,
		WasLineFallback:    info.WasFallback,
		HasPropLine:        info.Source == prediction.LineSourceActualProp,
		EstimatedLineValue: baseline,
	}
	return request, "", nil
}

// LineValues constructs the candidate line set. Single-line mode yields just
// the base line (or the nil no-line sentinel). Multi-line mode yields the
// band [base-R, base-R+Δ, ..., base+R] with the 20.0 placeholder filtered
// out and duplicates collapsed.
func LineValues(line *float64, baseline *float64, opts Options) []*float64 {
	base := line
	if base == nil {
		base = baseline
	}
	if base == nil {
		return []*float64{nil}
	}
	if !opts.UseMultipleLines {
		return []*float64{base}
	}

	radius := opts.LineSpreadRadius
	step := opts.LineSpreadStep
	if step <= 0 {
		step = DefaultLineSpreadStep
	}
	var values []float64
	for v := *base - radius; v <= *base+radius+step/1000; v += step {
		values = append(values, v)
	}
	values = lo.Uniq(lo.Filter(values, func(v float64, _ int) bool {
		return v != prediction.PlaceholderLine
	}))
	return lo.Map(values, func(v float64, _ int) *float64 {
		line := v
		return &line
	})
}

// FindStalePredictions returns players whose latest active prediction's line
// has moved at least threshold points from the latest current line, ordered
// by change magnitude. A move of exactly threshold is stale.
func (b *Builder) FindStalePredictions(ctx context.Context, date prediction.GameDate, threshold float64) ([]string, error) {
	players, err := b.contexts.StalePlayers(ctx, date, threshold)
	if err != nil {
		return nil, fmt.Errorf("finding stale predictions for %s, %w", date, err)
	}
	if len(players) > 0 {
		logging.FromContext(ctx).With(
			"game-date", date.String(),
			"threshold", threshold,
			"stale-players", len(players),
		).Infof("found stale predictions")
	}
	return players, nil
}

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

// Package lines resolves the most-authoritative betting line for a player on
// a date. Preference is sportsbook-first, then source: preferred books across
// both feeds, secondary books on OddsAPI, secondary books on BettingPros,
// then the BettingPros consensus as last resort.
package lines

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
)

const (
	// DefaultMinGamesRequired is the history floor below which a player is
	// flagged NEEDS_BOOTSTRAP instead of estimated.
	DefaultMinGamesRequired = 3
)

// SnapshotSource reads line snapshots and recent scoring from the raw tables.
type SnapshotSource interface {
	// LatestOddsAPI returns the most recent OddsAPI snapshot for the
	// player+date+book, or nil when none exists.
	LatestOddsAPI(ctx context.Context, player string, date prediction.GameDate, book prediction.Sportsbook) (*prediction.LineSnapshot, error)
	// LatestBettingPros returns the most recent active BettingPros points
	// line for the player+date+book. An empty book queries across all books
	// (the consensus path).
	LatestBettingPros(ctx context.Context, player string, date prediction.GameDate, book prediction.Sportsbook) (*prediction.LineSnapshot, error)
	// RecentPoints returns up to n most recent actual point totals for the
	// player before the date, newest first.
	RecentPoints(ctx context.Context, player string, date prediction.GameDate, n int) ([]float64, error)
}

// Provider resolves lines with prioritized sportsbook-first fallback.
type Provider struct {
	source            SnapshotSource
	breaker           *gobreaker.CircuitBreaker
	estimationEnabled bool
	minGamesRequired  int
}

// Option mutates a Provider at construction.
type Option func(*Provider)

// WithEstimation enables the estimated-line fallback (disabled by default).
func WithEstimation(enabled bool) Option {
	return func(p *Provider) { p.estimationEnabled = enabled }
}

// WithMinGamesRequired overrides the bootstrap history floor.
func WithMinGamesRequired(n int) Option {
	return func(p *Provider) { p.minGamesRequired = n }
}

func NewProvider(source SnapshotSource, opts ...Option) *Provider {
	p := &Provider{
		source:           source,
		minGamesRequired: DefaultMinGamesRequired,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "raw-odds-reads",
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type probe struct {
	api  prediction.LineSourceAPI
	book prediction.Sportsbook // empty means any-book consensus
}

// phases returns the probe order. Sportsbook first, then source: a secondary
// book on OddsAPI outranks it on BettingPros, but never outranks a preferred
// book on either feed.
func phases() []probe {
	var probes []probe
	for _, book := range prediction.PreferredBooks {
		probes = append(probes,
			probe{api: prediction.LineAPIOddsAPI, book: book},
			probe{api: prediction.LineAPIBettingPros, book: book},
		)
	}
	for _, book := range prediction.SecondaryBooks {
		probes = append(probes, probe{api: prediction.LineAPIOddsAPI, book: book})
	}
	for _, book := range prediction.SecondaryBooks {
		probes = append(probes, probe{api: prediction.LineAPIBettingPros, book: book})
	}
	return append(probes, probe{api: prediction.LineAPIBettingPros})
}

// Resolve returns the best available line for the player on the date, or a
// NO_PROP_LINE / NEEDS_BOOTSTRAP marker when no real line exists.
func (p *Provider) Resolve(ctx context.Context, player string, date prediction.GameDate) (prediction.LineInfo, error) {
	log := logging.FromContext(ctx).With("player", player, "game-date", date.String())

	for _, pr := range phases() {
		snapshot, err := p.query(ctx, pr, player, date)
		if err != nil {
			return prediction.LineInfo{}, fmt.Errorf("querying %s/%s, %w", pr.api, pr.book, err)
		}
		if snapshot == nil {
			continue
		}
		api := pr.api
		book := snapshot.Book
		info := prediction.LineInfo{
			Source:            prediction.LineSourceActualProp,
			Line:              &snapshot.PointsLine,
			API:               &api,
			Book:              &book,
			MinutesBeforeGame: snapshot.MinutesBeforeTipoff,
			WasFallback:       book != prediction.BookDraftKings,
		}
		metrics.LinesResolved.WithLabelValues(string(api), string(book)).Inc()
		log.With("source", string(api), "book", string(book), "line", snapshot.PointsLine).
			Debugf("resolved prop line")
		return info, nil
	}

	return p.resolveWithoutRealLine(ctx, player, date)
}

func (p *Provider) query(ctx context.Context, pr probe, player string, date prediction.GameDate) (*prediction.LineSnapshot, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		if pr.api == prediction.LineAPIOddsAPI {
			return p.source.LatestOddsAPI(ctx, player, date, pr.book)
		}
		return p.source.LatestBettingPros(ctx, player, date, pr.book)
	})
	if err != nil {
		return nil, err
	}
	return out.(*prediction.LineSnapshot), nil
}

func (p *Provider) resolveWithoutRealLine(ctx context.Context, player string, date prediction.GameDate) (prediction.LineInfo, error) {
	if !p.estimationEnabled {
		return prediction.LineInfo{Source: prediction.LineSourceNoPropLine}, nil
	}
	estimate, gamesPlayed, err := p.estimate(ctx, player, date)
	if err != nil {
		return prediction.LineInfo{}, err
	}
	if gamesPlayed < p.minGamesRequired {
		return prediction.LineInfo{Source: prediction.LineSourceNeedsBootstrap}, nil
	}
	api := prediction.LineAPIEstimated
	metrics.LinesResolved.WithLabelValues(string(api), "none").Inc()
	return prediction.LineInfo{
		Source:      prediction.LineSourceActualProp,
		Line:        estimate,
		API:         &api,
		WasFallback: true,
	}, nil
}

// Baseline computes the always-recorded estimated_line_value reference: the
// L5 points average (L10 when fewer than five games), rounded to the nearest
// half point and never exactly 20.0. Returns nil when the player has no
// history at all.
func (p *Provider) Baseline(ctx context.Context, player string, date prediction.GameDate) (*float64, error) {
	estimate, _, err := p.estimate(ctx, player, date)
	return estimate, err
}

func (p *Provider) estimate(ctx context.Context, player string, date prediction.GameDate) (*float64, int, error) {
	points, err := p.source.RecentPoints(ctx, player, date, 10)
	if err != nil {
		return nil, 0, fmt.Errorf("loading recent points for %s, %w", player, err)
	}
	if len(points) == 0 {
		return nil, 0, nil
	}
	window := points
	if len(points) >= 5 {
		window = points[:5]
	}
	estimate := EstimateLine(average(window))
	return &estimate, len(points), nil
}

func average(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

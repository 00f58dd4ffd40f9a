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

package slate_test

import (
	"context"

	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/providers/slate"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const gameDate = prediction.GameDate("2026-01-25")

type fakeContexts struct {
	contexts []prediction.GameContext
	stale    []string

	gotMinMinutes int
	gotThreshold  float64
}

func (f *fakeContexts) EligibleContexts(_ context.Context, _ prediction.GameDate, minMinutes int, _ string) ([]prediction.GameContext, error) {
	f.gotMinMinutes = minMinutes
	return f.contexts, nil
}

func (f *fakeContexts) StalePlayers(_ context.Context, _ prediction.GameDate, threshold float64) ([]string, error) {
	f.gotThreshold = threshold
	return f.stale, nil
}

type fakeResolver struct {
	infos     map[string]prediction.LineInfo
	baselines map[string]float64
}

func (f *fakeResolver) Resolve(_ context.Context, player string, _ prediction.GameDate) (prediction.LineInfo, error) {
	if info, ok := f.infos[player]; ok {
		return info, nil
	}
	return prediction.LineInfo{Source: prediction.LineSourceNoPropLine}, nil
}

func (f *fakeResolver) Baseline(_ context.Context, player string, _ prediction.GameDate) (*float64, error) {
	if baseline, ok := f.baselines[player]; ok {
		return &baseline, nil
	}
	return nil, nil
}

func playerContext(player string) prediction.GameContext {
	return prediction.GameContext{
		PlayerLookup: player,
		GameDate:     gameDate,
		GameID:       "20260125_BOS_LAL",
		Team:         "BOS",
		Opponent:     "LAL",
		HomeGame:     true,
	}
}

func realLine(line float64, book prediction.Sportsbook) prediction.LineInfo {
	api := prediction.LineAPIOddsAPI
	return prediction.LineInfo{
		Source:      prediction.LineSourceActualProp,
		Line:        &line,
		API:         &api,
		Book:        &book,
		WasFallback: book != prediction.BookDraftKings,
	}
}

var _ = Describe("BuildSlate", func() {
	var contexts *fakeContexts
	var resolver *fakeResolver
	var builder *slate.Builder

	BeforeEach(func() {
		contexts = &fakeContexts{}
		resolver = &fakeResolver{
			infos:     map[string]prediction.LineInfo{},
			baselines: map[string]float64{},
		}
		builder = slate.NewBuilder(contexts, resolver)
	})

	It("should emit one request per eligible player with full provenance", func() {
		contexts.contexts = []prediction.GameContext{playerContext("jtatum")}
		resolver.infos["jtatum"] = realLine(24.5, prediction.BookDraftKings)
		resolver.baselines["jtatum"] = 25.5

		requests, err := builder.BuildSlate(ctx, gameDate, slate.DefaultOptions())
		Expect(err).ToNot(HaveOccurred())
		Expect(requests).To(HaveLen(1))

		request := requests[0]
		Expect(request.PlayerLookup).To(Equal("jtatum"))
		Expect(request.LineSource).To(Equal(prediction.LineSourceActualProp))
		Expect(*request.ActualPropLine).To(Equal(24.5))
		Expect(request.HasPropLine).To(BeTrue())
		Expect(request.WasLineFallback).To(BeFalse())
		Expect(*request.EstimatedLineValue).To(Equal(25.5))
		Expect(request.LineValues).To(HaveLen(1))
		Expect(*request.LineValues[0]).To(Equal(24.5))
	})

	It("should drop NEEDS_BOOTSTRAP players", func() {
		contexts.contexts = []prediction.GameContext{playerContext("rookie")}
		resolver.infos["rookie"] = prediction.LineInfo{Source: prediction.LineSourceNeedsBootstrap}

		requests, err := builder.BuildSlate(ctx, gameDate, slate.DefaultOptions())
		Expect(err).ToNot(HaveOccurred())
		Expect(requests).To(BeEmpty())
	})

	It("should keep lineless players in no-line mode unless real lines are required", func() {
		contexts.contexts = []prediction.GameContext{playerContext("benchguy")}

		requests, err := builder.BuildSlate(ctx, gameDate, slate.DefaultOptions())
		Expect(err).ToNot(HaveOccurred())
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].LineSource).To(Equal(prediction.LineSourceNoPropLine))
		Expect(requests[0].HasPropLine).To(BeFalse())
		Expect(requests[0].LineValues).To(Equal([]*float64{nil}))

		opts := slate.DefaultOptions()
		opts.RequireRealLines = true
		requests, err = builder.BuildSlate(ctx, gameDate, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(requests).To(BeEmpty())
	})

	It("should pass the minutes floor through to the context query", func() {
		opts := slate.DefaultOptions()
		opts.MinMinutes = 22
		_, err := builder.BuildSlate(ctx, gameDate, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(contexts.gotMinMinutes).To(Equal(22))
	})
})

var _ = Describe("LineValues", func() {
	line := func(v float64) *float64 { return &v }

	It("should expand a symmetric band in multi-line mode", func() {
		opts := slate.Options{UseMultipleLines: true, LineSpreadRadius: 2, LineSpreadStep: 1}
		values := slate.LineValues(line(24.5), nil, opts)
		Expect(lo.Map(values, func(v *float64, _ int) float64 { return *v })).
			To(Equal([]float64{22.5, 23.5, 24.5, 25.5, 26.5}))
	})

	It("should filter the 20.0 placeholder out of the band", func() {
		opts := slate.Options{UseMultipleLines: true, LineSpreadRadius: 2, LineSpreadStep: 1}
		values := slate.LineValues(line(21.0), nil, opts)
		Expect(lo.Map(values, func(v *float64, _ int) float64 { return *v })).
			To(Equal([]float64{19.0, 21.0, 22.0, 23.0}))
	})

	It("should fall back to the baseline when no real line exists", func() {
		values := slate.LineValues(nil, line(18.5), slate.Options{})
		Expect(values).To(HaveLen(1))
		Expect(*values[0]).To(Equal(18.5))
	})

	It("should emit the nil sentinel when neither line nor baseline exists", func() {
		Expect(slate.LineValues(nil, nil, slate.Options{UseMultipleLines: true})).
			To(Equal([]*float64{nil}))
	})
})

var _ = Describe("FindStalePredictions", func() {
	It("should forward the threshold and return flagged players", func() {
		contexts := &fakeContexts{stale: []string{"jtatum", "dbooker"}}
		builder := slate.NewBuilder(contexts, &fakeResolver{})

		players, err := builder.FindStalePredictions(ctx, gameDate, 1.0)
		Expect(err).ToNot(HaveOccurred())
		Expect(players).To(Equal([]string{"jtatum", "dbooker"}))
		Expect(contexts.gotThreshold).To(Equal(1.0))
	})
})

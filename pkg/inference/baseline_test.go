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

package inference_test

import (
	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/inference"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func games(points ...float64) []prediction.GameLog {
	return lo.Map(points, func(p float64, _ int) prediction.GameLog {
		return prediction.GameLog{PlayerLookup: "jtatum", Points: p}
	})
}

var _ = Describe("Baseline", func() {
	var model *inference.Baseline

	BeforeEach(func() {
		model = inference.NewBaseline()
	})

	It("should stamp its version", func() {
		Expect(model.ModelVersion()).To(Equal("baseline_v1"))
		Expect(inference.NewBaseline(inference.WithVersion("baseline_v2")).ModelVersion()).To(Equal("baseline_v2"))
	})

	It("should weight recent games over older ones", func() {
		// Newest first: a hot streak after a cold stretch should estimate
		// above the plain mean of 20.
		estimate, err := model.Predict(ctx, prediction.FeatureRow{PlayerLookup: "jtatum"}, games(30, 30, 10, 10), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(estimate.PredictedPoints).To(BeNumerically(">", 20))
		Expect(estimate.PredictedPoints).To(BeNumerically("<", 30))
	})

	It("should blend history with the feature store average", func() {
		features := prediction.FeatureRow{
			PlayerLookup: "jtatum",
			FeatureNames: []string{"minutes_avg_last_7", "points_avg_last_10"},
			Features:     []float64{34.0, 30.0},
		}
		estimate, err := model.Predict(ctx, features, games(20, 20, 20), nil)
		Expect(err).ToNot(HaveOccurred())
		// 0.6 * 20 + 0.4 * 30
		Expect(estimate.PredictedPoints).To(BeNumerically("~", 24.0, 1e-9))
	})

	It("should fall back to features when history is empty", func() {
		features := prediction.FeatureRow{
			PlayerLookup: "rookie",
			FeatureNames: []string{"points_avg_last_5"},
			Features:     []float64{12.5},
		}
		estimate, err := model.Predict(ctx, features, nil, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(estimate.PredictedPoints).To(Equal(12.5))
	})

	It("should error with neither history nor scoring features", func() {
		_, err := model.Predict(ctx, prediction.FeatureRow{PlayerLookup: "ghost"}, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("no scoring history")))
	})

	It("should grow confidence with depth and keep it off the rails", func() {
		shallow, err := model.Predict(ctx, prediction.FeatureRow{PlayerLookup: "jtatum"}, games(25), nil)
		Expect(err).ToNot(HaveOccurred())
		deep, err := model.Predict(ctx, prediction.FeatureRow{PlayerLookup: "jtatum"}, games(25, 25, 25, 25, 25, 25, 25, 25), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(deep.Confidence).To(BeNumerically(">", shallow.Confidence))
		Expect(deep.Confidence).To(BeNumerically("<=", 0.90))
		Expect(shallow.Confidence).To(BeNumerically(">=", 0.30))
	})

	It("should trust a volatile scorer less than a steady one", func() {
		steady, err := model.Predict(ctx, prediction.FeatureRow{PlayerLookup: "steady"}, games(20, 20, 20, 20), nil)
		Expect(err).ToNot(HaveOccurred())
		volatile, err := model.Predict(ctx, prediction.FeatureRow{PlayerLookup: "spiky"}, games(40, 2, 38, 1), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(volatile.Confidence).To(BeNumerically("<", steady.Confidence))
	})
})

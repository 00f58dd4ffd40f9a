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

package staging_test

import (
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	propcoreerrors "github.com/hoopsight/propcore/pkg/errors"
	"github.com/hoopsight/propcore/pkg/fake"
	"github.com/hoopsight/propcore/pkg/staging"
	"github.com/hoopsight/propcore/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func record(player string) prediction.Record {
	line := 24.5
	return prediction.Record{
		PredictionID:      "pred-" + player,
		GameID:            "20260125_BOS_LAL",
		GameDate:          "2026-01-25",
		PlayerLookup:      player,
		SystemID:          "ensemble_v1",
		PredictedPoints:   27.5,
		ConfidenceScore:   0.72,
		Recommendation:    prediction.RecommendationOver,
		CurrentPointsLine: &line,
		LineSource:        prediction.LineSourceActualProp,
		IsActive:          true,
	}
}

func cannedColumns() [][]any {
	return lo.Map(prediction.RecordColumns, func(column string, _ int) []any {
		return []any{column}
	})
}

var _ = Describe("TableName", func() {
	It("should sanitize hyphenated ids into legal table names", func() {
		Expect(staging.TableName("batch-2026-01-25", "Worker-7")).
			To(Equal("_staging_batch_2026_01_25_worker_7"))
	})
})

var _ = Describe("Write", func() {
	var pool *fake.Pool
	var writer *staging.Writer

	BeforeEach(func() {
		pool = fake.NewPool()
		pool.OnQuery("information_schema.columns", cannedColumns()...)
		writer = staging.NewWriter(store.NewClient(pool))
	})

	It("should create the staging table and bulk-append the records", func() {
		result, err := writer.Write(ctx, []prediction.Record{record("jtatum"), record("dbooker")}, "b1", "w1")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusSuccess))
		Expect(result.RowsWritten).To(Equal(2))
		Expect(result.StagingTableName).To(Equal("_staging_b1_w1"))

		Expect(pool.Executed("CREATE TABLE IF NOT EXISTS predictions._staging_b1_w1")).To(BeTrue())
		Expect(pool.Executed("LIKE predictions.player_prop_predictions")).To(BeTrue())
		Expect(pool.CopyCalls).To(HaveLen(1))
		Expect(pool.CopyCalls[0].Table).To(Equal(pgx.Identifier{"predictions", "_staging_b1_w1"}))
		Expect(pool.CopyCalls[0].Columns).To(Equal(prediction.RecordColumns))
		Expect(pool.CopyCalls[0].Rows).To(HaveLen(2))
	})

	It("should sanitize record values on their way into the load", func() {
		tainted := record("jtatum")
		tainted.Team = "BOS\x00"
		tainted.FeatureQualityScore = lo.ToPtr(math.NaN())

		_, err := writer.Write(ctx, []prediction.Record{tainted}, "b1", "w1")
		Expect(err).ToNot(HaveOccurred())
		Expect(pool.CopyCalls).To(HaveLen(1))

		row := pool.CopyCalls[0].Rows[0]
		Expect(row[lo.IndexOf(prediction.RecordColumns, "team")]).To(Equal("BOS"))
		Expect(row[lo.IndexOf(prediction.RecordColumns, "feature_quality_score")]).To(BeNil())
	})

	It("should succeed without touching the store when there is nothing to write", func() {
		result, err := writer.Write(ctx, nil, "b1", "w1")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusSuccess))
		Expect(pool.ExecCalls).To(BeEmpty())
		Expect(pool.CopyCalls).To(BeEmpty())
	})

	It("should fail loudly when the main table is missing a produced column", func() {
		pool.Reset()
		pool.OnQuery("information_schema.columns", lo.Filter(cannedColumns(), func(row []any, _ int) bool {
			return row[0] != "estimated_line_value"
		})...)

		result, err := writer.Write(ctx, []prediction.Record{record("jtatum")}, "b1", "w1")
		Expect(err).To(HaveOccurred())
		Expect(propcoreerrors.IsSchemaMismatch(err)).To(BeTrue())
		Expect(result.Status).To(Equal(prediction.StatusWriteFailed))
		Expect(pool.CopyCalls).To(BeEmpty())

		// The failure is sticky; later writes do not re-probe the schema.
		probes := len(pool.QueryCalls)
		_, err = writer.Write(ctx, []prediction.Record{record("dbooker")}, "b1", "w1")
		Expect(propcoreerrors.IsSchemaMismatch(err)).To(BeTrue())
		Expect(pool.QueryCalls).To(HaveLen(probes))
	})

	It("should only validate the schema once per instance", func() {
		_, err := writer.Write(ctx, []prediction.Record{record("jtatum")}, "b1", "w1")
		Expect(err).ToNot(HaveOccurred())
		_, err = writer.Write(ctx, []prediction.Record{record("dbooker")}, "b1", "w2")
		Expect(err).ToNot(HaveOccurred())
		Expect(pool.QueryCalls).To(HaveLen(1))
	})

	It("should report a write failure when the load fails", func() {
		pool.CopyError = errTimeout{}
		result, err := writer.Write(ctx, []prediction.Record{record("jtatum")}, "b1", "w1")
		Expect(err).To(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusWriteFailed))
	})
})

type errTimeout struct{}

func (errTimeout) Error() string { return "bad request" }

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

package consolidation_test

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/consolidation"
	"github.com/hoopsight/propcore/pkg/fake"
	"github.com/hoopsight/propcore/pkg/locks"
	"github.com/hoopsight/propcore/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const gameDate = prediction.GameDate("2026-01-25")

var _ = Describe("Consolidate", func() {
	var mini *miniredis.Miniredis
	var pool *fake.Pool
	var consolidator *consolidation.Consolidator

	columnRows := func(exclude ...string) [][]any {
		return lo.FilterMap(prediction.RecordColumns, func(column string, _ int) ([]any, bool) {
			return []any{column}, !lo.Contains(exclude, column)
		})
	}

	// arrange wires the default two-table happy path; individual tests
	// override behaviors before calling Consolidate.
	arrange := func() {
		pool.OnQuery("information_schema.tables",
			[]any{"_staging_b1_w1"},
			[]any{"_staging_b1_w2"},
		)
		pool.OnQuery("information_schema.columns", columnRows()...)
		pool.OnQuery("SUM(n)", []any{int64(10)})
		pool.OnQuery("HAVING COUNT(*) > 1", []any{int64(0)})
		pool.ExecRowCounts["MERGE INTO"] = 7
	}

	BeforeEach(func() {
		var err error
		mini, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		pool = fake.NewPool()
		locker := locks.NewLocker(
			redis.NewClient(&redis.Options{Addr: mini.Addr()}),
			locks.WithRetryDelay(time.Millisecond),
		)
		consolidator = consolidation.NewConsolidator(
			store.NewClient(pool), locker,
			consolidation.WithMaxWait(50*time.Millisecond),
		)
	})

	AfterEach(func() {
		mini.Close()
	})

	It("should merge all staging tables under the date lock and clean them up", func() {
		arrange()
		result, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusSuccess))
		Expect(result.LockAcquired).To(BeTrue())
		Expect(result.RowsAffected).To(Equal(int64(7)))
		Expect(result.StagingTablesMerged).To(Equal(2))
		Expect(result.StagingTablesCleaned).To(Equal(2))

		Expect(pool.Executed("MERGE INTO predictions.player_prop_predictions")).To(BeTrue())
		Expect(pool.Executed("UNION ALL")).To(BeTrue())
		Expect(pool.Executed("COALESCE(target.current_points_line, -1) = COALESCE(source.current_points_line, -1)")).To(BeTrue())
		Expect(pool.Executed("WHEN NOT MATCHED THEN INSERT")).To(BeTrue())
		Expect(pool.Executed("SET is_active = FALSE")).To(BeTrue())
		Expect(pool.Executed("DROP TABLE IF EXISTS predictions._staging_b1_w1")).To(BeTrue())
		Expect(pool.Executed("DROP TABLE IF EXISTS predictions._staging_b1_w2")).To(BeTrue())

		// The lock is released once the pass completes.
		Expect(mini.Exists("consolidation_locks/" + gameDate.String())).To(BeFalse())
	})

	It("should be idempotent when no staging tables remain", func() {
		result, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusSuccess))
		Expect(result.StagingTablesMerged).To(Equal(0))
		Expect(pool.Executed("MERGE INTO")).To(BeFalse())
	})

	It("should fail and retain staging tables when the merge affects nothing despite staged rows", func() {
		arrange()
		pool.ExecRowCounts["MERGE INTO"] = 0
		result, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusFailure))
		Expect(pool.Executed("DROP TABLE")).To(BeFalse())
	})

	It("should report duplicates and retain staging tables for forensics", func() {
		arrange()
		pool.QueryBehaviors = lo.Reject(pool.QueryBehaviors, func(b fake.QueryBehavior, _ int) bool {
			return b.Match == "HAVING COUNT(*) > 1"
		})
		pool.OnQuery("HAVING COUNT(*) > 1", []any{int64(3)})

		result, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusDuplicatesDetected))
		Expect(result.DuplicateCount).To(Equal(3))
		Expect(pool.Executed("DROP TABLE")).To(BeFalse())
	})

	It("should validate business keys across active and superseded rows alike", func() {
		arrange()
		_, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())

		// Supersession retires old rows by flipping is_active, so a check
		// scoped to active rows could never see a duplicate it just hid.
		check, found := lo.Find(pool.QueryCalls, func(sql string) bool {
			return strings.Contains(sql, "HAVING COUNT(*) > 1")
		})
		Expect(found).To(BeTrue())
		Expect(check).To(ContainSubstring("game_date = $1::date"))
		Expect(check).ToNot(ContainSubstring("is_active"))
	})

	It("should proceed without the lock when the budget is exhausted", func() {
		arrange()
		doc, _ := json.Marshal(locks.Document{
			AcquiredAt:       time.Now(),
			ExpiresAt:        time.Now().Add(time.Hour),
			OperationID:      "someone-else",
			HolderInstanceID: "other",
		})
		mini.Set("consolidation_locks/"+gameDate.String(), string(doc))

		result, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Status).To(Equal(prediction.StatusSuccess))
		Expect(result.LockAcquired).To(BeFalse())
		Expect(pool.Executed("MERGE INTO")).To(BeTrue())
	})

	It("should project only the columns every staging table shares", func() {
		pool.OnQuery("information_schema.tables",
			[]any{"_staging_b1_w1"},
			[]any{"_staging_b1_w2"},
		)
		pool.OnQueryOnce("information_schema.columns", columnRows()...)
		pool.OnQueryOnce("information_schema.columns", columnRows("estimated_line_value")...)
		pool.OnQuery("SUM(n)", []any{int64(10)})
		pool.OnQuery("HAVING COUNT(*) > 1", []any{int64(0)})
		pool.ExecRowCounts["MERGE INTO"] = 7

		_, err := consolidator.Consolidate(ctx, "b1", gameDate)
		Expect(err).ToNot(HaveOccurred())
		Expect(pool.Executed("MERGE INTO")).To(BeTrue())
		Expect(pool.Executed("source.estimated_line_value")).To(BeFalse())
		Expect(pool.Executed("source.predicted_points")).To(BeTrue())
	})
})

var _ = Describe("SweepOrphans", func() {
	var mini *miniredis.Miniredis
	var pool *fake.Pool
	var consolidator *consolidation.Consolidator

	BeforeEach(func() {
		var err error
		mini, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		pool = fake.NewPool()
		locker := locks.NewLocker(redis.NewClient(&redis.Options{Addr: mini.Addr()}))
		consolidator = consolidation.NewConsolidator(store.NewClient(pool), locker)
	})

	AfterEach(func() {
		mini.Close()
	})

	It("should drop stale staging tables but keep recently written ones", func() {
		pool.OnQuery("information_schema.tables",
			[]any{"_staging_old_w1"},
			[]any{"_staging_fresh_w1"},
		)
		pool.OnQuery("_staging_old_w1", []any{time.Now().Add(-48 * time.Hour)})
		pool.OnQuery("_staging_fresh_w1", []any{time.Now().Add(-time.Hour)})

		dropped, err := consolidator.SweepOrphans(ctx, consolidation.DefaultOrphanAge)
		Expect(err).ToNot(HaveOccurred())
		Expect(dropped).To(ConsistOf("_staging_old_w1"))
		Expect(pool.Executed("DROP TABLE IF EXISTS predictions._staging_fresh_w1")).To(BeFalse())
	})

	It("should drop an empty staging table only once its batch day is past the cutoff", func() {
		oldEmpty := "_staging_" + time.Now().Add(-72*time.Hour).Format("20060102") + "_first_a1b2c3d4_w1"
		freshEmpty := "_staging_" + time.Now().Format("20060102") + "_first_e5f6a7b8_w1"
		pool.OnQuery("information_schema.tables",
			[]any{oldEmpty},
			[]any{freshEmpty},
		)
		pool.OnQuery("MAX(created_at)", []any{nil})

		dropped, err := consolidator.SweepOrphans(ctx, consolidation.DefaultOrphanAge)
		Expect(err).ToNot(HaveOccurred())
		Expect(dropped).To(ConsistOf(oldEmpty))
		Expect(pool.Executed("DROP TABLE IF EXISTS predictions."+freshEmpty)).To(BeFalse())
	})

	It("should keep an empty staging table whose name carries no batch date", func() {
		pool.OnQuery("information_schema.tables", []any{"_staging_manual_w1"})
		pool.OnQuery("MAX(created_at)", []any{nil})

		dropped, err := consolidator.SweepOrphans(ctx, consolidation.DefaultOrphanAge)
		Expect(err).ToNot(HaveOccurred())
		Expect(dropped).To(BeEmpty())
		Expect(pool.Executed("DROP TABLE")).To(BeFalse())
	})
})

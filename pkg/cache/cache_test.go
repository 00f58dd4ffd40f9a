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

package cache_test

import (
	"fmt"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/cache"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const date = prediction.GameDate("2026-01-25")

var _ = Describe("FeatureCache", func() {
	It("should evict exactly k entries after max_size + k inserts", func() {
		var evicted []string
		featureCache, err := cache.NewFeatureCache(8, func(key string) {
			evicted = append(evicted, key)
		})
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 11; i++ {
			featureCache.Set(fmt.Sprintf("player%02d", i), date, &prediction.FeatureRow{})
		}
		Expect(featureCache.Len()).To(Equal(8))
		Expect(evicted).To(HaveLen(3))
	})

	It("should evict only keys less recently accessed than every retained key", func() {
		var evicted []string
		featureCache, err := cache.NewFeatureCache(4, func(key string) {
			evicted = append(evicted, key)
		})
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 4; i++ {
			featureCache.Set(fmt.Sprintf("player%02d", i), date, &prediction.FeatureRow{})
		}
		// Touch the oldest entry so it outranks the others.
		_, ok := featureCache.Get("player00", date)
		Expect(ok).To(BeTrue())

		featureCache.Set("player04", date, &prediction.FeatureRow{})
		featureCache.Set("player05", date, &prediction.FeatureRow{})

		Expect(evicted).To(Equal([]string{"player01|2026-01-25", "player02|2026-01-25"}))
		_, ok = featureCache.Get("player00", date)
		Expect(ok).To(BeTrue())
	})

	It("should return cached rows by player and date", func() {
		featureCache, err := cache.NewFeatureCache(4, nil)
		Expect(err).ToNot(HaveOccurred())
		row := &prediction.FeatureRow{PlayerLookup: "jtatum", GameDate: date}
		featureCache.Set("jtatum", date, row)

		got, ok := featureCache.Get("jtatum", date)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(row))

		_, ok = featureCache.Get("jtatum", prediction.GameDate("2026-01-26"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("DateKeyed", func() {
	It("should apply the short TTL to today's entries and the long TTL to historical ones", func() {
		now := time.Date(2026, 1, 25, 18, 0, 0, 0, time.UTC)
		fakeClock := testingclock.NewFakePassiveClock(now)
		dateCache := cache.NewDateKeyed(
			cache.WithClock(fakeClock),
			cache.WithTTLs(time.Nanosecond, time.Hour),
		)

		dateCache.Set(prediction.GameDate("2026-01-25"), "context", "today")
		dateCache.Set(prediction.GameDate("2026-01-20"), "context", "historical")

		// The nanosecond TTL lapses immediately; the historical entry stays.
		time.Sleep(time.Millisecond)
		_, ok := dateCache.Get(prediction.GameDate("2026-01-25"), "context")
		Expect(ok).To(BeFalse())
		val, ok := dateCache.Get(prediction.GameDate("2026-01-20"), "context")
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal("historical"))
	})
})

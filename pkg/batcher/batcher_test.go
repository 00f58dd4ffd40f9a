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

package batcher_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/batcher"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes map[string][][]prediction.Record
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{flushes: map[string][][]prediction.Record{}}
}

func (f *flushRecorder) flush(_ context.Context, key string, records []prediction.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes[key] = append(f.flushes[key], records)
}

func (f *flushRecorder) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, flush := range f.flushes[key] {
		total += len(flush)
	}
	return total
}

func (f *flushRecorder) windows(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushes[key])
}

func record(i int) prediction.Record {
	return prediction.Record{
		PredictionID: fmt.Sprintf("pred-%d", i),
		GameID:       "20260125_BOS_LAL",
		GameDate:     "2026-01-25",
		PlayerLookup: fmt.Sprintf("player%02d", i),
		SystemID:     "ensemble_v1",
	}
}

var _ = Describe("Batcher", func() {
	var fakeClock *testingclock.FakeClock
	var recorder *flushRecorder
	var cancel context.CancelFunc
	var batchCtx context.Context

	BeforeEach(func() {
		fakeClock = testingclock.NewFakeClock(time.Now())
		recorder = newFlushRecorder()
		batchCtx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("should flush a window as soon as it reaches the record cap", func() {
		b := batcher.New(time.Hour, time.Minute, 3, recorder.flush).WithClock(fakeClock)
		b.Start(batchCtx)
		for i := 0; i < 3; i++ {
			b.Add("staging_b1_w1", record(i))
		}
		Eventually(func() int { return recorder.count("staging_b1_w1") }).Should(Equal(3))
		Expect(recorder.windows("staging_b1_w1")).To(Equal(1))
	})

	It("should flush an idle window once the idle period elapses", func() {
		b := batcher.New(time.Hour, time.Minute, 0, recorder.flush).WithClock(fakeClock)
		b.Start(batchCtx)
		b.Add("staging_b1_w1", record(0))
		b.Add("staging_b1_w1", record(1))

		Eventually(fakeClock.HasWaiters).Should(BeTrue())
		Eventually(func() int {
			fakeClock.Step(time.Minute)
			return recorder.count("staging_b1_w1")
		}).Should(Equal(2))
	})

	It("should keep windows for different destinations independent", func() {
		b := batcher.New(time.Hour, time.Minute, 2, recorder.flush).WithClock(fakeClock)
		b.Start(batchCtx)
		b.Add("staging_b1_w1", record(0))
		b.Add("staging_b1_w2", record(1))
		b.Add("staging_b1_w2", record(2))

		Eventually(func() int { return recorder.count("staging_b1_w2") }).Should(Equal(2))
		Expect(recorder.count("staging_b1_w1")).To(Equal(0))
	})

	It("should release waiters when the window flushes", func() {
		b := batcher.New(time.Hour, time.Minute, 2, recorder.flush).WithClock(fakeClock)
		b.Start(batchCtx)
		b.Add("staging_b1_w1", record(0))

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			b.Wait("staging_b1_w1")
			close(done)
		}()
		Consistently(done).ShouldNot(BeClosed())

		b.Add("staging_b1_w1", record(1))
		Eventually(done).Should(BeClosed())
		Expect(recorder.count("staging_b1_w1")).To(Equal(2))
	})

	It("should flush everything in flight on shutdown", func() {
		b := batcher.New(time.Hour, time.Minute, 0, recorder.flush).WithClock(fakeClock)
		b.Start(batchCtx)
		b.Add("staging_b1_w1", record(0))

		Eventually(fakeClock.HasWaiters).Should(BeTrue())
		time.Sleep(10 * time.Millisecond)
		cancel()
		Eventually(func() int { return recorder.count("staging_b1_w1") }).Should(Equal(1))
	})
})

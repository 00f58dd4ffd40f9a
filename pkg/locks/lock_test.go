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

package locks_test

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	propcoreerrors "github.com/hoopsight/propcore/pkg/errors"
	"github.com/hoopsight/propcore/pkg/locks"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const gameDate = prediction.GameDate("2026-01-25")

var _ = Describe("Locker", func() {
	var locker *locks.Locker

	BeforeEach(func() {
		locker = locks.NewLocker(rdb, locks.WithRetryDelay(10*time.Millisecond))
	})

	It("should acquire a free lock on the first attempt", func() {
		handle, err := locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-1", time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(handle.Key()).To(Equal("consolidation_locks/2026-01-25"))
		Expect(mini.Exists(handle.Key())).To(BeTrue())
		handle.Release(ctx)
		Expect(mini.Exists(handle.Key())).To(BeFalse())
	})

	It("should store the lock document with lease metadata", func() {
		handle, err := locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-1", time.Second)
		Expect(err).ToNot(HaveOccurred())
		payload, err := mini.Get(handle.Key())
		Expect(err).ToNot(HaveOccurred())
		var doc locks.Document
		Expect(json.Unmarshal([]byte(payload), &doc)).To(Succeed())
		Expect(doc.OperationID).To(Equal("op-1"))
		Expect(doc.ExpiresAt).To(BeTemporally(">", doc.AcquiredAt))
		handle.Release(ctx)
	})

	It("should fail with LockAcquisitionError when the budget elapses", func() {
		held, err := locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-1", time.Second)
		Expect(err).ToNot(HaveOccurred())
		defer held.Release(ctx)

		_, err = locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-2", 50*time.Millisecond)
		Expect(err).To(HaveOccurred())
		Expect(propcoreerrors.IsLockAcquisition(err)).To(BeTrue())
	})

	It("should serialize critical sections on the same lock", func() {
		var inSection int32
		var maxConcurrent int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				handle, err := locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op", 5*time.Second)
				Expect(err).ToNot(HaveOccurred())
				cur := atomic.AddInt32(&inSection, 1)
				if cur > atomic.LoadInt32(&maxConcurrent) {
					atomic.StoreInt32(&maxConcurrent, cur)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inSection, -1)
				handle.Release(ctx)
			}()
		}
		wg.Wait()
		Expect(maxConcurrent).To(Equal(int32(1)))
	})

	It("should not block a grading lock behind a consolidation lock on the same date", func() {
		consolidation, err := locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-1", time.Second)
		Expect(err).ToNot(HaveOccurred())
		defer consolidation.Release(ctx)

		grading, err := locker.Acquire(ctx, prediction.LockGrading, gameDate, "op-2", 50*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		grading.Release(ctx)
	})

	It("should reclaim a lock whose lease has expired", func() {
		short := locks.NewLocker(rdb, locks.WithLease(50*time.Millisecond), locks.WithRetryDelay(10*time.Millisecond))
		_, err := short.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-crashed", time.Second)
		Expect(err).ToNot(HaveOccurred())
		// Simulate the crashed holder: never release, let the lease lapse.
		mini.FastForward(100 * time.Millisecond)

		handle, err := locker.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-2", time.Second)
		Expect(err).ToNot(HaveOccurred())
		handle.Release(ctx)
	})

	It("should tolerate releasing a lock that already expired", func() {
		short := locks.NewLocker(rdb, locks.WithLease(50*time.Millisecond))
		handle, err := short.Acquire(ctx, prediction.LockConsolidation, gameDate, "op-1", time.Second)
		Expect(err).ToNot(HaveOccurred())
		mini.FastForward(100 * time.Millisecond)
		handle.Release(ctx)
	})
})

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

package sanitize_test

import (
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/utils/sanitize"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Values", func() {
	It("should strip control characters from strings", func() {
		Expect(sanitize.Values([]any{"late\x00 scratch", lo.ToPtr("coach's\tcall")})).
			To(Equal([]any{"late scratch", "coach'scall"}))
	})

	It("should null out non-finite floats", func() {
		Expect(sanitize.Values([]any{math.NaN(), math.Inf(1), lo.ToPtr(math.Inf(-1)), 21.5})).
			To(Equal([]any{nil, nil, nil, 21.5}))
	})

	It("should pass timestamps and scalars through untouched", func() {
		now := time.Now()
		Expect(sanitize.Values([]any{now, lo.ToPtr(now), true, int64(3), nil})).
			To(Equal([]any{now, now, true, int64(3), nil}))
	})

	It("should flatten optional scalars", func() {
		Expect(sanitize.Values([]any{lo.ToPtr(12.5), (*float64)(nil), lo.ToPtr("over"), (*string)(nil), lo.ToPtr(7)})).
			To(Equal([]any{12.5, nil, "over", nil, 7}))
	})

	It("should drop unknown kinds to nil", func() {
		Expect(sanitize.Value(struct{ X int }{1})).To(BeNil())
	})
})

var _ = Describe("Round", func() {
	It("should round to the requested precision", func() {
		Expect(sanitize.Round(24.5678, 2)).To(Equal(24.57))
		Expect(sanitize.OptRound(lo.ToPtr(0.87654), 3)).To(HaveValue(Equal(0.877)))
		Expect(sanitize.OptRound(nil, 3)).To(BeNil())
		Expect(sanitize.OptRound(lo.ToPtr(math.NaN()), 3)).To(BeNil())
	})
})

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

package options_test

import (
	"github.com/hoopsight/propcore/pkg/operator/options"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Options", func() {
	var opts *options.Options

	parse := func(args ...string) error {
		if err := opts.Parse(args); err != nil {
			return err
		}
		return opts.Validate()
	}

	BeforeEach(func() {
		opts = options.New()
	})

	It("should accept a minimal flag set and fill defaults", func() {
		Expect(parse("--database-url", "postgres://localhost:5432/propcore")).To(Succeed())
		Expect(opts.RedisAddr).To(Equal("localhost:6379"))
		Expect(opts.Concurrency).To(Equal(8))
		Expect(opts.Deadband).To(Equal(1.0))
		Expect(opts.SystemID).To(Equal("ensemble_v1"))
		Expect(opts.LogLevel).To(Equal("info"))
	})

	It("should require the database url", func() {
		Expect(parse()).To(MatchError(ContainSubstring("DATABASE_URL is required")))
	})

	It("should reject a non-positive fleet", func() {
		err := parse("--database-url", "postgres://localhost:5432/propcore", "--concurrency", "0")
		Expect(err).To(MatchError(ContainSubstring("concurrency must be positive")))
	})

	It("should reject unknown log levels", func() {
		err := parse("--database-url", "postgres://localhost:5432/propcore", "--log-level", "loud")
		Expect(err).To(MatchError(ContainSubstring("log-level")))
	})

	It("should require spread geometry only when multiple lines are on", func() {
		Expect(parse("--database-url", "postgres://localhost:5432/propcore", "--line-spread-step", "0")).To(Succeed())
		opts = options.New()
		err := parse("--database-url", "postgres://localhost:5432/propcore", "--use-multiple-lines", "--line-spread-step", "0")
		Expect(err).To(MatchError(ContainSubstring("line-spread-step must be positive")))
	})

	It("should aggregate every violation", func() {
		err := parse("--concurrency", "0", "--deadband", "-1", "--system-id", "")
		Expect(err).To(MatchError(ContainSubstring("DATABASE_URL")))
		Expect(err).To(MatchError(ContainSubstring("concurrency")))
		Expect(err).To(MatchError(ContainSubstring("deadband")))
		Expect(err).To(MatchError(ContainSubstring("system-id")))
	})
})

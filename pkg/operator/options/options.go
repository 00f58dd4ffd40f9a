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

// Package options holds the flag- and environment-backed configuration for
// the controller binary.
package options

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/hoopsight/propcore/pkg/utils/env"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet
	// Runtime
	MetricsPort int
	LogLevel    string
	// Stores
	DatabaseURL  string
	RedisAddr    string
	RedisDB      int
	QueryTimeout time.Duration
	LoadTimeout  time.Duration
	// Locks
	MaxLockWait time.Duration
	// Slate
	MinMinutes        int
	UseMultipleLines  bool
	LineSpreadRadius  float64
	LineSpreadStep    float64
	RequireRealLines  bool
	EstimationEnabled bool
	// Worker fleet
	SystemID         string
	Concurrency      int
	Deadband         float64
	FeatureCacheSize int
	// Healing
	StaleThreshold float64
	LookbackDays   int
}

// New creates an Options struct and registers CLI flags and environment
// variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("propcore", flag.ContinueOnError)
	opts.FlagSet = f

	// Runtime
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to for operating metrics about the controller itself")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log verbosity: debug, info, warn or error")

	// Stores
	f.StringVar(&opts.DatabaseURL, "database-url", env.WithDefaultString("DATABASE_URL", ""), "PostgreSQL connection string for the analytical store")
	f.StringVar(&opts.RedisAddr, "redis-addr", env.WithDefaultString("REDIS_ADDR", "localhost:6379"), "Redis address for distributed locks and realtime healing events")
	f.IntVar(&opts.RedisDB, "redis-db", env.WithDefaultInt("REDIS_DB", 0), "Redis logical database")
	f.DurationVar(&opts.QueryTimeout, "query-timeout", env.WithDefaultDuration("QUERY_TIMEOUT", 30*time.Second), "Per-statement timeout for analytical queries")
	f.DurationVar(&opts.LoadTimeout, "load-timeout", env.WithDefaultDuration("LOAD_TIMEOUT", 2*time.Minute), "Timeout for bulk staging loads and consolidation merges")

	// Locks
	f.DurationVar(&opts.MaxLockWait, "max-lock-wait", env.WithDefaultDuration("MAX_LOCK_WAIT", 2*time.Minute), "The longest consolidation or grading will wait to acquire its date lock")

	// Slate
	f.IntVar(&opts.MinMinutes, "min-minutes", env.WithDefaultInt("MIN_MINUTES", 15), "Players projected below this many minutes are dropped unless they carry a real prop line")
	f.BoolVar(&opts.UseMultipleLines, "use-multiple-lines", env.WithDefaultBool("USE_MULTIPLE_LINES", false), "Expand each request to a band of candidate lines around the base line")
	f.Float64Var(&opts.LineSpreadRadius, "line-spread-radius", env.WithDefaultFloat64("LINE_SPREAD_RADIUS", 2.0), "Half-width, in points, of the candidate line band")
	f.Float64Var(&opts.LineSpreadStep, "line-spread-step", env.WithDefaultFloat64("LINE_SPREAD_STEP", 1.0), "Spacing, in points, between candidate lines in the band")
	f.BoolVar(&opts.RequireRealLines, "require-real-lines", env.WithDefaultBool("REQUIRE_REAL_LINES", false), "Drop players without a sportsbook line instead of predicting line-less")
	f.BoolVar(&opts.EstimationEnabled, "estimation-enabled", env.WithDefaultBool("ESTIMATION_ENABLED", false), "Fall back to an estimated line from recent scoring when no sportsbook line exists")

	// Worker fleet
	f.StringVar(&opts.SystemID, "system-id", env.WithDefaultString("SYSTEM_ID", "ensemble_v1"), "The prediction system identity stamped on every record")
	f.IntVar(&opts.Concurrency, "concurrency", env.WithDefaultInt("CONCURRENCY", 8), "The worker fleet size for one batch")
	f.Float64Var(&opts.Deadband, "deadband", env.WithDefaultFloat64("DEADBAND", 1.0), "The band around the line, in points, inside which a prediction is a PASS")
	f.IntVar(&opts.FeatureCacheSize, "feature-cache-size", env.WithDefaultInt("FEATURE_CACHE_SIZE", 2048), "Capacity of the in-process LRU of per-player feature vectors")

	// Healing
	f.Float64Var(&opts.StaleThreshold, "stale-threshold", env.WithDefaultFloat64("STALE_THRESHOLD", 1.0), "Line movement, in points, that makes an active prediction stale in CHECK_LINES mode")
	f.IntVar(&opts.LookbackDays, "lookback-days", env.WithDefaultInt("LOOKBACK_DAYS", 7), "How many days back gap detection scans for under-graded dates")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	// Flags follow the subcommand, so parsing starts at os.Args[2].
	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	err := o.Parse(args)

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

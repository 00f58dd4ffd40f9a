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

// Package operator wires stores, providers, and controllers into one
// runnable unit for the CLI.
package operator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/cache"
	"github.com/hoopsight/propcore/pkg/consolidation"
	"github.com/hoopsight/propcore/pkg/controllers/batchrun"
	"github.com/hoopsight/propcore/pkg/grading"
	"github.com/hoopsight/propcore/pkg/healing"
	"github.com/hoopsight/propcore/pkg/inference"
	"github.com/hoopsight/propcore/pkg/locks"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
	"github.com/hoopsight/propcore/pkg/operator/options"
	"github.com/hoopsight/propcore/pkg/providers/boxscore"
	"github.com/hoopsight/propcore/pkg/providers/features"
	"github.com/hoopsight/propcore/pkg/providers/lines"
	"github.com/hoopsight/propcore/pkg/providers/slate"
	"github.com/hoopsight/propcore/pkg/staging"
	"github.com/hoopsight/propcore/pkg/store"
	"github.com/hoopsight/propcore/pkg/worker"
)

// Operator is the assembled system: every controller the CLI exposes, plus
// the shared stores underneath them.
type Operator struct {
	Options  *options.Options
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Store    *store.Client
	Locker   *locks.Locker
	Registry *prometheus.Registry

	Slate        *slate.Builder
	Worker       *worker.Worker
	Staging      *staging.BufferedWriter
	Consolidator *consolidation.Consolidator
	Grader       *grading.Grader
	Tracker      *healing.Tracker
	Gaps         *healing.GapDetector
	BatchHealer  *healing.BatchHealer
	Coordinator  *batchrun.Coordinator
}

// NewOperator connects to the stores, runs migrations, and wires the
// controllers. The context bounds the staging buffer's lifetime; cancel it
// only at shutdown.
func NewOperator(ctx context.Context, opts *options.Options) (*Operator, error) {
	pool, err := pgxpool.New(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to the analytical store, %w", err)
	}
	if err := store.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("running migrations, %w", err)
	}
	client := store.NewClient(pool,
		store.WithQueryTimeout(opts.QueryTimeout),
		store.WithLoadTimeout(opts.LoadTimeout),
	)

	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s, %w", opts.RedisAddr, err)
	}
	locker := locks.NewLocker(rdb)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	featureCache, err := cache.NewFeatureCache(opts.FeatureCacheSize, nil)
	if err != nil {
		return nil, err
	}
	featureProvider := features.NewProvider(client, featureCache, cache.NewDateKeyed())

	lineProvider := lines.NewProvider(lines.NewSQLSource(client),
		lines.WithEstimation(opts.EstimationEnabled))
	slateBuilder := slate.NewBuilder(slate.NewSQLSource(client), lineProvider)

	buffered := staging.NewBufferedWriter(ctx, staging.NewWriter(client),
		staging.DefaultMaxPeriod, staging.DefaultIdlePeriod, staging.DefaultMaxBuffer)
	fleetWorker := worker.NewWorker(featureProvider, inference.NewBaseline(), buffered,
		opts.SystemID, worker.WithDeadband(opts.Deadband))

	consolidator := consolidation.NewConsolidator(client, locker,
		consolidation.WithMaxWait(opts.MaxLockWait))
	grader := grading.NewGrader(client, locker, boxscore.NewProvider(client),
		grading.WithMaxWait(opts.MaxLockWait))

	tracker := healing.NewTracker(rdb, client)
	coordinator := batchrun.NewCoordinator(slateBuilder, fleetWorker,
		&settledConsolidator{buffered: buffered, inner: consolidator}, client,
		batchrun.WithConcurrency(opts.Concurrency),
		batchrun.WithStaleThreshold(opts.StaleThreshold),
		batchrun.WithSlateOptions(slate.Options{
			MinMinutes:       opts.MinMinutes,
			UseMultipleLines: opts.UseMultipleLines,
			LineSpreadRadius: opts.LineSpreadRadius,
			LineSpreadStep:   opts.LineSpreadStep,
			RequireRealLines: opts.RequireRealLines,
		}),
	)

	return &Operator{
		Options:      opts,
		Pool:         pool,
		Redis:        rdb,
		Store:        client,
		Locker:       locker,
		Registry:     registry,
		Slate:        slateBuilder,
		Worker:       fleetWorker,
		Staging:      buffered,
		Consolidator: consolidator,
		Grader:       grader,
		Tracker:      tracker,
		Gaps:         healing.NewGapDetector(client, grader, tracker),
		BatchHealer:  healing.NewBatchHealer(client, tracker),
		Coordinator:  coordinator,
	}, nil
}

// ServeMetrics exposes the prometheus registry until ctx is canceled.
func (o *Operator) ServeMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", o.Options.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.FromContext(ctx).Errorf("metrics server exited, %s", err)
	}
}

// Close releases store connections.
func (o *Operator) Close() {
	o.Pool.Close()
	_ = o.Redis.Close()
}

// settledConsolidator waits for the staging buffer to drain a batch before
// handing it to consolidation.
type settledConsolidator struct {
	buffered *staging.BufferedWriter
	inner    *consolidation.Consolidator
}

func (s *settledConsolidator) Consolidate(ctx context.Context, batchID string, gameDate prediction.GameDate) (prediction.ConsolidationResult, error) {
	s.buffered.Settle(batchID)
	return s.inner.Consolidate(ctx, batchID, gameDate)
}

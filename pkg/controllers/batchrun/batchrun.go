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

// Package batchrun coordinates one prediction batch: slate assembly, the
// worker fan-out, and the consolidation pass, with progress bookkeeping the
// stalled-batch healer can watch.
package batchrun

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/providers/slate"
	"github.com/hoopsight/propcore/pkg/store"
)

const (
	// DefaultConcurrency is the worker fleet size for one batch.
	DefaultConcurrency = 8
	// DefaultStaleThreshold is the line movement, in points, that makes an
	// active prediction stale in CHECK_LINES mode.
	DefaultStaleThreshold = 1.0
)

// SlateSource assembles the day's requests. *slate.Builder implements it.
type SlateSource interface {
	BuildSlate(ctx context.Context, date prediction.GameDate, opts slate.Options) ([]prediction.PredictionRequest, error)
	FindStalePredictions(ctx context.Context, date prediction.GameDate, threshold float64) ([]string, error)
}

// RequestHandler executes one request. *worker.Worker implements it.
type RequestHandler interface {
	HandleRequest(ctx context.Context, request prediction.PredictionRequest, batchID, workerID string) (prediction.StagingWriteResult, error)
}

// Consolidator merges the batch's staging tables. *consolidation.Consolidator
// implements it.
type Consolidator interface {
	Consolidate(ctx context.Context, batchID string, gameDate prediction.GameDate) (prediction.ConsolidationResult, error)
}

// Coordinator drives batches end to end.
type Coordinator struct {
	slate          SlateSource
	handler        RequestHandler
	consolidator   Consolidator
	store          *store.Client
	concurrency    int
	staleThreshold float64
	slateOpts      slate.Options
}

type Option func(*Coordinator)

func WithConcurrency(n int) Option {
	return func(c *Coordinator) { c.concurrency = n }
}

func WithStaleThreshold(threshold float64) Option {
	return func(c *Coordinator) { c.staleThreshold = threshold }
}

func WithSlateOptions(opts slate.Options) Option {
	return func(c *Coordinator) { c.slateOpts = opts }
}

func NewCoordinator(slateSource SlateSource, handler RequestHandler, consolidator Consolidator, client *store.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		slate:          slateSource,
		handler:        handler,
		consolidator:   consolidator,
		store:          client,
		concurrency:    DefaultConcurrency,
		staleThreshold: DefaultStaleThreshold,
		slateOpts:      slate.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartBatch runs one batch for the date. Individual request failures never
// sink the batch; they are counted and the rest consolidates. CHECK_LINES
// mode narrows the slate to players whose line has moved since their active
// prediction.
func (c *Coordinator) StartBatch(ctx context.Context, gameDate prediction.GameDate, mode prediction.BatchMode) (prediction.BatchResult, error) {
	batchID := newBatchID(gameDate, mode)
	log := logging.FromContext(ctx).With(
		"batch-id", batchID,
		"game-date", gameDate.String(),
		"mode", string(mode),
	)
	result := prediction.BatchResult{
		Status:   prediction.StatusFailure,
		BatchID:  batchID,
		GameDate: gameDate,
		Mode:     mode,
	}

	requests, err := c.slate.BuildSlate(ctx, gameDate, c.slateOpts)
	if err != nil {
		return result, fmt.Errorf("building slate, %w", err)
	}
	if mode == prediction.BatchModeCheckLines {
		requests, err = c.filterStale(ctx, gameDate, requests)
		if err != nil {
			return result, err
		}
	}
	result.PlayersRequested = len(requests)
	if len(requests) == 0 {
		log.Infof("empty slate, nothing to predict")
		result.Status = prediction.StatusNoData
		return result, nil
	}

	if _, err := c.store.Exec(ctx, insertBatchStateSQL, batchID, gameDate.String(), string(mode), len(requests)); err != nil {
		return result, fmt.Errorf("registering batch state, %w", err)
	}

	var completed, predicted, failed atomic.Int64
	sem := semaphore.NewWeighted(int64(c.concurrency))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, request := range requests {
		request := request
		workerID := fmt.Sprintf("w%02d", i%c.concurrency)
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			writeResult, err := c.handler.HandleRequest(groupCtx, request, batchID, workerID)
			switch {
			case err != nil:
				failed.Add(1)
				log.With("player", request.PlayerLookup).Errorf("request failed, %s", err)
			case writeResult.InsufficientData:
				// Not a failure; the player just has no features yet.
			default:
				predicted.Add(1)
			}
			done := completed.Add(1)
			if _, err := c.store.Exec(groupCtx, progressBatchStateSQL, batchID, done); err != nil {
				log.Warnf("failed to update batch progress, %s", err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, fmt.Errorf("running worker fleet, %w", err)
	}
	result.PlayersPredicted = int(predicted.Load())
	result.PlayersFailed = int(failed.Load())

	consolidation, err := c.consolidator.Consolidate(ctx, batchID, gameDate)
	result.Consolidation = &consolidation
	if err != nil {
		return result, fmt.Errorf("consolidating batch, %w", err)
	}
	if !consolidation.Success() {
		log.Errorf("consolidation did not succeed, leaving batch incomplete")
		return result, nil
	}

	if _, err := c.store.Exec(ctx, completeBatchStateSQL, batchID, completed.Load()); err != nil {
		log.Warnf("failed to mark batch complete, %s", err)
	}
	log.With(
		"requested", result.PlayersRequested,
		"predicted", result.PlayersPredicted,
		"failed", result.PlayersFailed,
		"rows-merged", consolidation.RowsAffected,
	).Infof("batch complete")
	result.Status = prediction.StatusSuccess
	return result, nil
}

func (c *Coordinator) filterStale(ctx context.Context, gameDate prediction.GameDate, requests []prediction.PredictionRequest) ([]prediction.PredictionRequest, error) {
	stale, err := c.slate.FindStalePredictions(ctx, gameDate, c.staleThreshold)
	if err != nil {
		return nil, fmt.Errorf("finding stale predictions, %w", err)
	}
	staleSet := lo.SliceToMap(stale, func(player string) (string, struct{}) { return player, struct{}{} })
	return lo.Filter(requests, func(request prediction.PredictionRequest, _ int) bool {
		_, ok := staleSet[request.PlayerLookup]
		return ok
	}), nil
}

func newBatchID(gameDate prediction.GameDate, mode prediction.BatchMode) string {
	date := strings.ReplaceAll(gameDate.String(), "-", "")
	return fmt.Sprintf("%s_%s_%s", date, strings.ToLower(string(mode)), uuid.NewString()[:8])
}

const insertBatchStateSQL = `
INSERT INTO predictions.batch_state (batch_id, game_date, mode, players_expected, created_at, last_updated_at)
VALUES ($1, $2::date, $3, $4, NOW(), NOW())
ON CONFLICT (batch_id) DO NOTHING`

// progressBatchStateSQL tolerates out-of-order updates from the fleet.
const progressBatchStateSQL = `
UPDATE predictions.batch_state
SET players_completed = GREATEST(players_completed, $2), last_updated_at = NOW()
WHERE batch_id = $1`

const completeBatchStateSQL = `
UPDATE predictions.batch_state
SET is_complete = TRUE, players_completed = GREATEST(players_completed, $2), last_updated_at = NOW()
WHERE batch_id = $1`

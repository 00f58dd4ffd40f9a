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

package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/store"
)

const (
	// StallIdle is how long a batch must sit unchanged before it counts as
	// stalled.
	StallIdle = 15 * time.Minute
	// StallMinCompletion is the completion percentage below which a stalled
	// batch is a real failure, not a near-finished straggler.
	StallMinCompletion = 90.0
	// StallMaxAge keeps the healer off ancient batches; those are operator
	// territory.
	StallMaxAge = 24 * time.Hour
)

// BatchHealer force-completes batches that finished nearly all their players
// but never flipped their completion flag, usually a crashed coordinator.
type BatchHealer struct {
	store   *store.Client
	tracker *Tracker
}

func NewBatchHealer(client *store.Client, tracker *Tracker) *BatchHealer {
	return &BatchHealer{store: client, tracker: tracker}
}

// stalledCandidatesSQL pre-filters on the time conditions; the completion
// threshold is applied in code where the percentage lives.
const stalledCandidatesSQL = `
SELECT batch_id, game_date::text, mode, players_expected, players_completed,
       is_complete, created_at, last_updated_at
FROM predictions.batch_state
WHERE NOT is_complete
  AND last_updated_at < NOW() - $1::interval
  AND created_at > NOW() - $2::interval
ORDER BY created_at`

const forceCompleteSQL = `
UPDATE predictions.batch_state
SET is_complete = TRUE, last_updated_at = NOW()
WHERE batch_id = $1 AND NOT is_complete`

// CleanupStalled force-completes every stalled batch and records each action.
// Returns the batches it completed.
func (h *BatchHealer) CleanupStalled(ctx context.Context) ([]prediction.BatchState, error) {
	log := logging.FromContext(ctx)
	var candidates []prediction.BatchState
	err := h.store.Query(ctx, func(rows pgx.Rows) error {
		var state prediction.BatchState
		var dateStr, modeStr string
		if err := rows.Scan(&state.BatchID, &dateStr, &modeStr, &state.PlayersExpected,
			&state.PlayersCompleted, &state.IsComplete, &state.CreatedAt, &state.LastUpdatedAt); err != nil {
			return err
		}
		state.GameDate = prediction.GameDate(dateStr)
		state.Mode = prediction.BatchMode(modeStr)
		candidates = append(candidates, state)
		return nil
	}, stalledCandidatesSQL,
		fmt.Sprintf("%d minutes", int(StallIdle.Minutes())),
		fmt.Sprintf("%d hours", int(StallMaxAge.Hours())))
	if err != nil {
		return nil, fmt.Errorf("loading stalled batch candidates, %w", err)
	}

	var completed []prediction.BatchState
	for _, state := range candidates {
		if state.CompletionPct() < StallMinCompletion {
			continue
		}
		affected, err := h.store.Exec(ctx, forceCompleteSQL, state.BatchID)
		if err != nil {
			log.With("batch-id", state.BatchID).Errorf("failed to force-complete stalled batch, %s", err)
			continue
		}
		if affected == 0 {
			// Someone else completed it between the read and the update.
			continue
		}
		after := state
		after.IsComplete = true
		completed = append(completed, after)

		if _, _, err := h.tracker.Record(ctx,
			prediction.HealingTypeForceComplete,
			fmt.Sprintf("batch idle %s at %.0f%% completion", StallIdle, state.CompletionPct()),
			fmt.Sprintf("force-completed batch %s", state.BatchID),
			state, after, true,
			map[string]string{"batch_id": state.BatchID, "game_date": state.GameDate.String()},
		); err != nil {
			log.Warnf("failed to record force-complete healing event, %s", err)
		}
	}
	if len(completed) > 0 {
		log.With("batches", len(completed)).Infof("force-completed stalled batches")
	}
	return completed, nil
}

// Sweeper drops orphaned staging tables. *consolidation.Consolidator
// implements it.
type Sweeper interface {
	SweepOrphans(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// SweepOrphans runs the staging-table sweep and records a healing event when
// anything was dropped.
func SweepOrphans(ctx context.Context, sweeper Sweeper, tracker *Tracker, olderThan time.Duration) ([]string, error) {
	dropped, err := sweeper.SweepOrphans(ctx, olderThan)
	if err != nil {
		return dropped, err
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	if _, _, recordErr := tracker.Record(ctx,
		prediction.HealingTypeOrphanSweep,
		fmt.Sprintf("%d staging tables older than %s", len(dropped), olderThan),
		fmt.Sprintf("dropped %d orphaned staging tables", len(dropped)),
		dropped, []string{}, true,
		map[string]string{"count": fmt.Sprintf("%d", len(dropped))},
	); recordErr != nil {
		logging.FromContext(ctx).Warnf("failed to record orphan sweep healing event, %s", recordErr)
	}
	return dropped, nil
}

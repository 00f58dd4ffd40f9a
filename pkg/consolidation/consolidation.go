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

// Package consolidation merges staged worker output into the main
// predictions table exactly once per business key, under the consolidation
// lock for the game date.
package consolidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	propcoreerrors "github.com/hoopsight/propcore/pkg/errors"
	"github.com/hoopsight/propcore/pkg/locks"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
	"github.com/hoopsight/propcore/pkg/staging"
	"github.com/hoopsight/propcore/pkg/store"
)

const (
	// DefaultMaxWait bounds lock acquisition for one consolidation pass.
	DefaultMaxWait = 120 * time.Second
	// DefaultOrphanAge is how old an unconsolidated staging table must be
	// before the sweep drops it.
	DefaultOrphanAge = 24 * time.Hour
)

// Consolidator runs the merge critical section.
type Consolidator struct {
	store   *store.Client
	locker  *locks.Locker
	maxWait time.Duration
	clock   clock.Clock
}

type Option func(*Consolidator)

func WithMaxWait(d time.Duration) Option {
	return func(c *Consolidator) { c.maxWait = d }
}

func WithClock(cl clock.Clock) Option {
	return func(c *Consolidator) { c.clock = cl }
}

func NewConsolidator(client *store.Client, locker *locks.Locker, opts ...Option) *Consolidator {
	c := &Consolidator{
		store:   client,
		locker:  locker,
		maxWait: DefaultMaxWait,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consolidate merges every staging table of the batch into the main table,
// deactivates superseded rows, validates business-key uniqueness, and drops
// the staging tables on success. Idempotent: a second call finds no staging
// tables and succeeds without touching the main table.
//
// The lock key is the game date, not the batch: concurrent batches on the
// same date would otherwise race their inserts. If the lock budget is
// exhausted the pass proceeds anyway; the post-write validation is the
// backstop, and duplicates fail the pass rather than going unnoticed.
func (c *Consolidator) Consolidate(ctx context.Context, batchID string, gameDate prediction.GameDate) (prediction.ConsolidationResult, error) {
	log := logging.FromContext(ctx).With("batch-id", batchID, "game-date", gameDate.String())
	result := prediction.ConsolidationResult{
		Status:   prediction.StatusFailure,
		BatchID:  batchID,
		GameDate: gameDate,
	}
	start := c.clock.Now()
	defer func() { metrics.ConsolidationDuration.Observe(c.clock.Since(start).Seconds()) }()

	operationID := "consolidate-" + batchID
	handle, err := c.locker.Acquire(ctx, prediction.LockConsolidation, gameDate, operationID, c.maxWait)
	switch {
	case err == nil:
		result.LockAcquired = true
		defer handle.Release(ctx)
	case propcoreerrors.IsLockAcquisition(err):
		log.Errorf("consolidation lock not acquired, proceeding without it, %s", err)
	default:
		return result, fmt.Errorf("acquiring consolidation lock, %w", err)
	}

	tables, err := c.stagingTables(ctx, batchID)
	if err != nil {
		return result, err
	}
	if len(tables) == 0 {
		log.Infof("no staging tables found, nothing to consolidate")
		result.Status = prediction.StatusSuccess
		return result, nil
	}

	columns, err := c.commonColumns(ctx, tables)
	if err != nil {
		return result, err
	}
	staged, err := c.stagedRowCount(ctx, tables)
	if err != nil {
		return result, err
	}

	affected, err := c.store.Exec(ctx, buildMergeSQL(tables, columns))
	if err != nil {
		return result, fmt.Errorf("merging %d staging tables, %w", len(tables), err)
	}
	result.RowsAffected = affected
	result.StagingTablesMerged = len(tables)
	if affected == 0 && staged > 0 {
		log.Errorf("merge affected 0 rows with %d staged, retaining staging tables", staged)
		return result, nil
	}
	metrics.ConsolidationRows.Add(float64(affected))

	if _, err := c.store.Exec(ctx, deactivateSupersededSQL, gameDate.String()); err != nil {
		return result, fmt.Errorf("deactivating superseded rows, %w", err)
	}

	duplicates, err := store.QueryValue[int64](ctx, c.store, duplicateKeysSQL, gameDate.String())
	if err != nil {
		return result, fmt.Errorf("validating business keys, %w", err)
	}
	if duplicates > 0 {
		// Retain the staging tables for forensics.
		metrics.ConsolidationDuplicates.Add(float64(duplicates))
		log.Errorf("%d duplicate business keys after merge, retaining staging tables", duplicates)
		result.Status = prediction.StatusDuplicatesDetected
		result.DuplicateCount = int(duplicates)
		return result, nil
	}

	for _, table := range tables {
		if err := c.dropTable(ctx, table); err != nil {
			log.Warnf("failed to drop staging table %s, orphan sweep will collect it, %s", table, err)
			continue
		}
		result.StagingTablesCleaned++
	}

	log.With(
		"rows-affected", affected,
		"tables-merged", result.StagingTablesMerged,
		"tables-cleaned", result.StagingTablesCleaned,
	).Infof("consolidated batch")
	result.Status = prediction.StatusSuccess
	return result, nil
}

// SweepOrphans drops staging tables left behind by crashed batches: those
// whose newest row is older than olderThan, and empty tables whose batch day
// is entirely past the cutoff. Returns the dropped table names.
func (c *Consolidator) SweepOrphans(ctx context.Context, olderThan time.Duration) ([]string, error) {
	tables, err := c.stagingTables(ctx, "")
	if err != nil {
		return nil, err
	}
	cutoff := c.clock.Now().Add(-olderThan)
	var dropped []string
	for _, table := range tables {
		newest, err := store.QueryValue[*time.Time](ctx, c.store,
			fmt.Sprintf(`SELECT MAX(created_at) FROM %s.%s`, staging.Schema, table))
		if err != nil {
			if propcoreerrors.IsTableNotFound(err) {
				continue
			}
			return dropped, fmt.Errorf("inspecting staging table %s, %w", table, err)
		}
		if newest != nil && newest.After(cutoff) {
			continue
		}
		if newest == nil && !emptyTableExpired(table, cutoff) {
			continue
		}
		if err := c.dropTable(ctx, table); err != nil {
			return dropped, err
		}
		dropped = append(dropped, table)
	}
	if len(dropped) > 0 {
		logging.FromContext(ctx).With("tables", dropped).Infof("swept orphaned staging tables")
	}
	return dropped, nil
}

// emptyTableExpired decides whether an empty staging table is old enough to
// drop. With no rows to date it, the batch date embedded in the table name is
// the only age signal: the table cannot predate its batch's date, so it has
// expired once the whole batch day sits past the cutoff. A table whose name
// carries no parseable date is kept for a later sweep; a worker may be about
// to load into it.
func emptyTableExpired(table string, cutoff time.Time) bool {
	day, ok := tableBatchDate(table)
	return ok && day.Add(24*time.Hour).Before(cutoff)
}

// tableBatchDate recovers the batch date from a staging table name, which
// starts with the batch ID's yyyymmdd prefix.
func tableBatchDate(table string) (time.Time, bool) {
	rest := strings.TrimPrefix(table, staging.TablePrefix)
	if len(rest) < 8 {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", rest[:8])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

const stagingTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_name LIKE $2 ESCAPE '\'
ORDER BY table_name`

// stagingTables enumerates the batch's staging tables; an empty batchID
// matches every staging table.
func (c *Consolidator) stagingTables(ctx context.Context, batchID string) ([]string, error) {
	pattern := likeEscape(staging.TablePrefix)
	if batchID != "" {
		pattern = likeEscape(staging.TableName(batchID, "")) // trailing _ before worker id
	}
	pattern += "%"
	var tables []string
	err := c.store.Query(ctx, func(rows pgx.Rows) error {
		var table string
		if err := rows.Scan(&table); err != nil {
			return err
		}
		tables = append(tables, table)
		return nil
	}, stagingTablesSQL, staging.Schema, pattern)
	if err != nil {
		return nil, fmt.Errorf("enumerating staging tables, %w", err)
	}
	return tables, nil
}

// commonColumns intersects each staging table's columns with the canonical
// column list, preserving canonical order. A staging table written by an
// older worker may carry a subset of the main table's columns.
func (c *Consolidator) commonColumns(ctx context.Context, tables []string) ([]string, error) {
	common := lo.SliceToMap(prediction.RecordColumns, func(column string) (string, struct{}) {
		return column, struct{}{}
	})
	for _, table := range tables {
		present := map[string]struct{}{}
		err := c.store.Query(ctx, func(rows pgx.Rows) error {
			var column string
			if err := rows.Scan(&column); err != nil {
				return err
			}
			present[column] = struct{}{}
			return nil
		}, tableColumnsSQL, staging.Schema, table)
		if err != nil {
			return nil, fmt.Errorf("introspecting staging table %s, %w", table, err)
		}
		for column := range common {
			if _, ok := present[column]; !ok {
				delete(common, column)
			}
		}
	}
	columns := lo.Filter(prediction.RecordColumns, func(column string, _ int) bool {
		_, ok := common[column]
		return ok
	})
	if len(columns) == 0 {
		return nil, fmt.Errorf("staging tables share no columns with %s.%s", staging.Schema, staging.MainTable)
	}
	return columns, nil
}

func (c *Consolidator) stagedRowCount(ctx context.Context, tables []string) (int64, error) {
	counts := lo.Map(tables, func(table string, _ int) string {
		return fmt.Sprintf("SELECT COUNT(*) AS n FROM %s.%s", staging.Schema, table)
	})
	sql := fmt.Sprintf(`SELECT COALESCE(SUM(n), 0)::bigint FROM (%s) AS counts`, joinSQL(counts, " UNION ALL "))
	total, err := store.QueryValue[int64](ctx, c.store, sql)
	if err != nil {
		return 0, fmt.Errorf("counting staged rows, %w", err)
	}
	return total, nil
}

func (c *Consolidator) dropTable(ctx context.Context, table string) error {
	_, err := c.store.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s`, staging.Schema, table))
	if err != nil && !propcoreerrors.IsTableNotFound(err) {
		return err
	}
	return nil
}

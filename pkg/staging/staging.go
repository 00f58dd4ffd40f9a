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

// Package staging owns the per-worker staging tables: short-lived clones of
// the main predictions table that workers append to without DML.
package staging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	propcoreerrors "github.com/hoopsight/propcore/pkg/errors"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/store"
	"github.com/hoopsight/propcore/pkg/utils/sanitize"
)

const (
	// Schema holds both the main predictions table and its staging clones.
	Schema = "predictions"
	// MainTable is the consolidated predictions table.
	MainTable = "player_prop_predictions"
	// TablePrefix marks staging clones; the consolidator and the orphan
	// sweep enumerate by it.
	TablePrefix = "_staging_"
)

// TableName renders the staging table for a (batch, worker) pair. IDs are
// sanitized so UUID-style identifiers conform to table-name rules.
func TableName(batchID, workerID string) string {
	return TablePrefix + sanitizeIdent(batchID) + "_" + sanitizeIdent(workerID)
}

// sanitizeIdent lowercases and maps everything outside [a-z0-9_] (hyphens
// above all) to underscores.
func sanitizeIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
}

// Writer appends prediction records to staging tables, creating each table
// on first use by cloning the main table's schema.
type Writer struct {
	store *store.Client

	schemaOnce sync.Once
	schemaErr  error
}

func NewWriter(client *store.Client) *Writer {
	return &Writer{store: client}
}

// Write appends records for one (batch, worker) pair. The table is created
// if missing; the load itself is a bulk append, never DML, so a retried
// request at worst duplicates rows that consolidation deduplicates.
func (w *Writer) Write(ctx context.Context, records []prediction.Record, batchID, workerID string) (prediction.StagingWriteResult, error) {
	table := TableName(batchID, workerID)
	result := prediction.StagingWriteResult{StagingTableName: table}
	if len(records) == 0 {
		result.Status = prediction.StatusSuccess
		return result, nil
	}

	w.schemaOnce.Do(func() { w.schemaErr = w.validateSchema(ctx) })
	if w.schemaErr != nil {
		result.Status = prediction.StatusWriteFailed
		return result, w.schemaErr
	}

	if err := w.ensureTable(ctx, table); err != nil {
		result.Status = prediction.StatusWriteFailed
		return result, fmt.Errorf("creating staging table %s, %w", table, err)
	}

	rows := lo.Map(records, func(r prediction.Record, _ int) []any { return sanitize.Values(r.Values()) })
	loaded, err := w.store.CopyFrom(ctx, pgx.Identifier{Schema, table}, prediction.RecordColumns, rows)
	if err != nil {
		result.Status = prediction.StatusWriteFailed
		return result, fmt.Errorf("loading %d records into %s, %w", len(records), table, err)
	}

	logging.FromContext(ctx).With(
		"staging-table", table,
		"rows", loaded,
	).Debugf("staged prediction records")
	result.Status = prediction.StatusSuccess
	result.RowsWritten = int(loaded)
	return result, nil
}

func (w *Writer) ensureTable(ctx context.Context, table string) error {
	_, err := w.store.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s.%s (LIKE %s.%s INCLUDING DEFAULTS)`,
		Schema, table, Schema, MainTable,
	))
	return err
}

const tableColumnsSQL = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`

// validateSchema checks once per process that every column the writer
// produces exists on the main table. A mismatch is operator action, not a
// retry, so the failure is sticky.
func (w *Writer) validateSchema(ctx context.Context) error {
	known := map[string]struct{}{}
	err := w.store.Query(ctx, func(rows pgx.Rows) error {
		var column string
		if err := rows.Scan(&column); err != nil {
			return err
		}
		known[column] = struct{}{}
		return nil
	}, tableColumnsSQL, Schema, MainTable)
	if err != nil {
		return fmt.Errorf("introspecting %s.%s, %w", Schema, MainTable, err)
	}

	unknown := lo.Filter(prediction.RecordColumns, func(column string, _ int) bool {
		_, ok := known[column]
		return !ok
	})
	if len(unknown) > 0 {
		return &propcoreerrors.SchemaMismatchError{
			Table:         Schema + "." + MainTable,
			UnknownFields: unknown,
		}
	}
	return nil
}

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

package staging

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/batcher"
	"github.com/hoopsight/propcore/pkg/logging"
)

const (
	DefaultMaxPeriod  = 10 * time.Second
	DefaultIdlePeriod = time.Second
	DefaultMaxBuffer  = 250
)

// BufferedWriter funnels worker writes through a window batcher so many
// small per-player writes land on each staging table as a few bulk appends.
// Write reports success once records are buffered; load failures surface at
// flush time in logs and are caught by consolidation's row-count validation.
type BufferedWriter struct {
	writer  *Writer
	batcher *batcher.Batcher

	mu sync.Mutex
	// pending tracks open window keys per batch so Settle knows what to
	// wait on before consolidation.
	pending map[string][]string
}

// NewBufferedWriter starts the flush monitor; it stops, draining in-flight
// windows, when ctx is canceled.
func NewBufferedWriter(ctx context.Context, writer *Writer, maxPeriod, idlePeriod time.Duration, maxBuffer int) *BufferedWriter {
	b := &BufferedWriter{
		writer:  writer,
		pending: map[string][]string{},
	}
	b.batcher = batcher.New(maxPeriod, idlePeriod, maxBuffer, b.flushWindow)
	b.batcher.Start(ctx)
	return b
}

// Write buffers the records for their (batch, worker) staging table.
func (b *BufferedWriter) Write(_ context.Context, records []prediction.Record, batchID, workerID string) (prediction.StagingWriteResult, error) {
	result := prediction.StagingWriteResult{
		Status:           prediction.StatusSuccess,
		StagingTableName: TableName(batchID, workerID),
	}
	if len(records) == 0 {
		return result, nil
	}

	key := batchID + "/" + workerID
	b.mu.Lock()
	if !lo.Contains(b.pending[batchID], key) {
		b.pending[batchID] = append(b.pending[batchID], key)
	}
	b.mu.Unlock()

	for _, record := range records {
		b.batcher.Add(key, record)
	}
	result.RowsWritten = len(records)
	return result, nil
}

// Settle blocks until every buffered window for the batch has been flushed.
// Consolidation must not start while records are still in flight.
func (b *BufferedWriter) Settle(batchID string) {
	for {
		b.mu.Lock()
		keys := append([]string(nil), b.pending[batchID]...)
		b.mu.Unlock()
		if len(keys) == 0 {
			return
		}
		for _, key := range keys {
			b.batcher.Wait(key)
		}
	}
}

func (b *BufferedWriter) flushWindow(ctx context.Context, key string, records []prediction.Record) {
	batchID, workerID, _ := strings.Cut(key, "/")
	if _, err := b.writer.Write(ctx, records, batchID, workerID); err != nil {
		logging.FromContext(ctx).With(
			"staging-table", TableName(batchID, workerID),
			"rows", len(records),
		).Errorf("flushing buffered records, %s", err)
	}

	// Cleared after the load so Settle cannot slip past an in-flight flush.
	b.mu.Lock()
	b.pending[batchID] = lo.Without(b.pending[batchID], key)
	if len(b.pending[batchID]) == 0 {
		delete(b.pending, batchID)
	}
	b.mu.Unlock()
}

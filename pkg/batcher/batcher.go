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

// Package batcher coalesces prediction records into flush windows so workers
// append to staging tables in bulk instead of row by row.
package batcher

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
)

const (
	opAdd  = "add"
	opWait = "wait"
)

// FlushFunc receives a drained window. It runs on the monitor goroutine, so
// implementations should hand slow work (staging writes) to their own worker.
type FlushFunc func(ctx context.Context, key string, records []prediction.Record)

// Batcher is a batch manager for multiple staging destinations
type Batcher struct {
	// MaxPeriod is the maximum amount of time to batch incoming records before flushing
	MaxPeriod time.Duration
	// IdlePeriod is the amount of time to wait to flush a batch when there are no incoming records but the batch is not empty
	// It should be a smaller duration than MaxPeriod
	IdlePeriod time.Duration
	// MaxRecords flushes a window early once it holds this many records
	MaxRecords int

	clock clock.WithTicker
	flush FlushFunc
	// windows keeps a mapping of a key (a staging table destination) to that destination's batch window
	windows map[string]*window
	// ops is a stream of add and wait operations on a batch window
	ops chan *batchOp
	// isMonitorRunning indicates if the monitor go routine has been started
	isMonitorRunning bool
}

type batchOp struct {
	kind    string
	key     string
	record  *prediction.Record
	waitEnd chan bool
}

// window is an individual batch window
type window struct {
	lastUpdated time.Time
	started     time.Time
	records     []prediction.Record
	closed      []chan bool
}

// New creates a new batch manager to start multiple batch windows
func New(maxPeriod, idlePeriod time.Duration, maxRecords int, flush FlushFunc) *Batcher {
	return &Batcher{
		MaxPeriod:  maxPeriod,
		IdlePeriod: idlePeriod,
		MaxRecords: maxRecords,
		clock:      clock.RealClock{},
		flush:      flush,
		windows:    map[string]*window{},
	}
}

// WithClock overrides the wall clock, for tests.
func (b *Batcher) WithClock(c clock.WithTicker) *Batcher {
	b.clock = c
	return b
}

// Start should be called before Add or Wait
// It is not safe to call Start concurrently
// but Start can be called synchronously multiple times w/ no effect
func (b *Batcher) Start(ctx context.Context) {
	if !b.isMonitorRunning {
		b.ops = make(chan *batchOp, 1000)
		go b.monitor(ctx)
		b.isMonitorRunning = true
	}
}

// Add starts a batching window or adds to an existing in-progress window
// Add is safe to be called concurrently
func (b *Batcher) Add(key string, record prediction.Record) {
	b.ops <- &batchOp{kind: opAdd, key: key, record: &record}
}

// Wait blocks until the batching window for key ends and its records have
// been handed to the flush func
// If the batch is empty, it will block until something is added or the window times out
func (b *Batcher) Wait(key string) {
	waitBatchOp := &batchOp{kind: opWait, key: key, waitEnd: make(chan bool, 1)}
	timeout := b.clock.NewTimer(b.MaxPeriod)
	select {
	case b.ops <- waitBatchOp:
		<-waitBatchOp.waitEnd
	// if the ops channel is full (should be very rare), allow wait to block until the MaxPeriod
	case <-timeout.C():
	}
}

// monitor is a synchronous loop that controls the window start, update, and end
// monitor should be executed in one go routine and will handle all destination batch windows
func (b *Batcher) monitor(ctx context.Context) {
	defer func() { b.isMonitorRunning = false }()
	ticker := b.clock.NewTicker(b.IdlePeriod / 2)
	defer ticker.Stop()
	for {
		select {
		// Wake and check for any timed out batch windows
		case <-ticker.C():
			for key, batch := range b.windows {
				b.checkForWindowEndAndNotify(ctx, key, batch)
			}
		// Process window operations
		case op := <-b.ops:
			switch op.kind {
			// Start a new window or update progress on a window
			case opAdd:
				window := b.startOrUpdateWindow(op.key)
				window.records = append(window.records, *op.record)
				if b.MaxRecords > 0 && len(window.records) >= b.MaxRecords {
					b.endWindow(ctx, op.key, window)
				}
			// Register a waiter and start a window if no window has been started
			case opWait:
				window, ok := b.windows[op.key]
				if !ok {
					window = b.startOrUpdateWindow(op.key)
				}
				window.closed = append(window.closed, op.waitEnd)
			}
		// Stop monitor routine on shutdown, flushing anything in flight
		case <-ctx.Done():
			for key, window := range b.windows {
				b.endWindow(ctx, key, window)
			}
			return
		}
	}
}

// checkForWindowEndAndNotify checks if a window has timed out due to inactivity (IdlePeriod) or has reached the MaxPeriod.
// If the batch window has ended, then the flush func receives the records and the window is removed
func (b *Batcher) checkForWindowEndAndNotify(ctx context.Context, key string, window *window) {
	if b.clock.Since(window.lastUpdated) < b.IdlePeriod && b.clock.Since(window.started) < b.MaxPeriod {
		return
	}
	b.endWindow(ctx, key, window)
}

// endWindow hands the window's records to the flush func, signals the end of
// the window to all wait consumers, and deletes the window
func (b *Batcher) endWindow(ctx context.Context, key string, window *window) {
	if len(window.records) > 0 && b.flush != nil {
		b.flush(ctx, key, window.records)
	}
	for _, end := range window.closed {
		select {
		case end <- true:
			close(end)
		default:
		}
	}
	delete(b.windows, key)
}

// startOrUpdateWindow starts a new window for the destination key if one does not already exist
// if a window already exists for the destination key, then the lastUpdate time is set
func (b *Batcher) startOrUpdateWindow(key string) *window {
	batchWindow, ok := b.windows[key]
	if !ok {
		batchWindow = &window{lastUpdated: b.clock.Now(), started: b.clock.Now()}
		b.windows[key] = batchWindow
		return batchWindow
	}
	batchWindow.lastUpdated = b.clock.Now()
	if batchWindow.started.IsZero() {
		batchWindow.started = b.clock.Now()
	}
	return batchWindow
}

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

// Package healing records self-healing actions and runs the detectors that
// trigger them: grading gaps, stalled batches, and orphaned staging tables.
package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
	"github.com/hoopsight/propcore/pkg/store"
)

const (
	// eventKeyPrefix namespaces the realtime pattern-query sorted sets.
	eventKeyPrefix = "healing_events/"
	// eventRetention bounds the realtime sets; pattern windows never look
	// further back than 24 h.
	eventRetention = 48 * time.Hour

	yellowCount1h = 3
	redCount24h   = 10
	criticalRate  = 0.20
)

// Tracker appends healing events to the realtime store (for pattern queries)
// and mirrors them into the analytics store (for long-term queries).
type Tracker struct {
	redis redis.Cmdable
	store *store.Client
	clock clock.PassiveClock
}

type TrackerOption func(*Tracker)

func WithTrackerClock(c clock.PassiveClock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

func NewTracker(rdb redis.Cmdable, client *store.Client, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		redis: rdb,
		store: client,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record durably appends one healing event. Before and after are arbitrary
// state snapshots; they are fingerprinted so the audit trail can show whether
// an action changed anything without storing the entity itself. Returns the
// stored event and the alert level the new pattern implies.
func (t *Tracker) Record(ctx context.Context, eventType, triggerReason, actionTaken string, before, after any, success bool, metadata map[string]string) (prediction.HealingEvent, prediction.AlertLevel, error) {
	event := prediction.HealingEvent{
		ID:            uuid.NewString(),
		Timestamp:     t.clock.Now().UTC(),
		Type:          eventType,
		TriggerReason: triggerReason,
		ActionTaken:   actionTaken,
		Success:       success,
		Metadata:      metadata,
	}
	var err error
	if event.BeforeState, err = fingerprint(before); err != nil {
		return event, prediction.AlertNone, err
	}
	if event.AfterState, err = fingerprint(after); err != nil {
		return event, prediction.AlertNone, err
	}

	if err := t.appendRealtime(ctx, event); err != nil {
		return event, prediction.AlertNone, err
	}
	if err := t.mirror(ctx, event); err != nil {
		return event, prediction.AlertNone, err
	}
	metrics.HealingEvents.WithLabelValues(eventType, fmt.Sprintf("%t", success)).Inc()

	level, err := t.CheckPattern(ctx, eventType)
	if err != nil {
		return event, prediction.AlertNone, err
	}
	if level != prediction.AlertNone {
		logging.FromContext(ctx).With(
			"event-type", eventType,
			"alert-level", string(level),
		).Warnf("healing pattern threshold crossed")
	}
	return event, level, nil
}

func fingerprint(state any) (uint64, error) {
	if state == nil {
		return 0, nil
	}
	hash, err := hashstructure.Hash(state, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("fingerprinting state, %w", err)
	}
	return hash, nil
}

func (t *Tracker) appendRealtime(ctx context.Context, event prediction.HealingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding healing event, %w", err)
	}
	score := float64(event.Timestamp.UnixMilli())
	key := eventKeyPrefix + event.Type
	pipe := t.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
	if !event.Success {
		pipe.ZAdd(ctx, key+"/failures", redis.Z{Score: score, Member: payload})
	}
	cutoff := fmt.Sprintf("%d", t.clock.Now().Add(-eventRetention).UnixMilli())
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	pipe.ZRemRangeByScore(ctx, key+"/failures", "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending healing event to realtime store, %w", err)
	}
	return nil
}

const insertEventSQL = `
INSERT INTO orchestration.healing_events
    (event_id, event_time, event_type, trigger_reason, action_taken,
     before_state, after_state, success, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (t *Tracker) mirror(ctx context.Context, event prediction.HealingEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encoding healing metadata, %w", err)
	}
	_, err = t.store.Exec(ctx, insertEventSQL,
		event.ID, event.Timestamp, event.Type, event.TriggerReason, event.ActionTaken,
		int64(event.BeforeState), int64(event.AfterState), event.Success, metadata)
	if err != nil {
		return fmt.Errorf("mirroring healing event, %w", err)
	}
	return nil
}

// CheckPattern grades the recent event pattern for a type. Critical beats
// red beats yellow; critical fires on failure rate, the others on volume.
func (t *Tracker) CheckPattern(ctx context.Context, eventType string) (prediction.AlertLevel, error) {
	key := eventKeyPrefix + eventType
	now := t.clock.Now()

	count1h, err := t.countSince(ctx, key, now.Add(-time.Hour))
	if err != nil {
		return prediction.AlertNone, err
	}
	count24h, err := t.countSince(ctx, key, now.Add(-24*time.Hour))
	if err != nil {
		return prediction.AlertNone, err
	}
	failures24h, err := t.countSince(ctx, key+"/failures", now.Add(-24*time.Hour))
	if err != nil {
		return prediction.AlertNone, err
	}

	switch {
	case count24h > 0 && float64(failures24h)/float64(count24h) > criticalRate:
		return prediction.AlertCritical, nil
	case count24h >= redCount24h:
		return prediction.AlertRed, nil
	case count1h >= yellowCount1h:
		return prediction.AlertYellow, nil
	}
	return prediction.AlertNone, nil
}

func (t *Tracker) countSince(ctx context.Context, key string, since time.Time) (int64, error) {
	count, err := t.redis.ZCount(ctx, key, fmt.Sprintf("%d", since.UnixMilli()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting events in %s, %w", key, err)
	}
	return count, nil
}

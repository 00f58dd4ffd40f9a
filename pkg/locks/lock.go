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

// Package locks implements the lease-based distributed mutex keyed by
// (lock_type, game_date). Locks live as documents in redis; conditional
// create is SET NX with a lease TTL, so a crashed holder's lock reclaims
// itself once the lease passes.
package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	propcoreerrors "github.com/hoopsight/propcore/pkg/errors"
	"github.com/hoopsight/propcore/pkg/apis/prediction"
	"github.com/hoopsight/propcore/pkg/logging"
	"github.com/hoopsight/propcore/pkg/metrics"
)

const (
	DefaultLease      = 300 * time.Second
	DefaultRetryDelay = 2 * time.Second
	DefaultMaxWait    = 120 * time.Second

	maxAttempts = 60
)

// Document is the stored representation of a held lock.
type Document struct {
	AcquiredAt       time.Time `json:"acquired_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	OperationID      string    `json:"operation_id"`
	HolderInstanceID string    `json:"holder_instance_id"`
}

// Locker acquires and releases distributed locks.
type Locker struct {
	redis      redis.Cmdable
	clock      clock.Clock
	instanceID string
	lease      time.Duration
	retryDelay time.Duration
}

// Option mutates a Locker at construction.
type Option func(*Locker)

// WithLease overrides the lease duration.
func WithLease(d time.Duration) Option {
	return func(l *Locker) { l.lease = d }
}

// WithRetryDelay overrides the base delay between acquisition attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Locker) { l.retryDelay = d }
}

// WithClock substitutes the clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(l *Locker) { l.clock = c }
}

func NewLocker(rdb redis.Cmdable, opts ...Option) *Locker {
	l := &Locker{
		redis:      rdb,
		clock:      clock.RealClock{},
		instanceID: uuid.NewString(),
		lease:      DefaultLease,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handle represents a held lock.
type Handle struct {
	locker      *Locker
	key         string
	lockType    prediction.LockType
	operationID string
}

// Key returns the document path of the lock.
func (h *Handle) Key() string { return h.key }

func key(lockType prediction.LockType, gameDate prediction.GameDate) string {
	return fmt.Sprintf("%s_locks/%s", lockType, gameDate)
}

// Acquire blocks until the (lockType, gameDate) lock is held, the maxWait
// budget elapses, or the attempt cap is reached. On budget exhaustion it
// returns a LockAcquisitionError; callers either abort or proceed on a
// degraded validation-heavy path.
func (l *Locker) Acquire(ctx context.Context, lockType prediction.LockType, gameDate prediction.GameDate, operationID string, maxWait time.Duration) (*Handle, error) {
	log := logging.FromContext(ctx).With(
		"lock-type", string(lockType),
		"game-date", gameDate.String(),
		"operation-id", operationID,
	)
	lockKey := key(lockType, gameDate)
	start := l.clock.Now()
	deadline := start.Add(maxWait)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := l.clock.Now()
		doc := Document{
			AcquiredAt:       now,
			ExpiresAt:        now.Add(l.lease),
			OperationID:      operationID,
			HolderInstanceID: l.instanceID,
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding lock document, %w", err)
		}
		created, err := l.redis.SetNX(ctx, lockKey, payload, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("creating lock document %s, %w", lockKey, err)
		}
		if created {
			metrics.LockWait.WithLabelValues(string(lockType)).Observe(l.clock.Since(start).Seconds())
			log.Debugf("acquired lock after %d attempts", attempt+1)
			return &Handle{locker: l, key: lockKey, lockType: lockType, operationID: operationID}, nil
		}

		// Someone holds it. Reclaim only if their lease has lapsed.
		if l.reclaimIfStale(ctx, lockKey, log) {
			continue
		}
		if l.clock.Now().Add(l.jitteredDelay()).After(deadline) {
			break
		}
		l.clock.Sleep(l.jitteredDelay())
	}

	metrics.LockFailures.WithLabelValues(string(lockType)).Inc()
	return nil, &propcoreerrors.LockAcquisitionError{LockType: string(lockType), GameDate: gameDate.String()}
}

// compareAndDeleteScript deletes the key only while it still holds the
// expected payload, so a reclaim cannot race a fresh holder's SetNX between
// our read and our delete.
var compareAndDeleteScript = redis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) end return 0`)

// reclaimIfStale deletes the lock document when its recorded lease has
// expired. The TTL on the key normally handles this; the explicit check
// covers documents written without a TTL or with a skewed one.
func (l *Locker) reclaimIfStale(ctx context.Context, lockKey string, log interface{ Warnf(string, ...any) }) bool {
	payload, err := l.redis.Get(ctx, lockKey).Bytes()
	if err != nil {
		// Absent means the holder released between our create and read.
		return err == redis.Nil
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		log.Warnf("malformed lock document at %s, reclaiming, %s", lockKey, err)
		return l.compareAndDelete(ctx, lockKey, payload)
	}
	if doc.ExpiresAt.Before(l.clock.Now()) {
		log.Warnf("reclaiming stale lock held by %s since %s", doc.HolderInstanceID, doc.AcquiredAt)
		return l.compareAndDelete(ctx, lockKey, payload)
	}
	return false
}

func (l *Locker) compareAndDelete(ctx context.Context, lockKey string, expected []byte) bool {
	deleted, err := compareAndDeleteScript.Run(ctx, l.redis, []string{lockKey}, expected).Int()
	return err == nil && deleted == 1
}

func (l *Locker) jitteredDelay() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(l.retryDelay) / 2))
	return l.retryDelay + jitter
}

// Release deletes the lock document. A failed delete is logged but not
// surfaced: the critical section already completed, and an expired lease
// releases itself.
func (h *Handle) Release(ctx context.Context) {
	if err := h.locker.redis.Del(ctx, h.key).Err(); err != nil {
		logging.FromContext(ctx).With(
			"lock-key", h.key,
			"operation-id", h.operationID,
		).Warnf("failed to release lock, lease will expire on its own, %s", err)
	}
}

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

// Package cache holds the in-process caches shared by workers: a bounded
// LRU for feature vectors and date-keyed TTL caches for game context and
// history. TTLs are short for "today" (lines and context still move) and
// long for historical dates (box scores don't change).
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gocache "github.com/patrickmn/go-cache"
	"k8s.io/utils/clock"

	"github.com/hoopsight/propcore/pkg/apis/prediction"
)

const (
	DefaultFeatureCacheSize = 2048
	DefaultTodayTTL         = 5 * time.Minute
	DefaultHistoricalTTL    = 6 * time.Hour
)

// FeatureCache is a bounded LRU of per-player feature rows. Eviction order
// is strictly least-recently-accessed.
type FeatureCache struct {
	lru *lru.Cache[string, *prediction.FeatureRow]
}

// NewFeatureCache builds a feature cache of the given capacity. onEvict may
// be nil; it observes evicted keys.
func NewFeatureCache(size int, onEvict func(key string)) (*FeatureCache, error) {
	cache, err := lru.NewWithEvict(size, func(key string, _ *prediction.FeatureRow) {
		if onEvict != nil {
			onEvict(key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("building feature cache, %w", err)
	}
	return &FeatureCache{lru: cache}, nil
}

func featureKey(player string, date prediction.GameDate) string {
	return player + "|" + date.String()
}

// Get returns the cached feature row and marks it recently used.
func (c *FeatureCache) Get(player string, date prediction.GameDate) (*prediction.FeatureRow, bool) {
	return c.lru.Get(featureKey(player, date))
}

// Set stores a feature row, evicting the least recently used entry when full.
func (c *FeatureCache) Set(player string, date prediction.GameDate, row *prediction.FeatureRow) {
	c.lru.Add(featureKey(player, date), row)
}

// Len returns the number of resident entries.
func (c *FeatureCache) Len() int { return c.lru.Len() }

// Keys returns resident keys from oldest to newest access.
func (c *FeatureCache) Keys() []string { return c.lru.Keys() }

// DateKeyed is a TTL cache whose entry lifetime depends on whether the entry's
// game date is today.
type DateKeyed struct {
	cache         *gocache.Cache
	todayTTL      time.Duration
	historicalTTL time.Duration
	clock         clock.PassiveClock
}

// Option mutates a DateKeyed cache at construction.
type Option func(*DateKeyed)

// WithTTLs overrides both TTLs.
func WithTTLs(today, historical time.Duration) Option {
	return func(d *DateKeyed) {
		d.todayTTL = today
		d.historicalTTL = historical
	}
}

// WithClock substitutes the clock, for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(d *DateKeyed) { d.clock = c }
}

func NewDateKeyed(opts ...Option) *DateKeyed {
	d := &DateKeyed{
		todayTTL:      DefaultTodayTTL,
		historicalTTL: DefaultHistoricalTTL,
		clock:         clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cache = gocache.New(d.historicalTTL, 10*time.Minute)
	return d
}

func (d *DateKeyed) ttlFor(date prediction.GameDate) time.Duration {
	if date.String() == d.clock.Now().UTC().Format("2006-01-02") {
		return d.todayTTL
	}
	return d.historicalTTL
}

func (d *DateKeyed) key(date prediction.GameDate, name string) string {
	return date.String() + "|" + name
}

// Set stores a value under (date, name) with the date-appropriate TTL.
func (d *DateKeyed) Set(date prediction.GameDate, name string, value any) {
	d.cache.Set(d.key(date, name), value, d.ttlFor(date))
}

// Get returns the value stored under (date, name).
func (d *DateKeyed) Get(date prediction.GameDate, name string) (any, bool) {
	return d.cache.Get(d.key(date, name))
}

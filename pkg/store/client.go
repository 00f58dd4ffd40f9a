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

// Package store wraps the analytical store with per-call timeouts and the
// core's retry discipline: transient classes get exponential backoff with
// jitter, everything else fails fast.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoopsight/propcore/pkg/errors"
	"github.com/hoopsight/propcore/pkg/logging"
)

const (
	DefaultQueryTimeout = 60 * time.Second
	DefaultLoadTimeout  = 300 * time.Second

	retryAttempts     = 6
	retryInitialDelay = 1 * time.Second
	retryMaxDelay     = 32 * time.Second
	retryTotalBudget  = 120 * time.Second
)

// Pool is the subset of pgxpool.Pool the core uses; tests substitute fakes.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Client is the shared store handle.
type Client struct {
	pool         Pool
	queryTimeout time.Duration
	loadTimeout  time.Duration
}

// Option mutates a Client at construction.
type Option func(*Client)

// WithQueryTimeout overrides the per-query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Client) { c.queryTimeout = d }
}

// WithLoadTimeout overrides the per-load timeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Client) { c.loadTimeout = d }
}

func NewClient(pool Pool, opts ...Option) *Client {
	c := &Client{
		pool:         pool,
		queryTimeout: DefaultQueryTimeout,
		loadTimeout:  DefaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exec runs a statement and returns the number of rows affected. Transient
// failures are retried; the statement must therefore be idempotent or
// conflict-safe (MERGE, conditional UPDATE, DDL).
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := c.withRetry(ctx, "exec", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
		tag, err := c.pool.Exec(callCtx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// Query runs a query and streams rows through collect. The rows handle is
// closed before Query returns. Transient failures retry only until the first
// row reaches collect: collect typically appends into a caller accumulator,
// and a re-run after delivery would hand it the same rows again.
func (c *Client) Query(ctx context.Context, collect func(pgx.Rows) error, sql string, args ...any) error {
	delivered := false
	return c.withRetryIf(ctx, "query",
		func(err error) bool { return !delivered && errors.IsTransient(err) },
		func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
			defer cancel()
			rows, err := c.pool.Query(callCtx, sql, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				delivered = true
				if err := collect(rows); err != nil {
					return err
				}
			}
			return rows.Err()
		})
}

// QueryValue runs a single-value query.
func QueryValue[T any](ctx context.Context, c *Client, sql string, args ...any) (T, error) {
	var out T
	found := false
	err := c.Query(ctx, func(rows pgx.Rows) error {
		found = true
		return rows.Scan(&out)
	}, sql, args...)
	if err != nil {
		return out, err
	}
	if !found {
		return out, fmt.Errorf("query returned no rows")
	}
	return out, nil
}

// CopyFrom performs a non-DML append load of the given rows.
func (c *Client) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	var loaded int64
	err := c.withRetry(ctx, "copy", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
		defer cancel()
		n, err := c.pool.CopyFrom(callCtx, table, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		loaded = n
		return nil
	})
	return loaded, err
}

func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	return c.withRetryIf(ctx, op, errors.IsTransient, fn)
}

func (c *Client) withRetryIf(ctx context.Context, op string, retryIf func(error) bool, fn func(context.Context) error) error {
	budgetCtx, cancel := context.WithTimeout(ctx, retryTotalBudget)
	defer cancel()
	return retry.Do(
		func() error { return fn(budgetCtx) },
		retry.Context(budgetCtx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryInitialDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
		retry.OnRetry(func(attempt uint, err error) {
			logging.FromContext(ctx).With(
				"operation", op,
				"attempt", attempt,
			).Warnf("transient store error, retrying, %s", err)
		}),
	)
}

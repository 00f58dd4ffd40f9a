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

// Package fake provides in-memory doubles for the store pool and the
// inference boundary, used across the package test suites.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ExecCall records one Exec invocation.
type ExecCall struct {
	SQL  string
	Args []any
}

// CopyCall records one CopyFrom invocation.
type CopyCall struct {
	Table   pgx.Identifier
	Columns []string
	Rows    [][]any
}

// QueryBehavior matches queries by substring and supplies canned rows.
type QueryBehavior struct {
	Match string
	Rows  [][]any
	Err   error
	// RowsErr surfaces from the rows' Err after the canned rows stream.
	RowsErr error
	// Once consumes the behavior on first match, letting tests stack
	// different results for identical statements.
	Once bool
}

// Pool is an in-memory store.Pool. Behaviors are matched by SQL substring;
// unmatched queries return no rows, unmatched execs succeed with the
// configured default row count.
type Pool struct {
	mu sync.Mutex

	ExecCalls  []ExecCall
	QueryCalls []string
	CopyCalls  []CopyCall

	// ExecRows is the rows-affected count reported for execs without a
	// specific behavior.
	ExecRows int64
	// ExecErrors maps a SQL substring to an error returned for matching execs.
	ExecErrors map[string]error
	// ExecRowCounts maps a SQL substring to a specific rows-affected count.
	ExecRowCounts map[string]int64
	// QueryBehaviors are checked in order; first substring match wins.
	QueryBehaviors []QueryBehavior
	// CopyError fails every CopyFrom when set.
	CopyError error
}

func NewPool() *Pool {
	return &Pool{
		ExecErrors:    map[string]error{},
		ExecRowCounts: map[string]int64{},
	}
}

// OnQuery registers canned rows for queries containing match.
func (p *Pool) OnQuery(match string, rows ...[]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryBehaviors = append(p.QueryBehaviors, QueryBehavior{Match: match, Rows: rows})
}

// OnQueryOnce registers canned rows consumed by the first matching query.
func (p *Pool) OnQueryOnce(match string, rows ...[]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryBehaviors = append(p.QueryBehaviors, QueryBehavior{Match: match, Rows: rows, Once: true})
}

// OnQueryError registers an error for queries containing match.
func (p *Pool) OnQueryError(match string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryBehaviors = append(p.QueryBehaviors, QueryBehavior{Match: match, Err: err})
}

// OnQueryErrorOnce registers an error consumed by the first matching query.
func (p *Pool) OnQueryErrorOnce(match string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryBehaviors = append(p.QueryBehaviors, QueryBehavior{Match: match, Err: err, Once: true})
}

// OnQueryRowsError registers canned rows whose stream fails with err after
// the rows are delivered.
func (p *Pool) OnQueryRowsError(match string, err error, rows ...[]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryBehaviors = append(p.QueryBehaviors, QueryBehavior{Match: match, Rows: rows, RowsErr: err})
}

func (p *Pool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExecCalls = append(p.ExecCalls, ExecCall{SQL: sql, Args: args})
	for match, err := range p.ExecErrors {
		if strings.Contains(sql, match) {
			return pgconn.CommandTag{}, err
		}
	}
	rows := p.ExecRows
	for match, count := range p.ExecRowCounts {
		if strings.Contains(sql, match) {
			rows = count
		}
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", rows)), nil
}

func (p *Pool) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryCalls = append(p.QueryCalls, sql)
	for i, behavior := range p.QueryBehaviors {
		if strings.Contains(sql, behavior.Match) {
			if behavior.Once {
				p.QueryBehaviors = append(p.QueryBehaviors[:i], p.QueryBehaviors[i+1:]...)
			}
			if behavior.Err != nil {
				return nil, behavior.Err
			}
			return NewRowsWithErr(behavior.Rows, behavior.RowsErr), nil
		}
	}
	return NewRows(nil), nil
}

func (p *Pool) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CopyError != nil {
		return 0, p.CopyError
	}
	call := CopyCall{Table: table, Columns: columns}
	for src.Next() {
		row, err := src.Values()
		if err != nil {
			return int64(len(call.Rows)), err
		}
		call.Rows = append(call.Rows, row)
	}
	p.CopyCalls = append(p.CopyCalls, call)
	return int64(len(call.Rows)), nil
}

// Executed reports whether any exec contained the given substring.
func (p *Pool) Executed(match string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, call := range p.ExecCalls {
		if strings.Contains(call.SQL, match) {
			return true
		}
	}
	return false
}

// Queried reports whether any query contained the given substring.
func (p *Pool) Queried(match string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sql := range p.QueryCalls {
		if strings.Contains(sql, match) {
			return true
		}
	}
	return false
}

// Reset clears recorded calls and behaviors.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExecCalls = nil
	p.QueryCalls = nil
	p.CopyCalls = nil
	p.ExecErrors = map[string]error{}
	p.ExecRowCounts = map[string]int64{}
	p.QueryBehaviors = nil
	p.CopyError = nil
	p.ExecRows = 0
}

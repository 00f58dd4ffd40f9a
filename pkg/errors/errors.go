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

// Package errors classifies store errors into the retry policy classes:
// transient errors are retried with backoff, everything else fails fast.
package errors

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// SQLSTATE classes. Transient codes cover serialization conflicts on the
// MERGE path, deadlocks, connection loss and resource exhaustion (the
// store-side quota analogue).
var (
	transientCodes = map[string]struct{}{
		"40001": {}, // serialization_failure
		"40P01": {}, // deadlock_detected
		"53200": {}, // out_of_memory
		"53300": {}, // too_many_connections
		"53400": {}, // configuration_limit_exceeded
		"57P03": {}, // cannot_connect_now
		"08000": {}, // connection_exception
		"08003": {}, // connection_does_not_exist
		"08006": {}, // connection_failure
	}
	schemaCodes = map[string]struct{}{
		"42703": {}, // undefined_column
		"42804": {}, // datatype_mismatch
	}
)

const undefinedTableCode = "42P01"

// LockAcquisitionError is returned when a distributed lock could not be
// obtained within its budget.
type LockAcquisitionError struct {
	LockType string
	GameDate string
}

func (e *LockAcquisitionError) Error() string {
	return "failed to acquire " + e.LockType + " lock for " + e.GameDate
}

// IsLockAcquisition returns true for lock-budget exhaustion, even wrapped.
func IsLockAcquisition(err error) bool {
	var lae *LockAcquisitionError
	return errors.As(err, &lae)
}

// SchemaMismatchError is raised when a worker produces a field the main
// table does not have. Fixing the table is operator action, not a retry.
type SchemaMismatchError struct {
	Table         string
	UnknownFields []string
}

func (e *SchemaMismatchError) Error() string {
	return "fields " + strings.Join(e.UnknownFields, ", ") + " are not columns of " + e.Table
}

// IsSchemaMismatch returns true for schema validation failures, even wrapped.
func IsSchemaMismatch(err error) bool {
	var sme *SchemaMismatchError
	if errors.As(err, &sme) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := schemaCodes[pgErr.Code]
		return ok
	}
	return false
}

// IsTransient returns true if the error is worth retrying: store
// serialization conflicts, connection loss, resource exhaustion, timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return true
		}
		return false
	}
	if pgconn.Timeout(err) {
		return true
	}
	// go-redis surfaces most transient conditions as plain error strings
	msg := err.Error()
	return errors.Is(err, redis.TxFailedErr) ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "LOADING")
}

// IsTableNotFound returns true when a referenced relation does not exist.
// A missing staging table is success on cleanup; a missing main table is fatal.
func IsTableNotFound(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == undefinedTableCode
	}
	return false
}

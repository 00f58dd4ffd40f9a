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

package fake

import (
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is an in-memory pgx.Rows over canned values. Scan assigns by
// reflection: nil sources leave pointer destinations nil, scalar sources
// convert into the destination type.
type Rows struct {
	rows [][]any
	idx  int
	err  error
}

func NewRows(rows [][]any) *Rows {
	return &Rows{rows: rows, idx: -1}
}

// NewRowsWithErr returns rows whose Err reports err once iteration runs past
// the canned values, mimicking a stream that breaks mid-result.
func NewRowsWithErr(rows [][]any, err error) *Rows {
	return &Rows{rows: rows, idx: -1, err: err}
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *Rows) Values() ([]any, error) {
	return r.rows[r.idx], nil
}

func (r *Rows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("scan expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer")
	}
	elem := dv.Elem()
	if src == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	// Unwrap pointer sources so a canned *float64 scans like a value.
	for sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			elem.Set(reflect.Zero(elem.Type()))
			return nil
		}
		sv = sv.Elem()
	}
	// Optional destinations allocate on non-nil source.
	if elem.Kind() == reflect.Ptr {
		target := reflect.New(elem.Type().Elem())
		if err := set(target.Elem(), sv); err != nil {
			return err
		}
		elem.Set(target)
		return nil
	}
	return set(elem, sv)
}

func set(dst, src reflect.Value) error {
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot scan %s into %s", src.Type(), dst.Type())
}

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

// Package sanitize normalizes values before they are written to the store.
// The only values that leave this package are bools, ints, finite floats,
// control-character-free strings, and nils.
package sanitize

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Float returns nil for NaN and ±Inf, otherwise a pointer to the value.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// OptFloat applies Float to an optional value.
func OptFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

// String strips control characters. The store rejects rows containing them
// and a single bad reason string would otherwise fail a whole batch.
func String(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Round rounds to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// OptRound rounds an optional value, passing nil and non-finite values through Float.
func OptRound(v *float64, places int) *float64 {
	cleaned := OptFloat(v)
	if cleaned == nil {
		return nil
	}
	rounded := Round(*cleaned, places)
	return &rounded
}

// Values sanitizes one row of column values on its way into a load.
// Unknown scalar kinds are dropped to nil rather than passed through.
func Values(row []any) []any {
	out := make([]any, len(row))
	for i, val := range row {
		out[i] = Value(val)
	}
	return out
}

// Value sanitizes a single scalar.
func Value(val any) any {
	switch v := val.(type) {
	case nil:
		return nil
	case bool, int, int32, int64, time.Time:
		return v
	case float32:
		return deref(Float(float64(v)))
	case float64:
		return deref(Float(v))
	case *float64:
		return deref(OptFloat(v))
	case string:
		return String(v)
	case *string:
		if v == nil {
			return nil
		}
		return String(*v)
	case *int:
		if v == nil {
			return nil
		}
		return *v
	case *int64:
		if v == nil {
			return nil
		}
		return *v
	case *bool:
		if v == nil {
			return nil
		}
		return *v
	case *time.Time:
		if v == nil {
			return nil
		}
		return *v
	default:
		return nil
	}
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

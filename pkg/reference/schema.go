// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reference

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/boringdata/kurt-core/pkg/filter"
)

// StructSchema derives a RowSchema from a struct's `kurt:"col,type"` tags,
// the same reflection approach pkg/config uses for resolving typed config,
// so a model declares its output shape once as a plain Go struct instead of
// hand-writing Columns/NewScanDest/RowFromScanDest.
//
// Supported tag shape: `kurt:"column_name"`. The first field tagged
// `kurt:"id"` (by column name "id") is used as filter.Row.ID when present;
// the column named "url" (if any) populates filter.Row.URL.
type StructSchema[T any] struct {
	typ     reflect.Type
	columns []string
	fields  []int // struct field index per column, in Columns() order
}

// NewStructSchema builds a StructSchema for T by scanning its `kurt:"..."`
// struct tags. It panics on a malformed T, since a model's output schema is
// fixed at compile time and such a mistake is a programmer error caught
// immediately at registration.
func NewStructSchema[T any]() *StructSchema[T] {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("reference: NewStructSchema requires a struct type, got %s", typ.Kind()))
	}

	s := &StructSchema[T]{typ: typ}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		col, ok := f.Tag.Lookup("kurt")
		if !ok {
			continue
		}
		col = strings.SplitN(col, ",", 2)[0]
		s.columns = append(s.columns, col)
		s.fields = append(s.fields, i)
	}
	if len(s.columns) == 0 {
		panic(fmt.Sprintf("reference: %s has no kurt-tagged fields", typ.Name()))
	}
	return s
}

// Columns returns the SELECT column list in struct field order.
func (s *StructSchema[T]) Columns() []string { return s.columns }

// NewScanDest returns addressable scan targets for a fresh T, one per
// column, matching Columns order.
func (s *StructSchema[T]) NewScanDest() []any {
	val := reflect.New(s.typ).Elem()
	dest := make([]any, len(s.fields))
	for i, fieldIdx := range s.fields {
		dest[i] = scanAdapter(val.Field(fieldIdx))
	}
	return dest
}

// RowFromScanDest converts scanned destinations back into a filter.Row,
// carrying the whole decoded struct as Row.Value.
func (s *StructSchema[T]) RowFromScanDest(dest []any) filter.Row {
	val := reflect.New(s.typ).Elem()
	for i, fieldIdx := range s.fields {
		assignScanned(val.Field(fieldIdx), dest[i])
	}
	decoded := val.Interface()

	row := filter.Row{Value: decoded}
	for i, col := range s.columns {
		switch col {
		case "id":
			row.ID = fmt.Sprintf("%v", val.Field(s.fields[i]).Interface())
		case "url":
			row.URL = fmt.Sprintf("%v", val.Field(s.fields[i]).Interface())
		case "cluster":
			row.Cluster = fmt.Sprintf("%v", val.Field(s.fields[i]).Interface())
		case "status":
			row.Status = fmt.Sprintf("%v", val.Field(s.fields[i]).Interface())
		case "content_type":
			row.ContentType = fmt.Sprintf("%v", val.Field(s.fields[i]).Interface())
		}
	}
	return row
}

// scanAdapter returns a pointer of the appropriate nullable sql type for
// field's kind, since database/sql.Rows.Scan requires concrete *T targets.
func scanAdapter(field reflect.Value) any {
	switch field.Kind() {
	case reflect.String:
		return new(sql.NullString)
	case reflect.Int, reflect.Int32, reflect.Int64:
		return new(sql.NullInt64)
	case reflect.Float32, reflect.Float64:
		return new(sql.NullFloat64)
	case reflect.Bool:
		return new(sql.NullBool)
	default:
		return new(sql.NullString)
	}
}

func assignScanned(field reflect.Value, dest any) {
	switch d := dest.(type) {
	case *sql.NullString:
		if d.Valid {
			field.SetString(d.String)
		}
	case *sql.NullInt64:
		if d.Valid {
			field.SetInt(d.Int64)
		}
	case *sql.NullFloat64:
		if d.Valid {
			field.SetFloat(d.Float64)
		}
	case *sql.NullBool:
		if d.Valid {
			field.SetBool(d.Bool)
		}
	}
}

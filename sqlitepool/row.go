package sqlitepool

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ColumnValue is one (column name, value) pair of a Row.
type ColumnValue struct {
	Column string
	Value  any
}

// Row is an ordered column-name to value mapping built once per cursor step.
//
// Column names are case-insensitive-unique within a Row. Values are the
// native scalars of the engine: int64, float64, string, []byte or nil.
//
// While rows can be constructed directly with BuildRow, they are normally
// produced by a cursor, which resolves duplicate result-column names with
// ResolveColumnNames before construction.
type Row struct {
	names  []string
	values []any
	index  map[string]int
}

// BuildRow is a factory method for Row.
//
// The given names must already be unique (see ResolveColumnNames); a later
// duplicate silently shadows the earlier one in lookups. Both slices are
// referenced, not copied.
func BuildRow(names []string, values []any) Row {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[strings.ToLower(name)] = i
	}

	return Row{
		names:  names,
		values: values,
		index:  index,
	}
}

// ResolveColumnNames maps raw result-column names to unique Row keys.
//
// Names are compared case-insensitively. The first occurrence keeps its bare
// name; every repeat is suffixed with an ascending occurrence counter, so a
// result set of (id, name, name) yields (id, name, name1). Duplicate-named
// columns from joins thereby remain independently addressable.
func ResolveColumnNames(names []string) []string {
	resolved := make([]string, len(names))
	taken := make(map[string]int, len(names))

	for i, name := range names {
		key := strings.ToLower(name)

		occurrence, seen := taken[key]
		if !seen {
			taken[key] = 1
			resolved[i] = name

			continue
		}

		candidate := name + strconv.Itoa(occurrence)
		for {
			if _, clash := taken[strings.ToLower(candidate)]; !clash {
				break
			}

			occurrence++
			candidate = name + strconv.Itoa(occurrence)
		}

		taken[key] = occurrence + 1
		taken[strings.ToLower(candidate)] = 1
		resolved[i] = candidate
	}

	return resolved
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	return len(r.names)
}

// Columns returns the resolved column names in result order.
func (r Row) Columns() []string {
	return r.names
}

// Get returns the value of the named column. The lookup is case-insensitive.
// The second return value is false when no such column exists.
func (r Row) Get(name string) (any, bool) {
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return nil, false
	}

	return r.values[i], true
}

// Set replaces the value of the named column in place and reports whether
// the column exists.
func (r Row) Set(name string, value any) bool {
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return false
	}

	r.values[i] = value

	return true
}

// AsPositional returns the row values in result-column order.
func (r Row) AsPositional() []any {
	return r.values
}

// AsOrderedPairs returns the row as (column, value) pairs in result order.
func (r Row) AsOrderedPairs() []ColumnValue {
	pairs := make([]ColumnValue, len(r.names))
	for i, name := range r.names {
		pairs[i] = ColumnValue{Column: name, Value: r.values[i]}
	}

	return pairs
}

// MarshalJSON renders the row as a JSON object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	stream := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(nil)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(stream)

	stream.WriteObjectStart()

	for i, name := range r.names {
		if i > 0 {
			stream.WriteMore()
		}

		stream.WriteObjectField(name)
		stream.WriteVal(r.values[i])
	}

	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}

	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())

	return out, nil
}

package tabular

import (
	"encoding/json"
	"sort"
)

// Record is one data row keyed by header name.
//
// The zero Record is empty and valid. Records produced by Parse share their
// key slice with every other record of the same parse; Keys returns a copy.
type Record struct {
	keys   []string
	values map[string]string
}

// RecordOf builds a Record from alternating key/value arguments, keeping the
// key order given. A trailing key without a value maps to "".
func RecordOf(kv ...string) Record {
	r := Record{values: make(map[string]string, (len(kv)+1)/2)}
	for i := 0; i < len(kv); i += 2 {
		v := ""
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		r.set(kv[i], v)
	}
	return r
}

// FromMap builds a Record from m. Map iteration order is random, so keys are
// ordered lexically.
func FromMap(m map[string]string) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := Record{keys: keys, values: make(map[string]string, len(m))}
	for k, v := range m {
		r.values[k] = v
	}
	return r
}

// Get returns the cell for key, or "" when the record has no such column.
func (r Record) Get(key string) string {
	return r.values[key]
}

// Lookup returns the cell for key and whether the column exists.
func (r Record) Lookup(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the column names in header order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.keys)
}

// MarshalJSON encodes the record as a flat JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.values)
}

func (r *Record) set(key, value string) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

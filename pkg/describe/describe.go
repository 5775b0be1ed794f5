// Package describe renders a job description tree as plain YAML.
//
// The rendered form is consumed by systems that know nothing about
// this program's internals, so it must contain only plain mappings,
// sequences and scalars. Values outside that model are flattened to
// their string form rather than rejected: rendering is total and a
// failure here is itself a defect, not an expected outcome.
package describe

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"
)

// Render encodes a description tree as YAML. It never fails; if the
// encoder rejects the normalized tree the flat string form of the
// input is returned instead.
func Render(v any) string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(normalize(v)); err != nil {
		return fmt.Sprintln(v)
	}
	if err := enc.Close(); err != nil {
		return fmt.Sprintln(v)
	}
	return buf.String()
}

// normalize rewrites a description tree into the plain value model:
// maps with string keys, slices, and scalar leaves. Any other value
// becomes its fmt.Sprint form, so the encoder never sees a type it
// would tag.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		keys := rv.MapKeys()
		// Stable key order keeps renders reproducible for non-string keys.
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			out[fmt.Sprint(k.Interface())] = normalize(rv.MapIndex(k).Interface())
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	default:
		return fmt.Sprint(v)
	}
}

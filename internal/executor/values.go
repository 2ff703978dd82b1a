package executor

import "reflect"

type outputKind uint8

const (
	scalarOutput outputKind = iota
	recordOutput
	collectionOutput
)

func (k outputKind) String() string {
	switch k {
	case recordOutput:
		return "record"
	case collectionOutput:
		return "collection"
	default:
		return "scalar"
	}
}

// normalize classifies a handler output and converts records to
// map[string]any and collections to []any. Byte slices are scalars.
func normalize(v any) (any, outputKind) {
	switch v := v.(type) {
	case nil:
		return nil, scalarOutput
	case map[string]any:
		return v, recordOutput
	case []any:
		return v, collectionOutput
	case []byte, string:
		return v, scalarOutput
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v, scalarOutput
		}
		if rv.IsNil() {
			return nil, scalarOutput
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, recordOutput
	case reflect.Slice:
		if rv.IsNil() {
			return nil, scalarOutput
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, collectionOutput
	}
	return v, scalarOutput
}

func asRecord(v any) (map[string]any, bool) {
	out, kind := normalize(v)
	if kind != recordOutput {
		return nil, false
	}
	return out.(map[string]any), true
}

func asCollection(v any) ([]any, bool) {
	out, kind := normalize(v)
	if kind != collectionOutput {
		return nil, false
	}
	return out.([]any), true
}

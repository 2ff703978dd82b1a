package executor

import (
	"fmt"

	"github.com/hanpama/hurdles/internal/shape"
)

// reconcileRecord selects the keys of s from out, reconciling each one.
func reconcileRecord(s *shape.Shape, out map[string]any, path string) (map[string]any, error) {
	result := make(map[string]any, len(s.Fields))
	for _, key := range s.Keys() {
		v, err := reconcileField(s.Fields[key], out, key, joinPath(path, key))
		if err != nil {
			return nil, err
		}
		result[key] = v
	}
	return result, nil
}

// reconcileField reconciles out[key] against s.
func reconcileField(s *shape.Shape, out map[string]any, key, path string) (any, error) {
	v := out[key]
	if s != nil && s.Kind == shape.Const {
		if v == nil {
			return s.Value, nil
		}
		return v, nil
	}
	if v == nil {
		if s != nil && s.Kind == shape.Object && len(s.Fields) == 0 {
			return map[string]any{}, nil
		}
		return nil, missingField(key, path, out)
	}
	return reconcileValue(s, v, path)
}

// reconcileValue reconciles a present value against s.
func reconcileValue(s *shape.Shape, v any, path string) (any, error) {
	switch {
	case s == nil || s.Kind == shape.Field || s.Kind == shape.Const:
		return v, nil
	case s.Kind == shape.Object:
		if len(s.Fields) == 0 {
			return v, nil
		}
		rec, ok := asRecord(v)
		if !ok {
			return nil, shapeMismatch("", path, "record", v)
		}
		return reconcileRecord(s, rec, path)
	case s.Kind == shape.Many:
		elems, ok := asCollection(v)
		if !ok {
			return nil, shapeMismatch("", path, "collection", v)
		}
		result := make([]any, len(elems))
		for i, elem := range elems {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			r, err := reconcileElement(s.Elem, elem, elemPath)
			if err != nil {
				return nil, err
			}
			result[i] = r
		}
		return result, nil
	}
	return nil, shapeMismatch("", path, s.Kind.String(), v)
}

func reconcileElement(s *shape.Shape, elem any, path string) (any, error) {
	if s != nil && s.Kind == shape.Const && elem == nil {
		return s.Value, nil
	}
	if elem == nil {
		return nil, &Error{
			Kind:    ErrMissingField,
			Path:    path,
			Message: "collection element is null",
		}
	}
	return reconcileValue(s, elem, path)
}

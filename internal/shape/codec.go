package shape

import (
	"encoding/json"
	"fmt"
)

// wire is the tagged JSON form of a Shape. It keeps Many apart from a
// one-element constant array, which the plain Raw form cannot.
type wire struct {
	Kind   string           `json:"k"`
	Value  any              `json:"v"`
	Fields map[string]*wire `json:"f,omitempty"`
	Elem   *wire            `json:"e,omitempty"`
}

func (s *Shape) toWire() *wire {
	w := &wire{Kind: s.kind().String()}
	switch s.kind() {
	case Const:
		w.Value = s.Value
	case Object:
		w.Fields = make(map[string]*wire, len(s.Fields))
		for k, f := range s.Fields {
			w.Fields[k] = f.toWire()
		}
	case Many:
		w.Elem = s.Elem.toWire()
	}
	return w
}

func (w *wire) toShape() (*Shape, error) {
	if w == nil {
		return NewField(), nil
	}
	switch w.Kind {
	case "field":
		return NewField(), nil
	case "const":
		return NewConst(w.Value), nil
	case "object":
		fields := make(map[string]*Shape, len(w.Fields))
		for k, f := range w.Fields {
			s, err := f.toShape()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = s
		}
		return NewObject(fields), nil
	case "many":
		elem, err := w.Elem.toShape()
		if err != nil {
			return nil, err
		}
		return NewMany(elem), nil
	}
	return nil, fmt.Errorf("unknown shape kind %q", w.Kind)
}

func (s *Shape) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

func (s *Shape) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.toShape()
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}

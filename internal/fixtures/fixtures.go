// Package fixtures builds static handlers from a YAML file, for demos and
// for serving canned data while real handlers are written.
//
//	operations:
//	  user:
//	    output: {id: 1, name: Tim}
//	    cases:
//	      - params: {id: 2}
//	        output: {id: 2, name: Ann}
//	      - params: {id: 3}
//	        error: user 3 is gone
package fixtures

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/hurdles/internal/executor"
)

type File struct {
	Operations map[string]Operation `yaml:"operations"`
}

// Operation answers with the first case whose params match, else with its
// own Output or Error.
type Operation struct {
	Output any    `yaml:"output"`
	Error  string `yaml:"error"`
	Cases  []Case `yaml:"cases"`
}

// Case matches when every one of its params equals the request parameter of
// the same name. Values are compared by their JSON encoding, so 2 and 2.0
// match.
type Case struct {
	Params map[string]any `yaml:"params"`
	Output any            `yaml:"output"`
	Error  string         `yaml:"error"`
}

// Load reads path and returns its handlers.
func Load(path string) (executor.Handlers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	hs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hs, nil
}

// Parse decodes a fixtures document. An empty document has no operations.
func Parse(data []byte) (executor.Handlers, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	hs := make(executor.Handlers, len(f.Operations))
	for name, op := range f.Operations {
		hs.Register(name, op.handler())
	}
	return hs, nil
}

func (op Operation) handler() executor.Handler {
	return func(_ context.Context, req executor.Request) (any, error) {
		for _, c := range op.Cases {
			if c.matches(req.Params) {
				return answer(c.Output, c.Error)
			}
		}
		return answer(op.Output, op.Error)
	}
}

func answer(output any, msg string) (any, error) {
	if msg != "" {
		return nil, errors.New(msg)
	}
	return output, nil
}

func (c Case) matches(params map[string]any) bool {
	for k, want := range c.Params {
		got, ok := params[k]
		if !ok || !sameJSON(want, got) {
			return false
		}
	}
	return true
}

func sameJSON(a, b any) bool {
	x, err := json.Marshal(a)
	if err != nil {
		return false
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

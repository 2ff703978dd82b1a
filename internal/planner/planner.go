// Package planner flattens a query definition into discrete tasks and
// arranges them into a parent/child tree by path.
package planner

import (
	"sort"
	"strings"

	"github.com/hanpama/hurdles/internal/querykey"
	"github.com/hanpama/hurdles/internal/shape"
)

// RootID identifies the synthetic task every top-level task hangs from.
const RootID = "root"

// Task is one addressable unit of work: an operation to invoke, or a
// grouping node that only gives the children of a plain object a place in
// the tree.
type Task struct {
	// Name is the operation name, or the plain key for grouping tasks.
	// Outputs are merged into the parent under this name.
	Name string
	// Key is the raw key from the query definition.
	Key string
	Kind querykey.Kind
	// Operation is false for grouping tasks.
	Operation  bool
	Collection bool
	// Path holds the raw keys from the root down to this task.
	Path []string
	// Params are the declared parameters. A nil value is a placeholder
	// resolved from an ancestor's output.
	Params map[string]any
	// Shape is what the task must fill: the per-element shape for
	// collection operations.
	Shape *shape.Shape
}

// ID is the dotted path of the task, unique within one query.
func (t *Task) ID() string { return pathID(t.Path) }

func (t *Task) ParentID() string {
	if len(t.Path) <= 1 {
		return RootID
	}
	return pathID(t.Path[:len(t.Path)-1])
}

func pathID(path []string) string { return strings.Join(path, ".") }

// Flatten walks def and returns its tasks in pre-order: every task comes
// after the task its path extends. Sibling keys are visited in sorted order.
func Flatten(def map[string]any) []*Task {
	return flatten(def, nil)
}

func flatten(def map[string]any, pathSoFar []string) []*Task {
	var tasks []*Task
	for _, key := range sortedKeys(def) {
		if key == querykey.ParamsKey {
			continue
		}
		value := def[key]
		path := appendPath(pathSoFar, key)

		if k, ok := querykey.Parse(key); ok {
			tasks = append(tasks, &Task{
				Name:       k.Name,
				Key:        key,
				Kind:       k.Kind,
				Operation:  true,
				Collection: k.Collection,
				Path:       path,
				Params:     declaredParams(k, value),
				Shape:      shape.Extract(value),
			})
		} else if m, ok := value.(map[string]any); ok && len(m) > 0 {
			tasks = append(tasks, &Task{
				Name:  key,
				Key:   key,
				Path:  path,
				Shape: shape.Extract(m),
			})
		}
		if m, ok := value.(map[string]any); ok {
			tasks = append(tasks, flatten(m, path)...)
		}
	}
	return tasks
}

// declaredParams merges inline key parameters with the "_" mapping; the
// mapping wins on conflicts.
func declaredParams(k querykey.Key, value any) map[string]any {
	params := make(map[string]any, len(k.Inline))
	for name, v := range k.Inline {
		params[name] = v
	}
	if m, ok := value.(map[string]any); ok {
		if declared, ok := m[querykey.ParamsKey].(map[string]any); ok {
			for name, v := range declared {
				params[name] = v
			}
		}
	}
	return params
}

func appendPath(path []string, key string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = key
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tree indexes tasks by ID and lists the children of each task, root
// included.
type Tree struct {
	tasks    map[string]*Task
	children map[string][]*Task
}

// BuildTree arranges tasks by path. It expects pre-order input as produced
// by Flatten; children keep their input order.
func BuildTree(tasks []*Task) *Tree {
	t := &Tree{
		tasks:    make(map[string]*Task, len(tasks)),
		children: make(map[string][]*Task),
	}
	for _, task := range tasks {
		t.tasks[task.ID()] = task
		parent := task.ParentID()
		t.children[parent] = append(t.children[parent], task)
	}
	return t
}

// Task returns the task with the given ID.
func (t *Tree) Task(id string) (*Task, bool) {
	task, ok := t.tasks[id]
	return task, ok
}

// Children returns the direct children of the task with the given ID.
func (t *Tree) Children(id string) []*Task { return t.children[id] }

// Len is the number of tasks, root excluded.
func (t *Tree) Len() int { return len(t.tasks) }

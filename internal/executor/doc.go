// Package executor resolves query definitions into concrete values by
// invoking registered handlers.
//
// # Overview
//
// A query definition is a nested map whose keys are either operation keys
// ("user()", "posts[]", "new user()") or plain fields. A plain field whose
// value is nil asks for that field; any other literal is a constant that is
// returned as-is unless a handler supplies the same key. The reserved "_"
// key holds the parameters of the enclosing operation.
//
// Engine.Run resolves one definition in three steps:
//
//  1. Planning. The definition is flattened into tasks (planner.Flatten),
//     one per operation key plus a grouping task per plain object, and the
//     tasks are arranged into a tree by path. The requested shape of the
//     whole query is extracted alongside (shape.Extract). Unknown
//     operations fail here, before any handler runs.
//  2. Execution. The tree is walked depth-first from the root. A task's
//     declared parameters are resolved first: a nil parameter takes the
//     output of the nearest ancestor whose operation name equals the
//     parameter name. The handler is then invoked with the task's shape,
//     the resolved parameters and the operation kind. A record output is
//     extended with the output of every child task under the child's name;
//     a collection output fans out, each element continuing as if it were
//     the task's own output. Children of one node and elements of one
//     collection run concurrently; a node's children never start before
//     its own handler returned.
//  3. Reconciliation. The raw output tree is walked against the requested
//     shape. Only requested keys are kept, requested fields must be
//     non-null, constants fill in for absent keys and collections are
//     reconciled element by element.
//
// # Caching
//
// With caching on (the default), GET invocations are keyed by operation
// name and resolved parameters. A key holds the union of every shape
// requested under it. A caller whose shape is covered by the cached or
// in-flight invocation reuses it; a caller asking for more fields triggers
// exactly one new invocation with the widened shape, which replaces the
// entry. The check-then-invoke step is serialised per key, so concurrent
// first-time callers invoke a handler once. Completed entries live in a
// cache.Store, in memory by default, optionally shared through Redis.
// new, update and delete operations are never cached.
//
// # Errors
//
// Any failure aborts the whole call and no partial output is returned. All
// failures are *Error values whose Kind is one of ErrUnknownOperation,
// ErrUnresolvedParam, ErrShapeMismatch, ErrMissingField or ErrHandler, so
// callers can match them with errors.Is.
package executor

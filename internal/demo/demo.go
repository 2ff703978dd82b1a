// Package demo provides a small set of example handlers: fixed records,
// a user lookup, posts by user and a counter.
package demo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"

	"github.com/hanpama/hurdles/internal/executor"
)

var ErrUserNotFound = errors.New("user not found")

type userParams struct {
	ID int `mapstructure:"id"`
}

type postsParams struct {
	// UserID may be given directly or through a user record resolved from
	// an ancestor "user" operation.
	UserID int `mapstructure:"user_id"`
	User   struct {
		ID int `mapstructure:"id"`
	} `mapstructure:"user"`
	Limit int `mapstructure:"limit"`
}

type cogsParams struct {
	Limit int `mapstructure:"limit"`
	Posts struct {
		ID int `mapstructure:"id"`
	} `mapstructure:"posts"`
}

// decode fills out from params; JSON numbers convert to ints.
func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

var users = map[int]string{1: "Tim", 2: "Ann"}

// Handlers returns a fresh registry of the example handlers. Each registry
// has its own counter.
func Handlers() executor.Handlers {
	var counter atomic.Int64
	return executor.Handlers{
		"hello": executor.Value("hello world"),
		"foo":   executor.Value(map[string]any{"a": 1}),
		"bar":   executor.Value(map[string]any{"b": 2}),
		"bars":  executor.Value([]any{map[string]any{"b": 1}, map[string]any{"b": 2}}),
		"arrayOfObjects": executor.Value([]any{
			map[string]any{"x": 1}, map[string]any{"x": 2}, map[string]any{"x": 3},
		}),
		"count": func(context.Context, executor.Request) (any, error) {
			return counter.Add(1), nil
		},
		"user":  user,
		"posts": posts,
		"cogs":  cogs,
	}
}

func user(_ context.Context, req executor.Request) (any, error) {
	var p userParams
	if err := decode(req.Params, &p); err != nil {
		return nil, err
	}
	if len(req.Params) == 0 {
		p.ID = 1
	}
	name, ok := users[p.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, p.ID)
	}
	return map[string]any{"id": p.ID, "name": name}, nil
}

func posts(_ context.Context, req executor.Request) (any, error) {
	var p postsParams
	if err := decode(req.Params, &p); err != nil {
		return nil, err
	}
	uid := p.UserID
	if uid == 0 {
		uid = p.User.ID
	}
	if _, ok := users[uid]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, uid)
	}
	limit := p.Limit
	if limit <= 0 || limit > 3 {
		limit = 3
	}
	out := make([]any, limit)
	for i := range out {
		id := uid*100 + i + 1
		out[i] = map[string]any{
			"id":      id,
			"user_id": uid,
			"text":    fmt.Sprintf("post %d by %s", id, users[uid]),
		}
	}
	return out, nil
}

func cogs(_ context.Context, req executor.Request) (any, error) {
	var p cogsParams
	if err := decode(req.Params, &p); err != nil {
		return nil, err
	}
	return map[string]any{
		"name":  fmt.Sprintf("cogs of post %d", p.Posts.ID),
		"limit": p.Limit,
	}, nil
}

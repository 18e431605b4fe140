// Package agent implements the execution side of the dispatch engine: a
// process that registers itself, consumes job deliveries, runs functions, and
// responds with result envelopes.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Func is one executable agent function.
type Func func(ctx context.Context, call Call) (any, error)

// Call carries the arguments of one function invocation.
type Call struct {
	Args   []any
	Kwargs map[string]any
}

// ErrUnknownFunction is returned when a delivered job names a function the
// agent does not carry.
var ErrUnknownFunction = errors.New("unknown function")

// FuncRegistry maps function names to handlers. It is populated at
// construction time and read-only afterwards.
type FuncRegistry struct {
	funcs map[string]Func
}

// NewFuncRegistry creates a registry seeded with the built-in functions for
// the given agent.
func NewFuncRegistry(a *Agent) *FuncRegistry {
	r := &FuncRegistry{funcs: map[string]Func{}}

	r.Register("test.ping", func(_ context.Context, _ Call) (any, error) {
		return true, nil
	})
	r.Register("test.echo", func(_ context.Context, call Call) (any, error) {
		if len(call.Args) == 0 {
			return nil, errors.New("test.echo: missing argument")
		}
		return call.Args[0], nil
	})
	r.Register("test.sleep", func(ctx context.Context, call Call) (any, error) {
		if len(call.Args) == 0 {
			return nil, errors.New("test.sleep: missing duration argument")
		}
		seconds, ok := call.Args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("test.sleep: want numeric seconds, got %T", call.Args[0])
		}
		select {
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return true, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	r.Register("grains.items", func(_ context.Context, _ Call) (any, error) {
		var grains map[string]any
		if len(a.grains) > 0 {
			if err := json.Unmarshal(a.grains, &grains); err != nil {
				return nil, fmt.Errorf("grains.items: %w", err)
			}
		}
		return grains, nil
	})
	r.Register("mine.send", func(ctx context.Context, call Call) (any, error) {
		if len(call.Args) == 0 {
			return nil, errors.New("mine.send: missing function argument")
		}
		name, ok := call.Args[0].(string)
		if !ok {
			return nil, fmt.Errorf("mine.send: want function name, got %T", call.Args[0])
		}
		if err := a.pushMineFunction(ctx, name); err != nil {
			return nil, err
		}
		return true, nil
	})

	return r
}

// Register adds or replaces a function handler.
func (r *FuncRegistry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Lookup returns the handler for name.
func (r *FuncRegistry) Lookup(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Call executes the named function. An unknown name returns
// ErrUnknownFunction.
func (r *FuncRegistry) Call(ctx context.Context, name string, call Call) (any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(ctx, call)
}

package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/composer/internal/flow"
)

// Variadic arguments are classified here, once, at the API boundary. Everything
// past this file works with Ref, Task and Options values only.

// flatten expands nested lists so that Register("a", []string{"b", "c"}, fn)
// and Register("a", "b", "c", fn) are equivalent.
func flatten(args []any) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case []any:
			out = append(out, flatten(v)...)
		case []string:
			for _, s := range v {
				out = append(out, s)
			}
		case []Ref:
			for _, r := range v {
				out = append(out, r)
			}
		case []TaskFunc:
			for _, fn := range v {
				out = append(out, fn)
			}
		default:
			out = append(out, arg)
		}
	}
	return out
}

// asFunc reports whether v is one of the accepted function shapes.
func asFunc(v any) (TaskFunc, bool) {
	switch fn := v.(type) {
	case TaskFunc:
		return fn, fn != nil
	case func(context.Context, *RunContext) error:
		return fn, fn != nil
	case func(context.Context) error:
		if fn == nil {
			return nil, false
		}
		return func(ctx context.Context, _ *RunContext) error { return fn(ctx) }, true
	case func() error:
		if fn == nil {
			return nil, false
		}
		return func(context.Context, *RunContext) error { return fn() }, true
	case func():
		if fn == nil {
			return nil, false
		}
		return func(context.Context, *RunContext) error { fn(); return nil }, true
	}
	return nil, false
}

// asOptions reports whether v is an options bag and converts it.
func asOptions(v any) (Options, bool, error) {
	switch o := v.(type) {
	case Options:
		if o.Flow != "" && !o.Flow.Valid() {
			return Options{}, true, &InvalidArgumentError{Arg: "flow", Reason: fmt.Sprintf("unknown policy %q", o.Flow)}
		}
		return o, true, nil
	case *Options:
		if o == nil {
			return Options{}, true, nil
		}
		return asOptions(*o)
	case map[string]any:
		opts, err := optionsFromMap(o)
		return opts, true, err
	}
	return Options{}, false, nil
}

// optionsFromMap recognises the flow and deps keys. Every other key is kept
// as a value for the running body.
func optionsFromMap(m map[string]any) (Options, error) {
	var opts Options
	for key, value := range m {
		switch key {
		case "flow":
			var name string
			switch p := value.(type) {
			case string:
				name = p
			case flow.Policy:
				name = string(p)
			default:
				return Options{}, invalidArg(value, "flow must be a string")
			}
			policy, err := flow.ParsePolicy(name)
			if err != nil {
				return Options{}, &InvalidArgumentError{Arg: "flow", Reason: err.Error()}
			}
			opts.Flow = policy
		case "deps":
			var list []any
			if l, ok := value.([]any); ok {
				list = l
			} else {
				list = []any{value}
			}
			deps, err := parseRefs(flatten(list))
			if err != nil {
				return Options{}, err
			}
			opts.Deps = deps
		default:
			if opts.Values == nil {
				opts.Values = make(map[string]any)
			}
			opts.Values[key] = value
		}
	}
	return opts, nil
}

// toRef converts a single dependency or run argument.
func toRef(v any) (Ref, error) {
	switch x := v.(type) {
	case Ref:
		if x.kind == RefInvalid {
			return Ref{}, invalidArg(v, "zero Ref")
		}
		return x, nil
	case string:
		if x == "" {
			return Ref{}, &InvalidArgumentError{Arg: "name", Reason: "task name must not be empty"}
		}
		return Name(x), nil
	case Task:
		return Nested(x), nil
	case *Task:
		if x == nil {
			return Ref{}, invalidArg(v, "nil task definition")
		}
		return Nested(*x), nil
	case nil:
		return Ref{}, &InvalidArgumentError{Reason: "nil reference"}
	}
	if fn, ok := asFunc(v); ok {
		return Func(fn), nil
	}
	return Ref{}, invalidArg(v, "expected a task name, function or task definition")
}

func parseRefs(args []any) ([]Ref, error) {
	refs := make([]Ref, 0, len(args))
	for _, arg := range args {
		if _, ok, _ := asOptions(arg); ok {
			return nil, invalidArg(arg, "options must come before dependencies")
		}
		ref, err := toRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseTask builds a Task from Register arguments: an optional leading
// options bag, dependencies, and an optional trailing body.
func parseTask(name string, args []any) (Task, error) {
	t := Task{Name: name}
	flat := flatten(args)

	if n := len(flat); n > 0 {
		if fn, ok := asFunc(flat[n-1]); ok {
			t.Fn = fn
			flat = flat[:n-1]
		}
	}

	var opts Options
	if len(flat) > 0 {
		o, ok, err := asOptions(flat[0])
		if err != nil {
			return Task{}, err
		}
		if ok {
			opts = o
			flat = flat[1:]
		}
	}

	deps, err := parseRefs(flat)
	if err != nil {
		return Task{}, err
	}
	t.Deps = append(deps, opts.Deps...)
	t.Flow = opts.Flow
	t.Options = opts.Values
	return t, nil
}

// runRequest is a parsed run call.
type runRequest struct {
	refs    []Ref
	options Options
	hasOpts bool
}

// parseRun classifies run arguments. At most one options bag is accepted;
// its Flow sets the top-level policy and its Values override registration
// options for every step of the run.
func parseRun(args []any) (runRequest, error) {
	var req runRequest
	for _, arg := range flatten(args) {
		opts, ok, err := asOptions(arg)
		if err != nil {
			return runRequest{}, err
		}
		if ok {
			if req.hasOpts {
				return runRequest{}, invalidArg(arg, "only one options argument is allowed")
			}
			req.options = opts
			req.hasOpts = true
			continue
		}
		ref, err := toRef(arg)
		if err != nil {
			return runRequest{}, err
		}
		req.refs = append(req.refs, ref)
	}
	req.refs = append(req.refs, req.options.Deps...)
	return req, nil
}

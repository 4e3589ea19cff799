package shell

import (
	"context"
	"strings"
	"sync"
)

type Call struct {
	Name     string
	Args     []string
	Detached bool
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Recorder is a Runner that executes nothing. It records every invocation
// and answers from Handler, if set, or returns an empty Result. Like
// exec.CommandContext, Run fails when ctx is already done.
type Recorder struct {
	Handler func(Call) (Result, error)

	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) Run(ctx context.Context, name string, args ...string) (Result, error) {
	c := Call{Name: name, Args: append([]string(nil), args...)}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	h := r.Handler
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{Code: -1}, &CommandError{Name: name, Args: c.Args, Code: -1, Err: err}
	}
	if h != nil {
		return h(c)
	}
	return Result{}, nil
}

func (r *Recorder) Spawn(name string, args ...string) error {
	c := Call{Name: name, Args: append([]string(nil), args...), Detached: true}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	h := r.Handler
	r.mu.Unlock()
	if h != nil {
		_, err := h(c)
		return err
	}
	return nil
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns each recorded call as a single space-joined string.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

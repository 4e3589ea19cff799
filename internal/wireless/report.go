package wireless

import (
	"fmt"
	"strings"
)

// Step is the outcome of one reconciliation action.
type Step struct {
	Name    string
	Command string // redacted
	Skipped bool
	Err     error
}

func (s Step) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("%s: failed: %v", s.Name, s.Err)
	case s.Skipped:
		return s.Name + ": skipped"
	default:
		return s.Name + ": ok"
	}
}

// Report lists every step a reconciliation attempted, in order. Failed
// steps never stop the steps after them.
type Report struct {
	Steps []Step
}

func (r *Report) add(s Step) { r.Steps = append(r.Steps, s) }

func (r *Report) merge(o Report) { r.Steps = append(r.Steps, o.Steps...) }

func (r Report) Failures() int {
	n := 0
	for _, s := range r.Steps {
		if s.Err != nil {
			n++
		}
	}
	return n
}

func (r Report) Step(name string) (Step, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

func (r Report) String() string {
	parts := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

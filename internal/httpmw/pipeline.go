package httpmw

import (
	"fmt"
	"net/http"
)

// Middleware wraps an http.Handler, matching the stdlib-idiomatic shape the
// teacher's internal/middleware package uses throughout.
type Middleware func(http.Handler) http.Handler

// stage names the pipeline's fixed execution order, per spec.md §4.9. The
// names exist purely for the dependency validator's error messages.
type stage struct {
	name string
	mw   Middleware
}

// Pipeline is the Admission Pipeline: an explicit, ordered list of
// middleware with a startup-time dependency check, grounded on the
// teacher's corpus's MiddlewarePipeline (validate_dependencies/apply_to_app
// shape), adapted to Go's natural outer-wraps-inner composition instead of
// a reversed registration list.
type Pipeline struct {
	stages []stage
	deps   map[string][]string
}

// NewPipeline builds an empty Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{deps: make(map[string][]string)}
}

// Use appends a middleware to the end of the logical execution order.
func (p *Pipeline) Use(name string, mw Middleware) {
	p.stages = append(p.stages, stage{name: name, mw: mw})
}

// Require records that `name` must execute strictly after every stage in
// `after`. Validate fails startup if this is violated.
func (p *Pipeline) Require(name string, after ...string) {
	p.deps[name] = append(p.deps[name], after...)
}

// Validate checks every recorded dependency appears earlier in the
// execution order than the stage that requires it — the Go equivalent of
// the original pipeline's validate_dependencies(), refusing to launch on
// a misordered chain (spec.md §4.9's "dependency validator").
func (p *Pipeline) Validate() error {
	position := make(map[string]int, len(p.stages))
	for i, s := range p.stages {
		position[s.name] = i
	}

	for name, requires := range p.deps {
		pos, ok := position[name]
		if !ok {
			return fmt.Errorf("httpmw: middleware %q has dependencies but is not registered in the pipeline", name)
		}
		for _, req := range requires {
			reqPos, ok := position[req]
			if !ok {
				return fmt.Errorf("httpmw: dependency %q required by %q is not registered in the pipeline", req, name)
			}
			if reqPos >= pos {
				return fmt.Errorf(
					"httpmw: middleware dependency violation: %q requires %q to execute before it, but %q is at position %d and %q is at position %d",
					name, req, req, reqPos, name, pos,
				)
			}
		}
	}
	return nil
}

// Then builds the final http.Handler, applying stages in logical execution
// order: the first-registered middleware is the first to run and the last
// to see the response.
func (p *Pipeline) Then(final http.Handler) http.Handler {
	h := final
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i].mw(h)
	}
	return h
}

// Names returns the configured execution order, used for startup logging
// the way the original pipeline's visualize() did.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.name
	}
	return names
}

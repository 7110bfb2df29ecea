// Package trace follows invocation edges from a method body and reports
// where configuration values are read and which locals are passed along.
package trace

import (
	"fmt"
	"slices"
	"strings"

	"confusage/internal/graph"
)

// DefaultThreshold is the number of nested invocation levels followed.
const DefaultThreshold = 5

// KnownAccessors are the configuration getters the analysis was written
// against. Any method with the accessor prefix is treated as an accessor;
// this list only marks the familiar ones in the summary.
var KnownAccessors = []string{
	"getInt", "getInts", "getLong", "getLongBytes", "getFloat", "getDouble",
	"getBoolean", "getStorageSize", "getStrings", "getTimeDuration", "getRaw",
	"getEnum", "get",
}

// CallGraph supplies the methods a call site may invoke.
type CallGraph interface {
	Targets(site *graph.Invoke) []*graph.Method
}

// Options configures a Tracer.
type Options struct {
	// ConfClass is the fully qualified configuration class.
	ConfClass string
	// AccessorPrefix selects accessor methods of ConfClass by name.
	AccessorPrefix string
	// Threshold bounds the recursion depth. Zero means DefaultThreshold.
	Threshold int
	// FollowCHA recurses into every call-graph target of a site instead of
	// only its static target. It requires a CallGraph.
	FollowCHA bool
	// KnownAccessors overrides the package-level list.
	KnownAccessors []string
}

// AccessSite is a configuration accessor call found by the traversal.
type AccessSite struct {
	Caller *graph.Method
	Method *graph.Method
	Args   []string
	Level  int
	Line   int
	// Listed is true when the accessor name is in the known accessor list.
	Listed bool
}

// Summary aggregates one traversal.
type Summary struct {
	Visited    int
	NullBodies int
	Skipped    int
	MaxLevel   int
	Accessors  []AccessSite
}

// Tracer performs depth-bounded traversals. It holds no per-traversal
// state, so one Tracer may run several traversals one after another.
type Tracer struct {
	opts Options
	cg   CallGraph
	sink Sink
}

// New creates a Tracer. cg may be nil unless opts.FollowCHA is set.
func New(cg CallGraph, sink Sink, opts Options) (*Tracer, error) {
	if opts.ConfClass == "" {
		return nil, fmt.Errorf("configuration class is required")
	}
	if opts.AccessorPrefix == "" {
		opts.AccessorPrefix = "get"
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.FollowCHA && cg == nil {
		return nil, fmt.Errorf("following call-graph targets needs a call graph")
	}
	if opts.KnownAccessors == nil {
		opts.KnownAccessors = KnownAccessors
	}
	return &Tracer{opts: opts, cg: cg, sink: sink}, nil
}

// Threshold returns the effective depth threshold.
func (t *Tracer) Threshold() int { return t.opts.Threshold }

// Trace walks m and everything it reaches within the threshold.
func (t *Tracer) Trace(m *graph.Method) Summary {
	w := &walk{Tracer: t}
	w.goThrough(m, 0)
	return w.summary
}

type walk struct {
	*Tracer
	summary Summary
}

func (w *walk) emit(kind EventKind, level int, msg string, m *graph.Method, inv *graph.Invoke) {
	w.sink.Emit(Event{Kind: kind, Level: level, Message: msg, Method: m, Invoke: inv})
}

func (w *walk) goThrough(m *graph.Method, level int) {
	w.summary.Visited++
	w.summary.MaxLevel = max(w.summary.MaxLevel, level)
	w.emit(EventBegin, level, "GO_THROUGH_BEGIN: "+m.Name, m, nil)

	if !m.HasBody() {
		w.summary.NullBodies++
		w.emit(EventBodyNull, level, "RETURN: body is null", m, nil)
		return
	}

	body := m.Body
	for _, l := range body.Locals {
		w.emit(EventLocal, level, "local: "+l.String(), m, nil)
	}
	for _, u := range body.Units {
		w.emit(EventUnit, level, "unit is "+u.Text, m, nil)
		for _, inv := range u.Invokes {
			w.emit(EventInvokeUnit, level, "INVOKE_UNIT", m, inv)
			w.reportArguments(m, u, inv, level)
			for _, target := range w.targets(inv) {
				w.follow(m, inv, target, level)
			}
		}
	}
	w.emit(EventFinish, level, "RETURN: finish going through method "+m.Name, m, nil)
}

// reportArguments lists every argument and flags those that are locals in
// scope at unit u.
func (w *walk) reportArguments(m *graph.Method, u *graph.Unit, inv *graph.Invoke, level int) {
	for i, arg := range inv.Args {
		w.emit(EventArgument, level, fmt.Sprintf("%d argument is %s", i, arg.Text), m, inv)
		if arg.Kind != graph.ExprName {
			continue
		}
		if l, ok := m.Body.LocalAt(u, arg.Name); ok {
			w.emit(EventArgumentPassing, level,
				fmt.Sprintf("ARGUMENT_PASSING local value %s is to be transferred as %dth argument", l, i), m, inv)
		}
	}
}

func (w *walk) follow(caller *graph.Method, inv *graph.Invoke, target *graph.Method, level int) {
	if level >= w.opts.Threshold {
		w.summary.Skipped++
		w.emit(EventSkip, level, "SKIP: reach Level Threshold and skip jump into method "+target.Name, caller, inv)
		return
	}
	if !w.IsAccessor(target) {
		w.goThrough(target, level+1)
		return
	}

	w.emit(EventConfGet, level, "CONFIGURATION_GET_METHOD "+target.Name, caller, inv)
	w.emit(EventConfReturn, level, "RETURN: CONFIGURATION_GET_METHOD "+target.Name, caller, inv)
	site := AccessSite{
		Caller: caller,
		Method: target,
		Level:  level,
		Line:   inv.Line,
		Listed: slices.Contains(w.opts.KnownAccessors, target.Name),
	}
	for _, arg := range inv.Args {
		site.Args = append(site.Args, arg.Text)
		w.emit(EventConfParam, level, "Parameter of ConfMethod: "+arg.Text, caller, inv)
	}
	w.summary.Accessors = append(w.summary.Accessors, site)
}

func (w *walk) targets(inv *graph.Invoke) []*graph.Method {
	if w.opts.FollowCHA {
		return w.cg.Targets(inv)
	}
	if inv.Target == nil {
		return nil
	}
	return []*graph.Method{inv.Target}
}

// IsAccessor reports whether m is declared by the configuration class and
// its name starts with the accessor prefix.
func (t *Tracer) IsAccessor(m *graph.Method) bool {
	return m.Class != nil && m.Class.Name == t.opts.ConfClass &&
		strings.HasPrefix(m.Name, t.opts.AccessorPrefix)
}

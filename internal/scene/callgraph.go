package scene

import (
	"slices"

	"confusage/internal/graph"
	"confusage/util"

	"go.uber.org/zap"
)

// CallEdge connects a call site to one method it may invoke.
type CallEdge struct {
	Caller *graph.Method
	Site   *graph.Invoke
	Callee *graph.Method
}

// CallGraph is the class-hierarchy call graph of the loaded program.
type CallGraph struct {
	targets map[*graph.Invoke][]*graph.Method
	into    map[*graph.Method][]CallEdge
	out     map[*graph.Method][]CallEdge
	edges   []CallEdge
}

// CallGraph returns the call graph, building it on first use. A virtual
// call site reaches its static target and every concrete override of that
// target in the loaded subtypes of the declaring class.
func (s *Scene) CallGraph() *CallGraph {
	s.cgOnce.Do(func() {
		s.cg = s.buildCallGraph()
	})
	return s.cg
}

func (s *Scene) buildCallGraph() *CallGraph {
	cg := &CallGraph{
		targets: make(map[*graph.Invoke][]*graph.Method),
		into:    make(map[*graph.Method][]CallEdge),
		out:     make(map[*graph.Method][]CallEdge),
	}
	for _, c := range s.Classes() {
		for _, m := range c.Methods {
			if m.Body == nil {
				continue
			}
			for _, u := range m.Body.Units {
				for _, inv := range u.Invokes {
					if inv.Target == nil {
						continue
					}
					targets := []*graph.Method{inv.Target}
					if inv.Kind == graph.InvokeVirtual {
						targets = append(targets, s.overrides(inv.Target)...)
					}
					cg.targets[inv] = targets
					for _, t := range targets {
						e := CallEdge{Caller: m, Site: inv, Callee: t}
						cg.edges = append(cg.edges, e)
						cg.out[m] = append(cg.out[m], e)
						cg.into[t] = append(cg.into[t], e)
					}
				}
			}
		}
	}
	s.logger.Debug("call graph built", zap.Int("edges", len(cg.edges)))
	return cg
}

// overrides returns the concrete methods in loaded subtypes of m's class
// that override m.
func (s *Scene) overrides(m *graph.Method) []*graph.Method {
	if m.Static || m.IsConstructor() || m.Class == nil {
		return nil
	}
	var out []*graph.Method
	seen := map[string]bool{m.Class.Name: true}
	queue := slices.Clone(s.subtypes[m.Class.Name])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		c, ok := s.classes[next]
		if !ok {
			continue
		}
		for _, cand := range c.Methods {
			if cand.Name == m.Name && !cand.Abstract && !cand.Static && overridesParams(cand, m) {
				out = append(out, cand)
			}
		}
		queue = append(queue, s.subtypes[next]...)
	}
	return out
}

// overridesParams matches sub's parameters against super's. A parameter
// of super declared as a type variable accepts any reference type, since
// the subtype may bind the variable, as in Handler<String>.
func overridesParams(sub, super *graph.Method) bool {
	if len(sub.Params) != len(super.Params) {
		return false
	}
	for i, p := range super.Params {
		q := sub.Params[i]
		if q.Type == p.Type {
			continue
		}
		if !p.Generic || IsPrimitive(q.Type) {
			return false
		}
	}
	return true
}

// Targets returns the methods a call site may invoke.
func (cg *CallGraph) Targets(site *graph.Invoke) []*graph.Method {
	if t, ok := cg.targets[site]; ok {
		return t
	}
	if site.Target != nil {
		return []*graph.Method{site.Target}
	}
	return nil
}

// EdgesOutOf returns the edges leaving m.
func (cg *CallGraph) EdgesOutOf(m *graph.Method) []CallEdge { return cg.out[m] }

// EdgesInto returns the edges reaching m.
func (cg *CallGraph) EdgesInto(m *graph.Method) []CallEdge { return cg.into[m] }

// Size returns the number of edges.
func (cg *CallGraph) Size() int { return len(cg.edges) }

// Export renders every loaded method, every call edge and every override as
// index nodes and edges. Phantom callees are included as nodes of kind
// "phantom".
func (s *Scene) Export() ([]*graph.Node, []graph.Edge) {
	ids := make(map[*graph.Method]string)
	var nodes []*graph.Node
	node := func(m *graph.Method) string {
		if id, ok := ids[m]; ok {
			return id
		}
		n := MethodNode(m)
		ids[m] = n.ID
		nodes = append(nodes, n)
		return n.ID
	}

	for _, c := range s.Classes() {
		for _, m := range c.Methods {
			node(m)
		}
	}

	cg := s.CallGraph()
	edges := make([]graph.Edge, 0, len(cg.edges))
	for _, e := range cg.edges {
		edges = append(edges, graph.Edge{
			SourceID: node(e.Caller),
			TargetID: node(e.Callee),
			Relation: graph.RelationCalls,
			Line:     e.Site.Line,
		})
	}
	for _, c := range s.Classes() {
		for _, m := range c.Methods {
			for _, o := range s.overrides(m) {
				edges = append(edges, graph.Edge{
					SourceID: node(o),
					TargetID: node(m),
					Relation: graph.RelationOverrides,
					Line:     o.LineStart,
				})
			}
		}
	}
	return nodes, edges
}

// MethodNode describes m as an index node.
func MethodNode(m *graph.Method) *graph.Node {
	kind := graph.KindMethod
	switch {
	case m.Class != nil && m.Class.IsPhantom(), m.Body == nil && !m.Abstract:
		kind = graph.KindPhantom
	case m.IsConstructor():
		kind = graph.KindConstructor
	}
	n := &graph.Node{
		Name:      m.Name,
		Kind:      kind,
		Signature: m.Signature(),
		LineStart: m.LineStart,
		LineEnd:   m.LineEnd,
	}
	if m.Class != nil {
		n.ClassName = m.Class.Name
		n.FilePath = m.Class.FilePath
		if n.FilePath != "" {
			n.SymbolURI = util.PathToURI(n.FilePath)
		}
	}
	n.ID = util.GenerateNodeID(n.FilePath, n.Signature)
	return n
}

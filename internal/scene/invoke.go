package scene

import (
	"fmt"
	"strings"

	"confusage/internal/graph"
)

// unknownReturn is the return type given to phantom methods.
const unknownReturn = "java.lang.Object"

// resolveBody sets the static target of every invocation in m's body.
// Invocations are visited in evaluation order, so a chained call's receiver
// is always resolved before the call itself.
func (s *Scene) resolveBody(m *graph.Method) {
	if m.Body == nil {
		return
	}
	r := &bodyResolver{s: s, method: m}
	for _, u := range m.Body.Units {
		r.unit = u
		for _, inv := range u.Invokes {
			r.resolve(inv)
		}
	}
}

type bodyResolver struct {
	s      *Scene
	method *graph.Method
	// unit is the statement being resolved; it fixes which locals are
	// in scope.
	unit *graph.Unit
}

func (r *bodyResolver) class() *graph.Class { return r.method.Class }

func (r *bodyResolver) resolve(inv *graph.Invoke) *graph.Method {
	if inv.Target != nil {
		return inv.Target
	}
	argTypes := make([]string, len(inv.Args))
	for i, a := range inv.Args {
		argTypes[i], _ = r.exprType(a)
	}

	s := r.s
	cls := r.class()
	switch {
	case inv.Kind == graph.InvokeNew:
		owner := s.resolveIn(cls, r.method, inv.Receiver.Type)
		inv.Target = s.findConstructor(owner, argTypes)

	case inv.Name == graph.ConstructorName:
		owner := cls.Name
		if inv.Receiver != nil && inv.Receiver.Kind == graph.ExprSuper {
			owner = r.superName()
		}
		inv.Target = s.findConstructor(owner, argTypes)

	case inv.Receiver == nil || inv.Receiver.Kind == graph.ExprNone:
		inv.Target = r.unqualified(inv.Name, argTypes)

	case inv.Receiver.Kind == graph.ExprSuper:
		inv.Target = s.findMethod(r.superName(), inv.Name, argTypes)

	default:
		recv, isType := r.exprType(inv.Receiver)
		if recv == "" || IsPrimitive(recv) || strings.HasSuffix(recv, "[]") {
			recv = unknownReturn
		}
		inv.Target = s.findMethod(recv, inv.Name, argTypes)
		if isType {
			inv.Kind = graph.InvokeStatic
		}
	}

	if inv.Target.Static && inv.Kind == graph.InvokeVirtual {
		inv.Kind = graph.InvokeStatic
	}
	return inv.Target
}

// unqualified resolves m(...) by searching the enclosing classes from the
// innermost outwards, then static imports.
func (r *bodyResolver) unqualified(name string, argTypes []string) *graph.Method {
	s := r.s
	for c := r.class(); c != nil; c = s.outerOf(c) {
		if m, ok := s.lookupMethod(c.Name, name, argTypes); ok {
			return m
		}
	}
	for _, imp := range r.class().Imports {
		if !imp.Static {
			continue
		}
		owner := imp.Path
		if !imp.OnDemand {
			if !strings.HasSuffix(imp.Path, "."+name) {
				continue
			}
			owner = strings.TrimSuffix(imp.Path, "."+name)
		}
		if qn, ok := s.qualifiedClass(owner); ok {
			owner = qn
		}
		if m, ok := s.lookupMethod(owner, name, argTypes); ok {
			return m
		}
		if !imp.OnDemand {
			return s.phantomMethod(s.ensureClass(owner), name, argTypes, true)
		}
	}
	return s.findMethod(r.class().Name, name, argTypes)
}

func (r *bodyResolver) superName() string {
	if sup := r.class().Super; sup != "" {
		return sup
	}
	return "java.lang.Object"
}

// exprType infers the static type of e. isType is true when e names a class
// rather than a value, as in the receiver of a static call.
func (r *bodyResolver) exprType(e *graph.Expr) (typ string, isType bool) {
	if e == nil {
		return "", false
	}
	s := r.s
	cls := r.class()
	switch e.Kind {
	case graph.ExprNone, graph.ExprThis:
		return cls.Name, false
	case graph.ExprSuper:
		return r.superName(), false
	case graph.ExprName:
		if body := r.method.Body; body != nil {
			if l, ok := body.LocalAt(r.unit, e.Name); ok {
				if l.Type == "var" {
					if l.Init == nil {
						return "", false
					}
					t, _ := r.exprType(l.Init)
					return t, false
				}
				return s.resolveIn(cls, r.method, l.Type), false
			}
		}
		for c := cls; c != nil; c = s.outerOf(c) {
			if t, ok := s.fieldType(c.Name, e.Name); ok {
				return t, false
			}
		}
		if t := s.staticImportField(cls, e.Name); t != "" {
			return t, false
		}
		if t := s.lookupSimple(cls, e.Name, true); t != "" {
			return t, true
		}
		if isClassLike(e.Name) {
			return s.ResolveType(cls, e.Name), true
		}
		return "", false
	case graph.ExprField:
		if isQualifiedName(e) && !r.startsWithValue(e) {
			if qn, ok := s.qualifiedClass(e.Text); ok {
				return qn, true
			}
		}
		owner, ownerIsType := r.exprType(e.Object)
		if owner == "" {
			return "", false
		}
		if strings.HasSuffix(owner, "[]") && e.Name == "length" {
			return "int", false
		}
		if t, ok := s.fieldType(owner, e.Name); ok {
			return t, false
		}
		if ownerIsType && s.isLoaded(owner+"$"+e.Name) {
			return owner + "$" + e.Name, true
		}
		return "", false
	case graph.ExprCall:
		if e.Call == nil {
			return "", false
		}
		return r.resolve(e.Call).ReturnType, false
	case graph.ExprNew, graph.ExprCast:
		return s.resolveIn(cls, r.method, e.Type), false
	case graph.ExprLiteral:
		return e.Type, false
	default:
		if e.Type != "" {
			return s.resolveIn(cls, r.method, e.Type), false
		}
		return "", false
	}
}

// startsWithValue reports whether the leftmost name of a dotted expression
// is a local or field, which makes the whole expression a value.
func (r *bodyResolver) startsWithValue(e *graph.Expr) bool {
	for e.Kind == graph.ExprField {
		e = e.Object
	}
	if e.Kind != graph.ExprName {
		return true
	}
	if body := r.method.Body; body != nil {
		if _, ok := body.LocalAt(r.unit, e.Name); ok {
			return true
		}
	}
	for c := r.class(); c != nil; c = r.s.outerOf(c) {
		if _, ok := r.s.fieldType(c.Name, e.Name); ok {
			return true
		}
	}
	return false
}

func (s *Scene) staticImportField(cls *graph.Class, name string) string {
	for _, imp := range cls.Imports {
		if !imp.Static {
			continue
		}
		owner := imp.Path
		if !imp.OnDemand {
			if !strings.HasSuffix(imp.Path, "."+name) {
				continue
			}
			owner = strings.TrimSuffix(imp.Path, "."+name)
		}
		if qn, ok := s.qualifiedClass(owner); ok {
			if t, ok := s.fieldType(qn, name); ok {
				return t
			}
		}
	}
	return ""
}

func isQualifiedName(e *graph.Expr) bool {
	for e.Kind == graph.ExprField {
		e = e.Object
		if e == nil {
			return false
		}
	}
	return e.Kind == graph.ExprName
}

func isClassLike(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// findConstructor resolves a constructor of exactly className.
func (s *Scene) findConstructor(className string, argTypes []string) *graph.Method {
	c := s.ensureClass(className)
	if m := s.bestMatch(c, graph.ConstructorName, argTypes); m != nil {
		return m
	}
	return s.phantomMethod(c, graph.ConstructorName, argTypes, false)
}

// findMethod resolves name on className the way a method reference is
// resolved in bytecode: the superclass chain first, then interfaces. When
// the search reaches a class that is not loaded, the result is a phantom
// method declared by that class.
func (s *Scene) findMethod(className, name string, argTypes []string) *graph.Method {
	if m, ok := s.lookupMethod(className, name, argTypes); ok {
		return m
	}
	owner := s.firstPhantom(className)
	if owner == "" {
		owner = className
	}
	return s.phantomMethod(s.ensureClass(owner), name, argTypes, false)
}

// lookupMethod searches loaded classes only.
func (s *Scene) lookupMethod(className, name string, argTypes []string) (*graph.Method, bool) {
	var chain []*graph.Class
	seen := map[string]bool{}
	for cur := className; cur != "" && !seen[cur]; {
		seen[cur] = true
		c, ok := s.classes[cur]
		if !ok {
			break
		}
		if m := s.bestMatch(c, name, argTypes); m != nil {
			return m, true
		}
		chain = append(chain, c)
		cur = c.Super
	}

	queue := []string{}
	for _, c := range chain {
		queue = append(queue, c.Interfaces...)
	}
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
		if m := s.bestMatch(c, name, argTypes); m != nil {
			return m, true
		}
		queue = append(queue, c.Interfaces...)
	}
	return nil, false
}

// firstPhantom returns the first class on the superclass chain of
// className that is not loaded from source.
func (s *Scene) firstPhantom(className string) string {
	seen := map[string]bool{}
	for cur := className; cur != "" && !seen[cur]; {
		seen[cur] = true
		c, ok := s.classes[cur]
		if !ok || c.IsPhantom() {
			return cur
		}
		cur = c.Super
	}
	return ""
}

// bestMatch picks the declared method of c named name that fits argTypes.
func (s *Scene) bestMatch(c *graph.Class, name string, argTypes []string) *graph.Method {
	var best *graph.Method
	bestScore := 0
	for _, m := range c.Methods {
		if m.Name != name || !arityFits(m, len(argTypes)) {
			continue
		}
		score := s.matchScore(m, argTypes)
		if best == nil || score > bestScore {
			best, bestScore = m, score
		}
	}
	return best
}

func arityFits(m *graph.Method, argc int) bool {
	n := len(m.Params)
	if n == argc {
		return true
	}
	return n > 0 && m.Params[n-1].VarArgs && argc >= n-1
}

func (s *Scene) matchScore(m *graph.Method, argTypes []string) int {
	score := 0
	if len(m.Params) == len(argTypes) && (len(m.Params) == 0 || !m.Params[len(m.Params)-1].VarArgs) {
		score++
	}
	for i, at := range argTypes {
		if i >= len(m.Params) || at == "" || at == "null" {
			continue
		}
		pt := m.Params[i].Type
		switch {
		case at == pt:
			score += 3
		case !IsPrimitive(at) && !IsPrimitive(pt) && s.IsSubtype(at, pt):
			score += 2
		case IsPrimitive(at) != IsPrimitive(pt):
			score -= 2
		}
	}
	return score
}

// phantomMethod returns the phantom method of c with the given name and
// arity, creating it on first use. Phantom methods are kept apart from the
// declared methods so that loaded classes keep their source view.
func (s *Scene) phantomMethod(c *graph.Class, name string, argTypes []string, static bool) *graph.Method {
	for _, m := range s.phantomMethods[c.Name] {
		if m.Name == name && len(m.Params) == len(argTypes) {
			return m
		}
	}
	m := &graph.Method{Class: c, Name: name, Static: static, ReturnType: unknownReturn}
	if name == graph.ConstructorName {
		m.ReturnType = "void"
	}
	for i, t := range argTypes {
		if t == "" || t == "null" {
			t = unknownReturn
		}
		m.Params = append(m.Params, graph.Param{Name: fmt.Sprintf("arg%d", i), Type: t})
	}
	s.phantomMethods[c.Name] = append(s.phantomMethods[c.Name], m)
	return m
}

// PhantomMethods returns the phantom methods referenced on className.
func (s *Scene) PhantomMethods(className string) []*graph.Method {
	return s.phantomMethods[className]
}

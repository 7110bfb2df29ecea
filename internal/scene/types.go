package scene

import (
	"slices"
	"strings"

	"confusage/internal/graph"
)

var primitives = map[string]bool{
	"boolean": true, "byte": true, "char": true, "short": true,
	"int": true, "long": true, "float": true, "double": true,
	"void": true, "var": true, "null": true,
}

// javaLang names resolved implicitly when java.lang is not loaded.
var javaLang = map[string]bool{
	"Object": true, "String": true, "StringBuilder": true, "StringBuffer": true,
	"Integer": true, "Long": true, "Short": true, "Byte": true, "Character": true,
	"Boolean": true, "Float": true, "Double": true, "Number": true, "Math": true,
	"System": true, "Class": true, "Enum": true, "Record": true, "Thread": true,
	"Runnable": true, "Iterable": true, "Comparable": true, "CharSequence": true,
	"Throwable": true, "Exception": true, "RuntimeException": true, "Error": true,
	"IllegalArgumentException": true, "IllegalStateException": true,
	"NullPointerException": true, "UnsupportedOperationException": true,
	"InterruptedException": true, "Override": true, "Deprecated": true,
	"SuppressWarnings": true, "AutoCloseable": true, "Void": true,
}

// IsPrimitive reports whether t is a primitive, void, or the null type.
func IsPrimitive(t string) bool { return primitives[t] }

// ResolveType turns a type as written in from's source into a fully
// qualified name. Generic arguments are erased and array suffixes kept.
// Names that match nothing loaded resolve to a best-guess phantom name.
func (s *Scene) ResolveType(from *graph.Class, raw string) string {
	return s.resolveType(from, raw, true)
}

func (s *Scene) resolveType(from *graph.Class, raw string, inherited bool) string {
	t, dims := splitDims(eraseGenerics(raw))
	if t == "" {
		return raw
	}
	if primitives[t] {
		return t + dims
	}
	if strings.Contains(t, ".") {
		return s.resolveQualified(from, t, inherited) + dims
	}
	if name := s.lookupSimple(from, t, inherited); name != "" {
		return name + dims
	}
	if from != nil && from.Package != "" {
		return from.Package + "." + t + dims
	}
	return t + dims
}

// maxBoundChain caps how many type-variable bounds are followed, as in
// <A extends B, B extends C, C>.
const maxBoundChain = 8

// resolveIn resolves raw like ResolveType, first erasing type variables
// declared by m or by from and its enclosing classes. A type variable
// erases to its first bound, or to java.lang.Object when it has none.
func (s *Scene) resolveIn(from *graph.Class, m *graph.Method, raw string) string {
	t, dims := splitDims(eraseGenerics(raw))
	if t == "" {
		return raw
	}
	for range maxBoundChain {
		bound, ok := s.typeVariable(from, m, t)
		if !ok {
			return s.ResolveType(from, t) + dims
		}
		if bound == "" {
			break
		}
		t, _ = splitDims(eraseGenerics(bound))
	}
	return "java.lang.Object" + dims
}

// isTypeVariable reports whether raw, stripped of arguments and array
// suffixes, names a type variable visible from m.
func (s *Scene) isTypeVariable(from *graph.Class, m *graph.Method, raw string) bool {
	t, _ := splitDims(eraseGenerics(raw))
	_, ok := s.typeVariable(from, m, t)
	return ok
}

// typeVariable returns the first bound of the type variable name, looking
// in m then in from and its enclosing classes.
func (s *Scene) typeVariable(from *graph.Class, m *graph.Method, name string) (string, bool) {
	if m != nil {
		if bound, ok := m.TypeParams[name]; ok {
			return bound, true
		}
	}
	for c := from; c != nil; c = s.outerOf(c) {
		if bound, ok := c.TypeParams[name]; ok {
			return bound, true
		}
	}
	return "", false
}

// splitDims separates "T[][]" or "T..." into the element type and its
// array suffix.
func splitDims(t string) (string, string) {
	dims := ""
	for strings.HasSuffix(t, "[]") {
		dims += "[]"
		t = strings.TrimSuffix(t, "[]")
	}
	if strings.HasSuffix(t, "...") {
		dims += "[]"
		t = strings.TrimSuffix(t, "...")
	}
	return t, dims
}

// resolveQualified resolves "a.b.Outer.Inner" or "Outer.Inner".
func (s *Scene) resolveQualified(from *graph.Class, name string, inherited bool) string {
	parts := strings.Split(name, ".")
	if head := s.lookupSimple(from, parts[0], inherited); head != "" {
		cand := head
		if len(parts) > 1 {
			cand += "$" + strings.Join(parts[1:], "$")
		}
		if s.isLoaded(cand) {
			return cand
		}
	}
	if name, ok := s.qualifiedClass(name); ok {
		return name
	}
	return name
}

// qualifiedClass finds the loaded class a dotted name refers to, trying
// every split between package and nested type names.
func (s *Scene) qualifiedClass(name string) (string, bool) {
	if s.isLoaded(name) {
		return name, true
	}
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i >= 1; i-- {
		cand := strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "$")
		if s.isLoaded(cand) {
			return cand, true
		}
	}
	return "", false
}

func (s *Scene) isLoaded(name string) bool {
	c, ok := s.classes[name]
	return ok && !c.IsPhantom()
}

// lookupSimple resolves a simple type name in the scope of from: enclosing
// and member types, single-type imports, the package, on-demand imports and
// java.lang, in that order. It returns "" when nothing matches.
func (s *Scene) lookupSimple(from *graph.Class, name string, inherited bool) string {
	if from == nil {
		if javaLang[name] {
			return "java.lang." + name
		}
		return ""
	}

	for c := from; c != nil; c = s.outerOf(c) {
		if c.SimpleName == name {
			return c.Name
		}
		if slices.Contains(c.Nested, name) {
			return c.Name + "$" + name
		}
		if inherited {
			if n := s.inheritedMember(c, name); n != "" {
				return n
			}
		}
	}

	for _, imp := range from.Imports {
		if imp.Static || imp.OnDemand {
			continue
		}
		if imp.Path == name || strings.HasSuffix(imp.Path, "."+name) {
			if qn, ok := s.qualifiedClass(imp.Path); ok {
				return qn
			}
			return imp.Path
		}
	}

	if from.Package != "" {
		if cand := from.Package + "." + name; s.isLoaded(cand) {
			return cand
		}
	} else if s.isLoaded(name) {
		return name
	}

	for _, imp := range from.Imports {
		if !imp.OnDemand {
			continue
		}
		if cand := imp.Path + "." + name; s.isLoaded(cand) {
			return cand
		}
		if qn, ok := s.qualifiedClass(imp.Path); ok && s.isLoaded(qn+"$"+name) {
			return qn + "$" + name
		}
	}

	if javaLang[name] || s.isLoaded("java.lang."+name) {
		return "java.lang." + name
	}
	return ""
}

// inheritedMember finds a member type declared by a supertype of c.
func (s *Scene) inheritedMember(c *graph.Class, name string) string {
	seen := map[string]bool{c.Name: true}
	queue := s.parents(c)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		pc, ok := s.classes[next]
		if !ok || pc.IsPhantom() {
			continue
		}
		if slices.Contains(pc.Nested, name) {
			return pc.Name + "$" + name
		}
		queue = append(queue, s.parents(pc)...)
	}
	return ""
}

func (s *Scene) parents(c *graph.Class) []string {
	var out []string
	if c.Super != "" {
		out = append(out, c.Super)
	}
	return append(out, c.Interfaces...)
}

func (s *Scene) outerOf(c *graph.Class) *graph.Class {
	if c.Outer == "" {
		return nil
	}
	return s.classes[c.Outer]
}

// fieldType finds the declared type of field name in className or its
// supertypes, resolved in the scope of the declaring class.
func (s *Scene) fieldType(className, name string) (string, bool) {
	seen := map[string]bool{}
	queue := []string{className}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		c, ok := s.classes[next]
		if !ok || c.IsPhantom() {
			continue
		}
		if raw, ok := c.Fields[name]; ok {
			return s.resolveIn(c, nil, raw), true
		}
		queue = append(queue, s.parents(c)...)
	}
	return "", false
}

// eraseGenerics removes type arguments: "Map<String, List<X>>[]" -> "Map[]".
func eraseGenerics(t string) string {
	var b strings.Builder
	depth := 0
	for _, r := range t {
		switch {
		case r == '<':
			depth++
		case r == '>':
			if depth > 0 {
				depth--
			}
		case depth == 0 && r != ' ' && r != '\t' && r != '\n':
			b.WriteRune(r)
		}
	}
	return b.String()
}

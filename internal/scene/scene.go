// Package scene holds the loaded program: classes, their hierarchy, and the
// statically resolved targets of every invocation.
package scene

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"confusage/internal/graph"

	"go.uber.org/zap"
)

// Options configures a Scene.
type Options struct {
	// Exclude lists classes whose bodies are dropped. An entry is either a
	// class name or a package pattern ending in ".*".
	Exclude []string
	Logger  *zap.Logger
}

// Scene is the whole-program view built from scanned classes. It is
// read-only once Load returns.
type Scene struct {
	logger   *zap.Logger
	exclude  []string
	classes  map[string]*graph.Class
	subtypes map[string][]string

	phantomMethods map[string][]*graph.Method

	cgOnce sync.Once
	cg     *CallGraph
}

// New creates an empty Scene.
func New(opts Options) *Scene {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scene{
		logger:   logger,
		exclude:  opts.Exclude,
		classes:  make(map[string]*graph.Class),
		subtypes: make(map[string][]string),

		phantomMethods: make(map[string][]*graph.Method),
	}
}

// Load registers classes and resolves the program. A class name seen twice
// keeps its first definition, so application roots should come first.
func (s *Scene) Load(classes []*graph.Class) {
	var loaded []*graph.Class
	for _, c := range classes {
		if prev, ok := s.classes[c.Name]; ok {
			s.logger.Debug("duplicate class ignored",
				zap.String("class", c.Name),
				zap.String("kept", prev.FilePath),
				zap.String("ignored", c.FilePath))
			continue
		}
		s.classes[c.Name] = c
		loaded = append(loaded, c)
	}

	for _, c := range loaded {
		s.resolveHierarchy(c)
	}
	for _, c := range loaded {
		for _, m := range c.Methods {
			s.resolveSignature(m)
		}
	}
	excluded := 0
	for _, c := range loaded {
		if s.IsExcluded(c.Name) {
			excluded++
			for _, m := range c.Methods {
				m.Body = nil
			}
		}
	}
	for _, c := range loaded {
		for _, m := range c.Methods {
			s.resolveBody(m)
		}
	}

	s.logger.Info("scene loaded",
		zap.Int("classes", len(loaded)),
		zap.Int("excluded", excluded),
		zap.Int("phantoms", len(s.classes)-len(loaded)))
}

func (s *Scene) resolveHierarchy(c *graph.Class) {
	switch {
	case c.Super != "":
		c.Super = s.resolveType(c, c.Super, false)
	case c.Kind == graph.ClassKindClass && c.Name != "java.lang.Object":
		c.Super = "java.lang.Object"
	}
	if c.Super != "" {
		s.subtypes[c.Super] = append(s.subtypes[c.Super], c.Name)
	}
	for i, iface := range c.Interfaces {
		c.Interfaces[i] = s.resolveType(c, iface, false)
		s.subtypes[c.Interfaces[i]] = append(s.subtypes[c.Interfaces[i]], c.Name)
	}
}

func (s *Scene) resolveSignature(m *graph.Method) {
	for i := range m.Params {
		p := &m.Params[i]
		p.Generic = s.isTypeVariable(m.Class, m, p.Type)
		p.Type = s.resolveIn(m.Class, m, p.Type)
	}
	if m.ReturnType != "" && m.ReturnType != "void" {
		m.ReturnType = s.resolveIn(m.Class, m, m.ReturnType)
	}
}

// IsExcluded reports whether className matches the exclude list.
func (s *Scene) IsExcluded(className string) bool {
	for _, pattern := range s.exclude {
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if strings.HasPrefix(className, prefix+".") {
				return true
			}
			continue
		}
		if className == pattern || strings.HasPrefix(className, pattern+"$") {
			return true
		}
	}
	return false
}

// LookupClass returns a loaded or phantom class without creating one.
func (s *Scene) LookupClass(name string) (*graph.Class, bool) {
	c, ok := s.classes[name]
	return c, ok
}

// ensureClass returns the class named name. Unknown names yield a phantom
// class, which is remembered so later lookups return the same value.
func (s *Scene) ensureClass(name string) *graph.Class {
	if c, ok := s.classes[name]; ok {
		return c
	}
	simple := name
	if i := strings.LastIndexAny(name, ".$"); i >= 0 {
		simple = name[i+1:]
	}
	pkg := ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		pkg = name[:i]
	}
	c := &graph.Class{
		Name:       name,
		SimpleName: simple,
		Package:    pkg,
		Kind:       graph.ClassKindClass,
		Fields:     map[string]string{},
		Origin:     graph.OriginPhantom,
	}
	s.classes[name] = c
	return c
}

// Classes returns the non-phantom classes sorted by name.
func (s *Scene) Classes() []*graph.Class {
	var out []*graph.Class
	for _, c := range s.classes {
		if !c.IsPhantom() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Method returns the method of className with the given sub-signature, such
// as "void <init>(org.apache.hadoop.conf.Configuration)". The return type may
// be omitted.
func (s *Scene) Method(className, subSignature string) (*graph.Method, error) {
	c, ok := s.classes[className]
	if !ok || c.IsPhantom() {
		return nil, fmt.Errorf("class %s is not loaded", className)
	}
	want := normalizeSubSignature(subSignature)
	for _, m := range c.Methods {
		if m.SubSignature() == want || nameAndParams(m.SubSignature()) == want {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no method %q in class %s", subSignature, className)
}

// Constructors returns the constructors of className in declaration order.
func (s *Scene) Constructors(className string) ([]*graph.Method, error) {
	c, ok := s.classes[className]
	if !ok || c.IsPhantom() {
		return nil, fmt.Errorf("class %s is not loaded", className)
	}
	var out []*graph.Method
	for _, m := range c.Methods {
		if m.IsConstructor() {
			out = append(out, m)
		}
	}
	return out, nil
}

// Subtypes returns the direct subclasses and implementors of className.
func (s *Scene) Subtypes(className string) []string {
	return s.subtypes[className]
}

// IsSubtype reports whether sub equals super or inherits from it.
func (s *Scene) IsSubtype(sub, super string) bool {
	if sub == super {
		return true
	}
	seen := map[string]bool{}
	var walk func(string) bool
	walk = func(name string) bool {
		if seen[name] {
			return false
		}
		seen[name] = true
		c, ok := s.classes[name]
		if !ok {
			return false
		}
		for _, parent := range c.Interfaces {
			if parent == super || walk(parent) {
				return true
			}
		}
		return c.Super != "" && (c.Super == super || walk(c.Super))
	}
	return walk(sub)
}

func normalizeSubSignature(sig string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(sig, ", ", ",")), " ")
}

// nameAndParams drops the return type of a sub-signature.
func nameAndParams(sig string) string {
	open := strings.Index(sig, "(")
	if open < 0 {
		return sig
	}
	if sp := strings.LastIndex(sig[:open], " "); sp >= 0 {
		return sig[sp+1:]
	}
	return sig
}

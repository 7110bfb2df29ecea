package scanner

import (
	"fmt"
	"strings"

	"confusage/internal/graph"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// compilationUnit carries the file-level context shared by its classes.
type compilationUnit struct {
	src     []byte
	path    string
	origin  graph.Origin
	pkg     string
	imports []graph.Import
}

func parseSource(lang *tree_sitter.Language, query *tree_sitter.Query, src []byte, path string, origin graph.Origin) ([]*graph.Class, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}

	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("parser returned no tree")
	}
	defer tree.Close()
	root := tree.RootNode()

	cu := &compilationUnit{src: src, path: path, origin: origin}
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		switch child.Kind() {
		case "package_declaration":
			if n := child.NamedChild(0); n != nil {
				cu.pkg = compact(n.Utf8Text(src))
			}
		case "import_declaration":
			cu.imports = append(cu.imports, parseImport(child.Utf8Text(src)))
		}
	}

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()
	names := query.CaptureNames()

	var classes []*graph.Class
	matches := qc.Matches(query, root, src)
	for m := matches.Next(); m != nil; m = matches.Next() {
		for _, c := range m.Captures {
			if names[c.Index] != "def" {
				continue
			}
			node := c.Node
			if cls := cu.class(&node); cls != nil {
				classes = append(classes, cls)
			}
		}
	}
	return classes, nil
}

// parseImport turns "import static a.b.C.*;" into an Import.
func parseImport(text string) graph.Import {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "import")
	text = strings.TrimSuffix(strings.TrimSpace(text), ";")
	text = strings.TrimSpace(text)
	imp := graph.Import{}
	if strings.HasPrefix(text, "static ") {
		imp.Static = true
		text = strings.TrimPrefix(text, "static ")
	}
	text = compact(text)
	if strings.HasSuffix(text, ".*") {
		imp.OnDemand = true
		text = strings.TrimSuffix(text, ".*")
	}
	imp.Path = text
	return imp
}

func (cu *compilationUnit) class(decl *tree_sitter.Node) *graph.Class {
	kind, ok := typeDeclKinds[decl.Kind()]
	if !ok {
		return nil
	}
	nameNode := decl.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	simple := nameNode.Utf8Text(cu.src)

	var enclosing []string
	for p := decl.Parent(); p != nil; p = p.Parent() {
		if _, ok := typeDeclKinds[p.Kind()]; ok {
			if n := p.ChildByFieldName("name"); n != nil {
				enclosing = append([]string{n.Utf8Text(cu.src)}, enclosing...)
			}
		}
	}

	binary := strings.Join(append(enclosing, simple), "$")
	name := binary
	if cu.pkg != "" {
		name = cu.pkg + "." + binary
	}

	cls := &graph.Class{
		Name:       name,
		SimpleName: simple,
		Package:    cu.pkg,
		Kind:       kind,
		Imports:    cu.imports,
		Fields:     make(map[string]string),
		FilePath:   cu.path,
		Line:       line(decl),
		Origin:     cu.origin,
	}
	if len(enclosing) > 0 {
		cls.Outer = strings.TrimSuffix(name, "$"+simple)
	}

	cls.TypeParams = typeParams(decl, cu.src)

	mods := modifiers(decl)
	cls.Static = mods["static"] || (kind != graph.ClassKindClass && len(enclosing) > 0)
	cls.Abstract = mods["abstract"] || kind == graph.ClassKindInterface

	if sc := decl.ChildByFieldName("superclass"); sc != nil {
		if t := sc.NamedChild(0); t != nil {
			cls.Super = typeText(t, cu.src)
		}
	}
	for i := uint(0); i < decl.NamedChildCount(); i++ {
		child := decl.NamedChild(i)
		switch child.Kind() {
		case "super_interfaces", "extends_interfaces":
			cls.Interfaces = append(cls.Interfaces, typeList(child, cu.src)...)
		}
	}
	if kind == graph.ClassKindEnum && cls.Super == "" {
		cls.Super = "java.lang.Enum"
	}
	if kind == graph.ClassKindRecord && cls.Super == "" {
		cls.Super = "java.lang.Record"
	}

	if kind == graph.ClassKindRecord {
		if params := decl.ChildByFieldName("parameters"); params != nil {
			for _, p := range formalParams(params, cu.src) {
				cls.Fields[p.Name] = p.Type
			}
		}
	}

	body := decl.ChildByFieldName("body")
	if body != nil {
		cu.members(cls, body)
	}
	return cls
}

// members fills fields, methods and nested type names from a class body.
func (cu *compilationUnit) members(cls *graph.Class, body *tree_sitter.Node) {
	var (
		ctors        []*graph.Method
		instanceInit []*tree_sitter.Node
		staticInit   []*tree_sitter.Node
	)

	for _, member := range bodyMembers(body) {
		switch member.Kind() {
		case "field_declaration", "constant_declaration":
			typ := typeText(member.ChildByFieldName("type"), cu.src)
			hasValue := false
			for _, d := range declarators(member) {
				n := d.ChildByFieldName("name")
				if n == nil {
					continue
				}
				cls.Fields[n.Utf8Text(cu.src)] = typ + dims(d, cu.src)
				hasValue = hasValue || d.ChildByFieldName("value") != nil
			}
			switch {
			case !hasValue:
			case modifiers(member)["static"] || cls.IsInterface():
				staticInit = append(staticInit, member)
			default:
				instanceInit = append(instanceInit, member)
			}
		case "method_declaration":
			cls.Methods = append(cls.Methods, cu.method(cls, member))
		case "constructor_declaration", "compact_constructor_declaration":
			ctor := cu.constructor(cls, member)
			ctors = append(ctors, ctor)
			cls.Methods = append(cls.Methods, ctor)
		case "block":
			instanceInit = append(instanceInit, member)
		case "static_initializer":
			staticInit = append(staticInit, member)
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			if n := member.ChildByFieldName("name"); n != nil {
				cls.Nested = append(cls.Nested, n.Utf8Text(cu.src))
			}
		}
	}

	if len(ctors) == 0 && (cls.Kind == graph.ClassKindClass || cls.Kind == graph.ClassKindEnum) {
		ctor := &graph.Method{
			Class:      cls,
			Name:       graph.ConstructorName,
			ReturnType: "void",
			Body:       &graph.Body{Units: []*graph.Unit{implicitSuper(line(body))}},
			LineStart:  cls.Line,
			LineEnd:    cls.Line,
		}
		ctors = append(ctors, ctor)
		cls.Methods = append(cls.Methods, ctor)
	}

	// Field initializers and instance initializer blocks run in every
	// constructor that does not delegate to this(...), right after the
	// superclass constructor call.
	if len(instanceInit) > 0 {
		for _, ctor := range ctors {
			cu.inlineInitializers(ctor, instanceInit)
		}
	}
	if len(staticInit) > 0 {
		clinit := &graph.Method{
			Class:      cls,
			Name:       "<clinit>",
			ReturnType: "void",
			Static:     true,
			Body:       &graph.Body{},
			LineStart:  line(staticInit[0]),
			LineEnd:    endLine(staticInit[len(staticInit)-1]),
		}
		b := newBodyBuilder(cu.src, clinit.Body)
		for _, n := range staticInit {
			b.initializer(n)
		}
		cls.Methods = append(cls.Methods, clinit)
	}
}

func (cu *compilationUnit) inlineInitializers(ctor *graph.Method, inits []*tree_sitter.Node) {
	if ctor.Body == nil {
		return
	}
	units := ctor.Body.Units
	if len(units) > 0 && isDelegatingCall(units[0]) {
		return
	}
	head := 0
	if len(units) > 0 && isSuperCall(units[0]) {
		head = 1
	}

	b := newBodyBuilder(cu.src, &graph.Body{Locals: ctor.Body.Locals, Scopes: ctor.Body.Scopes})
	// Initializers cannot see the constructor's parameters.
	b.body.Scopes = append(b.body.Scopes, -1)
	b.scope = len(b.body.Scopes) - 1
	for _, n := range inits {
		b.initializer(n)
	}

	merged := make([]*graph.Unit, 0, len(units)+len(b.body.Units))
	merged = append(merged, units[:head]...)
	merged = append(merged, b.body.Units...)
	merged = append(merged, units[head:]...)
	ctor.Body.Units = merged
	ctor.Body.Locals = b.body.Locals
	ctor.Body.Scopes = b.body.Scopes
}

func isDelegatingCall(u *graph.Unit) bool {
	return len(u.Invokes) > 0 && isExplicitCtor(u.Invokes[len(u.Invokes)-1], graph.ExprThis)
}

func isSuperCall(u *graph.Unit) bool {
	return len(u.Invokes) > 0 && isExplicitCtor(u.Invokes[len(u.Invokes)-1], graph.ExprSuper)
}

func isExplicitCtor(inv *graph.Invoke, recv graph.ExprKind) bool {
	return inv.Kind == graph.InvokeSpecial && inv.Name == graph.ConstructorName &&
		inv.Receiver != nil && inv.Receiver.Kind == recv
}

func implicitSuper(ln int) *graph.Unit {
	return &graph.Unit{
		Text: "super()",
		Line: ln,
		Invokes: []*graph.Invoke{{
			Kind:     graph.InvokeSpecial,
			Receiver: &graph.Expr{Kind: graph.ExprSuper, Text: "super"},
			Name:     graph.ConstructorName,
			Text:     "super()",
			Line:     ln,
		}},
	}
}

func (cu *compilationUnit) method(cls *graph.Class, node *tree_sitter.Node) *graph.Method {
	mods := modifiers(node)
	m := &graph.Method{
		Class:      cls,
		Name:       textOf(node.ChildByFieldName("name"), cu.src),
		ReturnType: typeText(node.ChildByFieldName("type"), cu.src) + dims(node, cu.src),
		TypeParams: typeParams(node, cu.src),
		Static:     mods["static"],
		LineStart:  line(node),
		LineEnd:    endLine(node),
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		m.Params = formalParams(params, cu.src)
	}
	body := node.ChildByFieldName("body")
	// Native methods have no body either but are not abstract.
	m.Abstract = mods["abstract"] ||
		(cls.Kind == graph.ClassKindInterface && body == nil && !mods["static"] && !mods["default"] && !mods["private"])
	if body != nil {
		m.Body = cu.body(m, body)
	}
	return m
}

func (cu *compilationUnit) constructor(cls *graph.Class, node *tree_sitter.Node) *graph.Method {
	m := &graph.Method{
		Class:      cls,
		Name:       graph.ConstructorName,
		ReturnType: "void",
		TypeParams: typeParams(node, cu.src),
		LineStart:  line(node),
		LineEnd:    endLine(node),
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		m.Params = formalParams(params, cu.src)
	} else if node.Kind() == "compact_constructor_declaration" {
		// The canonical constructor of a record takes its components.
		if decl := node.Parent(); decl != nil {
			if rec := decl.Parent(); rec != nil {
				if params := rec.ChildByFieldName("parameters"); params != nil {
					m.Params = formalParams(params, cu.src)
				}
			}
		}
	}
	if body := node.ChildByFieldName("body"); body != nil {
		m.Body = cu.body(m, body)
	}
	if m.Body == nil {
		return m
	}
	if len(m.Body.Units) == 0 || !(isDelegatingCall(m.Body.Units[0]) || isSuperCall(m.Body.Units[0])) {
		m.Body.Units = append([]*graph.Unit{implicitSuper(m.LineStart)}, m.Body.Units...)
	}
	return m
}

func (cu *compilationUnit) body(m *graph.Method, node *tree_sitter.Node) *graph.Body {
	b := newBodyBuilder(cu.src, &graph.Body{})
	for _, p := range m.Params {
		b.body.Locals = append(b.body.Locals, graph.Local{Name: p.Name, Type: p.Type})
	}
	b.block(node)
	return b.body
}

// bodyMembers returns the member declarations of a class, interface, enum
// or record body.
func bodyMembers(body *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for i := uint(0); i < body.NamedChildCount(); i++ {
		child := body.NamedChild(i)
		if child.Kind() == "enum_body_declarations" {
			out = append(out, bodyMembers(child)...)
			continue
		}
		out = append(out, child)
	}
	return out
}

func formalParams(node *tree_sitter.Node, src []byte) []graph.Param {
	var params []graph.Param
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		switch child.Kind() {
		case "formal_parameter":
			params = append(params, graph.Param{
				Name: textOf(child.ChildByFieldName("name"), src),
				Type: typeText(child.ChildByFieldName("type"), src) + dims(child, src),
			})
		case "spread_parameter":
			p := graph.Param{VarArgs: true}
			for j := uint(0); j < child.NamedChildCount(); j++ {
				c := child.NamedChild(j)
				switch {
				case c.Kind() == "modifiers":
				case c.Kind() == "variable_declarator":
					p.Name = textOf(c.ChildByFieldName("name"), src)
				case p.Type == "":
					p.Type = typeText(c, src) + "[]"
				}
			}
			params = append(params, p)
		}
	}
	return params
}

func declarators(node *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if c := node.NamedChild(i); c.Kind() == "variable_declarator" {
			out = append(out, c)
		}
	}
	return out
}

func typeList(node *tree_sitter.Node, src []byte) []string {
	var out []string
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() == "type_list" {
			for j := uint(0); j < child.NamedChildCount(); j++ {
				out = append(out, typeText(child.NamedChild(j), src))
			}
		}
	}
	return out
}

func modifiers(node *tree_sitter.Node) map[string]bool {
	mods := make(map[string]bool)
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() != "modifiers" {
			continue
		}
		for j := uint(0); j < child.ChildCount(); j++ {
			mods[child.Child(j).Kind()] = true
		}
	}
	return mods
}

// dims returns the array suffix written after a declarator name, as in
// "String args[]".
func dims(node *tree_sitter.Node, src []byte) string {
	if d := node.ChildByFieldName("dimensions"); d != nil {
		return compact(d.Utf8Text(src))
	}
	return ""
}

// typeText renders a type node without whitespace or annotations.
func typeText(node *tree_sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	if node.Kind() == "annotated_type" {
		for i := node.NamedChildCount(); i > 0; i-- {
			c := node.NamedChild(i - 1)
			if !strings.HasSuffix(c.Kind(), "annotation") {
				return typeText(c, src)
			}
		}
	}
	return compact(node.Utf8Text(src))
}

// typeParams maps each type variable declared on node to its first bound,
// or "" when it has none: <T, K extends Comparable<K> & Serializable>
// gives {T: "", K: "Comparable<K>"}.
func typeParams(node *tree_sitter.Node, src []byte) map[string]string {
	list := node.ChildByFieldName("type_parameters")
	if list == nil {
		return nil
	}
	out := make(map[string]string)
	for i := uint(0); i < list.NamedChildCount(); i++ {
		tp := list.NamedChild(i)
		if tp.Kind() != "type_parameter" {
			continue
		}
		name, bound := "", ""
		for j := uint(0); j < tp.NamedChildCount(); j++ {
			c := tp.NamedChild(j)
			switch c.Kind() {
			case "type_identifier", "identifier":
				name = c.Utf8Text(src)
			case "type_bound":
				if t := c.NamedChild(0); t != nil {
					bound = typeText(t, src)
				}
			}
		}
		if name != "" {
			out[name] = bound
		}
	}
	return out
}

func textOf(node *tree_sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	return node.Utf8Text(src)
}

// compact removes all whitespace.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// oneLine collapses runs of whitespace into single spaces.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func line(node *tree_sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

func endLine(node *tree_sitter.Node) int {
	return int(node.EndPosition().Row) + 1
}

package scanner

import (
	"strings"

	"confusage/internal/graph"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// bodyBuilder flattens a method body into units. Control-flow statements
// contribute one unit per header expression; simple statements contribute
// one unit each. Lambda bodies and anonymous class bodies are separate
// methods in the compiled program and are not descended into.
type bodyBuilder struct {
	src   []byte
	body  *graph.Body
	scope int
}

func newBodyBuilder(src []byte, body *graph.Body) *bodyBuilder {
	if len(body.Scopes) == 0 {
		body.Scopes = []int{-1}
	}
	return &bodyBuilder{src: src, body: body}
}

// enter opens a block scope nested in the current one and returns a
// function that closes it.
func (b *bodyBuilder) enter() func() {
	parent := b.scope
	b.body.Scopes = append(b.body.Scopes, parent)
	b.scope = len(b.body.Scopes) - 1
	return func() { b.scope = parent }
}

func (b *bodyBuilder) local(name, typ string, initExpr *graph.Expr) {
	l := graph.Local{Name: name, Type: typ, Scope: b.scope}
	if typ == "var" {
		l.Init = initExpr
	}
	b.body.Locals = append(b.body.Locals, l)
}

func (b *bodyBuilder) add(u *graph.Unit) {
	u.Scope = b.scope
	b.body.Units = append(b.body.Units, u)
}

// unit records a unit for node whose invocations are collected from the
// given expression nodes.
func (b *bodyBuilder) unit(text string, at *tree_sitter.Node, exprs ...*tree_sitter.Node) {
	u := &graph.Unit{Text: oneLine(text), Line: line(at)}
	for _, e := range exprs {
		if e != nil {
			b.expr(e, &u.Invokes)
		}
	}
	b.add(u)
}

// initializer handles a field declaration with initializers, an instance
// initializer block or a static initializer.
func (b *bodyBuilder) initializer(node *tree_sitter.Node) {
	switch node.Kind() {
	case "field_declaration", "constant_declaration":
		for _, d := range declarators(node) {
			value := d.ChildByFieldName("value")
			if value == nil {
				continue
			}
			b.unit(d.Utf8Text(b.src), d, value)
		}
	case "static_initializer":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			b.statement(node.NamedChild(i))
		}
	default:
		b.statement(node)
	}
}

func (b *bodyBuilder) block(node *tree_sitter.Node) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		b.statement(node.NamedChild(i))
	}
}

func (b *bodyBuilder) statement(node *tree_sitter.Node) {
	if node == nil {
		return
	}
	src := b.src
	switch node.Kind() {
	case "block":
		defer b.enter()()
		b.block(node)

	case "constructor_body":
		b.block(node)

	case "line_comment", "block_comment", ";", "empty_statement":

	case "local_variable_declaration":
		typ := typeText(node.ChildByFieldName("type"), src)
		for _, d := range declarators(node) {
			name := textOf(d.ChildByFieldName("name"), src)
			value := d.ChildByFieldName("value")
			u := &graph.Unit{Text: oneLine(typ + " " + d.Utf8Text(src)), Line: line(d)}
			var initExpr *graph.Expr
			if value != nil {
				initExpr = b.expr(value, &u.Invokes)
			}
			b.local(name, typ+dims(d, src), initExpr)
			b.add(u)
		}

	case "if_statement":
		cond := node.ChildByFieldName("condition")
		b.unit("if "+textOf(cond, src), node, cond)
		b.statement(node.ChildByFieldName("consequence"))
		b.statement(node.ChildByFieldName("alternative"))

	case "while_statement":
		cond := node.ChildByFieldName("condition")
		b.unit("while "+textOf(cond, src), node, cond)
		b.statement(node.ChildByFieldName("body"))

	case "do_statement":
		b.statement(node.ChildByFieldName("body"))
		cond := node.ChildByFieldName("condition")
		b.unit("while "+textOf(cond, src), cond, cond)

	case "for_statement":
		defer b.enter()()
		cursor := node.Walk()
		defer cursor.Close()
		for _, clause := range node.ChildrenByFieldName("init", cursor) {
			if clause.Kind() == "local_variable_declaration" {
				b.statement(&clause)
			} else {
				b.unit(clause.Utf8Text(src), &clause, &clause)
			}
		}
		if cond := node.ChildByFieldName("condition"); cond != nil {
			b.unit("if "+cond.Utf8Text(src), cond, cond)
		}
		b.statement(node.ChildByFieldName("body"))
		for _, update := range node.ChildrenByFieldName("update", cursor) {
			b.unit(update.Utf8Text(src), &update, &update)
		}

	case "enhanced_for_statement":
		value := node.ChildByFieldName("value")
		name := textOf(node.ChildByFieldName("name"), src)
		typ := typeText(node.ChildByFieldName("type"), src)
		b.unit("for ("+typ+" "+name+" : "+textOf(value, src)+")", node, value)
		defer b.enter()()
		b.local(name, typ+dims(node, src), nil)
		b.statement(node.ChildByFieldName("body"))

	case "try_statement", "try_with_resources_statement":
		// Resources are visible in the try block only.
		leaveTry := b.enter()
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			switch child.Kind() {
			case "resource_specification":
				b.resources(child)
			case "block":
				b.statement(child)
				leaveTry()
			case "catch_clause":
				b.catchClause(child)
			case "finally_clause":
				for j := uint(0); j < child.NamedChildCount(); j++ {
					b.statement(child.NamedChild(j))
				}
			}
		}
		leaveTry()

	case "switch_expression", "switch_statement":
		cond := node.ChildByFieldName("condition")
		b.unit("switch "+textOf(cond, src), node, cond)
		if body := node.ChildByFieldName("body"); body != nil {
			leave := b.enter()
			b.switchBlock(body)
			leave()
		}

	case "synchronized_statement":
		var lock *tree_sitter.Node
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child.Kind() == "block" {
				continue
			}
			lock = child
		}
		b.unit("entermonitor "+textOf(lock, src), node, lock)
		b.statement(node.ChildByFieldName("body"))

	case "labeled_statement":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			if child := node.NamedChild(i); child.Kind() != "identifier" {
				b.statement(child)
			}
		}

	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
		// Local type declarations are scanned as classes of their own.

	default:
		// expression_statement, return_statement, throw_statement,
		// explicit_constructor_invocation, assert_statement, yield_statement, ...
		b.unit(strings.TrimSuffix(strings.TrimSpace(node.Utf8Text(src)), ";"), node, node)
	}
}

func (b *bodyBuilder) resources(spec *tree_sitter.Node) {
	for i := uint(0); i < spec.NamedChildCount(); i++ {
		res := spec.NamedChild(i)
		if res.Kind() != "resource" {
			continue
		}
		value := res.ChildByFieldName("value")
		if value == nil {
			// A resource that names an existing variable.
			b.unit(res.Utf8Text(b.src), res, res)
			continue
		}
		u := &graph.Unit{Text: oneLine(res.Utf8Text(b.src)), Line: line(res)}
		initExpr := b.expr(value, &u.Invokes)
		typ := typeText(res.ChildByFieldName("type"), b.src)
		b.local(textOf(res.ChildByFieldName("name"), b.src), typ+dims(res, b.src), initExpr)
		b.add(u)
	}
}

func (b *bodyBuilder) catchClause(node *tree_sitter.Node) {
	defer b.enter()()
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		switch child.Kind() {
		case "catch_formal_parameter":
			name := textOf(child.ChildByFieldName("name"), b.src)
			typ := "java.lang.Throwable"
			for j := uint(0); j < child.NamedChildCount(); j++ {
				if c := child.NamedChild(j); c.Kind() == "catch_type" {
					// Multi-catch types collapse to their first alternative.
					if first := c.NamedChild(0); first != nil {
						typ = typeText(first, b.src)
					}
				}
			}
			b.local(name, typ, nil)
			b.add(&graph.Unit{
				Text: name + " := @caughtexception",
				Line: line(child),
			})
		case "block":
			b.statement(child)
		}
	}
}

func (b *bodyBuilder) switchBlock(block *tree_sitter.Node) {
	for i := uint(0); i < block.NamedChildCount(); i++ {
		group := block.NamedChild(i)
		switch group.Kind() {
		case "switch_block_statement_group":
			for j := uint(0); j < group.NamedChildCount(); j++ {
				if c := group.NamedChild(j); c.Kind() != "switch_label" {
					b.statement(c)
				}
			}
		case "switch_rule":
			for j := uint(0); j < group.NamedChildCount(); j++ {
				c := group.NamedChild(j)
				switch c.Kind() {
				case "switch_label":
				case "expression_statement", "block", "throw_statement":
					b.statement(c)
				default:
					b.unit(c.Utf8Text(b.src), c, c)
				}
			}
		}
	}
}

// expr converts an expression node and appends the invocations it performs
// to out in evaluation order: qualifiers and arguments before the call.
func (b *bodyBuilder) expr(node *tree_sitter.Node, out *[]*graph.Invoke) *graph.Expr {
	if node == nil {
		return &graph.Expr{Kind: graph.ExprOther}
	}
	src := b.src
	text := oneLine(node.Utf8Text(src))
	switch node.Kind() {
	case "identifier":
		return &graph.Expr{Kind: graph.ExprName, Text: text, Name: text}
	case "this":
		return &graph.Expr{Kind: graph.ExprThis, Text: text}
	case "super":
		return &graph.Expr{Kind: graph.ExprSuper, Text: text}

	case "field_access":
		obj := b.expr(node.ChildByFieldName("object"), out)
		return &graph.Expr{
			Kind:   graph.ExprField,
			Text:   text,
			Name:   textOf(node.ChildByFieldName("field"), src),
			Object: obj,
		}

	case "method_invocation":
		inv := &graph.Invoke{
			Kind:     graph.InvokeVirtual,
			Receiver: &graph.Expr{Kind: graph.ExprNone},
			Name:     textOf(node.ChildByFieldName("name"), src),
			Text:     text,
			Line:     line(node),
		}
		if obj := node.ChildByFieldName("object"); obj != nil {
			inv.Receiver = b.expr(obj, out)
			if inv.Receiver.Kind == graph.ExprSuper {
				inv.Kind = graph.InvokeSpecial
			}
		}
		inv.Args = b.args(node.ChildByFieldName("arguments"), out)
		*out = append(*out, inv)
		return &graph.Expr{Kind: graph.ExprCall, Text: text, Call: inv}

	case "object_creation_expression":
		typ := typeText(node.ChildByFieldName("type"), src)
		inv := &graph.Invoke{
			Kind:     graph.InvokeNew,
			Receiver: &graph.Expr{Kind: graph.ExprNew, Text: typ, Type: typ},
			Name:     graph.ConstructorName,
			Text:     text,
			Line:     line(node),
		}
		inv.Args = b.args(node.ChildByFieldName("arguments"), out)
		*out = append(*out, inv)
		return &graph.Expr{Kind: graph.ExprNew, Text: text, Type: typ, Call: inv}

	case "explicit_constructor_invocation":
		recv := &graph.Expr{Kind: graph.ExprSuper, Text: "super"}
		if c := node.ChildByFieldName("constructor"); c != nil && c.Kind() == "this" {
			recv = &graph.Expr{Kind: graph.ExprThis, Text: "this"}
		}
		inv := &graph.Invoke{
			Kind:     graph.InvokeSpecial,
			Receiver: recv,
			Name:     graph.ConstructorName,
			Text:     strings.TrimSuffix(text, ";"),
			Line:     line(node),
		}
		inv.Args = b.args(node.ChildByFieldName("arguments"), out)
		*out = append(*out, inv)
		return &graph.Expr{Kind: graph.ExprOther, Text: text}

	case "cast_expression":
		if v := node.ChildByFieldName("value"); v != nil {
			b.expr(v, out)
		}
		return &graph.Expr{Kind: graph.ExprCast, Text: text, Type: typeText(node.ChildByFieldName("type"), src)}

	case "parenthesized_expression":
		if inner := node.NamedChild(0); inner != nil {
			return b.expr(inner, out)
		}

	case "string_literal", "text_block":
		return literal(text, "java.lang.String")
	case "character_literal":
		return literal(text, "char")
	case "true", "false":
		return literal(text, "boolean")
	case "null_literal":
		return literal(text, "null")
	case "class_literal":
		return literal(text, "java.lang.Class")
	case "decimal_integer_literal", "hex_integer_literal", "octal_integer_literal", "binary_integer_literal":
		if strings.HasSuffix(text, "L") || strings.HasSuffix(text, "l") {
			return literal(text, "long")
		}
		return literal(text, "int")
	case "decimal_floating_point_literal", "hex_floating_point_literal":
		if strings.HasSuffix(text, "f") || strings.HasSuffix(text, "F") {
			return literal(text, "float")
		}
		return literal(text, "double")

	case "lambda_expression", "method_reference", "class_body":
		return &graph.Expr{Kind: graph.ExprOther, Text: text}

	case "array_creation_expression":
		b.children(node, out)
		return &graph.Expr{Kind: graph.ExprOther, Text: text, Type: typeText(node.ChildByFieldName("type"), src) + "[]"}
	}

	b.children(node, out)
	return &graph.Expr{Kind: graph.ExprOther, Text: text}
}

func (b *bodyBuilder) children(node *tree_sitter.Node, out *[]*graph.Invoke) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		b.expr(node.NamedChild(i), out)
	}
}

func (b *bodyBuilder) args(list *tree_sitter.Node, out *[]*graph.Invoke) []*graph.Expr {
	if list == nil {
		return nil
	}
	var args []*graph.Expr
	for i := uint(0); i < list.NamedChildCount(); i++ {
		child := list.NamedChild(i)
		if strings.HasSuffix(child.Kind(), "comment") {
			continue
		}
		args = append(args, b.expr(child, out))
	}
	return args
}

func literal(text, typ string) *graph.Expr {
	return &graph.Expr{Kind: graph.ExprLiteral, Text: text, Type: typ}
}

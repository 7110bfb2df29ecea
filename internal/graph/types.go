package graph

import "strings"

// Node is a method as stored in the call-graph index.
type Node struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	ClassName string `json:"class_name"`
	Signature string `json:"signature"`
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	SymbolURI string `json:"symbol_uri"`
}

// Edge represents a relationship between two nodes.
type Edge struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Relation string `json:"relation"` // calls, overrides
	Line     int    `json:"line"`
}

const (
	RelationCalls     = "calls"
	RelationOverrides = "overrides"
)

// Node kinds.
const (
	KindMethod      = "method"
	KindConstructor = "constructor"
	KindPhantom     = "phantom"
)

// ClassKind is the declaration form of a Java type.
type ClassKind string

const (
	ClassKindClass     ClassKind = "class"
	ClassKindInterface ClassKind = "interface"
	ClassKindEnum      ClassKind = "enum"
	ClassKindRecord    ClassKind = "record"
)

// Origin records where a class came from.
type Origin int

const (
	// OriginApplication classes were found under a process directory.
	OriginApplication Origin = iota
	// OriginLibrary classes were found on the classpath.
	OriginLibrary
	// OriginPhantom classes were referenced but never loaded.
	OriginPhantom
)

func (o Origin) String() string {
	switch o {
	case OriginApplication:
		return "application"
	case OriginLibrary:
		return "library"
	default:
		return "phantom"
	}
}

// ConstructorName is the method name used for constructors.
const ConstructorName = "<init>"

// Import is a single import declaration of a compilation unit.
type Import struct {
	Path     string // e.g. org.apache.hadoop.conf.Configuration or org.apache.hadoop.conf
	Static   bool
	OnDemand bool // import a.b.*;
}

// Class is a Java type declaration.
type Class struct {
	Name       string // fully qualified, nested types joined with '$'
	SimpleName string
	Package    string
	Kind       ClassKind
	Outer      string // enclosing class name for nested types
	Static     bool
	Abstract   bool

	// Super and Interfaces hold the type text as written in source until the
	// scene resolves them to fully qualified names.
	Super      string
	Interfaces []string

	// TypeParams maps each type variable to its first bound as written,
	// or "" when it has none.
	TypeParams map[string]string

	Imports []Import
	Fields  map[string]string // field name -> declared type
	Methods []*Method
	Nested  []string // simple names of directly nested types

	FilePath string
	Line     int
	Origin   Origin
}

// IsPhantom reports whether the class was never loaded from source.
func (c *Class) IsPhantom() bool { return c.Origin == OriginPhantom }

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Kind == ClassKindInterface }

// Param is a formal parameter.
type Param struct {
	Name    string
	Type    string
	VarArgs bool
	// Generic is set when the declared type is a type variable; Type then
	// holds its erasure.
	Generic bool
}

// Method is a method or constructor declaration.
type Method struct {
	Class      *Class
	Name       string
	Params     []Param
	ReturnType string
	TypeParams map[string]string
	Static     bool
	Abstract   bool
	Body       *Body
	LineStart  int
	LineEnd    int
}

// IsConstructor reports whether m is a constructor.
func (m *Method) IsConstructor() bool { return m.Name == ConstructorName }

// HasBody reports whether the method has an analyzable body.
func (m *Method) HasBody() bool { return m != nil && m.Body != nil }

// ParamTypes returns the declared parameter types.
func (m *Method) ParamTypes() []string {
	types := make([]string, len(m.Params))
	for i, p := range m.Params {
		types[i] = p.Type
	}
	return types
}

// SubSignature formats the method the way bytecode tools name it,
// e.g. "void <init>(org.apache.hadoop.conf.Configuration)".
func (m *Method) SubSignature() string {
	ret := m.ReturnType
	if ret == "" {
		ret = "void"
	}
	return ret + " " + m.Name + "(" + strings.Join(m.ParamTypes(), ",") + ")"
}

// Signature is the class-qualified sub-signature, "<Class: sub-signature>".
func (m *Method) Signature() string {
	className := ""
	if m.Class != nil {
		className = m.Class.Name
	}
	return "<" + className + ": " + m.SubSignature() + ">"
}

// Local is a local variable of a body. Parameters are locals too.
type Local struct {
	Name string
	Type string
	// Init is the initializer of a local declared with "var".
	Init *Expr
	// Scope is the block the local is declared in. Parameters live in the
	// root scope 0.
	Scope int
}

func (l Local) String() string { return l.Name }

// Body is an analyzable method body.
type Body struct {
	Locals []Local
	Units  []*Unit
	// Scopes holds the parent of every block scope, indexed by scope id.
	// The root scope 0 has parent -1.
	Scopes []int
}

// LocalAt returns the local named name that is visible in unit u: the one
// declared in u's block or the nearest enclosing block.
func (b *Body) LocalAt(u *Unit, name string) (Local, bool) {
	scope := 0
	if u != nil {
		scope = u.Scope
	}
	for {
		for i := len(b.Locals) - 1; i >= 0; i-- {
			if b.Locals[i].Scope == scope && b.Locals[i].Name == name {
				return b.Locals[i], true
			}
		}
		if scope <= 0 || scope >= len(b.Scopes) {
			return Local{}, false
		}
		scope = b.Scopes[scope]
	}
}

// Unit is one statement of a body.
type Unit struct {
	Text    string
	Line    int
	Invokes []*Invoke
	// Scope is the innermost block scope the unit belongs to.
	Scope int
}

// InvokeKind classifies an invocation the way bytecode does.
type InvokeKind string

const (
	InvokeVirtual InvokeKind = "virtual"
	InvokeStatic  InvokeKind = "static"
	InvokeSpecial InvokeKind = "special" // this(...), super(...), super.m(...)
	InvokeNew     InvokeKind = "new"
)

// ExprKind classifies a receiver or argument expression.
type ExprKind string

const (
	ExprNone    ExprKind = "none" // unqualified call
	ExprThis    ExprKind = "this"
	ExprSuper   ExprKind = "super"
	ExprName    ExprKind = "name"   // identifier
	ExprField   ExprKind = "field"  // a.b, possibly a qualified class name
	ExprCall    ExprKind = "call"   // result of another invocation
	ExprNew     ExprKind = "new"    // object creation
	ExprCast    ExprKind = "cast"   // (T) x
	ExprLiteral ExprKind = "literal"
	ExprOther   ExprKind = "other"
)

// Expr is the part of an expression the resolver needs to infer a static type.
type Expr struct {
	Kind ExprKind
	Text string
	Name string // identifier for ExprName, field name for ExprField
	Type string // declared type for ExprNew/ExprCast, literal type for ExprLiteral
	// Object is the qualifier of an ExprField.
	Object *Expr
	// Call is the invocation whose result this expression is, for ExprCall and ExprNew.
	Call *Invoke
}

// Invoke is one invocation site inside a unit.
type Invoke struct {
	Kind     InvokeKind
	Receiver *Expr
	Name     string // method name, ConstructorName for new/this/super
	Args     []*Expr
	Text     string
	Line     int

	// Target is the statically resolved callee, set by the scene.
	Target *Method
}

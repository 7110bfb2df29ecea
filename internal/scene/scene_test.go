package scene

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"confusage/internal/graph"
	"confusage/internal/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const confClass = "org.apache.hadoop.conf.Configuration"

const programSrc = `package org.example;

import java.util.Map;
import org.apache.hadoop.conf.Configuration;

public class Base {
    protected Configuration conf;

    public Base(Configuration conf) { this.conf = conf; }

    public void start() {}

    public static Base create(Configuration c) { return new Base(c); }

    static class Options {}
}

class Service extends Base {
    private Helper helper = new Helper();

    public Service(Configuration conf) {
        super(conf);
        int port = conf.getInt("port", 1);
        helper.configure(conf);
        start();
        Base b = Base.create(conf);
    }

    @Override
    public void start() { helper.run(); }
}

class Helper {
    void configure(Configuration c) { long x = c.getLong("x", 2L); }
    void run() {}
}

class Fast extends Service {
    Fast(Configuration c) { super(c); }
    public void start() {}
}
`

func load(t *testing.T, opts Options) *Scene {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "org", "example", "Base.java")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(programSrc), 0o644))

	classes, err := scanner.New(nil).Scan(context.Background(), []scanner.Root{{Path: dir}})
	require.NoError(t, err)
	s := New(opts)
	s.Load(classes)
	return s
}

func mustMethod(t *testing.T, s *Scene, className, subSig string) *graph.Method {
	t.Helper()
	m, err := s.Method(className, subSig)
	require.NoError(t, err)
	return m
}

func TestLoadResolvesHierarchy(t *testing.T) {
	s := load(t, Options{})

	svc, ok := s.LookupClass("org.example.Service")
	require.True(t, ok)
	assert.Equal(t, "org.example.Base", svc.Super)

	base, ok := s.LookupClass("org.example.Base")
	require.True(t, ok)
	assert.Equal(t, "java.lang.Object", base.Super)

	assert.ElementsMatch(t, []string{"org.example.Service"}, s.Subtypes("org.example.Base"))
	assert.True(t, s.IsSubtype("org.example.Fast", "org.example.Base"))
	assert.False(t, s.IsSubtype("org.example.Base", "org.example.Fast"))

	var names []string
	for _, c := range s.Classes() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"org.example.Base", "org.example.Base$Options", "org.example.Fast",
		"org.example.Helper", "org.example.Service",
	}, names)
}

func TestMethodBySubSignature(t *testing.T) {
	s := load(t, Options{})

	ctor := mustMethod(t, s, "org.example.Service", "void <init>(org.apache.hadoop.conf.Configuration)")
	assert.True(t, ctor.IsConstructor())
	assert.Equal(t, "<org.example.Service: void <init>(org.apache.hadoop.conf.Configuration)>", ctor.Signature())

	same := mustMethod(t, s, "org.example.Service", "<init>(org.apache.hadoop.conf.Configuration)")
	assert.Same(t, ctor, same)

	_, err := s.Method("org.example.Service", "void <init>()")
	assert.Error(t, err)
	_, err = s.Method("org.example.Missing", "void <init>()")
	assert.Error(t, err)

	ctors, err := s.Constructors("org.example.Service")
	require.NoError(t, err)
	assert.Len(t, ctors, 1)
}

func TestInvocationTargets(t *testing.T) {
	s := load(t, Options{})
	ctor := mustMethod(t, s, "org.example.Service", "void <init>(org.apache.hadoop.conf.Configuration)")

	var invokes []*graph.Invoke
	for _, u := range ctor.Body.Units {
		invokes = append(invokes, u.Invokes...)
	}
	require.Len(t, invokes, 6)

	superCall, newHelper, getInt, configure, start, create := invokes[0], invokes[1], invokes[2], invokes[3], invokes[4], invokes[5]

	assert.Equal(t, "<org.example.Base: void <init>(org.apache.hadoop.conf.Configuration)>", superCall.Target.Signature())
	assert.Equal(t, "<org.example.Helper: void <init>()>", newHelper.Target.Signature())

	require.NotNil(t, getInt.Target)
	assert.Equal(t, confClass, getInt.Target.Class.Name)
	assert.True(t, getInt.Target.Class.IsPhantom())
	assert.False(t, getInt.Target.HasBody())
	assert.Equal(t, "<org.apache.hadoop.conf.Configuration: java.lang.Object getInt(java.lang.String,int)>", getInt.Target.Signature())

	assert.Equal(t, "<org.example.Helper: void configure(org.apache.hadoop.conf.Configuration)>", configure.Target.Signature())
	assert.Equal(t, "<org.example.Service: void start()>", start.Target.Signature())
	assert.Equal(t, graph.InvokeVirtual, start.Kind)

	assert.Equal(t, "create", create.Target.Name)
	assert.Equal(t, graph.InvokeStatic, create.Kind)

	phantom, ok := s.LookupClass(confClass)
	require.True(t, ok)
	assert.True(t, phantom.IsPhantom())
	assert.Len(t, s.PhantomMethods(confClass), 2)
}

func TestPhantomMethodsAreShared(t *testing.T) {
	s := New(Options{})
	a := s.findMethod("x.Y", "get", []string{"java.lang.String"})
	b := s.findMethod("x.Y", "get", []string{"java.lang.String"})
	c := s.findMethod("x.Y", "get", []string{"java.lang.String", "java.lang.String"})
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	cls, ok := s.LookupClass("x.Y")
	require.True(t, ok)
	assert.Empty(t, cls.Methods)
}

func TestExcludedClassesLoseBodies(t *testing.T) {
	s := load(t, Options{Exclude: []string{"org.example.Helper"}})

	configure := mustMethod(t, s, "org.example.Helper", "void configure(org.apache.hadoop.conf.Configuration)")
	assert.Nil(t, configure.Body)

	ctor := mustMethod(t, s, "org.example.Service", "void <init>(org.apache.hadoop.conf.Configuration)")
	assert.NotNil(t, ctor.Body)
	assert.Same(t, configure, ctor.Body.Units[3].Invokes[0].Target)
}

func TestIsExcluded(t *testing.T) {
	s := New(Options{Exclude: []string{
		"org.apache.hadoop.hbase.hbtop.screen.top.TopScreenPresenter",
		"org.skip.*",
	}})
	assert.True(t, s.IsExcluded("org.apache.hadoop.hbase.hbtop.screen.top.TopScreenPresenter"))
	assert.True(t, s.IsExcluded("org.apache.hadoop.hbase.hbtop.screen.top.TopScreenPresenter$1"))
	assert.False(t, s.IsExcluded("org.apache.hadoop.hbase.hbtop.screen.top.TopScreenPresenterX"))
	assert.True(t, s.IsExcluded("org.skip.deep.Thing"))
	assert.False(t, s.IsExcluded("org.skipper.Thing"))
}

func TestResolveType(t *testing.T) {
	s := load(t, Options{})
	svc, _ := s.LookupClass("org.example.Service")

	tests := []struct {
		raw, want string
	}{
		{"int", "int"},
		{"int[]", "int[]"},
		{"String", "java.lang.String"},
		{"String...", "java.lang.String[]"},
		{"Configuration", confClass},
		{"Map<String, List<Integer>>[]", "java.util.Map[]"},
		{"Helper", "org.example.Helper"},
		{"Options", "org.example.Base$Options"},
		{"Base.Options", "org.example.Base$Options"},
		{"Unknown", "org.example.Unknown"},
		{"a.b.Qualified", "a.b.Qualified"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.ResolveType(svc, tt.raw), tt.raw)
	}
}

func TestCallGraphFollowsOverrides(t *testing.T) {
	s := load(t, Options{})
	ctor := mustMethod(t, s, "org.example.Service", "void <init>(org.apache.hadoop.conf.Configuration)")
	start := ctor.Body.Units[4].Invokes[0]

	cg := s.CallGraph()
	assert.Same(t, cg, s.CallGraph())

	var targets []string
	for _, m := range cg.Targets(start) {
		targets = append(targets, m.Signature())
	}
	assert.Equal(t, []string{
		"<org.example.Service: void start()>",
		"<org.example.Fast: void start()>",
	}, targets)

	superCall := ctor.Body.Units[0].Invokes[0]
	assert.Len(t, cg.Targets(superCall), 1)

	assert.NotEmpty(t, cg.EdgesOutOf(ctor))
	fastStart := mustMethod(t, s, "org.example.Fast", "void start()")
	require.Len(t, cg.EdgesInto(fastStart), 1)
	assert.Same(t, ctor, cg.EdgesInto(fastStart)[0].Caller)
	assert.Greater(t, cg.Size(), 0)
}

func TestExport(t *testing.T) {
	s := load(t, Options{})
	nodes, edges := s.Export()

	bySig := make(map[string]*graph.Node)
	byID := make(map[string]*graph.Node)
	for _, n := range nodes {
		bySig[n.Signature] = n
		byID[n.ID] = n
	}
	ctor := bySig["<org.example.Service: void <init>(org.apache.hadoop.conf.Configuration)>"]
	require.NotNil(t, ctor)
	assert.Equal(t, graph.KindConstructor, ctor.Kind)
	assert.Equal(t, "org.example.Service", ctor.ClassName)
	assert.Contains(t, ctor.SymbolURI, "file://")

	getInt := bySig["<org.apache.hadoop.conf.Configuration: java.lang.Object getInt(java.lang.String,int)>"]
	require.NotNil(t, getInt)
	assert.Equal(t, graph.KindPhantom, getInt.Kind)

	var overrides []string
	for _, e := range edges {
		require.Contains(t, byID, e.SourceID)
		require.Contains(t, byID, e.TargetID)
		if e.Relation == graph.RelationOverrides {
			overrides = append(overrides, byID[e.SourceID].ClassName+"->"+byID[e.TargetID].ClassName)
		}
	}
	assert.ElementsMatch(t, []string{
		"org.example.Service->org.example.Base",
		"org.example.Fast->org.example.Base",
		"org.example.Fast->org.example.Service",
	}, overrides)
}

func TestEraseGenerics(t *testing.T) {
	assert.Equal(t, "Map[]", eraseGenerics("Map<String, List<X>>[]"))
	assert.Equal(t, "List", eraseGenerics("List<? extends Number>"))
	assert.Equal(t, "int", eraseGenerics("int"))
}

func TestNormalizeSubSignature(t *testing.T) {
	assert.Equal(t, "void <init>(a.B,c.D)", normalizeSubSignature("void  <init>(a.B, c.D)"))
	assert.Equal(t, "<init>(a.B)", nameAndParams("void <init>(a.B)"))
}

func loadSrc(t *testing.T, rel, src string) *Scene {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	classes, err := scanner.New(nil).Scan(context.Background(), []scanner.Root{{Path: dir}})
	require.NoError(t, err)
	s := New(Options{})
	s.Load(classes)
	return s
}

func invokesNamed(m *graph.Method, name string) []*graph.Invoke {
	var out []*graph.Invoke
	for _, u := range m.Body.Units {
		for _, inv := range u.Invokes {
			if inv.Name == name {
				out = append(out, inv)
			}
		}
	}
	return out
}

func TestSiblingBlockLocalsResolveSeparately(t *testing.T) {
	s := loadSrc(t, "org/example/Node.java", `package org.example;

import org.apache.hadoop.conf.Configuration;

class Node {
    Node(Configuration conf) {
        {
            Configuration c = conf;
            c.getInt("port", 1);
        }
        {
            StringBuilder c = new StringBuilder();
            c.append("x");
        }
    }
}
`)
	ctor := mustMethod(t, s, "org.example.Node", "void <init>(org.apache.hadoop.conf.Configuration)")

	getInt := invokesNamed(ctor, "getInt")
	require.Len(t, getInt, 1)
	assert.Equal(t, confClass, getInt[0].Target.Class.Name)

	appendCall := invokesNamed(ctor, "append")
	require.Len(t, appendCall, 1)
	assert.Equal(t, "java.lang.StringBuilder", appendCall[0].Target.Class.Name)
}

func TestTypeVariablesErase(t *testing.T) {
	s := loadSrc(t, "org/example/Box.java", `package org.example;

import org.apache.hadoop.conf.Configuration;

class Box<T> {
    T value;

    Box(Configuration conf, T value) {
        this.value = value;
        value.hashCode();
    }

    <R extends Number> R first(R[] items) { return items[0]; }

    <E> void put(java.util.List<E> list, E item) {}
}
`)
	ctor := mustMethod(t, s, "org.example.Box",
		"void <init>(org.apache.hadoop.conf.Configuration,java.lang.Object)")
	assert.True(t, ctor.Params[1].Generic)
	assert.False(t, ctor.Params[0].Generic)

	hash := invokesNamed(ctor, "hashCode")
	require.Len(t, hash, 1)
	assert.Equal(t, "java.lang.Object", hash[0].Target.Class.Name)

	first := mustMethod(t, s, "org.example.Box", "java.lang.Number first(java.lang.Number[])")
	assert.Equal(t, "java.lang.Number", first.ReturnType)

	mustMethod(t, s, "org.example.Box", "void put(java.util.List,java.lang.Object)")
}

func TestCallGraphFollowsGenericOverrides(t *testing.T) {
	s := loadSrc(t, "org/example/Handler.java", `package org.example;

interface Handler<T> {
    void handle(T item);
}

class StringHandler implements Handler<String> {
    public void handle(String item) {}
}

class CountHandler implements Handler<Integer> {
    public void handle(int item) {}
}

class User {
    void use(Handler<String> h) { h.handle("x"); }
}
`)
	use := mustMethod(t, s, "org.example.User", "void use(org.example.Handler)")
	calls := invokesNamed(use, "handle")
	require.Len(t, calls, 1)
	assert.Equal(t, "org.example.Handler", calls[0].Target.Class.Name)

	var targets []string
	for _, m := range s.CallGraph().Targets(calls[0]) {
		targets = append(targets, m.Class.Name+"."+m.Name)
	}
	assert.Contains(t, targets, "org.example.StringHandler.handle")
	// A primitive parameter cannot bind a type variable.
	assert.NotContains(t, targets, "org.example.CountHandler.handle")
}

func TestNativeMethodIsPhantomNode(t *testing.T) {
	s := loadSrc(t, "org/example/Sys.java", `package org.example;

abstract class Sys {
    native long address();
    abstract void reset();
}
`)
	native := mustMethod(t, s, "org.example.Sys", "long address()")
	assert.False(t, native.Abstract)
	assert.Equal(t, graph.KindPhantom, MethodNode(native).Kind)

	reset := mustMethod(t, s, "org.example.Sys", "void reset()")
	assert.True(t, reset.Abstract)
	assert.Equal(t, graph.KindMethod, MethodNode(reset).Kind)
}

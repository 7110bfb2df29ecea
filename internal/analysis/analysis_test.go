package analysis

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"confusage/internal/graph"
	"confusage/internal/store"
	"confusage/internal/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const confClass = "org.apache.hadoop.conf.Configuration"

const nodeSrc = `package org.example;

import org.apache.hadoop.conf.Configuration;

public class NameNode {
    private final Configuration conf;

    public NameNode(Configuration conf, Options opts) {
        this.conf = conf;
        initialize(conf);
    }

    public NameNode(Configuration conf) {
        this(conf, null);
    }

    void initialize(Configuration conf) {
        String addr = conf.get("dfs.namenode.address");
        int port = conf.getInt("dfs.namenode.port", 8020);
        bind(addr, port);
    }

    void bind(String addr, int port) {}

    static class Options {}
}
`

const confSrc = `package org.apache.hadoop.conf;

public class Configuration {
    public String get(String name) { return getRaw(name); }
    public String getRaw(String name) { return null; }
    public int getInt(String name, int def) { return def; }
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fixture(t *testing.T) (procList, cpList string) {
	t.Helper()
	dir := t.TempDir()
	app := filepath.Join(dir, "app")
	lib := filepath.Join(dir, "lib")
	writeFile(t, filepath.Join(app, "org/example/NameNode.java"), nodeSrc)
	writeFile(t, filepath.Join(lib, "org/apache/hadoop/conf/Configuration.java"), confSrc)

	procList = filepath.Join(dir, "proc.txt")
	cpList = filepath.Join(dir, "cp.txt")
	writeFile(t, procList, app+"\nnull\n")
	writeFile(t, cpList, "null\n"+lib+"\n"+app+"\n")
	return procList, cpList
}

func load(t *testing.T) *Program {
	t.Helper()
	procList, cpList := fixture(t)
	in := ReadInputs(zap.NewNop(), procList, cpList)
	p, err := Load(context.Background(), in, Options{Workers: 2})
	require.NoError(t, err)
	return p
}

func TestReadInputsSkipsNull(t *testing.T) {
	procList, cpList := fixture(t)
	in := ReadInputs(zap.NewNop(), procList, cpList)
	require.Len(t, in.ProcDirs, 1)
	require.Len(t, in.ClassPath, 2)
	for _, e := range append(in.ProcDirs, in.ClassPath...) {
		assert.NotEqual(t, "null", e)
	}
	assert.True(t, strings.HasPrefix(in.ClassPathString(), ".:"))
}

func TestReadInputsIsBestEffort(t *testing.T) {
	procList, _ := fixture(t)
	in := ReadInputs(zap.NewNop(), procList, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Len(t, in.ProcDirs, 1)
	assert.Empty(t, in.ClassPath)
}

func TestRoots(t *testing.T) {
	in := Inputs{ProcDirs: []string{"/app"}, ClassPath: []string{"/lib.jar", "/app", "."}}
	roots := in.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "/app", roots[0].Path)
	assert.Equal(t, graph.OriginApplication, roots[0].Origin)
	assert.Equal(t, "/lib.jar", roots[1].Path)
	assert.Equal(t, graph.OriginLibrary, roots[1].Origin)
}

func TestEntries(t *testing.T) {
	p := load(t)

	one, err := p.Entries("org.example.NameNode", "void <init>(org.apache.hadoop.conf.Configuration,org.example.NameNode$Options)", false)
	require.NoError(t, err)
	require.Len(t, one, 1)

	all, err := p.Entries("org.example.NameNode", "", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = p.Entries("org.example.NameNode", "void <init>(int)", false)
	assert.Error(t, err)
	_, err = p.Entries("org.example.Missing", "", true)
	assert.Error(t, err)
}

func TestTraceEndToEnd(t *testing.T) {
	p := load(t)
	entries, err := p.Entries("org.example.NameNode", "void <init>(org.apache.hadoop.conf.Configuration)", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	tr, err := p.Tracer(trace.NewTextSink(&buf), trace.Options{ConfClass: confClass})
	require.NoError(t, err)
	sum := tr.Trace(entries[0])

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "(0) GO_THROUGH_BEGIN: <init>\n"))
	assert.Contains(t, out, "\t(1) GO_THROUGH_BEGIN: <init>\n")
	assert.Contains(t, out, "\t\t(2) GO_THROUGH_BEGIN: initialize\n")
	assert.Contains(t, out, "\t\t(2) CONFIGURATION_GET_METHOD get\n")
	assert.Contains(t, out, "\t\t(2) Parameter of ConfMethod: \"dfs.namenode.port\"\n")
	assert.Contains(t, out, "\t\t(2) ARGUMENT_PASSING local value port is to be transferred as 1th argument\n")
	assert.Contains(t, out, "\t\t\t(3) GO_THROUGH_BEGIN: bind\n")
	// Accessors are never entered, so getRaw inside get is not reached.
	assert.NotContains(t, out, "GO_THROUGH_BEGIN: get")

	var accessors []string
	for _, a := range sum.Accessors {
		accessors = append(accessors, a.Method.Name)
		assert.True(t, a.Listed)
	}
	assert.Equal(t, []string{"get", "getInt"}, accessors)
	assert.Equal(t, 3, sum.MaxLevel)
}

func TestTraceSiblingBlockLocals(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "app")
	lib := filepath.Join(dir, "lib")
	writeFile(t, filepath.Join(app, "org/example/Node.java"), `package org.example;

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
	writeFile(t, filepath.Join(lib, "org/apache/hadoop/conf/Configuration.java"), confSrc)
	procList := filepath.Join(dir, "proc.txt")
	cpList := filepath.Join(dir, "cp.txt")
	writeFile(t, procList, app+"\n")
	writeFile(t, cpList, lib+"\n")

	p, err := Load(context.Background(), ReadInputs(zap.NewNop(), procList, cpList), Options{Workers: 1})
	require.NoError(t, err)
	entries, err := p.Entries("org.example.Node", "void <init>(org.apache.hadoop.conf.Configuration)", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	tr, err := p.Tracer(trace.NewTextSink(&buf), trace.Options{ConfClass: confClass})
	require.NoError(t, err)
	sum := tr.Trace(entries[0])

	require.Len(t, sum.Accessors, 1, buf.String())
	assert.Equal(t, "getInt", sum.Accessors[0].Method.Name)
	assert.Equal(t, []string{`"port"`, "1"}, sum.Accessors[0].Args)
}

func TestIndex(t *testing.T) {
	p := load(t)
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()

	nodes, edges, err := p.Index(ctx, st)
	require.NoError(t, err)
	assert.Positive(t, nodes)
	assert.Positive(t, edges)

	callers, err := st.FindCallers(ctx, "org.apache.hadoop.conf.Configuration.getInt")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "initialize", callers[0].Name)

	impact, err := st.FindImpact(ctx, "getRaw")
	require.NoError(t, err)
	var names []string
	for _, n := range impact {
		names = append(names, n.ClassName+"."+n.Name)
	}
	assert.Contains(t, names, "org.example.NameNode.initialize")
	assert.Contains(t, names, "org.apache.hadoop.conf.Configuration.get")

	// Indexing again replaces the edges instead of duplicating them.
	_, again, err := p.Index(ctx, st)
	require.NoError(t, err)
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, again, stats.Calls+stats.Overrides)
}

func TestIndexDropsRenamedMethods(t *testing.T) {
	procList, cpList := fixture(t)
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer st.Close()

	index := func() {
		t.Helper()
		p, err := Load(ctx, ReadInputs(zap.NewNop(), procList, cpList), Options{Workers: 1})
		require.NoError(t, err)
		_, _, err = p.Index(ctx, st)
		require.NoError(t, err)
	}
	index()
	bind, err := st.GetSymbolLocation(ctx, "org.example.NameNode.bind")
	require.NoError(t, err)
	require.Len(t, bind, 1)

	app := filepath.Join(filepath.Dir(procList), "app")
	writeFile(t, filepath.Join(app, "org/example/NameNode.java"), strings.ReplaceAll(nodeSrc, "bind(", "listen("))
	index()

	bind, err = st.GetSymbolLocation(ctx, "org.example.NameNode.bind")
	require.NoError(t, err)
	assert.Empty(t, bind)
	listen, err := st.GetSymbolLocation(ctx, "org.example.NameNode.listen")
	require.NoError(t, err)
	assert.Len(t, listen, 1)

	callers, err := st.FindCallers(ctx, "listen")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "initialize", callers[0].Name)
}

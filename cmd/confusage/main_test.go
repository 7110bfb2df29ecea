package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"confusage/internal/config"
	"confusage/internal/store"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceSrc = `package org.example;

import org.apache.hadoop.conf.Configuration;

public class Service {
    public Service(Configuration conf) {
        long interval = conf.getLong("service.interval", 60L);
        schedule(interval);
    }

    public Service(Configuration conf, String name) {
        this(conf);
    }

    void schedule(long interval) {}
}
`

func fixture(t *testing.T) (procList, cpList string) {
	t.Helper()
	dir := t.TempDir()
	app := filepath.Join(dir, "app")
	require.NoError(t, os.MkdirAll(filepath.Join(app, "org/example"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(app, "org/example/Service.java"), []byte(serviceSrc), 0o644))
	procList = filepath.Join(dir, "proc.txt")
	cpList = filepath.Join(dir, "cp.txt")
	require.NoError(t, os.WriteFile(procList, []byte(app+"\nnull\n"), 0o644))
	require.NoError(t, os.WriteFile(cpList, []byte("null\n"), 0o644))
	return procList, cpList
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	cmd := newRootCmd(&stdout)
	if args == nil {
		// cobra falls back to os.Args for nil.
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestWrongArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"none", nil},
		{"one", []string{"proc.txt"}},
		{"three", []string{"proc.txt", "cp.txt", "extra"}},
		{"serve with one", []string{"serve", "proc.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.ErrorIs(t, err, errWrongArguments)
		})
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	f := &flags{}
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--conf-class", "org.example.Conf",
		"--depth", "3",
		"--component", "org.example.Service",
		"--exclude", "a.B,c.D",
		"--follow-cha",
		"--workers", "2",
	}))

	cfg, err := config.Default()
	require.NoError(t, err)
	f.apply(cmd, cfg)

	assert.Equal(t, "org.example.Conf", cfg.Analysis.ConfClass)
	assert.Equal(t, 3, cfg.Analysis.DepthThreshold)
	assert.True(t, cfg.Analysis.FollowCHA)
	assert.Equal(t, "org.example.Service", cfg.Component.Class)
	// The default constructor belongs to the default component.
	assert.Empty(t, cfg.Component.Constructor)
	assert.Equal(t, []string{"a.B", "c.D"}, cfg.Scene.Exclude)
	assert.Equal(t, 2, cfg.Scanner.Workers)
	// Flags that were not given keep the configured values.
	assert.Equal(t, "get", cfg.Analysis.AccessorPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestTrace(t *testing.T) {
	procList, cpList := fixture(t)
	out, err := execute(t,
		"--log-level", "error",
		"--conf-class", "org.apache.hadoop.conf.Configuration",
		"--component", "org.example.Service",
		"--constructor", "void <init>(org.apache.hadoop.conf.Configuration)",
		procList, cpList)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "(0) GO_THROUGH_BEGIN: <init>\n"), out)
	assert.Contains(t, out, "(0) CONFIGURATION_GET_METHOD getLong\n")
	assert.Contains(t, out, "(0) ARGUMENT_PASSING local value interval is to be transferred as 0th argument\n")
	assert.Contains(t, out, "\t(1) GO_THROUGH_BEGIN: schedule\n")
}

func TestTraceAllConstructors(t *testing.T) {
	procList, cpList := fixture(t)
	out, err := execute(t,
		"--log-level", "error",
		"--conf-class", "org.apache.hadoop.conf.Configuration",
		"--component", "org.example.Service",
		"--all-constructors",
		procList, cpList)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "void <init>(org.apache.hadoop.conf.Configuration)\n"), out)
	assert.Contains(t, out, "void <init>(org.apache.hadoop.conf.Configuration,java.lang.String)\n")
	assert.Equal(t, 2, strings.Count(out, "(0) GO_THROUGH_BEGIN: <init>\n"))
}

func TestMissingComponent(t *testing.T) {
	procList, cpList := fixture(t)
	_, err := execute(t,
		"--log-level", "error",
		"--component", "org.example.Missing",
		"--all-constructors",
		procList, cpList)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errWrongArguments)
}

func TestTraceWritesDatabase(t *testing.T) {
	procList, cpList := fixture(t)
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	_, err := execute(t,
		"--log-level", "error",
		"--conf-class", "org.apache.hadoop.conf.Configuration",
		"--component", "org.example.Service",
		"--all-constructors",
		"--db", dbPath,
		procList, cpList)
	require.NoError(t, err)

	st, err := store.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer st.Close()
	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.Nodes)
	assert.Positive(t, stats.Calls)
}

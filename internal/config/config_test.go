package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	config, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "org.apache.hadoop.conf.Configuration", config.Analysis.ConfClass)
	assert.Equal(t, "get", config.Analysis.AccessorPrefix)
	assert.Equal(t, 5, config.Analysis.DepthThreshold)
	assert.False(t, config.Analysis.FollowCHA)
	assert.Contains(t, config.Analysis.KnownAccessors, "getTimeDuration")
	assert.Len(t, config.Analysis.KnownAccessors, 13)

	assert.Equal(t, "org.apache.hadoop.hdfs.server.namenode.SecondaryNameNode", config.Component.Class)
	assert.Equal(t,
		"void <init>(org.apache.hadoop.conf.Configuration,org.apache.hadoop.hdfs.server.namenode.SecondaryNameNode$CommandLineOpts)",
		config.Component.Constructor)
	assert.Equal(t, []string{
		"org.apache.hadoop.hbase.replication.regionserver.WALFileLengthProvider",
		"org.apache.hadoop.hbase.hbtop.screen.top.TopScreenPresenter",
	}, config.Scene.Exclude)
	assert.Equal(t, "info", config.Log.Level)
	assert.NoError(t, config.Validate())
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, LocalFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[analysis]
depth_threshold = 3

[component]
class = "org.example.Server"
all_constructors = true

[scene]
exclude = ["org.example.gen.*"]
`)
	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, config.Analysis.DepthThreshold)
	assert.Equal(t, "org.apache.hadoop.conf.Configuration", config.Analysis.ConfClass)
	assert.Equal(t, "org.example.Server", config.Component.Class)
	assert.True(t, config.Component.AllConstructors)
	assert.Equal(t, []string{"org.example.gen.*"}, config.Scene.Exclude)
}

func TestLoadLocalFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[log]\nlevel = \"debug\"\n")
	t.Chdir(dir)

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Log.Level)
}

func TestLoadWithoutLocalFile(t *testing.T) {
	t.Chdir(t.TempDir())
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", config.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[analysis\n"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("[analysis]\ndepth = 2\n"), 0o644))
	_, err = Load(unknown)
	assert.ErrorContains(t, err, "analysis.depth")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no conf class", func(c *Config) { c.Analysis.ConfClass = "" }, false},
		{"zero depth", func(c *Config) { c.Analysis.DepthThreshold = 0 }, false},
		{"no component", func(c *Config) { c.Component.Class = "" }, false},
		{"no constructor", func(c *Config) { c.Component.Constructor = "" }, false},
		{"all constructors", func(c *Config) {
			c.Component.Constructor = ""
			c.Component.AllConstructors = true
		}, true},
		{"negative workers", func(c *Config) { c.Scanner.Workers = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := Default()
			require.NoError(t, err)
			tt.mutate(config)
			if tt.ok {
				assert.NoError(t, config.Validate())
			} else {
				assert.Error(t, config.Validate())
			}
		})
	}
}

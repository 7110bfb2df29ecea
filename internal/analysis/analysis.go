// Package analysis wires the list files, the scanner, the scene and the
// tracer into one run over a program.
package analysis

import (
	"context"
	"fmt"
	"slices"

	"confusage/internal/graph"
	"confusage/internal/listfile"
	"confusage/internal/scanner"
	"confusage/internal/scene"
	"confusage/internal/store"
	"confusage/internal/trace"

	"go.uber.org/zap"
)

// Inputs are the entries of the two list files.
type Inputs struct {
	ProcDirs  []string
	ClassPath []string
}

// ReadInputs loads both list files. A file that cannot be read is logged
// and contributes the entries read before the failure.
func ReadInputs(logger *zap.Logger, procDirListPath, classPathPath string) Inputs {
	var in Inputs
	var err error
	if in.ProcDirs, err = listfile.Read(procDirListPath); err != nil {
		logger.Error("failed to read process directory list", zap.String("path", procDirListPath), zap.Error(err))
	}
	if in.ClassPath, err = listfile.Read(classPathPath); err != nil {
		logger.Error("failed to read classpath list", zap.String("path", classPathPath), zap.Error(err))
	}
	return in
}

// ClassPathString renders the classpath with the current directory first.
func (in Inputs) ClassPathString() string {
	return listfile.JoinClassPath(in.ClassPath)
}

// Roots returns the scanner roots: process directories as application
// sources, then classpath entries as library sources. The current-directory
// entry and repeated paths are dropped.
func (in Inputs) Roots() []scanner.Root {
	var roots []scanner.Root
	seen := map[string]bool{".": true}
	add := func(path string, origin graph.Origin) {
		if seen[path] {
			return
		}
		seen[path] = true
		roots = append(roots, scanner.Root{Path: path, Origin: origin})
	}
	for _, d := range in.ProcDirs {
		add(d, graph.OriginApplication)
	}
	for _, e := range listfile.SplitClassPath(in.ClassPathString()) {
		add(e, graph.OriginLibrary)
	}
	return roots
}

// Options configures Load.
type Options struct {
	Exclude []string
	Workers int
	Logger  *zap.Logger
}

// Program is a loaded, resolved program.
type Program struct {
	Inputs Inputs
	Scene  *scene.Scene
	logger *zap.Logger
}

// Load scans every root of in and resolves the result.
func Load(ctx context.Context, in Inputs, opts Options) (*Program, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("loading program",
		zap.Int("process_dirs", len(in.ProcDirs)),
		zap.String("classpath", in.ClassPathString()))

	sc := scanner.New(logger.Named("scanner"), scanner.WithWorkers(opts.Workers))
	classes, err := sc.Scan(ctx, in.Roots())
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s := scene.New(scene.Options{Exclude: opts.Exclude, Logger: logger.Named("scene")})
	s.Load(classes)
	return &Program{Inputs: in, Scene: s, logger: logger}, nil
}

// Entries resolves the methods to trace. With all set, every constructor of
// className is returned and subSignature is ignored.
func (p *Program) Entries(className, subSignature string, all bool) ([]*graph.Method, error) {
	if all {
		ctors, err := p.Scene.Constructors(className)
		if err != nil {
			return nil, err
		}
		if len(ctors) == 0 {
			return nil, fmt.Errorf("class %s declares no constructors", className)
		}
		return ctors, nil
	}
	m, err := p.Scene.Method(className, subSignature)
	if err != nil {
		return nil, err
	}
	return []*graph.Method{m}, nil
}

// Tracer creates a tracer over the program's call graph.
func (p *Program) Tracer(sink trace.Sink, opts trace.Options) (*trace.Tracer, error) {
	var cg trace.CallGraph
	if opts.FollowCHA {
		cg = p.Scene.CallGraph()
	}
	return trace.New(cg, sink, opts)
}

// Files returns the source files the loaded classes came from.
func (p *Program) Files() []string {
	var files []string
	for _, c := range p.Scene.Classes() {
		if c.FilePath != "" {
			files = append(files, c.FilePath)
		}
	}
	slices.Sort(files)
	return slices.Compact(files)
}

// Index writes the call graph to st, replacing what st held for the same
// files, and drops entries of files that are no longer loaded.
func (p *Program) Index(ctx context.Context, st *store.Store) (nodes, edges int, err error) {
	n, e := p.Scene.Export()
	if err := st.DropFiles(ctx, p.Files()); err != nil {
		return 0, 0, fmt.Errorf("failed to drop re-indexed files: %w", err)
	}
	if err := st.BulkUpsertNodes(ctx, n); err != nil {
		return 0, 0, fmt.Errorf("failed to store nodes: %w", err)
	}
	if err := st.PruneStaleFiles(ctx, p.Files()); err != nil {
		p.logger.Warn("failed to prune stale files", zap.Error(err))
	}
	if err := st.ClearEdges(ctx); err != nil {
		return 0, 0, err
	}
	if err := st.BulkUpsertEdges(ctx, e); err != nil {
		return 0, 0, fmt.Errorf("failed to store edges: %w", err)
	}
	return len(n), len(e), nil
}

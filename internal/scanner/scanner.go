package scanner

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"confusage/internal/graph"

	ignore "github.com/sabhiram/go-gitignore"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Root is a location to load Java sources from: a directory tree or a
// source jar.
type Root struct {
	Path   string
	Origin graph.Origin
}

// Scanner parses Java sources into class declarations.
type Scanner struct {
	logger  *zap.Logger
	workers int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers bounds the number of files parsed concurrently.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Scanner.
func New(logger *zap.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scanner{logger: logger, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sourceFile is a single .java file waiting to be parsed.
type sourceFile struct {
	path   string
	origin graph.Origin
	read   func() ([]byte, error)
}

// Scan parses every Java source under roots. Classes are returned in root
// order, and in file order within a root. A file that fails to parse is
// logged and skipped.
func (s *Scanner) Scan(ctx context.Context, roots []Root) ([]*graph.Class, error) {
	var files []sourceFile
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for _, root := range roots {
		found, closer, err := s.collect(root)
		if err != nil {
			s.logger.Warn("skipping source root", zap.String("root", root.Path), zap.Error(err))
			continue
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		files = append(files, found...)
	}

	lang := tree_sitter.NewLanguage(tree_sitter_java.Language())
	query, qerr := tree_sitter.NewQuery(lang, Queries["java"])
	if qerr != nil {
		return nil, fmt.Errorf("failed to compile java query: %s", qerr.Message)
	}
	defer query.Close()

	results := make([][]*graph.Class, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := f.read()
			if err != nil {
				s.logger.Warn("failed to read source", zap.String("file", f.path), zap.Error(err))
				return nil
			}
			classes, err := parseSource(lang, query, src, f.path, f.origin)
			if err != nil {
				s.logger.Warn("failed to parse source", zap.String("file", f.path), zap.Error(err))
				return nil
			}
			results[i] = classes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var classes []*graph.Class
	for _, r := range results {
		classes = append(classes, r...)
	}
	s.logger.Info("scanned sources", zap.Int("files", len(files)), zap.Int("classes", len(classes)))
	return classes, nil
}

func (s *Scanner) collect(root Root) ([]sourceFile, io.Closer, error) {
	info, err := os.Stat(root.Path)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		if isArchive(root.Path) {
			return s.collectArchive(root)
		}
		if strings.HasSuffix(root.Path, ".java") {
			return []sourceFile{osFile(root.Path, root.Origin)}, nil, nil
		}
		return nil, nil, fmt.Errorf("unsupported source root %s", root.Path)
	}
	files, err := s.collectDir(root)
	return files, nil, err
}

func (s *Scanner) collectDir(root Root) ([]sourceFile, error) {
	var gi *ignore.GitIgnore
	if compiled, err := ignore.CompileIgnoreFile(filepath.Join(root.Path, ".gitignore")); err == nil {
		gi = compiled
	}

	var files []sourceFile
	err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("walk error", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, relErr := filepath.Rel(root.Path, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || (gi != nil && gi.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".java") {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		files = append(files, osFile(path, root.Origin))
		return nil
	})
	return files, err
}

func (s *Scanner) collectArchive(root Root) ([]sourceFile, io.Closer, error) {
	zr, err := zip.OpenReader(root.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	var files []sourceFile
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !strings.HasSuffix(zf.Name, ".java") {
			continue
		}
		files = append(files, sourceFile{
			path:   root.Path + "!/" + zf.Name,
			origin: root.Origin,
			read: func() ([]byte, error) {
				rc, err := zf.Open()
				if err != nil {
					return nil, err
				}
				defer rc.Close()
				return io.ReadAll(rc)
			},
		})
	}
	if len(files) == 0 {
		s.logger.Debug("archive holds no java sources", zap.String("archive", root.Path))
	}
	return files, zr, nil
}

func osFile(path string, origin graph.Origin) sourceFile {
	return sourceFile{
		path:   path,
		origin: origin,
		read:   func() ([]byte, error) { return os.ReadFile(path) },
	}
}

func isArchive(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jar" || ext == ".zip"
}

// Package server exposes the loaded program and its call-graph index over
// the Model Context Protocol.
package server

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"confusage/internal/analysis"
	"confusage/internal/store"
	"confusage/internal/trace"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

//go:embed guidelines.md
var usageGuidelines string

// IndexStatus is the state of the background index.
type IndexStatus string

const (
	IndexStatusNotStarted IndexStatus = "not_started"
	IndexStatusInProgress IndexStatus = "in_progress"
	IndexStatusReady      IndexStatus = "ready"
	IndexStatusFailed     IndexStatus = "failed"
)

// Options configures a Server.
type Options struct {
	Name    string
	Version string

	// ProcDirList and ClassPathList are the list files read on every index.
	ProcDirList   string
	ClassPathList string

	Load  analysis.Options
	Trace trace.Options

	// Component and Constructor are the defaults of trace_constructor.
	Component   string
	Constructor string

	Logger *zap.Logger
}

// Server serves one program.
type Server struct {
	mcpServer    *mcp.Server
	store        *store.Store
	logger       *zap.Logger
	opts         Options
	systemPrompt string

	indexMu       sync.RWMutex
	indexStatus   IndexStatus
	indexErr      error
	indexStart    time.Time
	indexDuration time.Duration
	indexReady    chan struct{}
	program       *analysis.Program
}

// New creates a Server indexing into st.
func New(st *store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "confusage"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		store:        st,
		logger:       opts.Logger,
		opts:         opts,
		systemPrompt: usageGuidelines,
		indexStatus:  IndexStatusNotStarted,
		indexReady:   make(chan struct{}),
	}
	s.mcpServer = mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version},
		&mcp.ServerOptions{Instructions: s.systemPrompt})
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server { return s.mcpServer }

// Run indexes in the background and serves over stdio until ctx is done or
// the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		if _, _, err := s.Index(ctx); err != nil {
			s.logger.Error("initial index failed", zap.Error(err))
		}
	}()
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Index loads the program and rebuilds the call-graph index. It fails when
// another index is running.
func (s *Server) Index(ctx context.Context) (nodes, edges int, err error) {
	if !s.beginIndex() {
		return 0, 0, fmt.Errorf("indexing already in progress")
	}

	in := analysis.ReadInputs(s.logger, s.opts.ProcDirList, s.opts.ClassPathList)
	p, err := analysis.Load(ctx, in, s.opts.Load)
	if err != nil {
		s.setIndexStatus(IndexStatusFailed, err)
		return 0, 0, err
	}
	nodes, edges, err = p.Index(ctx, s.store)
	if err != nil {
		s.setIndexStatus(IndexStatusFailed, err)
		return 0, 0, err
	}

	s.indexMu.Lock()
	s.program = p
	s.indexMu.Unlock()
	s.setIndexStatus(IndexStatusReady, nil)
	s.logger.Info("index ready", zap.Int("nodes", nodes), zap.Int("edges", edges))
	return nodes, edges, nil
}

func (s *Server) beginIndex() bool {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	switch s.indexStatus {
	case IndexStatusInProgress:
		return false
	case IndexStatusReady, IndexStatusFailed:
		s.indexReady = make(chan struct{})
	}
	s.indexStatus = IndexStatusInProgress
	s.indexErr = nil
	s.indexStart = time.Now()
	return true
}

func (s *Server) setIndexStatus(status IndexStatus, err error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	s.indexStatus = status
	s.indexErr = err
	if status == IndexStatusReady || status == IndexStatusFailed {
		s.indexDuration = time.Since(s.indexStart)
		close(s.indexReady)
	}
}

// GetIndexStatus returns the index state, the error of a failed index and
// the duration of the last finished index.
func (s *Server) GetIndexStatus() (IndexStatus, error, time.Duration) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.indexStatus, s.indexErr, s.indexDuration
}

// WaitForIndex blocks until the running or next index finishes. It returns
// the index error when indexing failed.
func (s *Server) WaitForIndex(ctx context.Context) error {
	s.indexMu.RLock()
	ready := s.indexReady
	s.indexMu.RUnlock()

	select {
	case <-ready:
		_, err, _ := s.GetIndexStatus()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) currentProgram() *analysis.Program {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.program
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: msg}}, IsError: true}
}

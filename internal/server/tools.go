package server

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"confusage/internal/graph"
	"confusage/internal/trace"
	"confusage/util"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Arguments structs

type IndexArgs struct {
	Force bool `json:"force,omitempty" jsonschema:"rebuild the index even when it is ready"`
}

type IndexStatusArgs struct{}

type ListConstructorsArgs struct {
	ClassName string `json:"class_name,omitempty" jsonschema:"fully qualified class name; defaults to the configured component"`
}

type TraceConstructorArgs struct {
	ClassName       string `json:"class_name,omitempty" jsonschema:"fully qualified class name; defaults to the configured component"`
	SubSignature    string `json:"sub_signature,omitempty" jsonschema:"constructor sub-signature such as void <init>(org.apache.hadoop.conf.Configuration); defaults to the configured constructor"`
	AllConstructors bool   `json:"all_constructors,omitempty" jsonschema:"trace every constructor of the class"`
	Depth           int    `json:"depth,omitempty" jsonschema:"depth threshold; defaults to the configured threshold"`
	FollowCHA       bool   `json:"follow_cha,omitempty" jsonschema:"follow every class-hierarchy target of a call site instead of only the static target"`
}

type FindCallersArgs struct {
	SymbolName string `json:"symbol_name" jsonschema:"method name, ClassName.method or full signature"`
	Transitive bool   `json:"transitive,omitempty" jsonschema:"include indirect callers"`
}

type GetMethodArgs struct {
	SymbolName string `json:"symbol_name" jsonschema:"method name, ClassName.method or full signature"`
	WithSource bool   `json:"with_source,omitempty" jsonschema:"include the source code of the method"`
}

type GetSymbolsInFileArgs struct {
	FilePath string `json:"file_path" jsonschema:"path of a source file as indexed, or its file or jar URI"`
}

// AccessSiteInfo is a configuration accessor call in a trace result.
type AccessSiteInfo struct {
	Caller   string   `json:"caller"`
	Accessor string   `json:"accessor"`
	Args     []string `json:"args"`
	Level    int      `json:"level"`
	Line     int      `json:"line"`
	Listed   bool     `json:"listed"`
}

// TraceResult is the outcome of tracing one entry method.
type TraceResult struct {
	Entry      string           `json:"entry"`
	Visited    int              `json:"visited"`
	NullBodies int              `json:"null_bodies"`
	Skipped    int              `json:"skipped"`
	MaxLevel   int              `json:"max_level"`
	Accessors  []AccessSiteInfo `json:"accessors"`
	Report     string           `json:"report"`
}

const indexWaitTimeout = 30 * time.Second

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "index",
		Description: "Loads the program from the list files and rebuilds the call-graph index",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args IndexArgs) (*mcp.CallToolResult, any, error) {
		status, _, _ := s.GetIndexStatus()
		if status == IndexStatusInProgress {
			return errorResult("Indexing already in progress"), nil, nil
		}
		if status == IndexStatusReady && !args.Force {
			return textResult("Index is ready. Pass force to rebuild it."), nil, nil
		}

		startTime := time.Now()
		nodes, edges, err := s.Index(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("Index failed: %v", err)), nil, nil
		}
		msg := fmt.Sprintf("Indexed %d methods and %d edges in %.2fs", nodes, edges, time.Since(startTime).Seconds())
		return textResult(msg), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "index_status",
		Description: "Returns the current indexing status and index size",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args IndexStatusArgs) (*mcp.CallToolResult, any, error) {
		status, err, duration := s.GetIndexStatus()

		result := map[string]any{
			"status": string(status),
		}
		if duration > 0 {
			result["duration_seconds"] = duration.Seconds()
		}
		if err != nil {
			result["error"] = err.Error()
		}
		if status == IndexStatusReady {
			if stats, statsErr := s.store.Stats(ctx); statsErr == nil {
				result["stats"] = stats
			}
		}
		return jsonResult(result), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_constructors",
		Description: "Lists the constructors of a class with their sub-signatures",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListConstructorsArgs) (*mcp.CallToolResult, any, error) {
		if res := s.awaitIndex(ctx); res != nil {
			return res, nil, nil
		}
		className := args.ClassName
		if className == "" {
			className = s.opts.Component
		}
		ctors, err := s.currentProgram().Scene.Constructors(className)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}

		type CtorInfo struct {
			SubSignature string `json:"sub_signature"`
			Line         int    `json:"line"`
			HasBody      bool   `json:"has_body"`
		}
		infos := make([]CtorInfo, 0, len(ctors))
		for _, c := range ctors {
			infos = append(infos, CtorInfo{SubSignature: c.SubSignature(), Line: c.LineStart, HasBody: c.HasBody()})
		}
		return jsonResult(infos), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "trace_constructor",
		Description: "Traces configuration accessor calls reachable from a constructor within the depth threshold",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args TraceConstructorArgs) (*mcp.CallToolResult, any, error) {
		if res := s.awaitIndex(ctx); res != nil {
			return res, nil, nil
		}
		results, err := s.traceConstructor(args)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return jsonResult(results), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "find_callers",
		Description: "Finds the methods that call a method, optionally transitively",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args FindCallersArgs) (*mcp.CallToolResult, any, error) {
		if res := s.awaitIndex(ctx); res != nil {
			return res, nil, nil
		}

		var nodes []*graph.Node
		var err error
		if args.Transitive {
			nodes, err = s.store.FindImpact(ctx, args.SymbolName)
		} else {
			nodes, err = s.store.FindCallers(ctx, args.SymbolName)
		}
		if err != nil {
			return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
		}
		if len(nodes) == 0 {
			return textResult("No callers found."), nil, nil
		}

		type CallerNode struct {
			Signature string `json:"signature"`
			FilePath  string `json:"file_path"`
			Line      int    `json:"line"`
			Kind      string `json:"kind"`
		}
		callers := make([]CallerNode, 0, len(nodes))
		for _, n := range nodes {
			callers = append(callers, CallerNode{Signature: n.Signature, FilePath: n.FilePath, Line: n.LineStart, Kind: n.Kind})
		}
		return jsonResult(callers), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_method",
		Description: "Finds the location and optionally the source code of a method",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetMethodArgs) (*mcp.CallToolResult, any, error) {
		if res := s.awaitIndex(ctx); res != nil {
			return res, nil, nil
		}

		nodes, err := s.store.GetSymbolLocation(ctx, args.SymbolName)
		if err != nil {
			return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
		}
		if len(nodes) == 0 {
			return textResult("Method not found."), nil, nil
		}

		type MethodInfo struct {
			graph.Node
			Source string `json:"source,omitempty"`
		}
		info := make([]MethodInfo, 0, len(nodes))
		for _, n := range nodes {
			mi := MethodInfo{Node: *n}
			if args.WithSource && n.FilePath != "" {
				source, err := readSource(n.FilePath, n.LineStart, n.LineEnd)
				if err != nil {
					s.logger.Warn("failed to read source",
						zap.String("method", n.Signature), zap.String("file", n.FilePath), zap.Error(err))
				} else {
					mi.Source = source
				}
			}
			info = append(info, mi)
		}
		return jsonResult(info), nil, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_symbols_in_file",
		Description: "Lists the methods declared in a source file",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetSymbolsInFileArgs) (*mcp.CallToolResult, any, error) {
		if res := s.awaitIndex(ctx); res != nil {
			return res, nil, nil
		}

		nodes, err := s.store.GetSymbolsInFile(ctx, util.URIToPath(args.FilePath))
		if err != nil {
			return errorResult(fmt.Sprintf("Query failed: %v", err)), nil, nil
		}

		type SimpleNode struct {
			Signature string `json:"signature"`
			Kind      string `json:"kind"`
			Range     string `json:"range"`
		}
		simple := make([]SimpleNode, 0, len(nodes))
		for _, n := range nodes {
			simple = append(simple, SimpleNode{
				Signature: n.Signature,
				Kind:      n.Kind,
				Range:     fmt.Sprintf("%d-%d", n.LineStart, n.LineEnd),
			})
		}
		return jsonResult(simple), nil, nil
	})
}

// awaitIndex waits for a finished index and returns the tool result to send
// when none is available.
func (s *Server) awaitIndex(ctx context.Context) *mcp.CallToolResult {
	waitCtx, cancel := context.WithTimeout(ctx, indexWaitTimeout)
	defer cancel()
	if err := s.WaitForIndex(waitCtx); err != nil {
		status, indexErr, _ := s.GetIndexStatus()
		if indexErr != nil {
			return errorResult(fmt.Sprintf("Indexing failed: %v", indexErr))
		}
		if status == IndexStatusInProgress {
			return errorResult("Indexing in progress, please try again")
		}
		return errorResult(fmt.Sprintf("Indexing wait failed: %v", err))
	}
	if s.currentProgram() == nil {
		return errorResult("No program loaded")
	}
	return nil
}

func (s *Server) traceConstructor(args TraceConstructorArgs) ([]TraceResult, error) {
	className := args.ClassName
	subSig := args.SubSignature
	if className == "" {
		className = s.opts.Component
		if subSig == "" {
			subSig = s.opts.Constructor
		}
	}
	if subSig == "" && !args.AllConstructors {
		return nil, fmt.Errorf("sub_signature is required unless all_constructors is set")
	}

	p := s.currentProgram()
	entries, err := p.Entries(className, subSig, args.AllConstructors)
	if err != nil {
		return nil, err
	}

	opts := s.opts.Trace
	if args.Depth > 0 {
		opts.Threshold = args.Depth
	}
	opts.FollowCHA = opts.FollowCHA || args.FollowCHA

	results := make([]TraceResult, 0, len(entries))
	for _, entry := range entries {
		var buf bytes.Buffer
		tr, err := p.Tracer(trace.NewTextSink(&buf), opts)
		if err != nil {
			return nil, err
		}
		sum := tr.Trace(entry)
		res := TraceResult{
			Entry:      entry.Signature(),
			Visited:    sum.Visited,
			NullBodies: sum.NullBodies,
			Skipped:    sum.Skipped,
			MaxLevel:   sum.MaxLevel,
			Accessors:  []AccessSiteInfo{},
			Report:     buf.String(),
		}
		for _, a := range sum.Accessors {
			res.Accessors = append(res.Accessors, AccessSiteInfo{
				Caller:   a.Caller.Signature(),
				Accessor: a.Method.Name,
				Args:     a.Args,
				Level:    a.Level,
				Line:     a.Line,
				Listed:   a.Listed,
			})
		}
		results = append(results, res)
	}
	return results, nil
}

// jsonResult encodes v as indented JSON. Signatures contain angle brackets,
// so HTML escaping is off.
func jsonResult(v any) *mcp.CallToolResult {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errorResult(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return textResult(strings.TrimSuffix(buf.String(), "\n"))
}

// readSource returns lines lineStart..lineEnd of a source file. Paths of the
// form "archive!/entry" are read from the archive.
func readSource(filePath string, lineStart, lineEnd int) (string, error) {
	r, closer, err := openSource(filePath)
	if err != nil {
		return "", err
	}
	defer closer.Close()

	var builder strings.Builder
	scanner := bufio.NewScanner(r)
	currentLine := 1
	first := true
	for scanner.Scan() {
		if currentLine >= lineStart && currentLine <= lineEnd {
			if !first {
				builder.WriteByte('\n')
			}
			builder.Write(scanner.Bytes())
			first = false
		}
		if currentLine > lineEnd {
			break
		}
		currentLine++
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return builder.String(), nil
}

func openSource(filePath string) (io.Reader, io.Closer, error) {
	archive, entry, ok := strings.Cut(filePath, "!/")
	if !ok {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, nil, err
	}
	rc, err := zr.Open(entry)
	if err != nil {
		zr.Close()
		return nil, nil, err
	}
	return rc, multiCloser{rc, zr}, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

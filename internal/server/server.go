package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vibeboard/remote-mcp/internal/audit"
	"github.com/vibeboard/remote-mcp/internal/registry"
	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

const (
	serverName      = "vibeboard"
	serverVersion   = "1.0.0"
	protocolVersion = "2025-03-26"
)

var logger = log.New(os.Stderr, "[remote-mcp] ", log.LstdFlags)

func logf(format string, args ...any) {
	logger.Printf(format, args...)
}

// Server is the stdio MCP server. Each incoming message is dispatched on its
// own goroutine so a slow remote call never blocks ping or tools/list.
type Server struct {
	transport *mcp.Transport
	registry  *registry.Registry
	audit     *audit.Log

	mu       sync.Mutex
	inFlight map[any]struct{}
}

// New creates a server over the given transport. auditLog may be nil to
// disable execution logging.
func New(transport *mcp.Transport, reg *registry.Registry, auditLog *audit.Log) *Server {
	return &Server{
		transport: transport,
		registry:  reg,
		audit:     auditLog,
		inFlight:  make(map[any]struct{}),
	}
}

// Run reads messages until the input stream closes, then waits for all
// in-flight handlers to finish. A read error other than EOF is fatal; a
// malformed message is answered with a parse error and the loop continues.
func (s *Server) Run(ctx context.Context) error {
	logf("serving %d tools over stdio", s.registry.Len())

	g, ctx := errgroup.WithContext(ctx)
	for {
		body, err := s.transport.ReadMessage()
		if err != nil {
			if err != io.EOF {
				logf("read error: %v", err)
			}
			break
		}

		var req mcp.Request
		if err := json.Unmarshal(body, &req); err != nil {
			s.write(mcp.NewErrorResponse(nil, mcp.ParseError, fmt.Sprintf("parse error: %v", err)))
			continue
		}

		s.track(req.ID, true)
		g.Go(func() error {
			defer s.track(req.ID, false)
			s.dispatch(ctx, &req)
			return nil
		})
	}

	if pending := s.InFlight(); len(pending) > 0 {
		logf("input closed, waiting for %d in-flight requests", len(pending))
	}
	return g.Wait()
}

// InFlight returns the ids of requests currently being handled.
func (s *Server) InFlight() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]any, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) track(id any, add bool) {
	if id == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.inFlight[id] = struct{}{}
	} else {
		delete(s.inFlight, id)
	}
}

func (s *Server) dispatch(ctx context.Context, req *mcp.Request) {
	defer func() {
		if r := recover(); r != nil {
			logf("panic handling %s: %v", req.Method, r)
			if !req.IsNotification() {
				s.write(mcp.NewErrorResponse(req.ID, mcp.InternalError, fmt.Sprintf("internal error: %v", r)))
			}
		}
	}()

	if resp := s.handleRequest(ctx, req); resp != nil {
		s.write(resp)
	}
}

func (s *Server) write(resp *mcp.Response) {
	if err := s.transport.WriteResponse(resp); err != nil {
		logf("write error: %v", err)
	}
}

func (s *Server) handleRequest(ctx context.Context, req *mcp.Request) *mcp.Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "ping":
		return s.handlePing(req)
	case "tools/list":
		return s.handleListTools(req)
	case "tools/call":
		return s.handleCallTool(ctx, req)
	default:
		if req.IsNotification() {
			// Unknown notifications are dropped without a response.
			return nil
		}
		return mcp.NewErrorResponse(req.ID, mcp.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *mcp.Request) *mcp.Response {
	result := mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsCapability{ListChanged: false},
		},
		ServerInfo: mcp.ServerInfo{
			Name:    serverName,
			Version: serverVersion,
		},
		Instructions: "Tools for working with vibeboard projects and issues through the remote API. List tools expose a limit parameter; mutations return the affected row and a txid.",
	}

	resp, err := mcp.NewResponse(req.ID, result)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

func (s *Server) handlePing(req *mcp.Request) *mcp.Response {
	resp, err := mcp.NewResponse(req.ID, struct{}{})
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

func (s *Server) handleListTools(req *mcp.Request) *mcp.Response {
	result := mcp.ListToolsResult{Tools: s.registry.Definitions()}
	resp, err := mcp.NewResponse(req.ID, result)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

// handleCallTool runs a tool. Everything that goes wrong past JSON decoding
// is a tool-level error carried inside a successful JSON-RPC response, so
// the calling agent sees it and can correct itself.
func (s *Server) handleCallTool(ctx context.Context, req *mcp.Request) *mcp.Response {
	// Missing or malformed params leave the name empty and take the
	// tool-level error path below; the JSON-RPC body itself was valid, so
	// this is not a protocol error.
	var params mcp.CallToolParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	if params.Name == "" {
		return s.toolError(req.ID, "tool name is required")
	}

	entry, ok := s.registry.Get(params.Name)
	if !ok {
		msg := fmt.Sprintf("unknown tool: %s", params.Name)
		if suggestion := s.registry.Nearest(params.Name); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %s?)", suggestion)
		}
		return s.toolError(req.ID, msg)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if err := s.registry.ValidateArgs(entry, args); err != nil {
		return s.toolError(req.ID, err.Error())
	}

	start := time.Now()
	result, err := entry.Handler(ctx, args)
	if err != nil {
		s.record(params, "error", nil, err, time.Since(start))
		return s.toolError(req.ID, err.Error())
	}
	s.record(params, "success", result, nil, time.Since(start))

	text, err := json.Marshal(result)
	if err != nil {
		return s.toolError(req.ID, fmt.Sprintf("failed to encode result: %v", err))
	}
	resp, err := mcp.NewResponse(req.ID, mcp.TextResult(string(text)))
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.InternalError, err.Error())
	}
	return resp
}

func (s *Server) toolError(id any, msg string) *mcp.Response {
	resp, err := mcp.NewResponse(id, mcp.ErrorResult(msg))
	if err != nil {
		return mcp.NewErrorResponse(id, mcp.InternalError, err.Error())
	}
	return resp
}

func (s *Server) record(params mcp.CallToolParams, status string, result any, callErr error, d time.Duration) {
	if s.audit == nil {
		return
	}
	exec := audit.Execution{
		Tool:     params.Name,
		Status:   status,
		Params:   params.Arguments,
		Result:   result,
		Duration: d,
	}
	if callErr != nil {
		exec.Err = callErr.Error()
	}
	s.audit.Record(exec)
}

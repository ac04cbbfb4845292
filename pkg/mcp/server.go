// Package mcp serves read-only operator tools (usage, sessions, budgets,
// cache and audit) to an MCP client over stdio using JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pario-ai/tutor/pkg/budget"
	"github.com/pario-ai/tutor/pkg/ledger"
	"github.com/pario-ai/tutor/pkg/models"
	"github.com/pario-ai/tutor/pkg/registry"
)

const protocolVersion = "2024-11-05"

// CacheStatter provides cache statistics.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// AuditSearcher queries the audit log.
type AuditSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error)
	Stats(ctx context.Context) ([]models.AuditStat, error)
}

// Server answers MCP requests from the ledger and registry of one store.
type Server struct {
	ledger   ledger.Ledger
	registry registry.Registry
	timeout  time.Duration
	version  string

	enforcer *budget.Enforcer
	cache    CacheStatter
	auditor  AuditSearcher
	now      func() time.Time
}

// Option configures optional Server sources.
type Option func(*Server)

// WithBudget enables the budget tool.
func WithBudget(e *budget.Enforcer) Option { return func(s *Server) { s.enforcer = e } }

// WithCache enables the cache tool.
func WithCache(c CacheStatter) Option { return func(s *Server) { s.cache = c } }

// WithAudit enables the audit tools.
func WithAudit(a AuditSearcher) Option { return func(s *Server) { s.auditor = a } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New creates a Server. sessionTimeout is used to label sessions as expired.
func New(l ledger.Ledger, r registry.Registry, sessionTimeout time.Duration, version string, opts ...Option) *Server {
	s := &Server{
		ledger:   l,
		registry: r,
		timeout:  sessionTimeout,
		version:  version,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run reads one JSON-RPC request per line from r and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

// dispatch returns nil for notifications.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "tutor", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req, map[string]any{})
	case "tools/list":
		return result(req, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req, errorResult("unknown tool: "+params.Name))
	}
	slog.Debug("mcp tool call", "tool", params.Name)
	return result(req, handler(ctx, s, params.Arguments))
}

func result(req *Request, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: v}
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("mcp marshal failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		slog.Error("mcp write failed", "error", err)
	}
}

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/tutor/pkg/budget"
	"github.com/pario-ai/tutor/pkg/config"
	"github.com/pario-ai/tutor/pkg/models"
	"github.com/pario-ai/tutor/pkg/store"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats(context.Context) (models.CacheStats, error) { return f.stats, nil }

type fakeAudit struct {
	entries []models.AuditEntry
	opts    models.AuditQueryOpts
}

func (f *fakeAudit) Query(_ context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	f.opts = opts
	return f.entries, nil
}

func (f *fakeAudit) Stats(context.Context) ([]models.AuditStat, error) {
	return []models.AuditStat{{Kind: models.KindChat, Day: "2026-03-02", Count: 4, Errors: 1, Tokens: 1234}}, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tutor.db")}, time.Minute, 0.002)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newServer(t *testing.T, opts ...Option) (*Server, *store.Store) {
	t.Helper()
	st := openStore(t)
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return New(st.Ledger, st.Registry, time.Minute, "test", opts...), st
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv, _ := newServer(t)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	_ = json.Unmarshal(data, &result)

	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocol version = %s, want %s", result.ProtocolVersion, protocolVersion)
	}
	if result.ServerInfo.Name != "tutor" {
		t.Errorf("server name = %s, want tutor", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	srv, _ := newServer(t)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	_ = json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
}

func TestToolUsage(t *testing.T) {
	srv, st := newServer(t)
	ctx := context.Background()
	if _, err := st.Ledger.Record(ctx, "lycee-a", 700, 300, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Ledger.Record(ctx, "lycee-b", 10, 5, t0); err != nil {
		t.Fatal(err)
	}

	text := callTool(t, srv, "tutor_usage", `{}`).Content[0].Text
	if !strings.Contains(text, "lycee-a") || !strings.Contains(text, "lycee-b") {
		t.Errorf("expected both keys, got: %s", text)
	}
	if !strings.Contains(text, "1000") || !strings.Contains(text, "0.0020") {
		t.Errorf("expected total 1000 and cost 0.0020, got: %s", text)
	}

	text = callTool(t, srv, "tutor_usage", `{"key":"lycee-b"}`).Content[0].Text
	if strings.Contains(text, "lycee-a") {
		t.Errorf("key filter ignored: %s", text)
	}
}

func TestToolSessions(t *testing.T) {
	srv, st := newServer(t)
	ctx := context.Background()
	if err := st.Registry.Login(ctx, "alice", t0.Add(-10*time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := st.Registry.Login(ctx, "bob", t0.Add(-5*time.Minute)); err != nil {
		t.Fatal(err)
	}

	text := callTool(t, srv, "tutor_sessions", "").Content[0].Text
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got: %s", text)
	}
	if !strings.Contains(lines[2], "alice") || !strings.Contains(lines[2], "active") {
		t.Errorf("alice row: %s", lines[2])
	}
	if !strings.Contains(lines[3], "bob") || !strings.Contains(lines[3], "expired") {
		t.Errorf("bob row: %s", lines[3])
	}
}

func TestToolBudget(t *testing.T) {
	st := openStore(t)
	enforcer := budget.New([]models.BudgetPolicy{{Key: "*", MaxTokens: 1000, Period: models.BudgetDaily}}, st.Ledger)
	srv := New(st.Ledger, st.Registry, time.Minute, "test", WithBudget(enforcer), WithClock(func() time.Time { return t0 }))
	if _, err := st.Ledger.Record(context.Background(), "lycee-a", 200, 50, t0); err != nil {
		t.Fatal(err)
	}

	text := callTool(t, srv, "tutor_budget", `{}`).Content[0].Text
	if !strings.Contains(text, "lycee-a") || !strings.Contains(text, "750") || !strings.Contains(text, "25.0%") {
		t.Errorf("unexpected budget output: %s", text)
	}
}

func TestToolsNotConfigured(t *testing.T) {
	srv, _ := newServer(t)
	for _, name := range []string{"tutor_budget", "tutor_cache_stats", "tutor_audit_search", "tutor_audit_stats"} {
		text := callTool(t, srv, name, "").Content[0].Text
		if !strings.Contains(text, "not configured") {
			t.Errorf("%s: expected 'not configured', got: %s", name, text)
		}
	}
}

func TestToolCacheStats(t *testing.T) {
	srv, _ := newServer(t, WithCache(&fakeCache{stats: models.CacheStats{Entries: 42, Hits: 10, Misses: 5}}))

	text := callTool(t, srv, "tutor_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestToolAuditSearch(t *testing.T) {
	fa := &fakeAudit{entries: []models.AuditEntry{{
		RequestID: "req-1", Username: "alice", Kind: models.KindChat, Status: "ok",
		TotalTokens: 150, LatencyMs: 80, CreatedAt: t0,
	}}}
	srv, _ := newServer(t, WithAudit(fa))

	text := callTool(t, srv, "tutor_audit_search", `{"user":"alice","kind":"chat","since":"2026-03-01"}`).Content[0].Text
	if !strings.Contains(text, "req-1") || !strings.Contains(text, "80ms") {
		t.Errorf("unexpected audit output: %s", text)
	}
	if fa.opts.Username != "alice" || fa.opts.Kind != models.KindChat || fa.opts.Since.IsZero() {
		t.Errorf("filters not forwarded: %+v", fa.opts)
	}

	if res := callTool(t, srv, "tutor_audit_search", `{"since":"yesterday"}`); !res.IsError {
		t.Error("expected isError for a bad date")
	}

	text = callTool(t, srv, "tutor_audit_stats", "").Content[0].Text
	if !strings.Contains(text, "1234") {
		t.Errorf("unexpected audit stats: %s", text)
	}
}

func TestUnknownTool(t *testing.T) {
	srv, _ := newServer(t)
	if res := callTool(t, srv, "tutor_unknown", ""); !res.IsError {
		t.Error("expected isError for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv, _ := newServer(t)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newServer(t)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestParseError(t *testing.T) {
	srv, _ := newServer(t)
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

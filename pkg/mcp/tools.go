package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/tutor/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"tutor_usage":        handleUsage,
	"tutor_sessions":     handleSessions,
	"tutor_budget":       handleBudget,
	"tutor_cache_stats":  handleCacheStats,
	"tutor_audit_search": handleAuditSearch,
	"tutor_audit_stats":  handleAuditStats,
}

func object(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var allTools = []ToolDefinition{
	{
		Name:        "tutor_usage",
		Description: "Show accumulated token usage and cost per ledger key (institution or user).",
		InputSchema: object(map[string]any{
			"key": stringProp("Ledger key (optional, omit for all keys)"),
		}),
	},
	{
		Name:        "tutor_sessions",
		Description: "List stored login sessions with their idle time.",
		InputSchema: object(map[string]any{}),
	},
	{
		Name:        "tutor_budget",
		Description: "Show budget usage vs limits, optionally for one ledger key.",
		InputSchema: object(map[string]any{
			"key": stringProp("Ledger key (optional, omit for every recorded key)"),
		}),
	},
	{
		Name:        "tutor_cache_stats",
		Description: "Show summary cache statistics.",
		InputSchema: object(map[string]any{}),
	},
	{
		Name:        "tutor_audit_search",
		Description: "Search the model call audit log.",
		InputSchema: object(map[string]any{
			"user":  stringProp("Filter by username (optional)"),
			"key":   stringProp("Filter by ledger key (optional)"),
			"kind":  stringProp("Filter by call kind: summary or chat (optional)"),
			"since": stringProp("Start date in YYYY-MM-DD format (optional)"),
		}),
	},
	{
		Name:        "tutor_audit_stats",
		Description: "Show model call counts, errors and tokens by kind and day.",
		InputSchema: object(map[string]any{}),
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

type keyArgs struct {
	Key string `json:"key"`
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleUsage(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args keyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	var (
		records []models.UsageRecord
		err     error
	)
	if args.Key != "" {
		var rec models.UsageRecord
		rec, err = s.ledger.Read(ctx, args.Key)
		records = []models.UsageRecord{rec}
	} else {
		records, err = s.ledger.List(ctx)
	}
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(records))
}

func handleSessions(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	records, err := s.registry.List(ctx)
	if err != nil {
		return errorResult("Error fetching sessions: " + err.Error())
	}
	return textResult(formatSessions(records, s.timeout, s.now()))
}

func handleBudget(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.enforcer == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args keyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	keys := []string{args.Key}
	if args.Key == "" {
		var err error
		if keys, err = s.ledger.ListKeys(ctx); err != nil {
			return errorResult("Error listing keys: " + err.Error())
		}
	}

	var rows []budgetRow
	for _, k := range keys {
		statuses, err := s.enforcer.Status(ctx, k, s.now())
		if err != nil {
			return errorResult("Error fetching budget status: " + err.Error())
		}
		for _, st := range statuses {
			rows = append(rows, budgetRow{key: k, status: st})
		}
	}
	return textResult(formatBudget(rows))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type auditSearchArgs struct {
	User  string `json:"user"`
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Since string `json:"since"`
}

func handleAuditSearch(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	opts := models.AuditQueryOpts{
		Username: args.User,
		Key:      args.Key,
		Kind:     models.CallKind(args.Kind),
		Limit:    50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}

func handleAuditStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	stats, err := s.auditor.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching audit stats: " + err.Error())
	}
	return textResult(formatAuditStats(stats))
}

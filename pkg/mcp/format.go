package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/tutor/pkg/models"
)

func formatUsage(records []models.UsageRecord) string {
	if len(records) == 0 {
		return "No usage recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %10s %10s %10s %10s\n", "Key", "Prompt", "Completion", "Total", "Cost")
	b.WriteString(strings.Repeat("-", 68) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-24s %10d %10d %10d %10.4f\n",
			r.Key, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.Cost)
	}
	return b.String()
}

func formatSessions(records []models.SessionRecord, timeout time.Duration, now time.Time) string {
	if len(records) == 0 {
		return "No sessions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %10s %-8s\n", "User", "Last Seen", "Idle", "State")
	b.WriteString(strings.Repeat("-", 61) + "\n")
	for _, r := range records {
		idle := now.Sub(r.LastSeen).Truncate(time.Second)
		state := "active"
		if idle > timeout {
			state = "expired"
		}
		fmt.Fprintf(&b, "%-20s %-20s %10s %-8s\n",
			r.Username, r.LastSeen.Format("2006-01-02 15:04:05"), idle, state)
	}
	return b.String()
}

type budgetRow struct {
	key    string
	status models.BudgetStatus
}

func formatBudget(rows []budgetRow) string {
	if len(rows) == 0 {
		return "No budget policies apply."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s %12s %12s %12s %6s\n",
		"Key", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 74) + "\n")
	for _, r := range rows {
		s := r.status
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-20s %-8s %12d %12d %12d %5.1f%%\n",
			r.key, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Summary Cache\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-12s %-8s %-6s %8s %8s %-19s\n",
		"Request ID", "User", "Kind", "Status", "Latency", "Tokens", "Time")
	b.WriteString(strings.Repeat("-", 104) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-12s %-8s %-6s %6dms %8d %-19s\n",
			e.RequestID, e.Username, e.Kind, e.Status, e.LatencyMs, e.TotalTokens,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-12s %8s %8s %12s\n", "Kind", "Day", "Calls", "Errors", "Tokens")
	b.WriteString(strings.Repeat("-", 54) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-10s %-12s %8d %8d %12d\n", s.Kind, s.Day, s.Count, s.Errors, s.Tokens)
	}
	return b.String()
}

package tutor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	cache "github.com/pario-ai/tutor/pkg/cache/sqlite"
	"github.com/pario-ai/tutor/pkg/extract"
	"github.com/pario-ai/tutor/pkg/mathfmt"
	"github.com/pario-ai/tutor/pkg/metrics"
	"github.com/pario-ai/tutor/pkg/models"
)

// Session is one logged-in user. Its document and chat history live only
// in memory and are dropped on logout or expiry. mu serialises the
// interactions of the user.
type Session struct {
	Token      string
	User       models.User
	Key        string // ledger key
	LoggedInAt time.Time

	mu      sync.Mutex
	closed  bool
	expired bool
	retired atomic.Bool
	doc     *models.Document
	turns   []models.ChatTurn
}

func (s *Session) reset() {
	s.doc = nil
	s.turns = nil
}

// Upload extracts the file and makes it the session document. On failure
// the previous document is kept.
func (c *Controller) Upload(ctx context.Context, token, filename string, data []byte) (models.Document, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return models.Document{}, err
	}
	defer s.mu.Unlock()

	format := extract.Format(filepath.Ext(filename))
	doc, err := extract.Extract(data, format, extractOptions(c.cfg.Documents))
	if err != nil {
		metrics.Uploads.WithLabelValues(formatLabel(format), "error").Inc()
		slog.Warn("upload failed", "user", s.User.Username, "file", filename, "error", err)
		return models.Document{}, err
	}
	doc.Name = filepath.Base(filename)
	s.doc = &doc

	metrics.Uploads.WithLabelValues(format, "ok").Inc()
	slog.Info("document uploaded", "user", s.User.Username, "file", doc.Name,
		"chars", len([]rune(doc.Text)), "previews", len(doc.Previews))
	return doc, nil
}

// Summary asks the model for a short course reminder on keyword. A cached
// reply is reported with cached=true and costs nothing.
func (c *Controller) Summary(ctx context.Context, token, keyword string) (reply string, cached bool, err error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return "", false, ErrEmptyInput
	}

	prompt := c.cfg.Prompts.Summary + keyword

	var hash string
	if c.cache != nil {
		hash = cache.HashPrompt(c.model.Name(), prompt)
		if r, ok := c.cache.Get(ctx, hash, c.model.Name(), c.now()); ok {
			slog.Debug("summary cache hit", "user", s.User.Username)
			return r, true, nil
		}
	}

	raw, err := c.generate(ctx, s, models.KindSummary, prompt)
	if err != nil {
		return "", false, err
	}
	reply = mathfmt.Normalize(raw)

	if c.cache != nil {
		if err := c.cache.Put(ctx, hash, c.model.Name(), reply, c.now()); err != nil {
			slog.Warn("summary cache put failed", "error", err)
		}
	}
	return reply, false, nil
}

// Chat sends the system prompt, the session document and question to the
// model and appends the exchange to the history. Chatting before any upload
// sends an empty document.
func (c *Controller) Chat(ctx context.Context, token, question string) (models.ChatTurn, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return models.ChatTurn{}, err
	}
	defer s.mu.Unlock()

	if strings.TrimSpace(question) == "" {
		return models.ChatTurn{}, ErrEmptyInput
	}

	var docText string
	if s.doc != nil {
		docText = s.doc.Text
	}
	prompt := c.cfg.Prompts.System + docText + c.cfg.Prompts.Question + question

	raw, err := c.generate(ctx, s, models.KindChat, prompt)
	if err != nil {
		return models.ChatTurn{}, err
	}
	turn := models.ChatTurn{
		Question: question,
		Answer:   mathfmt.Normalize(raw),
		AskedAt:  c.now().UTC(),
	}
	s.turns = append(s.turns, turn)
	return turn, nil
}

// generate runs one metered model call for s. Must be called with s.mu held.
func (c *Controller) generate(ctx context.Context, s *Session, kind models.CallKind, prompt string) (string, error) {
	if c.budget != nil {
		if err := c.budget.Check(ctx, s.Key, c.now()); err != nil {
			slog.Warn("budget exceeded", "user", s.User.Username, "key", s.Key, "error", err)
			return "", err
		}
	}

	entry := models.AuditEntry{
		RequestID: uuid.NewString(),
		Username:  s.User.Username,
		Key:       s.Key,
		Kind:      kind,
		Provider:  c.model.Provider(),
		Model:     c.model.Name(),
		CreatedAt: c.now(),
	}

	start := time.Now()
	reply, err := c.model.Generate(ctx, prompt)
	elapsed := time.Since(start)
	entry.LatencyMs = elapsed.Milliseconds()

	if err != nil {
		metrics.ObserveModelCall(string(kind), "error", elapsed)
		entry.Status = "error"
		entry.Error = err.Error()
		c.logAudit(ctx, entry)
		slog.Error("model call failed", "user", s.User.Username, "kind", kind, "error", err)
		return "", fmt.Errorf("%w: %w", ErrModelCallFailed, err)
	}
	metrics.ObserveModelCall(string(kind), "ok", elapsed)

	promptTokens := c.tokenizer.Count(prompt)
	completionTokens := c.tokenizer.Count(reply)
	entry.Status = "ok"
	entry.PromptTokens = promptTokens
	entry.CompletionTokens = completionTokens
	entry.TotalTokens = promptTokens + completionTokens

	// Metering failures do not fail the call.
	if rec, err := c.ledger.Record(ctx, s.Key, promptTokens, completionTokens, c.now()); err != nil {
		slog.Error("usage not recorded", "user", s.User.Username, "key", s.Key,
			"prompt_tokens", promptTokens, "completion_tokens", completionTokens, "error", err)
	} else {
		metrics.AddTokens(promptTokens, completionTokens)
		slog.Info("model call", "user", s.User.Username, "key", s.Key, "kind", kind,
			"tokens", entry.TotalTokens, "key_total", rec.TotalTokens, "latency_ms", entry.LatencyMs)
	}
	c.logAudit(ctx, entry)

	// A long call is activity too. A lapsed lease surfaces on the next request.
	if err := c.registry.Touch(ctx, s.User.Username, c.now()); err != nil {
		slog.Warn("session lease not renewed after model call", "user", s.User.Username, "error", err)
	}
	return reply, nil
}

func (c *Controller) logAudit(ctx context.Context, entry models.AuditEntry) {
	if err := c.audit.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("audit log failed", "request_id", entry.RequestID, "error", err)
	}
}

// History returns a copy of the chat turns of the session, oldest first.
func (c *Controller) History(ctx context.Context, token string) ([]models.ChatTurn, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]models.ChatTurn(nil), s.turns...), nil
}

// Document returns the current document; ok is false before any upload.
func (c *Controller) Document(ctx context.Context, token string) (doc models.Document, ok bool, err error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return models.Document{}, false, err
	}
	defer s.mu.Unlock()
	if s.doc == nil {
		return models.Document{}, false, nil
	}
	return *s.doc, true, nil
}

// Preview returns preview image i (zero based) of the current document.
func (c *Controller) Preview(ctx context.Context, token string, i int) (image.Image, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if s.doc == nil || i < 0 || i >= len(s.doc.Previews) {
		return nil, ErrNoPreview
	}
	return s.doc.Previews[i], nil
}

// Usage returns the ledger record of the session's key.
func (c *Controller) Usage(ctx context.Context, token string) (models.UsageRecord, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return models.UsageRecord{}, err
	}
	defer s.mu.Unlock()
	return c.ledger.Read(ctx, s.Key)
}

// AdminUsage lists every ledger record. Only admin users may call it.
func (c *Controller) AdminUsage(ctx context.Context, token string) ([]models.UsageRecord, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if !c.cfg.IsAdmin(s.User.Username) {
		return nil, ErrForbidden
	}
	return c.ledger.List(ctx)
}

// Budget returns the budget status of the session's key; empty when
// budgets are disabled.
func (c *Controller) Budget(ctx context.Context, token string) ([]models.BudgetStatus, error) {
	s, err := c.acquire(ctx, token)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if c.budget == nil {
		return []models.BudgetStatus{}, nil
	}
	return c.budget.Status(ctx, s.Key, c.now())
}

// formatLabel bounds the metric label to the supported formats.
func formatLabel(format string) string {
	for _, f := range extract.Formats {
		if f == format {
			return f
		}
	}
	return "other"
}

// Package tutor implements the tutoring session controller: login against
// the single-session registry, document upload, summaries and chat turns
// metered into the usage ledger.
//
// The hint-only, 60-word and content rules live in the system prompt. They
// are instructions to the external model; nothing here checks the reply
// against them.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/tutor/pkg/audit"
	"github.com/pario-ai/tutor/pkg/budget"
	cache "github.com/pario-ai/tutor/pkg/cache/sqlite"
	"github.com/pario-ai/tutor/pkg/config"
	"github.com/pario-ai/tutor/pkg/credentials"
	"github.com/pario-ai/tutor/pkg/extract"
	"github.com/pario-ai/tutor/pkg/ledger"
	"github.com/pario-ai/tutor/pkg/llm"
	"github.com/pario-ai/tutor/pkg/metrics"
	"github.com/pario-ai/tutor/pkg/models"
	"github.com/pario-ai/tutor/pkg/registry"
)

var (
	// ErrNotLoggedIn is returned for a token the controller never issued.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrSessionExpired is returned for a token whose lease has lapsed.
	ErrSessionExpired = errors.New("session expired")
	// ErrModelCallFailed wraps any provider, network or timeout error.
	ErrModelCallFailed = errors.New("model call failed")
	// ErrForbidden is returned to non-admin users of admin operations.
	ErrForbidden = errors.New("forbidden")
	// ErrEmptyInput is returned for a blank question or keyword.
	ErrEmptyInput = errors.New("empty input")
	// ErrNoPreview is returned for a preview index that does not exist.
	ErrNoPreview = errors.New("no such preview")
)

// retiredTTL is how long a replaced token keeps answering ErrSessionExpired
// instead of ErrNotLoggedIn.
const retiredTTL = 24 * time.Hour

// Authenticator checks a username and password.
type Authenticator interface {
	Authenticate(username, password string) (models.User, error)
}

// Controller holds the in-memory sessions of one server process. The
// registry and ledger it is given are the shared, persisted state.
type Controller struct {
	cfg       *config.Config
	auth      Authenticator
	registry  registry.Registry
	ledger    ledger.Ledger
	model     llm.Model
	tokenizer llm.Tokenizer
	budget    *budget.Enforcer
	cache     *cache.Cache
	audit     *audit.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session // by token
	byUser   map[string]string   // username -> token
	retired  map[string]time.Time
}

// Option configures optional collaborators of a Controller.
type Option func(*Controller)

// WithBudget enforces budget policies before every model call.
func WithBudget(e *budget.Enforcer) Option { return func(c *Controller) { c.budget = e } }

// WithCache serves repeated summary prompts from c.
func WithCache(sc *cache.Cache) Option { return func(c *Controller) { c.cache = sc } }

// WithAudit logs every model call to l.
func WithAudit(l *audit.Logger) Option { return func(c *Controller) { c.audit = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// New creates a Controller.
func New(cfg *config.Config, auth Authenticator, reg registry.Registry, led ledger.Ledger,
	model llm.Model, tok llm.Tokenizer, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg,
		auth:      auth,
		registry:  reg,
		ledger:    led,
		model:     model,
		tokenizer: tok,
		now:       time.Now,
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]string),
		retired:   make(map[string]time.Time),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login authenticates the user and opens their single session.
func (c *Controller) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := c.auth.Authenticate(username, password)
	if err != nil {
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return nil, err
	}

	now := c.now()
	if _, err := c.registry.CleanExpired(ctx, now); err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := c.registry.Login(ctx, user.Username, now); err != nil {
		if errors.Is(err, registry.ErrAlreadyActive) {
			metrics.Logins.WithLabelValues("already_active").Inc()
		} else {
			metrics.Logins.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	s := &Session{
		Token:      uuid.NewString(),
		User:       user,
		Key:        c.ledgerKey(user),
		LoggedInAt: now,
	}

	c.mu.Lock()
	// The registry admitted a new login, so any session still held here
	// for this user has lost its lease.
	if old, ok := c.byUser[user.Username]; ok {
		c.retireLocked(old, now)
	}
	c.pruneRetiredLocked(now)
	c.sessions[s.Token] = s
	c.byUser[user.Username] = s.Token
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	metrics.Logins.WithLabelValues("ok").Inc()
	slog.Info("login", "user", user.Username, "key", s.Key)
	return s, nil
}

// Logout ends the session of token. Logging out twice is not an error.
func (c *Controller) Logout(ctx context.Context, token string) error {
	c.mu.Lock()
	s, ok := c.sessions[token]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := c.registry.Logout(ctx, s.User.Username); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.reset()
	c.remove(s, false)
	slog.Info("logout", "user", s.User.Username)
	return nil
}

// Sweep drops local sessions whose lease has expired and returns how many
// were dropped. The server runs it periodically so that idle sessions do not
// stay in memory until their owner logs in again.
func (c *Controller) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	live, err := c.registry.CleanExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	alive := make(map[string]bool, len(live))
	for _, r := range live {
		alive[r.Username] = true
	}

	c.mu.Lock()
	var stale []*Session
	for _, s := range c.sessions {
		if !alive[s.User.Username] {
			stale = append(stale, s)
		}
	}
	c.mu.Unlock()

	dropped := 0
	for _, s := range stale {
		// A session busy with a model call is skipped; its next request
		// revalidates the lease anyway.
		if !s.mu.TryLock() {
			continue
		}
		if s.closed {
			s.mu.Unlock()
			continue
		}
		// The snapshot predates a login that completed after CleanExpired.
		active, err := c.registry.IsActive(ctx, s.User.Username, now)
		if err != nil {
			s.mu.Unlock()
			return dropped, fmt.Errorf("sweep: %w", err)
		}
		if !active {
			s.reset()
			c.remove(s, true)
			dropped++
		}
		s.mu.Unlock()
	}
	return dropped, nil
}

// ActiveSessions returns the number of sessions held in memory.
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// acquire resolves token, locks its session and renews the lease. The
// caller must call s.mu.Unlock.
func (c *Controller) acquire(ctx context.Context, token string) (*Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[token]
	_, wasRetired := c.retired[token]
	c.mu.Unlock()
	if !ok {
		if wasRetired {
			return nil, ErrSessionExpired
		}
		return nil, ErrNotLoggedIn
	}

	s.mu.Lock()
	if s.closed || s.retired.Load() {
		s.mu.Unlock()
		if s.expired || s.retired.Load() {
			return nil, ErrSessionExpired
		}
		return nil, ErrNotLoggedIn
	}

	if err := c.renew(ctx, s); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// renew expires stale leases and refreshes the lease of s. A lapsed lease
// drops s. Must be called with s.mu held.
func (c *Controller) renew(ctx context.Context, s *Session) error {
	now := c.now()
	if _, err := c.registry.CleanExpired(ctx, now); err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	err := c.registry.Touch(ctx, s.User.Username, now)
	if errors.Is(err, registry.ErrNotActive) {
		slog.Info("session expired", "user", s.User.Username)
		s.reset()
		c.remove(s, true)
		return ErrSessionExpired
	}
	if err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	return nil
}

// remove forgets s. Must be called with s.mu held.
func (c *Controller) remove(s *Session, expired bool) {
	s.closed = true
	s.expired = expired

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s.Token)
	if c.byUser[s.User.Username] == s.Token {
		delete(c.byUser, s.User.Username)
	}
	if expired {
		c.retired[s.Token] = c.now()
	}
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
}

func (c *Controller) retireLocked(token string, now time.Time) {
	if s, ok := c.sessions[token]; ok {
		// The old session may be mid-call; mark it without taking s.mu so
		// login never waits on a model call.
		delete(c.sessions, token)
		s.retired.Store(true)
	}
	c.retired[token] = now
}

func (c *Controller) pruneRetiredLocked(now time.Time) {
	for tok, at := range c.retired {
		if now.Sub(at) > retiredTTL {
			delete(c.retired, tok)
		}
	}
}

func (c *Controller) ledgerKey(u models.User) string {
	if c.cfg.Ledger.KeyBy == "user" {
		return u.Username
	}
	if u.Institution == "" {
		return models.DefaultInstitution
	}
	return u.Institution
}

var _ Authenticator = (*credentials.Store)(nil)

// extractOptions maps the document settings onto extractor options.
func extractOptions(d config.DocumentsConfig) extract.Options {
	return extract.Options{
		TextPreview:     d.TextPreview,
		DocxImages:      d.DocxImages,
		PreviewDPI:      d.PreviewDPI,
		MaxPreviewPages: d.MaxPreviewPages,
		MaxTextBytes:    d.MaxTextBytes,
		MaxImagePixels:  d.MaxImagePixels,
	}
}

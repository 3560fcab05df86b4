package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/metrics"
)

// Auth modes. Which token a backend deployment accepts varies, so the
// working mode is discovered at runtime and persisted with the session.
const (
	AuthModeIDToken     = "id_token"
	AuthModeAccessToken = "access_token"
)

// LoginFunc exchanges an account credential for a fresh token set. The
// returned session carries tokens only; the manager derives expiry and
// auth mode itself.
type LoginFunc func(ctx context.Context, cred *Credential) (*Session, error)

// ManagerConfig holds session lifecycle tuning.
type ManagerConfig struct {
	// FallbackTTL is assumed when a token carries no readable expiry.
	FallbackTTL time.Duration

	// SafetyMargin shrinks the effective lifetime so a token is never
	// used right at its expiry edge.
	SafetyMargin time.Duration

	// UnstableThreshold is the number of invalidations within
	// UnstableWindow that marks the session unstable.
	UnstableThreshold int
	UnstableWindow    time.Duration

	// DefaultAuthMode seeds new sessions before the working mode has
	// been discovered.
	DefaultAuthMode string
}

// Manager owns the session lifecycle for the single configured account.
//
// All session access goes through EnsureSession, which holds the manager
// lock for the duration of a login. That gives single-flight semantics
// for free: when the session is missing or expired, the first caller logs
// in while every other caller blocks on the lock and then observes the
// fresh session.
type Manager struct {
	store   Store
	login   LoginFunc
	config  ManagerConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	session       *Session
	loaded        bool
	invalidations []time.Time
}

// NewManager creates a session manager. The login function is typically
// (*Client).Login. A nil metrics handle disables instrumentation.
func NewManager(store Store, login LoginFunc, cfg ManagerConfig, logger *logging.Logger, m *metrics.Metrics) *Manager {
	if cfg.DefaultAuthMode == "" {
		cfg.DefaultAuthMode = AuthModeIDToken
	}
	return &Manager{
		store:   store,
		login:   login,
		config:  cfg,
		logger:  logger.With("component", "session"),
		metrics: m,
	}
}

// EnsureSession returns a valid session, logging in if necessary.
//
// Returns ErrNotConfigured when no credential is stored,
// ErrAuthenticationFailed when the vendor rejects the credentials, and
// ErrSessionUnstable when invalidations have clustered inside the
// stability window.
func (m *Manager) EnsureSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		if err := m.loadLocked(ctx); err != nil {
			return nil, err
		}
	}

	if m.session != nil && !m.session.Expired(m.config.SafetyMargin) {
		sess := *m.session
		return &sess, nil
	}

	if m.unstableLocked(time.Now()) {
		return nil, fmt.Errorf("%w: %d invalidations within %s",
			ErrSessionUnstable, len(m.invalidations), m.config.UnstableWindow)
	}

	cred, err := m.store.GetCredential(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.Info("logging in", "username", cred.Username)
	sess, err := m.login(ctx, cred)
	if err != nil {
		m.metrics.IncLogin("failure")
		return nil, err
	}
	m.metrics.IncLogin("success")

	if sess.AuthMode == "" {
		sess.AuthMode = m.config.DefaultAuthMode
	}
	sess.ObtainedAt = time.Now().UTC()
	sess.ExpiresAt = m.deriveExpiry(sess)

	if err := m.store.PutSession(ctx, sess); err != nil {
		// Persistence failure is survivable; the session still works
		// for this process lifetime.
		m.logger.Warn("failed to persist session", "error", err)
	}

	m.session = sess
	m.logger.Info("session established",
		"auth_mode", sess.AuthMode,
		"expires_at", sess.ExpiresAt.Format(time.RFC3339))

	out := *sess
	return &out, nil
}

// Invalidate discards the current session and records the invalidation
// for unstable-session detection. The next EnsureSession call performs a
// fresh login unless the stability window has been exceeded.
func (m *Manager) Invalidate(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pruneLocked(now)
	m.invalidations = append(m.invalidations, now)
	m.session = nil
	m.loaded = true
	m.metrics.IncSessionInvalidation()

	if err := m.store.DeleteSession(ctx); err != nil {
		m.logger.Warn("failed to delete persisted session", "error", err)
	}
	m.logger.Info("session invalidated",
		"reason", reason,
		"recent_invalidations", len(m.invalidations))
}

// SetAuthMode records the token type the backend accepted so subsequent
// requests (and restarts) start with the working mode.
func (m *Manager) SetAuthMode(ctx context.Context, mode string) {
	if mode != AuthModeIDToken && mode != AuthModeAccessToken {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.AuthMode == mode {
		return
	}
	m.session.AuthMode = mode
	if err := m.store.PutSession(ctx, m.session); err != nil {
		m.logger.Warn("failed to persist auth mode", "error", err)
	}
	m.logger.Info("auth mode switched", "auth_mode", mode)
}

// Unstable reports whether the session is currently within an unstable
// period. Used by status endpoints; EnsureSession performs its own check.
func (m *Manager) Unstable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unstableLocked(time.Now())
}

// loadLocked pulls any persisted session into the cache. A persisted
// session that is already expired is discarded rather than surfaced.
func (m *Manager) loadLocked(ctx context.Context) error {
	sess, err := m.store.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted session: %w", err)
	}
	m.loaded = true
	if sess != nil && !sess.Expired(m.config.SafetyMargin) {
		m.session = sess
		m.logger.Info("resumed persisted session",
			"auth_mode", sess.AuthMode,
			"expires_at", sess.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (m *Manager) unstableLocked(now time.Time) bool {
	m.pruneLocked(now)
	return m.config.UnstableThreshold > 0 &&
		len(m.invalidations) >= m.config.UnstableThreshold
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.config.UnstableWindow)
	kept := m.invalidations[:0]
	for _, t := range m.invalidations {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.invalidations = kept
}

// deriveExpiry reads the exp claim from the active token without
// verifying the signature; we only need the timestamp, the vendor is the
// one who validates the token. Falls back to the configured TTL when the
// token is opaque or carries no expiry.
func (m *Manager) deriveExpiry(sess *Session) time.Time {
	if exp, ok := tokenExpiry(sess.Token()); ok {
		return exp
	}
	m.logger.Debug("token has no readable expiry, using fallback TTL",
		"ttl", m.config.FallbackTTL)
	return sess.ObtainedAt.Add(m.config.FallbackTTL)
}

func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

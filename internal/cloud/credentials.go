package cloud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential holds the single configured cloud account alongside the
// client application identity used for login. The client identity is what
// the vendor issued to its own mobile app; it is resolved once and cached
// here so restarts do not depend on the resolution endpoints staying up.
type Credential struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	ClientUUID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is a token set issued by the vendor for the configured account.
//
// AuthMode records which token the backend last accepted ("id_token" or
// "access_token") so the client resumes with the working one after a
// restart instead of rediscovering it.
type Session struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	AuthMode     string
	ExpiresAt    time.Time
	ObtainedAt   time.Time
}

// Token returns the bearer token matching the session's auth mode.
func (s *Session) Token() string {
	if s.AuthMode == AuthModeAccessToken {
		return s.AccessToken
	}
	return s.IDToken
}

// Expired reports whether the session has passed its expiry, shrunk by
// the given safety margin so requests never ride a token into the ground.
func (s *Session) Expired(margin time.Duration) bool {
	return time.Now().After(s.ExpiresAt.Add(-margin))
}

// Store defines persistence for the account credential and its session.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// GetCredential retrieves the configured account credential.
	// Returns ErrNotConfigured if no credential has been stored.
	GetCredential(ctx context.Context) (*Credential, error)

	// PutCredential stores or replaces the account credential.
	PutCredential(ctx context.Context, cred *Credential) error

	// GetSession retrieves the persisted session, if any.
	// Returns nil with no error when no session has been stored.
	GetSession(ctx context.Context) (*Session, error)

	// PutSession stores or replaces the current session.
	PutSession(ctx context.Context, sess *Session) error

	// DeleteSession removes the persisted session. Removing a session
	// that does not exist is not an error.
	DeleteSession(ctx context.Context) error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed credential store.
// The db parameter should be an open SQLite connection with the schema
// migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetCredential retrieves the configured account credential.
func (s *SQLiteStore) GetCredential(ctx context.Context) (*Credential, error) {
	query := `
		SELECT username, password, client_id, client_secret, client_uuid,
			created_at, updated_at
		FROM credentials
		WHERE id = 1`

	var cred Credential
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query).Scan(
		&cred.Username, &cred.Password,
		&cred.ClientID, &cred.ClientSecret, &cred.ClientUUID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	cred.CreatedAt = time.Unix(createdAt, 0).UTC()
	cred.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cred, nil
}

// PutCredential stores or replaces the account credential.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO credentials (id, username, password, client_id, client_secret, client_uuid, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password = excluded.password,
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			client_uuid = excluded.client_uuid,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		cred.Username, cred.Password,
		cred.ClientID, cred.ClientSecret, cred.ClientUUID,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// GetSession retrieves the persisted session, if any.
func (s *SQLiteStore) GetSession(ctx context.Context) (*Session, error) {
	query := `
		SELECT access_token, id_token, refresh_token, auth_mode, expires_at, obtained_at
		FROM sessions
		WHERE id = 1`

	var sess Session
	var expiresAt, obtainedAt int64
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sess.AccessToken, &sess.IDToken, &sess.RefreshToken,
		&sess.AuthMode, &expiresAt, &obtainedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}

	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.ObtainedAt = time.Unix(obtainedAt, 0).UTC()
	return &sess, nil
}

// PutSession stores or replaces the current session.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (id, access_token, id_token, refresh_token, auth_mode, expires_at, obtained_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			id_token = excluded.id_token,
			refresh_token = excluded.refresh_token,
			auth_mode = excluded.auth_mode,
			expires_at = excluded.expires_at,
			obtained_at = excluded.obtained_at`

	_, err := s.db.ExecContext(ctx, query,
		sess.AccessToken, sess.IDToken, sess.RefreshToken,
		sess.AuthMode, sess.ExpiresAt.Unix(), sess.ObtainedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// DeleteSession removes the persisted session.
func (s *SQLiteStore) DeleteSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = 1`); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

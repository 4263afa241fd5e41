// Package auth manages the PLC session lifecycle: login, logout, re-login,
// API version discovery and password changes. The session token itself lives
// on the protocol client, which attaches it to every request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/protocol"
)

// State is the session state of a Manager.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNoCredentials is returned by ReLogin when no login has succeeded yet.
var ErrNoCredentials = errors.New("no credentials from a previous login")

// Dispatcher is the part of the protocol client the session manager drives.
type Dispatcher interface {
	Call(ctx context.Context, req *jsonrpc.Request, out interface{}) error
	SetToken(token string)
	ClearToken()
	Token() string
	SetMaxRequestSize(size int)
}

// Credentials identify a user for Api.Login.
type Credentials struct {
	User                string
	Password            string
	Mode                string
	IncludeWebAppCookie *bool
}

// LoginResult is the result of Api.Login.
type LoginResult struct {
	Token        string `json:"token"`
	WebAppCookie string `json:"web_application_cookie,omitempty"`
}

// TokenMetadata holds the claims readable from a JWT session token. Opaque
// tokens yield metadata with only Type set.
type TokenMetadata struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	TokenID   string    `json:"tokenId,omitempty"`
	IssuedAt  time.Time `json:"issuedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// SessionState describes the current session.
type SessionState struct {
	User          string         `json:"user"`
	Mode          string         `json:"mode,omitempty"`
	WebAppCookie  string         `json:"-"`
	TokenMetadata *TokenMetadata `json:"tokenMetadata,omitempty"`
	SessionStart  time.Time      `json:"sessionStart"`
	LastActivity  time.Time      `json:"lastActivity"`
}

// Expired reports whether the token carries an expiry that has passed.
func (s *SessionState) Expired(now time.Time) bool {
	if s == nil || s.TokenMetadata == nil || s.TokenMetadata.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.TokenMetadata.ExpiresAt)
}

// StateObserver is called after every state transition, outside the manager's locks.
type StateObserver func(from, to State)

// Option configures a Manager.
type Option func(*Manager)

// WithStateObserver registers an observer for state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, fn)
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns the session against one PLC.
type Manager struct {
	client    Dispatcher
	builder   *jsonrpc.Builder
	logger    *logging.Logger
	observers []StateObserver

	// credMutex serializes Login, Logout and ReLogin.
	credMutex sync.Mutex

	mutex       sync.RWMutex
	state       State
	session     *SessionState
	credentials *Credentials
	apiVersion  float64
}

// NewManager creates a session manager for client.
func NewManager(client Dispatcher, builder *jsonrpc.Builder, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		builder: builder,
		logger:  logging.GetAuthLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

// Session returns a copy of the current session, or nil when unauthenticated.
func (m *Manager) Session() *SessionState {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// User returns the logged-in user, or "" when unauthenticated.
func (m *Manager) User() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.User
}

// APIVersion returns the version discovered by Initialize, or 0.
func (m *Manager) APIVersion() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.apiVersion
}

// Initialize queries Api.Version and sizes the client's request limit from it.
// On failure the client keeps its current limit.
func (m *Manager) Initialize(ctx context.Context) (float64, error) {
	req, err := m.builder.Version()
	if err != nil {
		return 0, err
	}
	var version float64
	if err := m.client.Call(ctx, req, &version); err != nil {
		return 0, fmt.Errorf("failed to query API version: %w", err)
	}

	limit := protocol.MaxRequestSizeFor(version)
	m.client.SetMaxRequestSize(limit)

	m.mutex.Lock()
	m.apiVersion = version
	m.mutex.Unlock()

	m.logger.Info("API version discovered", "version", version, "max_request_size", limit)
	return version, nil
}

// Login authenticates and installs the session token on the client. A failed
// login leaves the client without a token.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	m.credMutex.Lock()
	defer m.credMutex.Unlock()
	return m.login(ctx, creds)
}

// Logout ends the session. A failed logout keeps the token and state.
func (m *Manager) Logout(ctx context.Context) error {
	m.credMutex.Lock()
	defer m.credMutex.Unlock()
	return m.logout(ctx)
}

// ReLogin logs out and logs in again with creds, or with the credentials of
// the last successful login when creds is nil. The two calls are not atomic:
// observers see the session pass through Unauthenticated.
func (m *Manager) ReLogin(ctx context.Context, creds *Credentials) (*LoginResult, error) {
	m.credMutex.Lock()
	defer m.credMutex.Unlock()

	if creds == nil {
		m.mutex.RLock()
		creds = m.credentials
		m.mutex.RUnlock()
		if creds == nil {
			return nil, ErrNoCredentials
		}
	}
	next := *creds

	if m.State() == Authenticated {
		if err := m.logout(ctx); err != nil {
			return nil, fmt.Errorf("re-login failed during logout: %w", err)
		}
	}
	result, err := m.login(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("re-login failed during login: %w", err)
	}
	return result, nil
}

// ChangePassword changes the password of user, or of the logged-in user when
// user is empty. Validation failures are returned before any network call.
func (m *Manager) ChangePassword(ctx context.Context, user, password, newPassword string) error {
	if user == "" {
		user = m.User()
	}
	req, err := m.builder.ChangePassword(user, password, newPassword)
	if err != nil {
		return err
	}
	if err := m.client.Call(ctx, req, nil); err != nil {
		return err
	}
	m.touch()
	m.logger.Info("Password changed", "user", user)
	return nil
}

// Touch records activity on the session.
func (m *Manager) Touch() {
	m.touch()
}

func (m *Manager) login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	req, err := m.builder.Login(creds.User, creds.Password, creds.Mode, creds.IncludeWebAppCookie)
	if err != nil {
		m.dropSession()
		m.logger.Warn("Login rejected before sending", "user", creds.User, "error", err.Error())
		return nil, err
	}

	m.transition(Authenticating, nil)

	var result LoginResult
	err = m.client.Call(ctx, req, &result)
	if err == nil && result.Token == "" {
		err = &protocol.ProtocolError{Op: jsonrpc.MethodLogin, Message: "login result carries no token"}
	}
	if err != nil {
		m.dropSession()
		m.logger.Warn("Login failed", "user", creds.User, "error", err.Error())
		return nil, err
	}

	m.client.SetToken(result.Token)
	now := time.Now()
	session := &SessionState{
		User:          creds.User,
		Mode:          creds.Mode,
		WebAppCookie:  result.WebAppCookie,
		TokenMetadata: tokenMetadata(result.Token),
		SessionStart:  now,
		LastActivity:  now,
	}
	saved := creds
	m.transition(Authenticated, func() {
		m.session = session
		m.credentials = &saved
	})
	m.logger.Info("Logged in", "user", creds.User)
	return &result, nil
}

func (m *Manager) logout(ctx context.Context) error {
	req, err := m.builder.Logout()
	if err != nil {
		return err
	}
	if err := m.client.Call(ctx, req, nil); err != nil {
		m.logger.Warn("Logout failed", "error", err.Error())
		return err
	}

	m.client.ClearToken()
	m.transition(Unauthenticated, func() {
		m.session = nil
	})
	m.logger.Info("Logged out")
	return nil
}

// transition moves to state, applying mutate under the state lock, then
// notifies observers.
// dropSession forgets any token and session left by an earlier login.
func (m *Manager) dropSession() {
	m.client.ClearToken()
	m.transition(Unauthenticated, func() {
		m.session = nil
	})
}

func (m *Manager) transition(to State, mutate func()) {
	m.mutex.Lock()
	from := m.state
	m.state = to
	if mutate != nil {
		mutate()
	}
	m.mutex.Unlock()

	if from == to {
		return
	}
	m.logger.LogSessionTransition(from.String(), to.String())
	for _, fn := range m.observers {
		fn(from, to)
	}
}

func (m *Manager) touch() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.session != nil {
		m.session.LastActivity = time.Now()
	}
}

// tokenMetadata reads the claims of a JWT token without verifying it.
func tokenMetadata(token string) *TokenMetadata {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return &TokenMetadata{Type: "opaque"}
	}
	md := &TokenMetadata{
		Type:    "jwt",
		Subject: claims.Subject,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		md.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		md.ExpiresAt = claims.ExpiresAt.Time
	}
	return md
}

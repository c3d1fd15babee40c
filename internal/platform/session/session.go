// Package session issues the signed cookie that ties a browser to its cart.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hanko-field/quickorder/internal/platform/observability"
	"github.com/hanko-field/quickorder/internal/platform/requestctx"
)

const (
	DefaultCookieName = "QUICKORDER_SESSION"
	defaultMaxAge     = 30 * 24 * time.Hour
)

var errInvalidCookie = errors.New("session: invalid cookie")

// Options configures the Manager.
type Options struct {
	CookieName string
	Secret     []byte
	MaxAge     time.Duration
	Secure     bool
	// Locale resolves the request locale, typically from Accept-Language.
	Locale func(*http.Request) string
	Clock  func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// Manager reads and writes session cookies.
type Manager struct {
	name   string
	key    []byte
	maxAge time.Duration
	secure bool
	locale func(*http.Request) string
	clock  func() time.Time
	newID  func() string
}

type payload struct {
	ID        string    `json:"id"`
	CartID    string    `json:"cart"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewManager builds a Manager. An empty secret yields a process-local key, fine for development only.
func NewManager(opts Options) *Manager {
	m := &Manager{
		name:   strings.TrimSpace(opts.CookieName),
		key:    opts.Secret,
		maxAge: opts.MaxAge,
		secure: opts.Secure,
		locale: opts.Locale,
		clock:  opts.Clock,
		newID:  opts.NewID,
	}
	if m.name == "" {
		m.name = DefaultCookieName
	}
	if m.maxAge <= 0 {
		m.maxAge = defaultMaxAge
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.newID == nil {
		m.newID = func() string { return ulid.Make().String() }
	}
	if len(m.key) == 0 {
		m.key = make([]byte, 32)
		if _, err := rand.Read(m.key); err != nil {
			m.key = []byte("insecure-dev-key-set-QUICKORDER_SESSION_SECRET")
		}
		if opts.Logger != nil {
			opts.Logger.Warn("session: using ephemeral signing key; set QUICKORDER_SESSION_SECRET in production")
		}
	}
	return m
}

// Middleware attaches the session to the request context, issuing a new one when the cookie is
// missing or fails verification.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := m.read(r)
		if err != nil {
			now := m.clock().UTC()
			data = payload{ID: m.newID(), CartID: m.newID(), CreatedAt: now}
			http.SetCookie(w, m.cookie(data, now))
		}
		info := requestctx.SessionInfo{SessionID: data.ID, CartID: data.CartID}
		if m.locale != nil {
			info.Locale = m.locale(r)
		}
		ctx := observability.AnnotateSession(requestctx.WithSession(r.Context(), info), info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Manager) read(r *http.Request) (payload, error) {
	c, err := r.Cookie(m.name)
	if err != nil || c.Value == "" {
		return payload{}, errInvalidCookie
	}
	body, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return payload{}, errInvalidCookie
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return payload{}, errInvalidCookie
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(gotSig, m.sign(raw)) {
		return payload{}, errInvalidCookie
	}
	var data payload
	if err := json.Unmarshal(raw, &data); err != nil || data.ID == "" || data.CartID == "" {
		return payload{}, errInvalidCookie
	}
	return data, nil
}

// Encode returns the signed cookie value for a session, used by tests and the CLI.
func (m *Manager) Encode(sessionID, cartID string) string {
	raw, _ := json.Marshal(payload{ID: sessionID, CartID: cartID, CreatedAt: m.clock().UTC()})
	return base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(m.sign(raw))
}

// CookieName returns the configured cookie name.
func (m *Manager) CookieName() string { return m.name }

func (m *Manager) cookie(data payload, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    m.Encode(data.ID, data.CartID),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(m.maxAge),
	}
}

func (m *Manager) sign(raw []byte) []byte {
	mac := hmac.New(sha256.New, m.key)
	mac.Write(raw)
	return mac.Sum(nil)
}

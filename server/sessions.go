package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"esiaclient/esia"
)

const sessionCookieName = "esia_session"

// BrowserSession is the server-side state behind the session cookie.
type BrowserSession struct {
	ID string
	// State is the pending authorization state, empty once the callback ran.
	State     string
	ESIA      esia.Session
	CreatedAt time.Time
}

// Authenticated reports whether a code has been exchanged for this browser.
func (s BrowserSession) Authenticated() bool {
	return s.ESIA.AccessToken != "" && s.ESIA.OID != ""
}

// SessionManager handles cookie-backed sessions stored in an expiring cache.
type SessionManager struct {
	cache        *cache.Cache
	logger       *slog.Logger
	ttl          time.Duration
	secure       bool
	sameSite     http.SameSite
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg ServerConfig, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		cache:        cache.New(cfg.SessionTTL, cfg.SessionTTL/2),
		logger:       logger,
		ttl:          cfg.SessionTTL,
		secure:       !cfg.DevMode,
		sameSite:     http.SameSiteLaxMode,
		cookieDomain: cfg.CookieDomain,
	}
}

// Fetch returns the session associated with the request cookie if present.
func (sm *SessionManager) Fetch(r *http.Request) (BrowserSession, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return BrowserSession{}, false
	}
	v, ok := sm.cache.Get(cookie.Value)
	if !ok {
		return BrowserSession{}, false
	}
	return v.(BrowserSession), true
}

// Start creates an empty session and sets its cookie.
func (sm *SessionManager) Start(w http.ResponseWriter) BrowserSession {
	sess := BrowserSession{ID: uuid.NewString(), CreatedAt: time.Now()}
	sm.cache.SetDefault(sess.ID, sess)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return sess
}

// Save stores sess, sliding its expiry.
func (sm *SessionManager) Save(sess BrowserSession) {
	sm.cache.SetDefault(sess.ID, sess)
}

// Destroy forgets the session and clears the cookie.
func (sm *SessionManager) Destroy(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.cache.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   -1,
	})
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	return sm.cache.ItemCount()
}

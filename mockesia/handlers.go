package mockesia

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler returns the HTTP surface of the provider, laid out like the portal.
func (p *Provider) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/aas/oauth2/ac", p.handleAuthorize)
	r.Post("/aas/oauth2/te", p.handleToken)

	r.Route("/rs/prns/{oid}", func(r chi.Router) {
		r.Use(p.requireSubject)
		r.Get("/", p.handlePerson)
		r.Get("/{collection}", p.handleCollection)
		r.Get("/{collection}/{id}", p.handleElement)
	})

	return r
}

func (p *Provider) redirectAllowed(uri string) bool {
	if uri == "" {
		return false
	}
	if len(p.opts.RedirectURLs) == 0 {
		u, err := url.Parse(uri)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https")
	}
	return slices.Contains(p.opts.RedirectURLs, uri)
}

func (p *Provider) clientAllowed(clientID string) bool {
	return clientID != "" && (p.opts.ClientID == "" || p.opts.ClientID == clientID)
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if !p.redirectAllowed(redirectURI) {
		p.logger.Warn("Rejected authorization request", "reason", "redirect_uri not allowed", "redirect_uri", redirectURI)
		writeError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not registered")
		return
	}
	if !p.clientAllowed(q.Get("client_id")) {
		redirectError(w, r, redirectURI, state, "unauthorized_client", "unknown client_id")
		return
	}
	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, state, "unsupported_response_type", "response_type must be code")
		return
	}
	if err := p.verifySecret(q.Get("client_secret"), q.Get("scope"), q.Get("timestamp"), q.Get("client_id"), state); err != nil {
		p.logger.Warn("Rejected authorization request", "client_id", q.Get("client_id"), "error", err)
		redirectError(w, r, redirectURI, state, "invalid_request", err.Error())
		return
	}

	code := p.issueCode(grant{OID: p.opts.OID, Scope: q.Get("scope"), RedirectURL: redirectURI})
	p.logger.Info("Issued authorization code", "client_id", q.Get("client_id"), "oid", p.opts.OID)

	target, _ := url.Parse(redirectURI)
	values := target.Query()
	values.Set("code", code)
	values.Set("state", state)
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// tokenResponse mirrors the portal token endpoint answer.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	State        string `json:"state"`
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot parse form")
		return
	}
	f := r.PostForm
	clientID := f.Get("client_id")

	if !p.clientAllowed(clientID) {
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}
	if err := p.verifySecret(f.Get("client_secret"), f.Get("scope"), f.Get("timestamp"), clientID, f.Get("state")); err != nil {
		p.logger.Warn("Rejected token request", "client_id", clientID, "error", err)
		writeError(w, http.StatusBadRequest, "invalid_client", err.Error())
		return
	}

	var (
		g  grant
		ok bool
	)
	switch f.Get("grant_type") {
	case "authorization_code":
		g, ok = p.takeCode(f.Get("code"))
		if ok && g.RedirectURL != f.Get("redirect_uri") {
			writeError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match the authorization request")
			return
		}
	case "refresh_token":
		g, ok = p.takeRefreshToken(f.Get("refresh_token"))
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_grant", "code or refresh token is unknown or expired")
		return
	}

	access, err := p.issueAccessToken(g, clientID)
	if err != nil {
		p.logger.Error("Failed to sign access token", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "cannot sign token")
		return
	}

	p.logger.Info("Issued access token", "client_id", clientID, "grant_type", f.Get("grant_type"), "oid", g.OID)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: p.issueRefreshToken(g),
		ExpiresIn:    int64(p.opts.TokenTTL.Seconds()),
		TokenType:    "Bearer",
		State:        f.Get("state"),
	})
}

// requireSubject admits requests whose bearer token belongs to the oid in the path.
func (p *Provider) requireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || raw == "" {
			writeError(w, http.StatusUnauthorized, "invalid_token", "bearer token required")
			return
		}
		sub, err := p.subjectOf(raw)
		if err != nil {
			p.logger.Warn("Rejected bearer token", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
			return
		}
		if sub != chi.URLParam(r, "oid") {
			writeError(w, http.StatusForbidden, "access_denied", "token does not grant access to this person")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Provider) handlePerson(w http.ResponseWriter, r *http.Request) {
	person := make(map[string]any, len(p.opts.Person)+1)
	for k, v := range p.opts.Person {
		person[k] = v
	}
	person["eTag"] = strconv.Itoa(len(p.opts.Person))
	writeJSON(w, http.StatusOK, person)
}

func (p *Provider) handleCollection(w http.ResponseWriter, r *http.Request) {
	items := p.opts.Collections[chi.URLParam(r, "collection")]

	base := requestBase(r) + strings.TrimSuffix(r.URL.Path, "/")
	elements := make([]string, len(items))
	for i := range items {
		elements[i] = fmt.Sprintf("%s/%d", base, i+1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stateFacts": []string{"hasSize"},
		"size":       len(items),
		"elements":   elements,
	})
}

func (p *Provider) handleElement(w http.ResponseWriter, r *http.Request) {
	items := p.opts.Collections[chi.URLParam(r, "collection")]
	idx, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || idx < 1 || idx > len(items) {
		writeError(w, http.StatusNotFound, "not_found", "no such element")
		return
	}
	writeJSON(w, http.StatusOK, items[idx-1])
}

func requestBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, desc string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, desc)
		return
	}
	values := target.Query()
	values.Set("error", code)
	values.Set("error_description", desc)
	if state != "" {
		values.Set("state", state)
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

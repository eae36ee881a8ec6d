package server

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus"

	"esiaclient/errors"
	"esiaclient/esia"
	"esiaclient/signer"
)

const providerTimeout = 30 * time.Second

// App bundles runtime dependencies for the relying party.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Sessions *SessionManager

	clientOpts []esia.Option
}

// NewApp builds the shared signer and HTTP client. Extra options are applied
// to every per-request esia.Client after the defaults.
func NewApp(cfg Config, logger *slog.Logger, opts ...esia.Option) (*App, error) {
	s, err := signer.New(signer.Options{
		CertPath:           cfg.ESIA.CertPath,
		PrivateKeyPath:     cfg.ESIA.PrivateKeyPath,
		PrivateKeyPassword: cfg.ESIA.PrivateKeyPassword,
		TmpPath:            cfg.ESIA.TmpPath,
		OpenSSLPath:        cfg.ESIA.OpenSSLPath,
		Timeout:            cfg.ESIA.SignTimeout,
		Logger:             logger,
	}, cfg.ESIA.UseCLI)
	if err != nil {
		return nil, err
	}

	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.ESIA.RequestTimeout

	if err := esia.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("ESIA metrics not registered", "error", err)
	}

	base := []esia.Option{esia.WithSigner(s), esia.WithHTTPClient(hc), esia.WithLogger(logger)}
	return &App{
		Config:     cfg,
		Logger:     logger,
		Sessions:   NewSessionManager(cfg.Server, logger),
		clientOpts: append(base, opts...),
	}, nil
}

// client returns a fresh esia.Client bound to one browser session. Clients
// are single-writer, so each request gets its own.
func (a *App) client(sess esia.Session) (*esia.Client, error) {
	c, err := esia.New(a.Config.ESIA, a.clientOpts...)
	if err != nil {
		return nil, err
	}
	c.SetSession(sess)
	return c, nil
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>ESIA Relying Party</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        .status { padding: 10px; margin: 20px 0; border-radius: 5px; }
        .authenticated { background-color: #d4edda; color: #155724; }
        .unauthenticated { background-color: #f8d7da; color: #721c24; }
        .button { display: inline-block; padding: 10px 20px; margin: 10px 5px; background-color: #0d4cd3; color: white; text-decoration: none; border-radius: 5px; }
    </style>
</head>
<body>
    <h1>ESIA Relying Party</h1>
    {{if .Authenticated}}
    <div class="status authenticated">
        <p><strong>Authenticated</strong></p>
        <p>Subject (oid): <strong>{{.OID}}</strong></p>
        <p>Token expires: {{.Expiry}}</p>
    </div>
    <a href="/person" class="button">Person</a>
    <a href="/contacts" class="button">Contacts</a>
    <a href="/addresses" class="button">Addresses</a>
    <a href="/documents" class="button">Documents</a>
    <a href="/logout" class="button">Logout</a>
    {{else}}
    <div class="status unauthenticated">
        <p><strong>Not authenticated</strong></p>
    </div>
    <a href="/login" class="button">Login with Gosuslugi</a>
    {{end}}
</body>
</html>`))

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	sess, _ := a.Sessions.Fetch(r)

	data := map[string]any{
		"Authenticated": sess.Authenticated(),
		"OID":           sess.ESIA.OID,
		"Expiry":        "unknown",
	}
	if exp := sess.ESIA.Expiry(); !exp.IsZero() {
		data["Expiry"] = exp.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTemplate.Execute(w, data); err != nil {
		a.Logger.Error("render home", "error", err)
	}
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.Sessions.Fetch(r)
	if !ok {
		sess = a.Sessions.Start(w)
	}

	c, err := a.client(esia.Session{})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req, err := c.NewAuthorizationRequest(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	sess.State = req.State
	a.Sessions.Save(sess)

	a.Logger.Info("redirecting to ESIA", "session_id", sess.ID)
	http.Redirect(w, r, req.URL, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.Sessions.Fetch(r)
	if !ok || sess.State == "" {
		a.Logger.Warn("callback without pending authorization")
		http.Error(w, "No pending authorization", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if q.Get("state") != sess.State {
		a.Logger.Warn("state mismatch", "session_id", sess.ID)
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}
	if e := q.Get("error"); e != "" {
		a.Logger.Warn("ESIA declined authorization", "error", e, "description", q.Get("error_description"))
		sess.State = ""
		a.Sessions.Save(sess)
		http.Error(w, "Authorization declined: "+e, http.StatusUnauthorized)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "No code in callback", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), providerTimeout)
	defer cancel()

	c, err := a.client(esia.Session{})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tok, err := c.ExchangeCode(ctx, code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	sess.State = ""
	sess.ESIA = tok
	a.Sessions.Save(sess)

	a.Logger.Info("user authenticated", "oid", tok.OID, "session_id", sess.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// withClient resolves the browser session into a ready esia.Client.
func (a *App) withClient(fn func(ctx context.Context, c *esia.Client) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := a.Sessions.Fetch(r)
		if !ok || !sess.Authenticated() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login required"})
			return
		}

		c, err := a.client(sess.ESIA)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), providerTimeout)
		defer cancel()

		out, err := fn(ctx, c)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if updated := c.Session(); updated != sess.ESIA {
			sess.ESIA = updated
			a.Sessions.Save(sess)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *App) handlePerson(ctx context.Context, c *esia.Client) (any, error) {
	return c.PersonInfo(ctx)
}

func (a *App) handleContacts(ctx context.Context, c *esia.Client) (any, error) {
	return c.ContactInfo(ctx)
}

func (a *App) handleAddresses(ctx context.Context, c *esia.Client) (any, error) {
	return c.AddressInfo(ctx)
}

func (a *App) handleDocuments(ctx context.Context, c *esia.Client) (any, error) {
	return c.DocInfo(ctx)
}

func (a *App) handleRefresh(ctx context.Context, c *esia.Client) (any, error) {
	sess, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"oid": sess.OID, "expires_in": sess.ExpiresIn}, nil
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Destroy(w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.Sessions.Count()})
}

// statusFor maps client failures onto relying party responses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrConfiguration):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrRequestFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	a.Logger.Error("ESIA call failed",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"error", err)
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "error_description": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

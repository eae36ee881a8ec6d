package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the HTTP router of the relying party.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/", a.handleHome)
	r.Get("/login", a.handleLogin)
	r.Get(a.Config.CallbackPath(), a.handleCallback)
	r.Get("/logout", a.handleLogout)

	r.Get("/person", a.withClient(a.handlePerson))
	r.Get("/contacts", a.withClient(a.handleContacts))
	r.Get("/addresses", a.withClient(a.handleAddresses))
	r.Get("/documents", a.withClient(a.handleDocuments))
	r.Post("/refresh", a.withClient(a.handleRefresh))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

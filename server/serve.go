package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// Serve runs the relying party until ctx is cancelled. Development mode
// listens on plain HTTP; production obtains certificates through ACME and
// redirects port 80 to HTTPS.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config.Server
	handler := a.Routes()

	var servers []*http.Server
	errCh := make(chan error, 2)

	listen := func(srv *http.Server, tlsMode bool) {
		var err error
		if tlsMode {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}

	if cfg.DevMode {
		srv := &http.Server{
			Addr:         cfg.DevListenAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 45 * time.Second,
		}
		servers = append(servers, srv)
		a.Logger.Info("server listening", "mode", "dev", "addr", cfg.DevListenAddr, "public_url", cfg.PublicURL)
		go listen(srv, false)
	} else {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.Domains...),
			Email:      cfg.TLS.Email,
		}

		httpRedirect := &http.Server{
			Addr:              cfg.HTTPListenAddr,
			Handler:           m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		httpsSrv := &http.Server{
			Addr:    cfg.HTTPSListenAddr,
			Handler: handler,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 45 * time.Second,
		}
		servers = append(servers, httpRedirect, httpsSrv)
		a.Logger.Info("server listening", "mode", "prod", "addr", cfg.HTTPSListenAddr, "domains", cfg.TLS.Domains)
		go listen(httpRedirect, false)
		go listen(httpsSrv, true)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.Logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return runErr
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"esiaclient/esia"
	"esiaclient/mockesia"
	"esiaclient/server"
	"esiaclient/signer"
)

const commandTimeout = 60 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the demo relying party",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := validateURL(checkCtx, cfg.ESIA.PortalURL); err != nil {
				c.logger.Warn("ESIA portal may not be accessible",
					"portal_url", cfg.ESIA.PortalURL,
					"error", err,
					"note", "server will continue but logins may fail")
			}

			app, err := server.NewApp(cfg, c.logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			return app.Serve(ctx)
		},
	}
}

func (c *cli) mockCmd() *cobra.Command {
	var (
		addr     string
		opts     mockesia.Options
		redirect []string
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a mock ESIA portal for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RedirectURLs = redirect
			opts.Logger = c.logger
			p, err := mockesia.New(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           p.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				c.logger.Info("mock ESIA portal listening", "addr", addr, "portal_url", "http://"+addr+"/")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "Listen address")
	cmd.Flags().StringVar(&opts.OID, "oid", mockesia.DefaultOID, "Subject every login resolves to")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "Only accept this client id (empty accepts any)")
	cmd.Flags().StringSliceVar(&redirect, "redirect-url", nil, "Allowed redirect URLs (empty accepts any)")
	cmd.Flags().DurationVar(&opts.TokenTTL, "token-ttl", mockesia.DefaultTokenTTL, "Access token lifetime")
	return cmd
}

// sessionFlags let one-shot commands act on tokens obtained earlier.
type sessionFlags struct {
	token        string
	refreshToken string
	oid          string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "Access token (overrides esia.token)")
	cmd.Flags().StringVar(&f.refreshToken, "refresh-token", "", "Refresh token (overrides esia.refreshToken)")
	cmd.Flags().StringVar(&f.oid, "oid", "", "Subject id (overrides esia.oid)")
}

func (f *sessionFlags) apply(cfg *esia.Config) {
	if f.token != "" {
		cfg.Token = f.token
	}
	if f.refreshToken != "" {
		cfg.RefreshToken = f.refreshToken
	}
	if f.oid != "" {
		cfg.OID = f.oid
	}
}

func (c *cli) newClient(sf *sessionFlags) (*esia.Client, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if sf != nil {
		sf.apply(&cfg.ESIA)
	}
	return esia.New(cfg.ESIA, esia.WithLogger(c.logger))
}

func (c *cli) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}

func (c *cli) authURLCmd() *cobra.Command {
	var withState bool
	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print a signed authorization URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(nil)
			if err != nil {
				return err
			}
			req, err := client.NewAuthorizationRequest(cmd.Context())
			if err != nil {
				return err
			}
			if withState {
				return c.printJSON(req)
			}
			_, err = fmt.Fprintln(c.out, req.URL)
			return err
		},
	}
	cmd.Flags().BoolVar(&withState, "json", false, "Print URL, state and timestamp as JSON")
	return cmd
}

func (c *cli) exchangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exchange CODE",
		Short: "Exchange an authorization code for tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			sess, err := client.ExchangeCode(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printJSON(sess)
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Obtain a new access token with the refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(&sf)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			sess, err := client.Refresh(ctx)
			if err != nil {
				return err
			}
			return c.printJSON(sess)
		},
	}
	sf.register(cmd)
	return cmd
}

var collections = map[string]func(*esia.Client, context.Context) (esia.Collection, error){
	"contacts":  (*esia.Client).ContactInfo,
	"addresses": (*esia.Client).AddressInfo,
	"documents": (*esia.Client).DocInfo,
	"vehicles":  (*esia.Client).VehicleInfo,
	"kids":      (*esia.Client).KidsInfo,
}

func (c *cli) personCmd() *cobra.Command {
	var sf sessionFlags
	cmd := &cobra.Command{
		Use:       "person [contacts|addresses|documents|vehicles|kids]",
		Short:     "Fetch the person resource or one of its collections",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"contacts", "addresses", "documents", "vehicles", "kids"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient(&sf)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			if len(args) == 0 {
				person, err := client.PersonInfo(ctx)
				if err != nil {
					return err
				}
				return c.printJSON(person)
			}
			coll, err := collections[args[0]](client, ctx)
			if err != nil {
				return err
			}
			return c.printJSON(coll)
		},
	}
	sf.register(cmd)
	return cmd
}

func (c *cli) signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign MESSAGE",
		Short: "Print the URL-safe detached signature of MESSAGE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			s, err := signer.New(signerOptions(cfg.ESIA, c), cfg.ESIA.UseCLI)
			if err != nil {
				return err
			}
			sig, err := s.Sign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, sig)
			return err
		},
	}
}

func signerOptions(cfg esia.Config, c *cli) signer.Options {
	return signer.Options{
		CertPath:           cfg.CertPath,
		PrivateKeyPath:     cfg.PrivateKeyPath,
		PrivateKeyPassword: cfg.PrivateKeyPassword,
		TmpPath:            cfg.TmpPath,
		OpenSSLPath:        cfg.OpenSSLPath,
		Timeout:            cfg.SignTimeout,
		Logger:             c.logger,
	}
}

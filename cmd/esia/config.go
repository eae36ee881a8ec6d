package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"esiaclient/server"
	"esiaclient/signer"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create a configuration file with a guided setup",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := os.Stat(c.configPath); err == nil {
					return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", c.configPath)
				}
				if _, err := runSetup(c.configPath, cmd.InOrStdin(), c.out); err != nil {
					return err
				}
				c.logger.Info("configuration initialized successfully", "path", c.configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and check the portal is reachable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.runConfigValidate(cmd.Context()); err != nil {
					return err
				}
				c.logger.Info("configuration is valid", "path", c.configPath)
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) runConfigValidate(ctx context.Context) error {
	cfg, err := server.LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	if _, err := signer.New(signerOptions(cfg.ESIA, c), cfg.ESIA.UseCLI); err != nil {
		return fmt.Errorf("signing material: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	c.logger.Info("validating portal URL...")
	if err := validateURL(ctx, cfg.ESIA.PortalURL); err != nil {
		c.logger.Error("portal URL validation failed", "portal_url", cfg.ESIA.PortalURL, "error", err)
	} else {
		c.logger.Info("portal URL is accessible", "portal_url", cfg.ESIA.PortalURL)
	}
	return nil
}

// validateURL reports whether urlStr answers below 500. The portal root
// commonly answers 4xx, which still proves it is reachable.
func validateURL(ctx context.Context, urlStr string) error {
	client := cleanhttp.DefaultClient()
	client.Timeout = 5 * time.Second

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

func runSetup(path string, in io.Reader, out io.Writer) (server.Config, error) {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "No configuration file found at %s.\n", path)
	fmt.Fprintln(out, "Starting guided setup for an ESIA relying party. Press Enter to accept defaults.")

	cfg := server.DefaultConfig()

	devMode := askYesNo(reader, out, "Run in development mode?", true)
	cfg.Server.DevMode = devMode

	if devMode {
		cfg.Server.DevListenAddr = ask(reader, out, "Dev listen address", cfg.Server.DevListenAddr)
		cfg.Server.PublicURL = strings.TrimSuffix(ask(reader, out, "Public URL", cfg.Server.PublicURL), "/")
	} else {
		domain := askRequired(reader, out, "Primary public domain (e.g. rp.example.com)")
		cfg.Server.TLS.Domains = []string{domain}
		cfg.Server.PublicURL = "https://" + strings.TrimSuffix(domain, "/")
		cfg.Server.TLS.Email = ask(reader, out, "ACME contact email", cfg.Server.TLS.Email)
	}

	cfg.ESIA.ClientID = askRequired(reader, out, "ESIA client id (mnemonic)")
	cfg.ESIA.RedirectURL = ask(reader, out, "Redirect URL", cfg.Server.PublicURL+"/callback")
	cfg.ESIA.PortalURL = ask(reader, out, "ESIA portal URL", cfg.ESIA.PortalURL)
	cfg.ESIA.CertPath = askRequired(reader, out, "Certificate path (PEM)")
	cfg.ESIA.PrivateKeyPath = askRequired(reader, out, "Private key path (PEM)")
	cfg.ESIA.PrivateKeyPassword = ask(reader, out, "Private key password", "")
	cfg.ESIA.UseCLI = askYesNo(reader, out, "Sign with the openssl binary (needed for GOST keys)?", false)
	cfg.ESIA.Scope = normalizeList(ask(reader, out, "Scope (comma separated)", strings.Join(cfg.ESIA.Scope, ",")), cfg.ESIA.Scope)

	if err := writeConfigFile(path, cfg); err != nil {
		return server.Config{}, err
	}
	return server.LoadConfig(path)
}

func ask(reader *bufio.Reader, out io.Writer, prompt, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(out, "%s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return strings.TrimSpace(def)
	}
	return input
}

func askRequired(reader *bufio.Reader, out io.Writer, prompt string) string {
	for {
		fmt.Fprintf(out, "%s: ", prompt)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			return input
		}
		if err != nil {
			// exhausted input, nothing more will arrive
			return ""
		}
		fmt.Fprintln(out, "This value is required. Please enter a value.")
	}
}

func askYesNo(reader *bufio.Reader, out io.Writer, prompt string, def bool) bool {
	defLabel := "Y"
	if !def {
		defLabel = "N"
	}
	for {
		fmt.Fprintf(out, "%s [%s]: ", prompt, defLabel)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "" {
			return def
		}
		switch input {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		default:
			if err != nil {
				return def
			}
			fmt.Fprintln(out, "Please enter 'y' or 'n'.")
		}
	}
}

func normalizeList(input string, fallback []string) []string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func writeConfigFile(path string, cfg server.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

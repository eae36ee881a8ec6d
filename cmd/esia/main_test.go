package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"esiaclient/esia"
	"esiaclient/internal/testpki"
	"esiaclient/mockesia"
	"esiaclient/server"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERR":     slog.LevelError,
	}

	for input, want := range tests {
		got, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseLogLevelInvalid(t *testing.T) {
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestNormalizeListFallback(t *testing.T) {
	fallback := []string{"openid"}
	if got := normalizeList("  ", fallback); len(got) != 1 || got[0] != "openid" {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := normalizeList("openid, email ,", fallback); len(got) != 2 || got[1] != "email" {
		t.Fatalf("unexpected list %v", got)
	}
}

// writeTestConfig stores a loadable config pointing at portalURL.
func writeTestConfig(t *testing.T, portalURL string) (string, testpki.Material) {
	t.Helper()
	m := testpki.Generate(t)

	cfg := server.DefaultConfig()
	cfg.ESIA.ClientID = "INSP03211"
	cfg.ESIA.CertPath = m.CertPath
	cfg.ESIA.PrivateKeyPath = m.KeyPath
	cfg.ESIA.TmpPath = t.TempDir()
	if portalURL != "" {
		cfg.ESIA.PortalURL = portalURL
	}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := writeConfigFile(path, cfg); err != nil {
		t.Fatalf("writeConfigFile: %v", err)
	}
	return path, m
}

func TestWriteConfigFileRoundTrip(t *testing.T) {
	path, m := writeTestConfig(t, "")

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ESIA.ClientID != "INSP03211" || cfg.ESIA.CertPath != m.CertPath {
		t.Fatalf("config did not survive the round trip: %+v", cfg.ESIA)
	}
	if cfg.ESIA.RequestTimeout != esia.DefaultRequestTimeout {
		t.Fatalf("request timeout lost: %s", cfg.ESIA.RequestTimeout)
	}
}

func TestRunSetupWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	answers := strings.Join([]string{
		"",                       // dev mode
		"",                       // listen addr
		"",                       // public url
		"INSP03211",              // client id
		"",                       // redirect url
		"",                       // portal url
		"/etc/esia/cert.pem",     // cert
		"/etc/esia/key.pem",      // key
		"",                       // password
		"n",                      // openssl
		"openid,fullname,mobile", // scope
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg, err := runSetup(path, strings.NewReader(answers), &out)
	if err != nil {
		t.Fatalf("runSetup: %v", err)
	}
	if cfg.ESIA.ClientID != "INSP03211" {
		t.Fatalf("client id mismatch: %q", cfg.ESIA.ClientID)
	}
	if cfg.ESIA.RedirectURL != "http://127.0.0.1:8080/callback" {
		t.Fatalf("redirect default mismatch: %q", cfg.ESIA.RedirectURL)
	}
	if got := cfg.ESIA.ScopeString(); got != "openid fullname mobile" {
		t.Fatalf("scope mismatch: %q", got)
	}
	if !strings.Contains(out.String(), "ESIA client id") {
		t.Fatalf("prompts not written: %s", out.String())
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--env-file", "", "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSignCommandPrintsURLSafeSignature(t *testing.T) {
	path, _ := writeTestConfig(t, "")

	out, err := execute(t, "--config", path, "sign", "openid2024.03.05 14:07:09 +0300INSP03211state")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig := strings.TrimSpace(out)
	if sig == "" {
		t.Fatalf("empty signature")
	}
	if strings.ContainsAny(sig, "+/") {
		t.Fatalf("signature is not URL-safe: %s", sig)
	}
}

func TestMissingConfigPointsToInit(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "auth-url")
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected hint about config init, got %v", err)
	}
}

func TestPersonRejectsUnknownCollection(t *testing.T) {
	path, _ := writeTestConfig(t, "")
	if _, err := execute(t, "--config", path, "person", "pets"); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}

func TestCommandsAgainstMockPortal(t *testing.T) {
	p, err := mockesia.New(mockesia.Options{ClientID: "INSP03211"})
	if err != nil {
		t.Fatalf("mockesia.New: %v", err)
	}
	portal := httptest.NewServer(p.Handler())
	defer portal.Close()

	path, _ := writeTestConfig(t, portal.URL+"/")

	out, err := execute(t, "--config", path, "auth-url", "--json")
	if err != nil {
		t.Fatalf("auth-url: %v", err)
	}
	var authReq esia.AuthorizationRequest
	if err := json.Unmarshal([]byte(out), &authReq); err != nil {
		t.Fatalf("decode auth-url output: %v\n%s", err, out)
	}

	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := hc.Get(authReq.URL)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %s", loc)
	}

	out, err = execute(t, "--config", path, "exchange", code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	var sess esia.Session
	if err := json.Unmarshal([]byte(out), &sess); err != nil {
		t.Fatalf("decode session: %v\n%s", err, out)
	}
	if sess.OID != mockesia.DefaultOID {
		t.Fatalf("unexpected oid %q", sess.OID)
	}

	out, err = execute(t, "--config", path, "person", "contacts", "--token", sess.AccessToken, "--oid", sess.OID)
	if err != nil {
		t.Fatalf("person contacts: %v", err)
	}
	var coll struct {
		Elements []map[string]any `json:"elements"`
	}
	if err := json.Unmarshal([]byte(out), &coll); err != nil {
		t.Fatalf("decode collection: %v\n%s", err, out)
	}
	if len(coll.Elements) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(coll.Elements))
	}

	out, err = execute(t, "--config", path, "refresh", "--refresh-token", sess.RefreshToken, "--oid", sess.OID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	var refreshed esia.Session
	if err := json.Unmarshal([]byte(out), &refreshed); err != nil {
		t.Fatalf("decode refreshed session: %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.RefreshToken == sess.RefreshToken {
		t.Fatalf("refresh did not rotate tokens")
	}
}

// Command esia drives the ESIA client from a shell: it runs the demo relying
// party and the mock portal, and exposes each client operation as a command.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"esiaclient/server"
)

// cli carries the persistent flags shared by every command.
type cli struct {
	configPath string
	envFile    string
	logLevel   string

	logger *slog.Logger
	out    io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	configDefault := os.Getenv("ESIA_CONFIG")
	if configDefault == "" {
		configDefault = "config.yaml"
	}

	root := &cobra.Command{
		Use:           "esia",
		Short:         "ESIA (Gosuslugi) OAuth2 client toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", configDefault, "Path to YAML config (env ESIA_CONFIG)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Optional dotenv file loaded before env overrides")
	root.PersistentFlags().StringVarP(&c.logLevel, "log-level", "l", "info", "Logging level (debug, info, warn, error)")

	root.AddCommand(
		c.serveCmd(),
		c.mockCmd(),
		c.authURLCmd(),
		c.exchangeCmd(),
		c.refreshCmd(),
		c.personCmd(),
		c.signCmd(),
		c.configCmd(),
	)
	return root
}

func (c *cli) setup() error {
	level, err := parseLogLevel(c.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.logLevel, err)
	}
	c.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}
	return nil
}

func (c *cli) loadConfig() (server.Config, error) {
	if _, err := os.Stat(c.configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return server.Config{}, fmt.Errorf("config file not found at %s. Run `esia config init` to create it", c.configPath)
		}
		return server.Config{}, fmt.Errorf("stat config: %w", err)
	}
	c.logger.Debug("loading config", "path", c.configPath)
	return server.LoadConfig(c.configPath)
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}

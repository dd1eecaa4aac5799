// Command projectchat runs the project conversation service and its
// operator tooling.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/projectchat/internal/config"
)

var version = "0.1.0"

// rootFlags are the persistent command-line overrides shared by every subcommand.
type rootFlags struct {
	configPath string
	port       string
	logLevel   string
	driver     string
	dsn        string
	natsURL    string
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "projectchat",
		Short:        "Project-scoped AI conversations with tool calling",
		Version:      version,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to YAML config (default: $PROJECTCHAT_CONFIG or "+config.DefaultConfigFile+")")
	pf.StringVar(&flags.port, "port", "", "HTTP listen port")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.driver, "driver", "", "storage driver (postgres, sqlite)")
	pf.StringVar(&flags.dsn, "dsn", "", "PostgreSQL connection string")
	pf.StringVar(&flags.natsURL, "nats-url", "", "NATS server URL")

	root.AddCommand(serveCmd(flags))
	root.AddCommand(migrateCmd(flags))
	root.AddCommand(chatCmd(flags))
	root.AddCommand(tailCmd(flags))
	return root
}

// loadConfig resolves the config file and applies only the flags that were
// set explicitly, so unset flags never mask ENV or YAML values.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = config.DefaultConfigFile
		if p := os.Getenv("PROJECTCHAT_CONFIG"); p != "" {
			path = p
		}
	}

	var o config.Overrides
	pf := cmd.Flags()
	if pf.Changed("port") {
		o.Port = &flags.port
	}
	if pf.Changed("log-level") {
		o.LogLevel = &flags.logLevel
	}
	if pf.Changed("driver") {
		o.Driver = &flags.driver
	}
	if pf.Changed("dsn") {
		o.DSN = &flags.dsn
	}
	if pf.Changed("nats-url") {
		o.NATSURL = &flags.natsURL
	}
	return config.LoadWithOverrides(path, o)
}

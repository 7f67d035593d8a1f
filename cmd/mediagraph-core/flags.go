package main

import (
	"errors"
	"flag"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds flag values prior to merging with an optional TOML file,
// mirroring the teacher's cliConfig/parseFlags split so main can validate
// before touching anything stateful. The core's own CLI surface has no
// required flags (§6); every flag here is an override of a zero-config
// default.
type cliConfig struct {
	configPath  string
	socketName  string
	logLevel    string
	metricsAddr string
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mediagraph-core", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to an optional mediagraph.toml")
	fs.StringVar(&cfg.socketName, "socket-name", "", "Override the Unix socket name under XDG_RUNTIME_DIR")
	fs.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config file)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Address for the optional /metrics HTTP listener (empty disables it)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.logLevel != "" {
		switch cfg.logLevel {
		case "debug", "info", "warn", "error":
		default:
			return nil, errors.New("invalid -log-level: " + cfg.logLevel)
		}
	}

	return cfg, nil
}

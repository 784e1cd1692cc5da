// triage-mcp serves the engine's evidence backends over MCP stdio so
// external reasoning CLIs can search and read the same repositories.
//
// Usage:
//
//	triage-mcp -config config.yaml
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/triagestack/triage-engine/internal/config"
	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/mcptools"
	"github.com/triagestack/triage-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr so they cannot interfere with the MCP stdio
	// transport on stdout.
	logger := utils.NewStderrLogger(cfg.Logging.Level, cfg.Logging.JSON)

	repos := make([]evidence.Repo, 0, len(cfg.Evidence.Repos))
	for _, r := range cfg.Evidence.Repos {
		repos = append(repos, evidence.Repo{Name: r.Name, Path: r.Path})
	}
	local := evidence.NewLocalAdapter(repos, cfg.Evidence.MaxFileBytes, logger)

	var adapter evidence.Adapter = local
	if cfg.Evidence.Sourcegraph.Endpoint != "" {
		indexed := evidence.NewSourcegraphAdapter(
			cfg.Evidence.Sourcegraph.Endpoint,
			cfg.Evidence.Sourcegraph.Token,
			local.Repos(),
			cfg.Evidence.Sourcegraph.Timeout,
		)
		adapter = evidence.NewLayeredAdapter(indexed, local, logger)
	}

	return server.ServeStdio(mcptools.New(adapter))
}

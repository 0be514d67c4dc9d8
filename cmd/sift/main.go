// ABOUTME: CLI entrypoint with one-shot question, discovery, and HTTP server modes.
// ABOUTME: Wires config, Postgres metadata, the run log, model-backed agents, and the run loop together.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sifthq/sift/agents"
	"github.com/sifthq/sift/config"
	"github.com/sifthq/sift/db"
	"github.com/sifthq/sift/guard"
	"github.com/sifthq/sift/llm"
	"github.com/sifthq/sift/orchestrator"
	"github.com/sifthq/sift/web"
)

var version = "dev"

// cliConfig holds all CLI configuration parsed from flags and positional arguments.
type cliConfig struct {
	configPath  string
	serverMode  bool
	discover    bool
	table       string
	yes         bool
	verbose     bool
	showVersion bool
	question    string
}

func main() {
	loadDotEnv(".env")

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("sift %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated cliConfig.
func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("sift", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "", "Path to YAML config file (default: environment only)")
	fs.BoolVar(&cfg.serverMode, "server", false, "Start HTTP server mode")
	fs.BoolVar(&cfg.discover, "discover", false, "Run in discovery mode against a table")
	fs.StringVar(&cfg.table, "table", "", "Target table for discovery mode")
	fs.BoolVar(&cfg.yes, "yes", false, "Approve query execution without prompting")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print run events to stderr")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `sift %s - ask questions of your database in plain language

Usage:
  sift [flags] "question"
  sift -discover -table orders "what business terms hide in this table?"
  sift -server

Flags:
`, version)
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.question = strings.Join(fs.Args(), " ")
	}

	return cfg
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cli cliConfig) int {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if !cli.serverMode && cli.question == "" {
		fmt.Fprintln(os.Stderr, "error: no question given (or pass -server)")
		return 2
	}
	if cli.discover && strings.TrimSpace(cli.table) == "" {
		fmt.Fprintln(os.Stderr, "error: -discover requires -table")
		return 2
	}

	// Signal handling for graceful cancellation in both modes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	gateway, err := db.OpenPostgres(ctx, db.ConnString(
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name,
		cfg.Database.User, cfg.Database.Password,
	))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer gateway.Close()
	gateway.SetSchema(cfg.Database.Schema)

	if err := os.MkdirAll(filepath.Dir(cfg.RunLogPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	runLog, err := db.OpenRunLog(cfg.RunLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer runLog.Close()

	orch := buildOrchestrator(cfg, cli, gateway, runLog)

	if cli.serverMode {
		return runServer(ctx, cfg, orch, runLog)
	}
	return runQuestion(ctx, cli, orch, runLog)
}

// buildOrchestrator wires the model client, agents, and collaborators into a
// run loop. Interactive prompts are attached only in CLI mode; server mode
// has no console to ask on.
func buildOrchestrator(cfg *config.Config, cli cliConfig, gateway *db.Gateway, runLog *db.RunLog) *orchestrator.Orchestrator {
	client := llm.NewOpenAIClient(cfg.Model.APIKey, cfg.Model.Name, cfg.Model.BaseURL)
	agentCfg := agents.Config{Client: client, Model: cfg.Model.Name, MaxTokens: cfg.Model.MaxTokens}

	oc := orchestrator.Config{
		Guard:       guard.New(cfg.RowLimit),
		Metadata:    gateway,
		Executor:    gateway,
		Planner:     agents.NewPlanner(agentCfg),
		Writer:      agents.NewSQLWriter(agentCfg),
		Interpreter: agents.NewInterpreter(agentCfg),
		Decider:     agents.NewDecider(agentCfg),
		Analyst:     agents.NewAnalyst(agentCfg),
		Semantics:   runLog,
		Limits: orchestrator.Limits{
			MaxIterations:     cfg.Limits.MaxIterations,
			MaxDuration:       cfg.Limits.MaxDuration(),
			MaxQueries:        cfg.Limits.MaxQueries,
			MaxRefinements:    cfg.Limits.MaxRefinements,
			MaxClarifications: cfg.Limits.MaxClarifications,
		},
	}

	if cli.serverMode || cli.yes {
		oc.RequestPermission = func(orchestrator.PermissionRequest) bool { return true }
	} else {
		oc.RequestPermission = consolePermission
		oc.AskQuestion = consoleQuestion
	}

	if cli.verbose {
		oc.OnEvent = verboseEventHandler
	}

	return orchestrator.New(oc)
}

// runQuestion answers one question on the command line and records it.
func runQuestion(ctx context.Context, cli cliConfig, orch *orchestrator.Orchestrator, runLog *db.RunLog) int {
	out, err := orch.Run(ctx, cli.question, orchestrator.RunOptions{
		Discovery:   cli.discover,
		TargetTable: cli.table,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if out.Cancelled {
		fmt.Fprintln(os.Stderr, "run cancelled")
		return 1
	}

	fmt.Println(out.Answer)

	if id, err := runLog.SaveRun(ctx, cli.question, out); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not save run: %v\n", err)
	} else if cli.verbose {
		fmt.Fprintf(os.Stderr, "[run] saved as %s (%d queries, %d rows)\n", id, out.Logs.Queries, out.Logs.TotalRows)
	}

	return 0
}

// runServer starts the HTTP API on the configured bind address.
func runServer(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, runLog *db.RunLog) int {
	server := web.NewServer(orch, runLog)

	httpServer := &http.Server{
		Addr:    cfg.Server.Bind,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	fmt.Fprintf(os.Stderr, "listening on %s\n", cfg.Server.Bind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}

// consolePermission shows the pending statement and asks for approval on stdin.
func consolePermission(req orchestrator.PermissionRequest) bool {
	fmt.Fprintf(os.Stderr, "\nStep %d/%d wants to run:\n  %s\n", req.StepNumber, req.TotalSteps, req.SQL)
	fmt.Fprintf(os.Stderr, "Confidence: %s\n", req.ConfidenceTier)
	reply := consoleQuestion("Execute? [y/N] ")
	reply = strings.ToLower(strings.TrimSpace(reply))
	return reply == "y" || reply == "yes"
}

// consoleQuestion prints a prompt on stderr and reads one line from stdin.
func consoleQuestion(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

// verboseEventHandler prints run lifecycle events to stderr.
func verboseEventHandler(evt orchestrator.RunEvent) {
	switch evt.Type {
	case orchestrator.EventRunStarted:
		fmt.Fprintf(os.Stderr, "[run] started (%s)\n", evt.Mode)
	case orchestrator.EventStateEntered:
		fmt.Fprintf(os.Stderr, "[state] %s/%s\n", evt.Mode, evt.SubState)
	case orchestrator.EventQueryExecuted:
		fmt.Fprintf(os.Stderr, "[query] %v rows: %v\n", evt.Data["rows"], evt.Data["sql"])
	case orchestrator.EventGuardTripped:
		fmt.Fprintf(os.Stderr, "[guard] %v\n", evt.Data["reason"])
	case orchestrator.EventLoopDetected:
		fmt.Fprintf(os.Stderr, "[loop] repeated plan detected, answering with what we have\n")
	case orchestrator.EventRunCompleted:
		fmt.Fprintf(os.Stderr, "[run] completed\n")
	case orchestrator.EventRunCancelled:
		fmt.Fprintf(os.Stderr, "[run] cancelled\n")
	case orchestrator.EventRunFailed:
		fmt.Fprintf(os.Stderr, "[run] failed: %v\n", evt.Data["error"])
	}
}

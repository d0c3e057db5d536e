package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/rendis/flowrun/internal/engine"
	"github.com/rendis/flowrun/internal/logging"
	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:], schema.RunModeFlow))
	case "test-step":
		os.Exit(runCmd(os.Args[2:], schema.RunModeTestStep))
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: flowrun <command>

commands:
  run <flow.json>        execute a flow and print the final run state
  test-step <flow.json>  execute a flow in single-step test mode
  version                print the binary version`)
}

func runCmd(args []string, mode schema.RunMode) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "flowrun run: missing flow file")
		return 2
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	flow, err := loadFlow(args[0])
	if err != nil {
		logger.Error("load flow", "error", err.Error())
		return 1
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("open store", "error", err.Error())
		return 1
	}
	defer st.Close()

	registry := pieces.NewRegistry()
	if err := registry.Register(pieces.CorePiece()); err != nil {
		logger.Error("register core piece", "error", err.Error())
		return 1
	}

	eng, err := engine.New(registry, st, engine.Constants{
		APIURL:      cfg.APIURL,
		PublicURL:   cfg.PublicURL,
		WorkerToken: cfg.WorkerToken,
		FilesDir:    cfg.FilesDir,
		Mode:        mode,
	}, logger)
	if err != nil {
		logger.Error("wire engine", "error", err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec := engine.NewExecutionContext(uuid.NewString(), cfg.ProjectID)
	ec = eng.Flow.Execute(ctx, flow, ec)

	printRunState(ec)

	switch ec.Verdict.Kind {
	case schema.VerdictFailed:
		return 1
	default:
		return 0
	}
}

func loadFlow(path string) (*schema.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var flow schema.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &flow, nil
}

func openStore(cfg Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DBPath == "" || cfg.DBPath == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(logging.NewCorrelationHandler(inner))
	slog.SetDefault(logger)
	return logger
}

// printRunState writes the final execution state as JSON to stdout.
func printRunState(ec engine.ExecutionContext) {
	state := map[string]any{
		"flow_run_id": ec.FlowRunID,
		"verdict":     ec.Verdict,
		"steps":       ec.Steps,
		"tasks":       ec.TaskCount,
	}
	if len(ec.Tags) > 0 {
		state["tags"] = ec.Tags
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode run state: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

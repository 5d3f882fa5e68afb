// Nox is a smart-home assistant agent.
//
// It drives a local language model through a think-act loop with Home
// Assistant tools, keeps a bounded per-conversation window plus a
// persistent vector memory, and talks to users over an HTTP API and an
// optional Telegram bot. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	nox init [dir]          Create a workspace with example config files
//	nox serve               Start the agent and API server
//	nox ask <question>      Ask a single question (for testing)
//	nox ingest <path>       Import markdown notes into long-term memory
//	nox version             Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noxassist/nox/internal/agent"
	"github.com/noxassist/nox/internal/api"
	"github.com/noxassist/nox/internal/buildinfo"
	"github.com/noxassist/nox/internal/config"
	"github.com/noxassist/nox/internal/embeddings"
	"github.com/noxassist/nox/internal/homeassistant"
	"github.com/noxassist/nox/internal/ingest"
	"github.com/noxassist/nox/internal/llm"
	"github.com/noxassist/nox/internal/memory"
	"github.com/noxassist/nox/internal/prompt"
	"github.com/noxassist/nox/internal/telegram"
	"github.com/noxassist/nox/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the nox command. Arguments are parsed
// by hand; the flag package's package-level globals make run impossible
// to call concurrently from tests, and the argument surface is small
// enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: nox ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: nox ingest <path>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Nox - Smart-Home Assistant Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: nox [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init         Create a workspace with example config files")
	fmt.Fprintln(w, "  serve        Start the agent and API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  ingest       Import markdown notes into long-term memory")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/nox/config.yaml, /etc/nox/config.yaml")
	return nil
}

// runAsk handles the "nox ask <question>" subcommand. It boots a
// minimal agent (no vector memory, no transports) and runs a single
// turn, printing the response to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	llmClient := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.Ollama.URL,
		Model:   cfg.Ollama.Model,
		Timeout: time.Duration(cfg.Ollama.TimeoutSec) * time.Second,
		Logger:  logger,
	})

	registry, err := buildRegistry(nil, nil)
	if err != nil {
		return err
	}

	assembler, err := buildAssembler(cfg)
	if err != nil {
		return err
	}

	loop, err := agent.NewLoop(agent.LoopConfig{
		LLM:           llmClient,
		Registry:      registry,
		Assembler:     assembler,
		Logger:        logger,
		MaxIterations: cfg.Agent.MaxIterations,
		Apology:       cfg.Agent.Apology,
	})
	if err != nil {
		return err
	}

	ag, err := agent.New(agent.Config{
		Loop:       loop,
		Logger:     logger,
		WindowSize: cfg.Memory.WindowSize,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, ag.HandleTurn(ctx, "cli", question))
	return nil
}

// runIngest handles the "nox ingest <path>" subcommand. It splits
// markdown notes into sections and stores each in the vector memory.
func runIngest(ctx context.Context, stdout io.Writer, configPath string, path string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.URL,
		Model:   cfg.Embeddings.Model,
	})

	store, err := memory.NewStore(memory.StoreConfig{
		Path:          cfg.Memory.Path,
		Embedder:      embedder,
		MinSimilarity: cfg.Memory.MinSimilarity,
		ChunkSize:     cfg.Memory.ChunkSize,
		ChunkOverlap:  cfg.Memory.ChunkOverlap,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open memory store %s: %w", cfg.Memory.Path, err)
	}
	defer store.Close()

	stats, err := ingest.New(store, logger).IngestPath(ctx, path)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Fprintf(stdout, "Ingested %d sections from %d files\n", stats.Sections, stats.Files)
	return nil
}

// runServe handles the "nox serve" subcommand: load config, open the
// memory store, connect to Home Assistant and the model provider, wire
// the agent, start the transports, and block until a shutdown signal.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Nox", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger only covers the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"listen", listenAddr(cfg),
		"model", cfg.Ollama.Model,
		"ollama_url", cfg.Ollama.URL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Model and embedding clients ---
	llmClient := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.Ollama.URL,
		Model:   cfg.Ollama.Model,
		Timeout: time.Duration(cfg.Ollama.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	if err := llmClient.Ping(ctx); err != nil {
		// Not fatal. The loop answers with its apology until the
		// provider comes back.
		logger.Warn("model provider unreachable at startup", "error", err)
	}

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.URL,
		Model:   cfg.Embeddings.Model,
	})

	// --- Long-term memory ---
	store, err := memory.NewStore(memory.StoreConfig{
		Path:          cfg.Memory.Path,
		Embedder:      embedder,
		MinSimilarity: cfg.Memory.MinSimilarity,
		ChunkSize:     cfg.Memory.ChunkSize,
		ChunkOverlap:  cfg.Memory.ChunkOverlap,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open memory store %s: %w", cfg.Memory.Path, err)
	}
	defer store.Close()
	logger.Info("memory store opened", "path", cfg.Memory.Path)

	// --- Home Assistant ---
	// Optional but central. Without it Nox still answers questions and
	// remembers things, it just can't touch the house.
	var ha *homeassistant.Client
	if cfg.HomeAssistant.URL != "" {
		ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token)
		if err := ha.Ping(ctx); err != nil {
			logger.Warn("Home Assistant unreachable at startup", "error", err)
		} else {
			logger.Info("connected to Home Assistant", "url", cfg.HomeAssistant.URL)
		}
		if cfg.HomeAssistant.Watch {
			watcher := homeassistant.NewWatcher(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
			ha.SetWatcher(watcher)
			go watcher.Run(ctx)
		}
	} else {
		logger.Warn("Home Assistant not configured - smart-home tools unavailable")
	}

	// --- Tools and prompt ---
	registry, err := buildRegistry(ha, store)
	if err != nil {
		return err
	}
	logger.Info("tools registered", "names", registry.Names())

	assembler, err := buildAssembler(cfg)
	if err != nil {
		return err
	}

	// --- Agent ---
	loop, err := agent.NewLoop(agent.LoopConfig{
		LLM:           llmClient,
		Registry:      registry,
		Assembler:     assembler,
		Logger:        logger,
		MaxIterations: cfg.Agent.MaxIterations,
		Apology:       cfg.Agent.Apology,
	})
	if err != nil {
		return err
	}

	ag, err := agent.New(agent.Config{
		Loop:       loop,
		Memory:     store,
		Logger:     logger,
		RetrieveK:  cfg.Memory.RetrieveK,
		WindowSize: cfg.Memory.WindowSize,
	})
	if err != nil {
		return err
	}

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Telegram transport ---
	if cfg.Telegram.Enabled {
		bridge, err := telegram.New(telegram.Config{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			Logger:    logger,
		}, ag)
		if err != nil {
			return err
		}
		go bridge.Run(ctx)
	}

	// --- HTTP API ---
	server := api.NewServer(listenAddr(cfg), ag, logger)
	server.SetMemory(store)
	server.SetLLM(llmClient)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Nox stopped")
	return nil
}

// buildRegistry registers the built-in tools. ha and store are
// optional; their tools are left out when nil.
func buildRegistry(ha *homeassistant.Client, store *memory.Store) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	if err := tools.RegisterClock(registry, time.Now); err != nil {
		return nil, err
	}
	if ha != nil {
		if err := tools.RegisterHomeAssistant(registry, ha); err != nil {
			return nil, err
		}
	}
	if store != nil {
		if err := tools.RegisterMemory(registry, store); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildAssembler constructs the prompt assembler from config, reading
// the persona and template files when set. Template problems are fatal
// here, at startup, rather than on the first user turn.
func buildAssembler(cfg *config.Config) (*prompt.Assembler, error) {
	persona := cfg.Prompt.Persona
	if cfg.Prompt.PersonaFile != "" {
		data, err := os.ReadFile(cfg.Prompt.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("load persona %s: %w", cfg.Prompt.PersonaFile, err)
		}
		persona = string(data)
	}

	templateText := ""
	if cfg.Prompt.TemplateFile != "" {
		data, err := os.ReadFile(cfg.Prompt.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("load prompt template %s: %w", cfg.Prompt.TemplateFile, err)
		}
		templateText = string(data)
	}

	return prompt.New(templateText, persona)
}

// listenAddr formats the API bind address from config.
func listenAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
}

// newLogger creates a structured logger writing to w at the given
// level. All log output in Nox goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Otherwise [config.FindConfig] searches the default locations, and
// built-in defaults apply when no file exists at all.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

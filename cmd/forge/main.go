// Package main is the Forge engine's CLI entry point (§6). It loads a
// Config, wires the Streaming Provider Abstraction, Session Store, Model
// Registry, Sandbox Runtime, and hook registry, and drives one AgenticLoop
// over stdin/stdout turns.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgehq/engine/internal/agent"
	"github.com/forgehq/engine/internal/config"
	"github.com/forgehq/engine/internal/hooks"
	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/internal/sessions"
	"github.com/forgehq/engine/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfigPath string
	flagContinue   bool
	flagResume     string
	flagProvider   string
	flagModel      string
	flagThinking   string
	flagHooks      []string
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("forge: fatal", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:     "forge",
		Short:   "Forge — a coding-agent engine core",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage keeps a runtime error from also dumping the flag usage.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(flagConfigPath)
			if err != nil {
				return err
			}
			cfg = loaded
			configureLogging(cfg.Logging)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file (defaults applied when omitted)")
	cmd.Flags().BoolVar(&flagContinue, "continue", false, "continue the most recently modified session in this directory")
	cmd.Flags().StringVar(&flagResume, "resume", "", "resume a specific session file by path")
	cmd.Flags().StringVar(&flagProvider, "provider", "", "override the default model provider")
	cmd.Flags().StringVar(&flagModel, "model", "", "override the default model id")
	cmd.Flags().StringVar(&flagThinking, "thinking", "off", "reasoning effort: off|low|medium|high")
	cmd.Flags().StringArrayVar(&flagHooks, "hook", nil, "path to a HOOK.md file to register (repeatable)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default()
	}
	return config.Load(path)
}

func configureLogging(cfg config.LoggingConfig) {
	level := new(slog.LevelVar)
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func validateThinking(v string) error {
	switch v {
	case "off", "low", "medium", "high":
		return nil
	default:
		return fmt.Errorf("forge: --thinking must be one of off|low|medium|high, got %q", v)
	}
}

// run wires every SPEC_FULL §4 component and drives the interactive loop
// described in §6: one line of stdin per user turn, streamed deltas to
// stdout, until EOF or a fatal error.
func run(ctx context.Context, cfg *config.Config) error {
	if err := validateThinking(flagThinking); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	creds := newEnvCredentialSource(cfg)
	if errs := providers.Bootstrap(ctx, creds); len(errs) > 0 {
		for _, err := range errs {
			logger.Warn("provider bootstrap error", "error", err)
		}
	}

	model, err := resolveModel(cfg, flagProvider, flagModel)
	if err != nil {
		return err
	}

	hookRegistry := hooks.NewRegistry(logger)
	hooks.SetGlobalRegistry(hookRegistry)
	for _, path := range flagHooks {
		if err := registerHookFile(hookRegistry, path); err != nil {
			logger.Warn("hook registration failed", "path", path, "error", err)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("forge: resolve working directory: %w", err)
	}

	store := sessions.NewStore(agentDirFor(cfg))
	sess, err := openSession(store, cwd, flagContinue, flagResume)
	if err != nil {
		return fmt.Errorf("forge: open session: %w", err)
	}

	toolRegistry := agent.NewToolRegistry()
	loopConfig := agent.LoopConfig{
		MaxIterations:   cfg.Tools.Execution.MaxIterations,
		MaxTokens:       model.MaxTokens,
		SerializeTools:  cfg.Tools.Execution.SerializeTools,
		ToolTimeout:     cfg.Tools.Execution.Timeout,
		ReasoningEffort: flagThinking,
	}
	loop := agent.NewAgenticLoop(model, toolRegistry, hookRegistry, loopConfig)

	compactCfg := sessions.DefaultCompactionConfig()
	if cfg.Session.Compaction.ThresholdPercent > 0 {
		compactCfg.ThresholdPercent = cfg.Session.Compaction.ThresholdPercent
	}

	return runREPL(ctx, loop, store, sess, model, hookRegistry, compactCfg, cfg.Session.Compaction.Enabled)
}

func runREPL(ctx context.Context, loop *agent.AgenticLoop, store *sessions.Store, sess *sessions.Session, model models.Model, hookRegistry *hooks.Registry, compactCfg sessions.CompactionConfig, compactionEnabled bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		userMessage := models.Message{
			Role:    models.RoleUser,
			Content: []models.ContentBlock{models.TextBlock(line)},
		}

		sink := func(ev *models.AgentEvent) {
			if ev.Type == models.AgentEventModelDelta && ev.Stream != nil {
				fmt.Print(ev.Stream.Delta)
			}
		}

		_, err := loop.Run(ctx, sess, userMessage, sink)
		fmt.Println()
		if err != nil {
			if ctx.Err() != nil {
				return nil // cancellation: exit cleanly, not a fatal error (§7e)
			}
			slog.Error("turn failed", "error", err)
			continue
		}

		if compactionEnabled {
			beforeCompact := &hooks.Event{Type: hooks.EventSessionBeforeCompact, SessionID: sess.ID()}
			if err := hookRegistry.Trigger(ctx, beforeCompact); err != nil {
				slog.Warn("session_before_compact hook failed", "error", err)
			} else if !beforeCompact.Blocked {
				if ran, err := sessions.MaybeCompact(ctx, sess, model, compactCfg); err != nil {
					slog.Warn("compaction failed", "error", err)
				} else if ran {
					slog.Info("session compacted", "session_id", sess.ID())
				}
			}
		}
	}
	return scanner.Err()
}

func openSession(store *sessions.Store, cwd string, cont bool, resumePath string) (*sessions.Session, error) {
	if resumePath != "" {
		return store.Open(resumePath)
	}
	if cont {
		return store.ContinueRecent(cwd)
	}
	return store.Create(cwd)
}

func agentDirFor(cfg *config.Config) string {
	if dir := strings.TrimSpace(cfg.Session.Directory); dir != "" && dir != "sessions" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forge"
	}
	return home + "/.forge"
}

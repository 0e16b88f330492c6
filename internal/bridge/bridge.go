// Package bridge wires configuration, transport, the turn service and memory
// capture into one runnable unit.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/driftlock/turnbridge/internal/config"
	"github.com/driftlock/turnbridge/internal/diag"
	"github.com/driftlock/turnbridge/internal/llm"
	"github.com/driftlock/turnbridge/internal/transport"
	"github.com/driftlock/turnbridge/internal/turns"
	"github.com/driftlock/turnbridge/internal/turns/memstore"
)

type Options struct {
	Config *config.Config

	Version   string
	Commit    string
	BuildTime string
}

type Bridge struct {
	log *slog.Logger
	cfg *config.Config

	svc      *turns.Service
	tc       *transport.Client
	sampler  *diag.Sampler
	memories *memstore.Store
}

func New(opts Options) (*Bridge, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.Info("turnbridge starting",
		"version", opts.Version,
		"commit", opts.Commit,
		"build_time", opts.BuildTime,
		"workspace_id", cfg.WorkspaceID,
	)

	b := &Bridge{
		log:     log,
		cfg:     cfg,
		sampler: diag.NewSampler(log),
	}

	var memories turns.MemoryStore
	var summarizer turns.Summarizer
	var classifier turns.Classifier
	if cfg.Memory.Enabled() {
		store, err := memstore.Open(filepath.Join(cfg.StateDir, "memories.db"))
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		b.memories = store
		memories = store

		model, err := llm.New(llm.Options{
			Log:              log,
			AnthropicAPIKey:  cfg.Memory.AnthropicAPIKey,
			AnthropicBaseURL: cfg.Memory.AnthropicBaseURL,
			OpenAIAPIKey:     cfg.Memory.OpenAIAPIKey,
			OpenAIBaseURL:    cfg.Memory.OpenAIBaseURL,
			SummaryModel:     cfg.Memory.SummaryModel,
			ClassifyModel:    cfg.Memory.ClassifyModel,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init model client: %w", err)
		}
		summarizer = model
		classifier = model
	}

	svc, err := turns.New(turns.Options{
		Log:             log,
		WorkspaceID:     cfg.WorkspaceID,
		Client:          deferredClient{b: b},
		Callbacks:       b.callbacks(),
		Memories:        memories,
		Summarizer:      summarizer,
		Classifier:      classifier,
		CanonicalEvents: cfg.CanonicalEvents,
		SteerEnabled:    cfg.SteerEnabled,
		CommandHandler:  b.handleCommand,
	})
	if err != nil {
		return nil, err
	}
	b.svc = svc

	tc, err := transport.New(transport.Options{
		Log:     log,
		URL:     cfg.TransportURL,
		Token:   cfg.TransportToken,
		Handler: svc.HandleNotification,
	})
	if err != nil {
		return nil, err
	}
	b.tc = tc
	return b, nil
}

// Run blocks until ctx is cancelled. An interactive stdin loop runs alongside the
// transport when stdin is a terminal.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer b.close()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		go b.stdinLoop(ctx)
	}
	return b.tc.Run(ctx)
}

func (b *Bridge) close() {
	if b.memories != nil {
		_ = b.memories.Close()
	}
}

// stdinLoop is the interactive path: each line is one outgoing message for the
// active thread, captured for memory before it is handed to the service.
func (b *Bridge) stdinLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tid := b.svc.ActiveThread()
		if err := b.svc.HandleSend(line, nil, turns.SendOptions{}); err != nil {
			b.log.Warn("send rejected", "err", err)
			continue
		}
		if tid != "" && !strings.HasPrefix(line, "/") {
			b.svc.OnInputCaptured(tid, b.svc.Status(tid).ActiveTurnID, line, "")
		}
	}
	if err := scanner.Err(); err != nil {
		b.log.Warn("stdin closed", "err", err)
	}
}

func (b *Bridge) handleCommand(command, rest string) {
	switch command {
	case "/status":
		tid := b.svc.ActiveThread()
		st := b.svc.Status(tid)
		b.log.Info("thread status",
			"thread_id", tid,
			"identities", b.svc.ThreadIdentities(tid),
			"processing", st.IsProcessing,
			"reviewing", st.IsReviewing,
			"turn_id", st.ActiveTurnID,
			"last_duration_ms", st.LastDurationMs,
		)
	case "/resume":
		tid := strings.TrimSpace(rest)
		if tid == "" {
			tid = b.svc.ActiveThread()
		}
		b.svc.SetActiveThread(tid)
		b.svc.ResumeThread(tid)
	default:
		b.log.Warn("command not supported here", "command", command)
	}
}

// callbacks translates service events into structured log output and answers the
// blocking RPCs so the engine is never left hanging.
func (b *Bridge) callbacks() turns.Callbacks {
	return turns.Callbacks{
		OnConnected: func() {
			b.log.Info("gateway connected")
		},
		OnThreadStarted: func(threadID string) {
			b.log.Info("thread started", "thread_id", threadID)
		},
		OnThreadSessionUpdated: func(oldID, newID string) {
			b.log.Info("thread session updated", "old_thread_id", oldID, "thread_id", newID)
		},
		OnApprovalRequested: func(req turns.ApprovalRequest) {
			// Unattended mode: decline rather than stall the turn.
			b.log.Warn("approval requested, declining",
				"thread_id", req.ThreadID,
				"kind", req.Kind,
				"command", req.Command,
				"path", req.Path,
			)
			if err := b.tc.Respond(req.RequestID, map[string]any{"decision": "denied"}); err != nil {
				b.log.Warn("approval response failed", "err", err)
			}
		},
		OnUserInputRequested: func(req turns.UserInputRequest) {
			b.log.Warn("user input requested, cancelling", "thread_id", req.ThreadID, "prompt", req.Prompt)
			if err := b.tc.Respond(req.RequestID, map[string]any{"cancelled": true}); err != nil {
				b.log.Warn("user input response failed", "err", err)
			}
		},
		OnAgentMessageDelta: func(threadID, itemID, delta string) {
			fmt.Print(delta)
		},
		OnAgentMessageCompleted: func(threadID, itemID, text string) {
			fmt.Println()
			b.log.Debug("agent message completed", "thread_id", threadID, "item_id", itemID, "chars", len(text))
		},
		OnReasoningDelta: func(threadID, itemID, delta string) {
			b.log.Debug("reasoning", "thread_id", threadID, "chars", len(delta))
		},
		OnToolOutputDelta: func(threadID, itemID, chunk string) {
			b.log.Debug("tool output", "thread_id", threadID, "item_id", itemID, "chars", len(chunk))
		},
		OnFileChangeOutputDelta: func(threadID, itemID, chunk string) {
			b.log.Debug("file change output", "thread_id", threadID, "item_id", itemID, "chars", len(chunk))
		},
		OnTurnStarted: func(threadID, turnID string) {
			b.log.Info("turn started", "thread_id", threadID, "turn_id", turnID)
		},
		OnTurnCompleted: func(threadID, turnID string) {
			st := b.svc.Status(threadID)
			b.log.Info("turn completed", "thread_id", threadID, "turn_id", turnID, "duration_ms", st.LastDurationMs)
		},
		OnTurnError: func(threadID, turnID, message string) {
			b.log.Error("turn failed", "thread_id", threadID, "turn_id", turnID, "message", message)
		},
		OnPlanUpdated: func(threadID string, entries []turns.PlanEntry) {
			b.log.Info("plan updated", "thread_id", threadID, "steps", len(entries))
		},
		OnTokenUsageUpdated: func(threadID string, usage turns.TokenUsage) {
			b.log.Debug("token usage",
				"thread_id", threadID,
				"input", usage.Input,
				"cached_input", usage.CachedInput,
				"output", usage.Output,
				"total", usage.Total,
			)
		},
		OnHeartbeat: func(threadID string) {
			snap := b.sampler.Sample(context.Background())
			b.log.Debug("heartbeat",
				"thread_id", threadID,
				"cpu_usage", snap.CPUUsage,
				"process_rss_bytes", snap.ProcessRSSBytes,
				"goroutines", snap.Goroutines,
			)
		},
		OnContextCompacted: func(threadID, turnID string) {
			b.log.Info("context compacted", "thread_id", threadID, "turn_id", turnID)
		},
	}
}

// deferredClient resolves the transport lazily so the service and the transport can
// reference each other without an init cycle.
type deferredClient struct {
	b *Bridge
}

func (d deferredClient) SendMessage(ctx context.Context, workspaceID, threadID, text string, images []string, opts turns.SendOptions) (turns.SendResult, error) {
	return d.b.tc.SendMessage(ctx, workspaceID, threadID, text, images, opts)
}

func (d deferredClient) Interrupt(ctx context.Context, workspaceID, threadID, turnID string) error {
	return d.b.tc.Interrupt(ctx, workspaceID, threadID, turnID)
}

func (d deferredClient) StartThread(ctx context.Context, workspaceID string, opts turns.StartThreadOptions) (string, error) {
	return d.b.tc.StartThread(ctx, workspaceID, opts)
}

func (d deferredClient) ResumeThread(ctx context.Context, workspaceID, threadID string) (turns.ThreadSnapshot, error) {
	return d.b.tc.ResumeThread(ctx, workspaceID, threadID)
}

// --- logger ---

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		// Default by destination: human format on a terminal, json otherwise.
		if term.IsTerminal(int(os.Stderr.Fd())) {
			h = slog.NewTextHandler(os.Stderr, opts)
		} else {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}

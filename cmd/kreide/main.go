// Command kreide runs one conversation against a Chat Completions backend
// and executes the model's Python tool calls in a remote sandbox session.
// The first PNG result artifact is written to disk.
//
// Usage:
//
//	kreide [flags] [prompt]
//
// Configuration is layered: kreide.yaml (or KREIDE_CONFIG), then
// environment variables (OPENAI_BASE_URL, OPENAI_API_KEY, MODEL, and the
// KREIDE_* family).
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/kreide-dev/kreide/pkg/auth"
	"github.com/kreide-dev/kreide/pkg/chat"
	"github.com/kreide-dev/kreide/pkg/config"
	"github.com/kreide-dev/kreide/pkg/debug"
	"github.com/kreide-dev/kreide/pkg/driver"
	"github.com/kreide-dev/kreide/pkg/sandbox"
	"github.com/kreide-dev/kreide/pkg/sandbox/kubernetes"
	"github.com/kreide-dev/kreide/pkg/store"
	"github.com/kreide-dev/kreide/pkg/store/memory"
	"github.com/kreide-dev/kreide/pkg/store/postgres"
)

const defaultPrompt = "Plot a chart of sin(x) for x from 0 to 10."

func main() {
	if err := run(); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	imagePath := flag.String("image", "", "optional PNG image to attach to the prompt")
	flag.Parse()

	debug.Init("", "")

	prompt := defaultPrompt
	if flag.NArg() > 0 {
		prompt = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var imageB64 string
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			return fmt.Errorf("reading image %s: %w", *imagePath, err)
		}
		imageB64 = base64.StdEncoding.EncodeToString(data)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Chat backend.
	chatClient := chat.NewClient(cfg.Chat.BaseURL, cfg.Chat.APIKey, cfg.Chat.Timeout)
	defer chatClient.Close()

	// Sandbox acquisition.
	acquirer, err := buildAcquirer(cfg)
	if err != nil {
		return fmt.Errorf("setting up sandbox acquirer: %w", err)
	}

	var opts sandbox.Options
	if cfg.Sandbox.Secret != "" {
		token, err := auth.Mint([]byte(cfg.Sandbox.Secret), "kreide", time.Hour)
		if err != nil {
			return fmt.Errorf("minting sandbox token: %w", err)
		}
		opts.Token = token
	}

	session, err := sandbox.Open(ctx, acquirer, opts)
	if err != nil {
		return fmt.Errorf("opening sandbox session: %w", err)
	}
	defer session.Close(context.Background())

	// Run archive.
	runStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setting up run store: %w", err)
	}
	defer runStore.Close()

	// Run the conversation.
	d := driver.New(chatClient, &sessionExecutor{session: session}, cfg.Chat.Model)
	outcome := d.Chat(ctx, prompt, imageB64)

	// Persist the first image artifact, if any.
	imageFile := ""
	if png, ok := outcome.FirstPNG(); ok {
		imageFile = filepath.Join(cfg.Output.Dir, cfg.Output.ImageFile)
		if err := writeImage(imageFile, png); err != nil {
			return fmt.Errorf("writing image: %w", err)
		}
		slog.Info("Image written", "path", imageFile)
	} else {
		slog.Info("No image artifact in results, nothing written")
	}

	archiveRun(runStore, cfg.Chat.Model, prompt, outcome, imageFile)
	return nil
}

// sessionExecutor adapts a sandbox session to the driver's Executor,
// echoing the streamed output lines.
type sessionExecutor struct {
	session *sandbox.Session
}

func (e *sessionExecutor) Execute(ctx context.Context, code string) ([]sandbox.Artifact, error) {
	return e.session.Execute(ctx, code, sandbox.ExecOptions{
		OnStdout: func(line string) { fmt.Println(line) },
		OnStderr: func(line string) { fmt.Fprintln(os.Stderr, line) },
	})
}

// buildAcquirer selects the sandbox acquisition strategy from config.
func buildAcquirer(cfg *config.Config) (sandbox.Acquirer, error) {
	switch cfg.Sandbox.Mode {
	case "kubernetes":
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		c, err := ctrlclient.New(restCfg, ctrlclient.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return kubernetes.NewClaimAcquirer(
			c,
			cfg.Sandbox.Kubernetes.Template,
			cfg.Sandbox.Kubernetes.Namespace,
			cfg.Sandbox.Kubernetes.ReadyTimeout,
		), nil
	default:
		return &sandbox.StaticAcquirer{URL: cfg.Sandbox.URL}, nil
	}
}

// buildStore selects the run archive backend from config.
func buildStore(ctx context.Context, cfg *config.Config) (store.RunStore, error) {
	if cfg.Storage.Type == "postgres" {
		return postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
	}
	return memory.New(), nil
}

// writeImage decodes a base64 PNG payload and writes it to path.
func writeImage(path, pngB64 string) error {
	data, err := base64.StdEncoding.DecodeString(pngB64)
	if err != nil {
		return fmt.Errorf("decoding png payload: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// archiveRun records the run in the configured store. Archive failures
// are logged, not fatal.
func archiveRun(runStore store.RunStore, model, prompt string, outcome *driver.Outcome, imageFile string) {
	cells := make([]store.Cell, 0, len(outcome.Cells))
	for _, cell := range outcome.Cells {
		rec := store.Cell{
			Code:      cell.Code,
			Status:    "success",
			Artifacts: len(cell.Artifacts),
		}
		if cell.Err != nil {
			rec.Status = "error"
			rec.Error = cell.Err.Error()
		}
		cells = append(cells, rec)
	}
	if len(cells) == 0 {
		cells = nil
	}

	run := &store.Run{
		ID:        newRunID(),
		Prompt:    prompt,
		Model:     model,
		Reply:     outcome.Reply,
		Cells:     cells,
		ImageFile: imageFile,
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runStore.SaveRun(ctx, run); err != nil {
		slog.Warn("Archiving run failed", "id", run.ID, "error", err)
		return
	}
	slog.Info("Run archived", "id", run.ID, "cells", len(cells))
}

func newRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return "run-" + hex.EncodeToString(b)
}

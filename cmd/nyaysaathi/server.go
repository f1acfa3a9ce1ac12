package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/nyaysaathi/internal/api"
	"github.com/kalambet/nyaysaathi/internal/composer"
	"github.com/kalambet/nyaysaathi/internal/config"
	"github.com/kalambet/nyaysaathi/internal/counsel"
	"github.com/kalambet/nyaysaathi/internal/drafting"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/resilience"
	"github.com/kalambet/nyaysaathi/internal/retrieval"
	"github.com/kalambet/nyaysaathi/internal/session"
	"github.com/kalambet/nyaysaathi/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nyaysaathi server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nyaysaathi server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, engine and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nyaysaathi.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// chatModel returns the model name passed to the selected backend.
func chatModel(cfg config.Config) string {
	if cfg.LLM.Backend == engine.BackendHosted {
		return cfg.Hosted.Model
	}
	return cfg.Ollama.ChatModel
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "nyaysaathi version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nyaysaathi is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("nyaysaathi is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The chat engine may be hosted; embeddings always come from the local engine.
	chat, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.LLM.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		HostedBaseURL: cfg.Hosted.BaseURL,
		HostedAPIKey:  cfg.Hosted.APIKey,
		HostedModel:   cfg.Hosted.Model,
	})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	local, ok := chat.(*engine.OllamaEngine)
	if !ok {
		local = engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	}

	switch cfg.LLM.Backend {
	case engine.BackendNone:
		printWarning("no chat backend configured: templates work, explain/ask/draft will answer 503")
	case engine.BackendHosted:
		if cfg.Hosted.APIKey == "" {
			printWarning("hosted backend selected but no API key set (nyaysaathi config set hosted.api_key ...)")
		}
		if err := engine.EnsureReady(ctx, local, os.Stderr, cfg.Ollama.EmbedModel); err != nil {
			slog.Warn("local engine unavailable, retrieval falls back to keyword search", "error", err)
		}
	default:
		if err := engine.EnsureReady(ctx, local, os.Stderr, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel); err != nil {
			if errors.Is(err, engine.ErrNotRunning) {
				return fmt.Errorf("%w at %s (start Ollama or set llm.backend)", err, cfg.Ollama.BaseURL)
			}
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	retriever := retrieval.NewRetriever(
		retrieval.NewEmbedder(local, cfg.Ollama.EmbedModel),
		retrieval.NewSQLiteStore(store.DB()),
	)
	retrieve, err := session.ResolveRetriever(retriever)
	if err != nil {
		return fmt.Errorf("wiring retrieval: %w", err)
	}

	catalog, err := drafting.LoadCatalog()
	if err != nil {
		return fmt.Errorf("loading template catalogue: %w", err)
	}

	retry := resilience.RetryOptions{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.BackoffDuration(),
		Retryable:   engine.IsTransient,
	}
	model := chatModel(cfg)
	comp := composer.New(0, cfg.Counsel.MaxDocumentChars)
	sessions := session.NewManager()
	counselSvc := counsel.New(chat, retrieve, store, comp, counsel.Config{
		Model:       model,
		TopK:        cfg.Retrieval.TopK,
		Temperature: cfg.Counsel.Temperature,
		Retry:       retry,
	})
	generator := drafting.NewGenerator(chat, model, comp, retry)

	appHandler := api.NewAppHandler(api.AppDeps{
		Token:     apiToken,
		Sessions:  sessions,
		Counsel:   counselSvc,
		Catalog:   catalog,
		Generator: generator,
		Store:     store,
		Engine:    chat,
		Backend:   cfg.LLM.Backend,
		ChatModel: model,
		Passages:  retriever,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Sessions:  sessions,
		Counsel:   counselSvc,
		Catalog:   catalog,
		Generator: generator,
		Store:     store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "nyaysaathi listening on %s (backend %s, model %s)\n", addr, cfg.LLM.Backend, model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("nyaysaathi is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nyaysaathi (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nyaysaathi (PID %d)", pid)
	return nil
}

// statusResult collects what the concurrent probes found.
type statusResult struct {
	serverUp   bool
	serverCode int
	report     *api.StatusReport
	ollamaUp   bool
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	token, tokenErr := config.GetAPIToken(config.NewKeychain())

	res := probeStatus(ctx, client, serverURL, cfg.Ollama.BaseURL, token, tokenErr == nil)

	switch {
	case res.serverUp:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	case res.serverCode != 0:
		printStatus("Server", "error (HTTP %d)", res.serverCode)
	default:
		printStatus("Server", "stopped")
	}
	if res.ollamaUp {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Backend", "%s", cfg.LLM.Backend)
	printStatus("Chat model", "%s", chatModel(cfg))
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if rep := res.report; rep != nil {
		ready := "not ready"
		if rep.ModelReady {
			ready = "ready"
		}
		printStatus("Model", "%s", ready)
		if rep.PassagesError != "" {
			printStatus("Passages", "unavailable (%s)", rep.PassagesError)
		} else {
			printStatus("Passages", "%d", rep.Passages)
		}
		printStatus("Sessions", "%d", rep.Sessions)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// probeStatus checks the server health, its /status report and the local
// Ollama concurrently. Probe failures are results, not errors.
func probeStatus(ctx context.Context, client *http.Client, serverURL, ollamaURL, token string, haveToken bool) statusResult {
	var res statusResult
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		resp, err := apiGet(ctx, client, serverURL+"/health", "")
		if err != nil {
			return nil
		}
		resp.Body.Close()
		res.serverCode = resp.StatusCode
		res.serverUp = resp.StatusCode == http.StatusOK
		return nil
	})

	if haveToken {
		g.Go(func() error {
			resp, err := apiGet(ctx, client, serverURL+"/status", token)
			if err != nil {
				return nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil
			}
			var rep api.StatusReport
			if json.NewDecoder(resp.Body).Decode(&rep) == nil {
				res.report = &rep
			}
			return nil
		})
	}

	g.Go(func() error {
		resp, err := apiGet(ctx, client, strings.TrimRight(ollamaURL, "/")+"/api/version", "")
		if err != nil {
			return nil
		}
		resp.Body.Close()
		res.ollamaUp = resp.StatusCode == http.StatusOK
		return nil
	})

	g.Wait()
	return res
}

func apiGet(ctx context.Context, client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/atelislab/atelis/internal/api"
	"github.com/atelislab/atelis/internal/config"
	"github.com/atelislab/atelis/internal/history"
	"github.com/atelislab/atelis/internal/media"
	"github.com/atelislab/atelis/internal/provider"
	"github.com/atelislab/atelis/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the atelis server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running atelis server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show atelis system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "atelis.pid")
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

// newProvider picks the configured AI backend. The rest of the process only
// ever sees the Client interface.
func newProvider(cfg config.Config) (provider.Client, error) {
	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	switch cfg.Provider.Backend {
	case "ollama":
		return provider.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model, timeout), nil
	case "gemini":
		return provider.NewGemini(cfg.Gemini.BaseURL, cfg.Gemini.Model, cfg.Gemini.APIKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Provider.Backend)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "atelis version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("atelis is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("atelis is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newProvider(cfg)
	if err != nil {
		return err
	}
	slog.Info("provider configured", "backend", client.Name())

	if o, ok := client.(*provider.Ollama); ok {
		if !o.Ping(ctx) {
			printWarning("Ollama not reachable at %s — analyses will fail until it is up", cfg.Ollama.BaseURL)
		}
	}

	store := history.NewStore(cfg.Storage.DataDir)
	sessions := session.New(session.Deps{
		Store:             store,
		Provider:          client,
		Codec:             media.NewCodec(cfg.Limits.CacheSize),
		MaxImages:         cfg.Limits.MaxImages,
		MaxImageDimension: cfg.Limits.MaxImageDimension,
	})

	handler := api.NewHandler(api.Deps{
		Sessions: sessions,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio, alongside the HTTP API.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Sessions: sessions})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "atelis listening on %s\n", addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
		printError("atelis is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop atelis (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to atelis (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Backend", "%s", cfg.Provider.Backend)
	switch cfg.Provider.Backend {
	case "ollama":
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o := provider.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model, 2*time.Second)
		if o.Ping(ctx) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
		printStatus("Model", "%s", cfg.Ollama.Model)
	case "gemini":
		printStatus("Model", "%s", cfg.Gemini.Model)
	}

	store := history.NewStore(cfg.Storage.DataDir)
	if students, err := store.ListStudents(); err == nil {
		printStatus("Students", "%d", len(students))
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

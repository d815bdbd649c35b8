package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/mcp"
	"github.com/jcdickinson/implindex/internal/shard"
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "implindex",
	Short: "Implementors panel index for rustdoc pages, served over MCP",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "run daemon in-process (visible log output)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(mcpCmd)
}

// connectDaemon returns a daemon client. In debug mode the daemon runs
// in-process so its log output lands in the terminal.
func connectDaemon() (*daemon.Client, error) {
	socketPath := config.SocketPath()
	if !debug {
		return daemon.ConnectOrSpawn(socketPath)
	}
	return startInProcess(socketPath)
}

// startInProcess replaces any running daemon with one served from this
// process.
func startInProcess(socketPath string) (*daemon.Client, error) {
	client := daemon.NewClient(socketPath)
	if client.IsAvailable() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = client.Shutdown(ctx)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	source, err := shard.NewSource(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening shard source: %w", err)
	}

	srv := daemon.NewServer(cfg, source, socketPath)
	go func() {
		if err := srv.Start(context.Background()); err != nil {
			log.Printf("in-process daemon error: %v", err)
		}
	}()

	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		time.Sleep(50 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}
	return nil, fmt.Errorf("in-process daemon did not start within 5 seconds")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	server, err := mcp.NewServer(config.SocketPath(), cfg.Index.DocsBaseURL)
	if err != nil {
		log.Fatalf("failed to create MCP server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case <-ctx.Done():
		log.Printf("shutting down MCP server")
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}

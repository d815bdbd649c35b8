package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <page> [crate]",
	Short: "Re-render a page's implementors panel whenever it changes",
	Example: `  implindex watch implementors/core/fmt/trait.Debug --format term`,
	Args:    cobra.RangeArgs(1, 2),
	Run:     runWatch,
}

var watchFormat string

func init() {
	watchCmd.Flags().StringVar(&watchFormat, "format", "markdown", "output format: markdown, html, term or json")
}

func runWatch(cmd *cobra.Command, args []string) {
	page := args[0]
	var name string
	if len(args) > 1 {
		name = args[1]
	}

	var baseURL string
	if cfg, err := config.Load(); err == nil {
		baseURL = cfg.Index.DocsBaseURL
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = client.Watch(ctx, page, name, daemonFormat(watchFormat), func(msg rpc.WatchMessage) bool {
		if msg.Error != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", msg.Page, msg.Error)
			return true
		}
		out, err := presentPanel(page, msg.Rendered, msg, watchFormat, baseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rendering panel: %v\n", err)
			return false
		}
		if watchFormat == "term" && isatty.IsTerminal(os.Stdout.Fd()) {
			fmt.Print("\033[H\033[2J")
		}
		fmt.Print(out)
		return true
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("watch failed: %v", err)
	}
}

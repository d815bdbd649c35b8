package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <path> [path...]",
	Short: "Load shards from the configured docs source",
	Long: `Fetch shards from the configured source (a local doc directory, an HTTP
docs site or an S3 bucket), register them with their pages and initialize
the pages they touched.`,
	Example: `  implindex fetch implementors/core/fmt/trait.Debug.js
  implindex fetch --refresh trait.impl/core/marker/trait.Send.js trait.impl/core/marker/trait.Sync.js`,
	Args: cobra.MinimumNArgs(1),
	Run:  runFetch,
}

var (
	fetchNoInit  bool
	fetchRefresh bool
)

func init() {
	fetchCmd.Flags().BoolVar(&fetchNoInit, "no-init", false, "register shards without initializing their pages")
	fetchCmd.Flags().BoolVar(&fetchRefresh, "refresh", false, "bypass the local shard cache")
}

func runFetch(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	results, err := client.Load(context.Background(), rpc.LoadRequest{
		Paths:      args,
		Initialize: !fetchNoInit,
		Refresh:    fetchRefresh,
	}, func(msg string) {
		fmt.Printf("  %s\n", msg)
	}, nil)
	if err != nil {
		log.Fatalf("fetch failed: %v", err)
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
			fmt.Printf("  %s: error: %s\n", r.Path, r.Error)
		case r.Cached:
			fmt.Printf("  %s -> %s (%d bytes, cached)\n", r.Path, r.Page, r.Bytes)
		default:
			fmt.Printf("  %s -> %s (%d bytes)\n", r.Path, r.Page, r.Bytes)
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d shards failed", failed, len(results))
	}
}

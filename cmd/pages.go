package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/jcdickinson/implindex/internal/shard"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <page> [file|-]",
	Short: "Register a shard with a page",
	Long: `Register one implementor shard with a page. The shard is read from the
given file, or from stdin when the file is "-" or omitted. Both plain JSON and
rustdoc's script wrappers are accepted.`,
	Example: `  implindex register implementors/core/fmt/trait.Debug shard.json
  curl -s https://docs.example/implementors/core/fmt/trait.Debug.js | implindex register implementors/core/fmt/trait.Debug`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) {
	var (
		body []byte
		err  error
	)
	if len(args) < 2 || args[1] == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(args[1])
	}
	if err != nil {
		log.Fatalf("failed to read shard: %v", err)
	}

	payload, err := shard.Extract(body)
	if err != nil {
		log.Fatalf("invalid shard: %v", err)
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	st, err := client.Register(context.Background(), args[0], payload)
	if err != nil {
		log.Fatalf("register failed: %v", err)
	}
	printPageStatus(*st)
}

var initCmd = &cobra.Command{
	Use:   "init <page> [page...]",
	Short: "Initialize pages, applying every pending shard",
	Args:  cobra.MinimumNArgs(1),
	Run:   runInit,
}

func runInit(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	for _, page := range args {
		st, err := client.Initialize(context.Background(), page)
		if err != nil {
			fmt.Printf("  %s: error: %v\n", page, err)
			continue
		}
		printPageStatus(*st)
	}
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <page> <crate>",
	Short: "Print the raw implementor records a crate contributed to a page",
	Example: `  implindex lookup implementors/core/fmt/trait.Debug serde_json
  implindex lookup --json trait.impl/core/marker/trait.Send alloc`,
	Args: cobra.ExactArgs(2),
	Run:  runLookup,
}

var lookupJSON bool

func init() {
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "output as JSON")
}

func runLookup(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Lookup(context.Background(), rpc.LookupRequest{Page: args[0], Name: args[1]})
	if err != nil {
		log.Fatalf("lookup failed: %v", err)
	}

	if lookupJSON {
		out, _ := json.MarshalIndent(resp.Records, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(resp.Records) == 0 {
		fmt.Println("no records")
		return
	}
	for _, r := range resp.Records {
		marker := " "
		if r.Synthetic {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, r.Content)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pages the daemon holds",
	Run:   runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Status(context.Background())
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}

	if statusJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(resp.Pages) == 0 {
		fmt.Println("no pages registered")
		return
	}
	for _, p := range resp.Pages {
		printPageStatus(p)
	}
}

func printPageStatus(p rpc.PageStatus) {
	fmt.Printf("  %s [%s] %d crates, %d records", p.Page, p.Lifecycle, p.Units, p.Records)
	if p.Pending > 0 {
		fmt.Printf(", %d pending", p.Pending)
	}
	fmt.Println()
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// The daemon may drop the connection before the response lands.
	_ = client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/charmbracelet/glamour"
	"github.com/jcdickinson/implindex/internal/config"
	md "github.com/jcdickinson/implindex/internal/markdown"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/jcdickinson/implindex/internal/shard"
	"github.com/spf13/cobra"
)

var expandCmd = &cobra.Command{
	Use:   "expand <page> [crate]",
	Short: "Render the implementors panel of a page",
	Long: `Render the implementors panel of a page. Without a crate, every crate
except the page's own is included. Formats: markdown, html, term, json.`,
	Example: `  implindex expand implementors/core/fmt/trait.Debug
  implindex expand implementors/core/fmt/trait.Debug serde_json --format term
  implindex expand trait.impl/core/marker/trait.Send --format html`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runExpand,
}

var (
	expandFormat  string
	expandBaseURL string
)

func init() {
	expandCmd.Flags().StringVar(&expandFormat, "format", "markdown", "output format: markdown, html, term or json")
	expandCmd.Flags().StringVar(&expandBaseURL, "base-url", "", "docs base URL for absolute links (default index.docs_base_url)")
}

func runExpand(cmd *cobra.Command, args []string) {
	page := args[0]
	var name string
	if len(args) > 1 {
		name = args[1]
	}

	baseURL := expandBaseURL
	if baseURL == "" {
		if cfg, err := config.Load(); err == nil {
			baseURL = cfg.Index.DocsBaseURL
		}
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Expand(context.Background(), rpc.ExpandRequest{
		Page:   page,
		Name:   name,
		Format: daemonFormat(expandFormat),
	})
	if err != nil {
		log.Fatalf("expand failed: %v", err)
	}

	out, err := presentPanel(page, resp.Rendered, resp, expandFormat, baseURL)
	if err != nil {
		log.Fatalf("rendering panel: %v", err)
	}
	fmt.Print(out)
}

// daemonFormat maps a CLI format onto the one the daemon renders.
func daemonFormat(format string) string {
	switch format {
	case "term", "json":
		return "markdown"
	default:
		return format
	}
}

// presentPanel turns a rendered panel into the requested CLI output.
// Markdown links are made absolute when baseURL is set.
func presentPanel(page, rendered string, resp any, format, baseURL string) (string, error) {
	if format == "json" {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	}
	if format == "html" {
		return rendered, nil
	}

	if baseURL != "" {
		rendered = md.AbsolutizeLinks(rendered, shard.PageURL(baseURL, page))
	}
	if format != "term" {
		return rendered, nil
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("creating terminal renderer: %w", err)
	}
	return r.Render(rendered)
}

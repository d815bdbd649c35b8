package cmd

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

//go:embed mcp_prelude.md
var mcpPrelude string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as MCP server (publishes CLI instructions only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := binaryName()
		instructions := fmt.Sprintf(mcpPrelude, name) + agentHelp(rootCmd, name)

		s := server.NewMCPServer("implindex", "0.1.0",
			server.WithInstructions(instructions),
		)
		return server.ServeStdio(s)
	},
}

// agentHelp lists the page commands with their usage lines.
func agentHelp(root *cobra.Command, name string) string {
	var b strings.Builder
	for _, c := range root.Commands() {
		if c.Hidden || !c.IsAvailableCommand() {
			continue
		}
		switch c.Name() {
		case "daemon", "mcp", "logs", "help", "completion":
			continue
		}
		use := strings.Replace(c.UseLine(), root.Name(), name, 1)
		fmt.Fprintf(&b, "- `%s`: %s\n", use, c.Short)
		if c.Example != "" {
			for _, line := range strings.Split(c.Example, "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				fmt.Fprintf(&b, "  - `%s`\n", strings.Replace(line, root.Name(), name, 1))
			}
		}
	}
	return b.String()
}

// binaryName returns "implindex" if it's in PATH and points to the current
// binary, otherwise returns the full path to the binary.
func binaryName() string {
	exe, err := os.Executable()
	if err != nil {
		return "implindex"
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "implindex"
	}

	onPath, err := exec.LookPath("implindex")
	if err == nil {
		resolved, err := filepath.EvalSymlinks(onPath)
		if err == nil && resolved == exe {
			return "implindex"
		}
	}

	return exe
}

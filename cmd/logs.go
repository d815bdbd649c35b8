package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/shard"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the daemon log",
	Example: `  implindex logs -f
  implindex logs --page implementors/core/fmt/trait.Debug`,
	Run: runLogs,
}

var (
	logsFollow bool
	logsLines  int
	logsPage   string
	logsPath   bool
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to read")
	logsCmd.Flags().StringVar(&logsPage, "page", "", "only show lines mentioning this page")
	logsCmd.Flags().BoolVar(&logsPath, "path", false, "print the log file location and exit")
}

func runLogs(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if logsPath {
		fmt.Println(logPath)
		return
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("no daemon log yet (start it with any page command)")
		return
	}

	tailArgs := []string{"-n", strconv.Itoa(logsLines)}
	if logsFollow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logPath)

	tail := exec.Command("tail", tailArgs...)
	tail.Stderr = os.Stderr
	if logsPage == "" {
		tail.Stdout = os.Stdout
		if err := tail.Run(); err != nil {
			log.Fatalf("tail failed: %v", err)
		}
		return
	}

	out, err := tail.StdoutPipe()
	if err != nil {
		log.Fatalf("tail failed: %v", err)
	}
	if err := tail.Start(); err != nil {
		log.Fatalf("tail failed: %v", err)
	}
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		if mentionsPage(sc.Text(), logsPage) {
			fmt.Println(sc.Text())
		}
	}
	if err := tail.Wait(); err != nil {
		log.Fatalf("tail failed: %v", err)
	}
}

// mentionsPage matches both slog page= attributes and plain daemon messages.
// A shard path selects the page it belongs to.
func mentionsPage(line, page string) bool {
	return strings.Contains(line, shard.PageKey(page))
}

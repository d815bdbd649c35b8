package cmd

import (
	"strings"
	"testing"

	"github.com/jcdickinson/implindex/internal/render"
	"github.com/jcdickinson/implindex/internal/rpc"
)

const panel = "# Implementors of trait.Debug\n\n## serde_json\n\n- impl [Debug](../../core/fmt/trait.Debug.html) for [Value](../../serde_json/enum.Value.html)\n"

func TestPresentPanel(t *testing.T) {
	page := "implementors/core/fmt/trait.Debug"
	msg := rpc.WatchMessage{Page: page, Rendered: panel}

	out, err := presentPanel(page, panel, msg, "markdown", "https://docs.example")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(https://docs.example/serde_json/enum.Value.html)") {
		t.Errorf("links not absolutized:\n%s", out)
	}

	out, err = presentPanel(page, panel, msg, "markdown", "")
	if err != nil || out != panel {
		t.Errorf("markdown without base = %q, %v", out, err)
	}

	out, err = presentPanel(page, "<h2>x</h2>", msg, "html", "https://docs.example")
	if err != nil || out != "<h2>x</h2>" {
		t.Errorf("html = %q, %v", out, err)
	}

	out, err = presentPanel(page, panel, msg, "json", "")
	if err != nil || !strings.Contains(out, `"page": "implementors/core/fmt/trait.Debug"`) {
		t.Errorf("json = %q, %v", out, err)
	}

	out, err = presentPanel(page, panel, msg, "term", "")
	if err != nil || !strings.Contains(out, "serde_json") {
		t.Errorf("term = %q, %v", out, err)
	}
}

func TestPresentPanel_TermKeepsGenerics(t *testing.T) {
	item := "- " + render.ToMarkdown(`impl&lt;T: <a href="x.html">Debug</a>&gt; Debug for Vec&lt;T&gt;`) + "\n"
	out, err := presentPanel("p", item, nil, "term", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"impl<T:", "Vec<T>"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in term output:\n%s", want, out)
		}
	}
}

func TestDaemonFormat(t *testing.T) {
	for in, want := range map[string]string{
		"markdown": "markdown",
		"html":     "html",
		"term":     "markdown",
		"json":     "markdown",
	} {
		if got := daemonFormat(in); got != want {
			t.Errorf("daemonFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAgentHelp(t *testing.T) {
	help := agentHelp(rootCmd, "ix")
	for _, want := range []string{
		"`ix expand <page> [crate] [flags]`",
		"`ix fetch implementors/core/fmt/trait.Debug.js`",
		"`ix lookup <page> <crate> [flags]`",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("missing %q in:\n%s", want, help)
		}
	}
	if strings.Contains(help, "`ix daemon") {
		t.Error("daemon command should be hidden from agents")
	}
}

func TestMentionsPage(t *testing.T) {
	line := `time=2026-01-02T03:04:05Z level=INFO msg="flushed pending shards" page=implementors/core/fmt/trait.Debug count=2`
	if !mentionsPage(line, "implementors/core/fmt/trait.Debug.js") {
		t.Error("shard path should match its page")
	}
	if mentionsPage(line, "implementors/core/marker/trait.Send") {
		t.Error("unrelated page matched")
	}
}

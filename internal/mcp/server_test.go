package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jcdickinson/implindex/internal/index"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
)

type fakeBackend struct {
	expand  *rpc.ExpandResponse
	lookup  *rpc.LookupResponse
	loadReq rpc.LoadRequest
	err     error
}

func (f *fakeBackend) Lookup(_ context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error) {
	return f.lookup, f.err
}

func (f *fakeBackend) Expand(_ context.Context, req rpc.ExpandRequest) (*rpc.ExpandResponse, error) {
	return f.expand, f.err
}

func (f *fakeBackend) Load(_ context.Context, req rpc.LoadRequest, _ func(string), _ func(rpc.ShardResult)) ([]rpc.ShardResult, error) {
	f.loadReq = req
	var out []rpc.ShardResult
	for _, p := range req.Paths {
		out = append(out, rpc.ShardResult{Path: p, Page: strings.TrimSuffix(p, ".js")})
	}
	return out, f.err
}

func (f *fakeBackend) Status(_ context.Context) (*rpc.StatusResponse, error) {
	return &rpc.StatusResponse{Pages: []rpc.PageStatus{{Page: "p", Lifecycle: "initialized"}}}, f.err
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestExpandTool(t *testing.T) {
	t.Parallel()
	fake := &fakeBackend{expand: &rpc.ExpandResponse{
		Entries:  []index.Entry{{ID: "impl-Value", Crate: "serde"}},
		Rendered: "# Implementors of trait.Debug\n\n## serde\n\n- impl [Debug](../../core/fmt/trait.Debug.html) for [Value](../../serde_json/enum.Value.html)\n",
	}}
	s := newServer(fake, "https://docs.example/")

	text, isErr := callTool(t, s.handleExpand, map[string]any{"page": "implementors/core/fmt/trait.Debug"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	for _, want := range []string{
		"page: implementors/core/fmt/trait.Debug\n",
		"entries: 1\n",
		"[Debug](https://docs.example/core/fmt/trait.Debug.html)",
		"[Value](https://docs.example/serde_json/enum.Value.html)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestExpandTool_Errors(t *testing.T) {
	t.Parallel()
	s := newServer(&fakeBackend{err: errors.New("not found: no records registered")}, "")

	if _, isErr := callTool(t, s.handleExpand, map[string]any{}); !isErr {
		t.Error("missing page should be a tool error")
	}
	text, isErr := callTool(t, s.handleExpand, map[string]any{"page": "p"})
	if !isErr || !strings.Contains(text, "no records registered") {
		t.Errorf("backend error = %q, %v", text, isErr)
	}
}

func TestLoadShardsTool(t *testing.T) {
	t.Parallel()
	fake := &fakeBackend{}
	s := newServer(fake, "")

	text, isErr := callTool(t, s.handleLoadShards, map[string]any{
		"paths": []any{"implementors/core/fmt/trait.Debug.js"},
	})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	if !fake.loadReq.Initialize {
		t.Error("initialize should default to true")
	}
	if !strings.Contains(text, `"page": "implementors/core/fmt/trait.Debug"`) {
		t.Errorf("unexpected result: %s", text)
	}

	callTool(t, s.handleLoadShards, map[string]any{"paths": []any{"a.js"}, "initialize": false, "refresh": true})
	if fake.loadReq.Initialize || !fake.loadReq.Refresh {
		t.Errorf("flags not forwarded: %+v", fake.loadReq)
	}

	if _, isErr := callTool(t, s.handleLoadShards, map[string]any{"paths": []any{}}); !isErr {
		t.Error("empty paths should be a tool error")
	}
}

func TestLookupTool(t *testing.T) {
	t.Parallel()
	fake := &fakeBackend{lookup: &rpc.LookupResponse{Records: []index.Record{{Content: "impl Send for Foo", Synthetic: true}}}}
	s := newServer(fake, "")

	text, isErr := callTool(t, s.handleLookup, map[string]any{"page": "p", "name": "serde"})
	if isErr || !strings.Contains(text, `"synthetic": true`) {
		t.Errorf("lookup = %q, %v", text, isErr)
	}
	if _, isErr := callTool(t, s.handleLookup, map[string]any{"page": "p"}); !isErr {
		t.Error("missing name should be a tool error")
	}
}

func TestReadResource(t *testing.T) {
	t.Parallel()
	fake := &fakeBackend{expand: &rpc.ExpandResponse{Rendered: "# Implementors of trait.Send\n"}}
	s := newServer(fake, "")

	var req mcp.ReadResourceRequest
	req.Params.URI = "implindex://pages/implementors/core/marker/trait.Send#alloc"
	contents, err := s.handleReadResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "crate: alloc\n") || !strings.Contains(text, "page: implementors/core/marker/trait.Send\n") {
		t.Errorf("resource text:\n%s", text)
	}

	req.Params.URI = "file:///elsewhere"
	if _, err := s.handleReadResource(context.Background(), req); err == nil {
		t.Error("expected error for foreign URI")
	}
}

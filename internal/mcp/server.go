package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jcdickinson/implindex/internal/daemon"
	md "github.com/jcdickinson/implindex/internal/markdown"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/jcdickinson/implindex/internal/shard"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

//go:embed instructions.md
var instructions string

const resourcePrefix = "implindex://pages/"

// backend is the part of the daemon client the tools use.
type backend interface {
	Lookup(ctx context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error)
	Expand(ctx context.Context, req rpc.ExpandRequest) (*rpc.ExpandResponse, error)
	Load(ctx context.Context, req rpc.LoadRequest, onProgress func(string), onResult func(rpc.ShardResult)) ([]rpc.ShardResult, error)
	Status(ctx context.Context) (*rpc.StatusResponse, error)
}

type Server struct {
	mcpServer *server.MCPServer
	client    backend
	// docsBaseURL, when set, turns panel links into absolute URLs.
	docsBaseURL string
}

func NewServer(socketPath, docsBaseURL string) (*Server, error) {
	client, err := daemon.ConnectOrSpawn(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return newServer(client, docsBaseURL), nil
}

func newServer(client backend, docsBaseURL string) *Server {
	s := &Server{client: client, docsBaseURL: docsBaseURL}

	mcpServer := server.NewMCPServer(
		"implindex",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("load_shards",
			mcp.WithDescription("Fetch implementor shards from the configured docs source and register them with their pages. Paths are relative to the docs root, e.g. \"implementors/core/fmt/trait.Debug.js\"."),
			mcp.WithArray("paths",
				mcp.Description("Shard paths to load"),
				mcp.Items(map[string]interface{}{"type": "string"}),
				mcp.Required(),
			),
			mcp.WithBoolean("initialize",
				mcp.Description("Initialize each loaded page afterwards (default true)"),
			),
			mcp.WithBoolean("refresh",
				mcp.Description("Bypass the local shard cache"),
			),
		),
		s.handleLoadShards,
	)

	mcpServer.AddTool(
		mcp.NewTool("expand_implementors",
			mcp.WithDescription("Render the implementors panel of a page as markdown. Omit `name` to include every crate except the page's own."),
			mcp.WithString("page",
				mcp.Description("Page key, e.g. \"implementors/core/fmt/trait.Debug\""),
				mcp.Required(),
			),
			mcp.WithString("name",
				mcp.Description("Optional crate name to expand on its own"),
			),
		),
		s.handleExpand,
	)

	mcpServer.AddTool(
		mcp.NewTool("lookup_implementors",
			mcp.WithDescription("Return the raw implementor records one crate contributed to a page."),
			mcp.WithString("page",
				mcp.Description("Page key"),
				mcp.Required(),
			),
			mcp.WithString("name",
				mcp.Description("Crate name"),
				mcp.Required(),
			),
		),
		s.handleLookup,
	)

	mcpServer.AddTool(
		mcp.NewTool("page_status",
			mcp.WithDescription("List the pages the daemon holds with their lifecycle and record counts."),
		),
		s.handleStatus,
	)
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resourcePrefix+"{+page}",
			"Implementors panel",
			mcp.WithTemplateDescription("The rendered implementors panel of a documentation page."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleLoadShards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pathsRaw, ok := args["paths"]
	if !ok {
		return mcp.NewToolResultError("missing required parameter: paths"), nil
	}
	pathsJSON, err := json.Marshal(pathsRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid paths parameter: %v", err)), nil
	}
	var loadReq rpc.LoadRequest
	if err := json.Unmarshal(pathsJSON, &loadReq.Paths); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid paths format: %v", err)), nil
	}
	if len(loadReq.Paths) == 0 {
		return mcp.NewToolResultError("paths must not be empty"), nil
	}

	loadReq.Initialize = true
	if initialize, ok := args["initialize"].(bool); ok {
		loadReq.Initialize = initialize
	}
	if refresh, ok := args["refresh"].(bool); ok {
		loadReq.Refresh = refresh
	}

	results, err := s.client.Load(ctx, loadReq, nil, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load shards: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleExpand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	page, _ := args["page"].(string)
	if page == "" {
		return mcp.NewToolResultError("missing required parameter: page"), nil
	}
	name, _ := args["name"].(string)

	text, err := s.panel(ctx, page, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("expand failed: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	page, _ := args["page"].(string)
	name, _ := args["name"].(string)
	if page == "" || name == "" {
		return mcp.NewToolResultError("missing required parameters: page and name"), nil
	}

	resp, err := s.client.Lookup(ctx, rpc.LookupRequest{Page: page, Name: name})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Records, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	resultJSON, _ := json.MarshalIndent(resp.Pages, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	page := strings.TrimPrefix(uri, resourcePrefix)
	if page == uri || page == "" {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	var name string
	if idx := strings.LastIndex(page, "#"); idx >= 0 {
		name = page[idx+1:]
		page = page[:idx]
	}

	text, err := s.panel(ctx, page, name)
	if err != nil {
		return nil, fmt.Errorf("expanding panel: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     text,
		},
	}, nil
}

// panel renders a page's markdown panel with front matter, resolving links
// against the published page when a docs base URL is configured.
func (s *Server) panel(ctx context.Context, page, name string) (string, error) {
	resp, err := s.client.Expand(ctx, rpc.ExpandRequest{Page: page, Name: name, Format: "markdown"})
	if err != nil {
		return "", err
	}

	text := resp.Rendered
	if s.docsBaseURL != "" {
		text = md.AbsolutizeLinks(text, shard.PageURL(s.docsBaseURL, page))
	}

	fields := map[string]any{
		"page":    shard.PageKey(page),
		"entries": len(resp.Entries),
	}
	if name != "" {
		fields["crate"] = name
	}
	return md.AddFrontMatter(text, fields), nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}

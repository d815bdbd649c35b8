package rpc

import (
	"encoding/json"

	"github.com/jcdickinson/implindex/internal/index"
)

// RegisterRequest is the request body for POST /register. Shard holds the
// JSON payload exactly as a shard script would hand it over.
type RegisterRequest struct {
	Page  string          `json:"page"`
	Shard json.RawMessage `json:"shard"`
}

// InitializeRequest is the request body for POST /initialize.
type InitializeRequest struct {
	Page string `json:"page"`
}

// LookupRequest is the request body for POST /lookup.
type LookupRequest struct {
	Page string `json:"page"`
	Name string `json:"name"`
}

// LookupResponse is the response body for POST /lookup.
type LookupResponse struct {
	Records []index.Record `json:"records"`
}

// ExpandRequest is the request body for POST /expand. An empty Name expands
// every unit on the page.
type ExpandRequest struct {
	Page   string `json:"page"`
	Name   string `json:"name,omitempty"`
	Format string `json:"format,omitempty"` // "markdown" or "html"
}

// ExpandResponse is the response body for POST /expand.
type ExpandResponse struct {
	Entries  []index.Entry `json:"entries"`
	Rendered string        `json:"rendered"`
}

// LoadRequest is the request body for POST /load.
type LoadRequest struct {
	Paths []string `json:"paths"`
	// Initialize initializes every touched page once its shards are in.
	Initialize bool `json:"initialize,omitempty"`
	Refresh    bool `json:"refresh,omitempty"`
}

type ShardResult struct {
	Path   string `json:"path"`
	Page   string `json:"page"`
	Bytes  int    `json:"bytes"`
	Cached bool   `json:"cached,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the load endpoint.
type ProgressLine struct {
	Type    string       `json:"type"` // "progress" or "result"
	Message string       `json:"message,omitempty"`
	Result  *ShardResult `json:"result,omitempty"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Pages []PageStatus `json:"pages"`
}

type PageStatus struct {
	Page      string `json:"page"`
	Lifecycle string `json:"lifecycle"`
	Pending   int    `json:"pending"`
	Units     int    `json:"units"`
	Records   int    `json:"records"`
}

// WatchMessage is pushed over GET /watch each time the watched page changes.
type WatchMessage struct {
	Page     string        `json:"page"`
	Units    []string      `json:"units,omitempty"`
	Entries  []index.Entry `json:"entries,omitempty"`
	Rendered string        `json:"rendered,omitempty"`
	Error    string        `json:"error,omitempty"`
}

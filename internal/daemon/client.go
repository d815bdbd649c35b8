package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jcdickinson/implindex/internal/rpc"
)

// ErrNotFound is returned when the daemon answers 404.
var ErrNotFound = errors.New("not found")

// ErrInvalid is returned when the daemon rejects a request with 400.
var ErrInvalid = errors.New("invalid request")

type Client struct {
	socketPath string
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

func NewClient(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return &Client{
		socketPath: socketPath,
		baseURL:    "http://unix",
		httpClient: &http.Client{
			Transport: &http.Transport{DialContext: dial},
			Timeout:   5 * time.Minute, // load can be slow
		},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// newHTTPClient talks to a daemon served over TCP, as httptest does.
func newHTTPClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

// ConnectOrSpawn tries to connect to the daemon, spawning it if necessary.
func ConnectOrSpawn(socketPath string) (*Client, error) {
	client := NewClient(socketPath)

	if client.IsAvailable() {
		return client, nil
	}

	if err := Spawn(); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, fmt.Errorf("daemon did not start within 5 seconds")
}

func (c *Client) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) Register(ctx context.Context, page string, shard []byte) (*rpc.PageStatus, error) {
	if !json.Valid(shard) {
		return nil, fmt.Errorf("shard is not valid JSON: %w", ErrInvalid)
	}
	var resp rpc.PageStatus
	err := c.post(ctx, "/register", rpc.RegisterRequest{Page: page, Shard: json.RawMessage(shard)}, &resp)
	return &resp, err
}

func (c *Client) Initialize(ctx context.Context, page string) (*rpc.PageStatus, error) {
	var resp rpc.PageStatus
	err := c.post(ctx, "/initialize", rpc.InitializeRequest{Page: page}, &resp)
	return &resp, err
}

func (c *Client) Lookup(ctx context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error) {
	var resp rpc.LookupResponse
	err := c.post(ctx, "/lookup", req, &resp)
	return &resp, err
}

func (c *Client) Expand(ctx context.Context, req rpc.ExpandRequest) (*rpc.ExpandResponse, error) {
	var resp rpc.ExpandResponse
	err := c.post(ctx, "/expand", req, &resp)
	return &resp, err
}

// Load streams progress for a shard load and returns every per-path result.
func (c *Client) Load(ctx context.Context, req rpc.LoadRequest, onProgress func(string), onResult func(rpc.ShardResult)) ([]rpc.ShardResult, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/load", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, body)
	}

	var results []rpc.ShardResult
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var line rpc.ProgressLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("decoding progress: %w", err)
		}
		switch line.Type {
		case "progress":
			if onProgress != nil {
				onProgress(line.Message)
			}
		case "result":
			if line.Result != nil {
				results = append(results, *line.Result)
				if onResult != nil {
					onResult(*line.Result)
				}
			}
		}
	}

	return results, nil
}

func (c *Client) Status(ctx context.Context) (*rpc.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer httpResp.Body.Close()

	var resp rpc.StatusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &resp, nil
}

// Watch calls fn with every panel update for a page until ctx is done, the
// daemon goes away, or fn returns false.
func (c *Client) Watch(ctx context.Context, page, name, format string, fn func(rpc.WatchMessage) bool) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parsing daemon URL: %w", err)
	}
	u.Scheme = "ws"
	u.Path = "/watch"
	u.RawQuery = url.Values{"page": {page}, "name": {name}, "format": {format}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return statusError(resp.StatusCode, body)
		}
		return fmt.Errorf("connecting to watch stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg rpc.WatchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading watch stream: %w", err)
		}
		if !fn(msg) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		}
	}
}

func (c *Client) ClearCache(ctx context.Context) error {
	var resp map[string]string
	return c.post(ctx, "/clear-cache", nil, &resp)
}

func (c *Client) Shutdown(ctx context.Context) error {
	var resp map[string]string
	return c.post(ctx, "/shutdown", nil, &resp)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// statusError turns a non-200 reply into an error, unwrapping the daemon's
// {"error": ...} body when there is one.
func statusError(status int, body []byte) error {
	msg := string(bytes.TrimSpace(body))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalid, msg)
	default:
		return fmt.Errorf("daemon returned %d: %s", status, msg)
	}
}

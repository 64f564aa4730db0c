// Package mcpclient talks the client side of the MCP JSON-RPC protocol
// to a single backend over plain HTTP: one JSON-RPC object per request
// body, one per response body (spec §5, §9 Non-goals exclude SSE and
// streamable-HTTP transports). It classifies every failure into the
// proxy's error taxonomy (spec §7) so the router can decide whether a
// retry is warranted without re-inspecting the underlying error.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saxyguy81/mcp-hub/pkg/jsonrpc"
	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
)

// maxResponseSize caps a single backend HTTP response body, guarding
// against a misbehaving or compromised backend exhausting memory during
// JSON deserialization. 100 MB mirrors the size the teacher's backend
// client enforces for the same reason.
const maxResponseSize = 100 * 1024 * 1024

// protocolVersion is the MCP protocol version this client negotiates.
const protocolVersion = "2025-06-18"

// clientInfo identifies the proxy to backends during initialize.
var clientInfo = map[string]string{"name": "mcp-hub-proxy", "version": "1.0.0"}

// Client is a single backend's HTTP JSON-RPC endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     idGenerator
}

// idGenerator hands out monotonically increasing request ids for the
// client's own protocol calls (initialize, list_*); it never needs to
// collide with the ids a forwarded client request carries, since those
// are rewritten by the router before reaching here.
type idGenerator struct{ n int64 }

func (g *idGenerator) next() int64 { g.n++; return g.n }

// New returns a Client bound to a backend's base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// InitializeResult is the subset of a backend's initialize response this
// proxy cares about.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      json.RawMessage `json:"serverInfo"`
}

// Initialize performs the MCP handshake against the backend.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"roots": map[string]any{"listChanged": false}},
		"clientInfo":      clientInfo,
	}
	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return nil, err
	}

	notif, err := jsonrpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build initialized notification: %v", mcphub.ErrProtocol, err)
	}
	_ = c.send(ctx, notif) // best-effort: backends must tolerate a dropped notification.

	return &result, nil
}

type toolsListResult struct {
	Tools []mcphub.Tool `json:"tools"`
}

// ListTools calls tools/list.
func (c *Client) ListTools(ctx context.Context) ([]mcphub.Tool, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

type resourcesListResult struct {
	Resources []mcphub.Resource `json:"resources"`
}

// ListResources calls resources/list.
func (c *Client) ListResources(ctx context.Context) ([]mcphub.Resource, error) {
	var result resourcesListResult
	if err := c.call(ctx, "resources/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

type promptsListResult struct {
	Prompts []mcphub.Prompt `json:"prompts"`
}

// ListPrompts calls prompts/list.
func (c *Client) ListPrompts(ctx context.Context) ([]mcphub.Prompt, error) {
	var result promptsListResult
	if err := c.call(ctx, "prompts/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// FetchCapabilities runs the full post-initialize refresh (tools,
// resources, prompts) that gates a backend's promotion to Healthy
// (spec §4.C).
func (c *Client) FetchCapabilities(ctx context.Context) (*mcphub.Capabilities, error) {
	init, err := c.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := c.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	prompts, err := c.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	return &mcphub.Capabilities{
		Raw:       init.Capabilities,
		Tools:     tools,
		Resources: resources,
		Prompts:   prompts,
	}, nil
}

// CheckHealth issues a cheap GET /health liveness check against the
// backend. It is the probe the health monitor runs on every tick once a
// backend is already Healthy, reserving the full initialize + list_*
// handshake FetchCapabilities performs for the first success after a
// non-Healthy state (spec §4.C).
func (c *Client) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(c.baseURL, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: build health check request: %v", mcphub.ErrTransport, err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", mcphub.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", mcphub.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: backend health check returned HTTP %d", mcphub.ErrTransport, resp.StatusCode)
	}
	return nil
}

// Forward sends a pre-built, already-id-rewritten JSON-RPC request to
// the backend and returns its raw response envelope unmodified, for the
// router to relay back to the original client. The caller is
// responsible for request-level deadlines via ctx.
func (c *Client) Forward(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error) {
	return c.roundTrip(ctx, req)
}

// call issues a request built from method/params and decodes its result
// into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	req, err := jsonrpc.NewRequest(c.nextID.next(), method, params)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", mcphub.ErrProtocol, method, err)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return mcphub.NewApplicationError(resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	if out == nil || resp.Result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", mcphub.ErrProtocol, method, err)
	}
	return nil
}

// send issues a notification: no response is expected or read.
func (c *Client) send(ctx context.Context, notif *jsonrpc.Message) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("%w: marshal notification: %v", mcphub.ErrProtocol, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build notification request: %v", mcphub.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", mcphub.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// roundTrip performs one HTTP POST carrying req and decodes the JSON-RPC
// envelope of the response, classifying every failure mode into the
// taxonomy the router dispatches on (spec §7): transport failures below
// the application layer, protocol violations in the response shape, and
// well-formed application errors returned by the backend.
func (c *Client) roundTrip(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", mcphub.ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", mcphub.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", mcphub.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", mcphub.ErrTransport, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", mcphub.ErrTransport, err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeded %d bytes", mcphub.ErrProtocol, maxResponseSize)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: backend returned HTTP %d", mcphub.ErrTransport, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: backend returned HTTP %d", mcphub.ErrProtocol, resp.StatusCode)
	}

	msg, err := jsonrpc.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mcphub.ErrProtocol, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", mcphub.ErrProtocol, err)
	}
	return msg, nil
}

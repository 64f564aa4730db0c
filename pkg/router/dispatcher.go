// Package router dispatches incoming JSON-RPC requests: aggregate
// methods (initialize, tools/list, resources/list, prompts/list) are
// answered directly from the capability index; targeted methods
// (tools/call, resources/read, prompts/get) are routed to the single
// backend that owns the named capability and forwarded, with the
// client's id rewritten to an internally-generated one for the
// duration of the round trip (spec §4.F).
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/saxyguy81/mcp-hub/pkg/capability"
	"github.com/saxyguy81/mcp-hub/pkg/jsonrpc"
	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
)

// BackendCaller forwards a single JSON-RPC request to one backend and
// returns its response envelope verbatim. mcpclient.Client satisfies
// this.
type BackendCaller interface {
	Forward(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error)
}

// CallerFactory builds a BackendCaller bound to a backend base URL.
type CallerFactory func(baseURL string) BackendCaller

// Metrics receives the counters the spec's testable properties name
// (§7). A nil field disables that counter.
type Metrics struct {
	DroppedNotifications func()
	Errors               func(kind string)
}

// Dispatcher answers every request the HTTP layer receives on the MCP
// endpoint.
type Dispatcher struct {
	registry       *mcphub.Registry
	index          *capability.Index
	newCaller      CallerFactory
	requestTimeout time.Duration
	metrics        Metrics
}

// New returns a Dispatcher. requestTimeout is the per-request deadline
// spec §5 imposes end to end; callers typically pass 30s.
func New(registry *mcphub.Registry, index *capability.Index, newCaller CallerFactory, requestTimeout time.Duration, metrics Metrics) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		index:          index,
		newCaller:      newCaller,
		requestTimeout: requestTimeout,
		metrics:        metrics,
	}
}

// Handle answers one JSON-RPC message. If the incoming message is a
// notification (no id), Handle returns (nil, nil): there is nothing to
// reply with, matching JSON-RPC 2.0 semantics.
func (d *Dispatcher) Handle(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	if req.IsNotification() {
		d.handleNotification(req)
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		return d.aggregateInitialize(req)
	case "tools/list":
		return jsonrpc.NewResult(req.ID, map[string]any{"tools": d.index.Table().Tools})
	case "resources/list":
		return jsonrpc.NewResult(req.ID, map[string]any{"resources": d.index.Table().Resources})
	case "prompts/list":
		return jsonrpc.NewResult(req.ID, map[string]any{"prompts": d.index.Table().Prompts})
	case "tools/call":
		return d.routeAndForward(ctx, req, exactOwner(d.index.Table().ToolOwner), paramString(req, "name"))
	case "resources/read":
		return d.routeAndForward(ctx, req, d.index.Table().ResolveResource, paramString(req, "uri"))
	case "prompts/get":
		return d.routeAndForward(ctx, req, exactOwner(d.index.Table().PromptOwner), paramString(req, "name"))
	default:
		d.countError("not_found")
		return jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

// handleNotification is for client-sent notifications the proxy itself
// has no backend to forward to (e.g. notifications/initialized sent to
// the aggregate connection). The spec has no fan-out semantics for
// these, so they are counted and dropped rather than guessed at.
func (d *Dispatcher) handleNotification(_ *jsonrpc.Message) {
	if d.metrics.DroppedNotifications != nil {
		d.metrics.DroppedNotifications()
	}
}

// aggregateInitialize answers the client-facing initialize call with the
// union of every currently-Healthy backend's capabilities (spec §4.F.1):
// the proxy never forwards a client's initialize upstream, since upstream
// initialize is reserved for the health monitor's capability refresh.
func (d *Dispatcher) aggregateInitialize(req *jsonrpc.Message) (*jsonrpc.Message, error) {
	table := d.index.Table()
	capabilities := map[string]any{}
	if len(table.Tools) > 0 {
		capabilities["tools"] = map[string]any{"listChanged": true}
	}
	if len(table.Resources) > 0 {
		capabilities["resources"] = map[string]any{"listChanged": true}
	}
	if len(table.Prompts) > 0 {
		capabilities["prompts"] = map[string]any{"listChanged": true}
	}
	return jsonrpc.NewResult(req.ID, map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    capabilities,
		"serverInfo":      map[string]any{"name": "mcp-hub-proxy", "version": "1.0.0"},
	})
}

// owners resolves a capability key to the backend that currently owns it.
type owners func(key string) (backendName string, ok bool)

// exactOwner adapts a plain name→backend map (tools, prompts) to the
// owners signature resources/read's longest-prefix resolver also
// satisfies, so routeAndForward can treat every targeted method
// identically.
func exactOwner(m map[string]string) owners {
	return func(key string) (string, bool) {
		backendName, ok := m[key]
		return backendName, ok
	}
}

// routeAndForward resolves key against owners, forwards the request to
// the owning backend with its id rewritten, retries once on a
// Transport-classified failure, and restores the client's original id
// on the way back.
func (d *Dispatcher) routeAndForward(ctx context.Context, req *jsonrpc.Message, resolve owners, key string) (*jsonrpc.Message, error) {
	if key == "" {
		d.countError("invalid_params")
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "missing required parameter", nil)
	}

	backendName, ok := resolve(key)
	if !ok {
		d.countError("not_found")
		return jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("%s: no backend owns %q", mcphub.ErrNotFound, key), nil)
	}

	snap, ok := d.registry.Get(backendName)
	if !ok || snap.State != mcphub.StateHealthy {
		d.countError("backend_unavailable")
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, fmt.Sprintf("backend %q is unavailable", backendName), nil)
	}

	internalID := uuid.NewString()
	forwarded := *req
	forwarded.ID = internalID

	caller := d.newCaller(snap.BaseURL)
	resp, err := backoff.Retry(ctx, func() (*jsonrpc.Message, error) {
		attemptCtx, cancel := attemptContext(ctx)
		defer cancel()
		resp, err := caller.Forward(attemptCtx, &forwarded)
		if err != nil {
			if errors.Is(err, mcphub.ErrTransport) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithMaxTries(2))

	if err != nil {
		return d.errorResponseFor(req.ID, err)
	}

	resp.ID = req.ID
	return resp, nil
}

// attemptContext derives a child context budgeted to the request's
// remaining deadline minus a 100ms routing margin, recomputed on every
// retry attempt since the remaining deadline shrinks between tries
// (spec §4.F's timeout policy).
func attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	budget := time.Until(deadline) - 100*time.Millisecond
	if budget <= 0 {
		budget = time.Millisecond
	}
	return context.WithTimeout(ctx, budget)
}

// errorResponseFor classifies err per spec §7 and builds the JSON-RPC
// error the client sees. Transport/Protocol/Deadline failures never
// leak the backend's internal error text to the taxonomy's generic
// "-32603, reason" shape; Application errors are forwarded unchanged.
func (d *Dispatcher) errorResponseFor(id any, err error) (*jsonrpc.Message, error) {
	var appErr *mcphub.ApplicationError
	if errors.As(err, &appErr) {
		return jsonrpc.NewError(id, appErr.Code, appErr.Message, appErr.Data)
	}

	switch {
	case errors.Is(err, mcphub.ErrTimeout):
		d.countError("deadline_exceeded")
		return jsonrpc.NewError(id, jsonrpc.CodeInternalError, "deadline exceeded", map[string]string{"reason": "deadline exceeded"})
	case errors.Is(err, mcphub.ErrTransport):
		d.countError("transport")
		return jsonrpc.NewError(id, jsonrpc.CodeInternalError, "backend unreachable", map[string]string{"reason": "transport"})
	case errors.Is(err, mcphub.ErrProtocol):
		d.countError("protocol")
		return jsonrpc.NewError(id, jsonrpc.CodeInternalError, "backend protocol violation", map[string]string{"reason": "protocol"})
	default:
		d.countError("internal")
		return jsonrpc.NewError(id, jsonrpc.CodeInternalError, err.Error(), nil)
	}
}

func (d *Dispatcher) countError(kind string) {
	if d.metrics.Errors != nil {
		d.metrics.Errors(kind)
	}
}

func paramString(req *jsonrpc.Message, key string) string {
	if req.Params == nil {
		return ""
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return ""
	}
	raw, ok := params[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

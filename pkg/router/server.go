package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saxyguy81/mcp-hub/pkg/jsonrpc"
	"github.com/saxyguy81/mcp-hub/pkg/logger"
	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
)

// Server exposes the proxy's HTTP surface (spec §6): the MCP endpoint
// itself plus the management endpoints a GUI or operator polls.
type Server struct {
	dispatcher *Dispatcher
	registry   *mcphub.Registry
	mux        *chi.Mux
}

// NewServer builds the HTTP mux. It does not start listening; serve its
// Handler from an http.Server, or from httptest in tests.
func NewServer(dispatcher *Dispatcher, registry *mcphub.Registry) *Server {
	s := &Server{dispatcher: dispatcher, registry: registry}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	// spec §9's Open Question on "/" vs "/mcp": this implementation picks
	// "/mcp" as the MCP endpoint and answers POST "/" with 404, rather than
	// answering on both.
	r.Post("/mcp", s.handleMCP)
	r.Post("/", http.NotFound)
	r.Get("/health", s.handleHealth)
	r.Get("/servers", s.handleServers)
	r.Get("/status", s.handleStatus)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	s.mux = r
	return s
}

// Handler returns the server's http.Handler, for use with httptest or a
// custom http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req jsonrpc.Message
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, mustErrorMessage(nil, jsonrpc.CodeParseError, "invalid JSON-RPC body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, mustErrorMessage(req.ID, jsonrpc.CodeInvalidRequest, err.Error()))
		return
	}

	resp, err := s.dispatcher.Handle(r.Context(), &req)
	if err != nil {
		logger.Errorw("dispatch failed", "method", req.Method, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, mustErrorMessage(req.ID, jsonrpc.CodeInternalError, err.Error()))
		return
	}
	if resp == nil {
		// Notification: nothing to reply with.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// serverItem is the /servers response shape (spec's Open Question,
// resolved per SPEC_FULL.md's Supplemented Features).
type serverItem struct {
	Name              string              `json:"name"`
	BaseURL           string              `json:"baseURL"`
	State             mcphub.BackendState `json:"state"`
	LastProbeAt       *time.Time          `json:"lastProbeAt,omitempty"`
	ConsecutiveErrors int                 `json:"consecutiveErrors"`
	CapabilitySummary capabilitySummary   `json:"capabilitySummary"`
	LastError         string              `json:"lastError,omitempty"`
}

type capabilitySummary struct {
	Tools     int `json:"tools"`
	Resources int `json:"resources"`
	Prompts   int `json:"prompts"`
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Snapshot()
	items := make([]serverItem, 0, len(snaps))
	for _, snap := range snaps {
		if snap.State == mcphub.StateRemoved {
			continue
		}
		item := serverItem{
			Name:              snap.Name,
			BaseURL:           snap.BaseURL,
			State:             snap.State,
			ConsecutiveErrors: snap.ConsecutiveErrors,
			LastError:         snap.LastError,
		}
		if !snap.LastProbeAt.IsZero() {
			t := snap.LastProbeAt
			item.LastProbeAt = &t
		}
		if snap.Capabilities != nil {
			item.CapabilitySummary = capabilitySummary{
				Tools:     len(snap.Capabilities.Tools),
				Resources: len(snap.Capabilities.Resources),
				Prompts:   len(snap.Capabilities.Prompts),
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": items})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Snapshot()
	healthy := make([]string, 0, len(snaps))
	total := 0
	for _, snap := range snaps {
		if snap.State == mcphub.StateRemoved {
			continue
		}
		total++
		if snap.State == mcphub.StateHealthy {
			healthy = append(healthy, snap.Name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"servers":         total,
		"healthy_servers": len(healthy),
		"server_list":     healthy,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, snap := range snaps {
		if snap.State == mcphub.StateRemoved {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\tconsecutiveErrors=%d\n", snap.Name, snap.BaseURL, snap.State, snap.ConsecutiveErrors)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func mustErrorMessage(id any, code int, message string) *jsonrpc.Message {
	msg, _ := jsonrpc.NewError(id, code, message, nil)
	return msg
}

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// stateDir is where the CLI keeps the PID file and the background log
// file, grounded on original_source/mcpctl/proxy_commands.py's
// ~/.mcpctl layout, adapted to prefer XDG_STATE_HOME when set.
func stateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".mcp-hub-proxy")
	} else {
		base = filepath.Join(base, "mcp-hub-proxy")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create state directory %s: %w", base, err)
	}
	return base, nil
}

func pidFilePath() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "proxy.pid"), nil
}

func logFilePath() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "proxy.log"), nil
}

// readPID returns the PID recorded in the PID file, and false if no
// PID file exists or it no longer refers to a live process. A stale
// file is removed as a side effect, matching get_proxy_pid's cleanup.
func readPID() (pid int, ok bool) {
	path, err := pidFilePath()
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		_ = os.Remove(path)
		return 0, false
	}
	if !processAlive(pid) {
		_ = os.Remove(path)
		return 0, false
	}
	return pid, true
}

func writePID(pid int) error {
	path, err := pidFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func removePIDFile() {
	if path, err := pidFilePath(); err == nil {
		_ = os.Remove(path)
	}
}

// processAlive checks liveness with signal 0, which delivers no signal
// but reports whether the process exists and is ours to signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// healthResponse mirrors router.Server's /health JSON shape.
type healthResponse struct {
	Status         string   `json:"status"`
	Servers        int      `json:"servers"`
	HealthyServers int      `json:"healthy_servers"`
	ServerList     []string `json:"server_list"`
}

// fetchHealth calls the running proxy's /health endpoint. A connection
// failure means nothing is listening on addr, which the caller treats
// as "not running" rather than an error worth printing a stack for.
func fetchHealth(addr string, timeout time.Duration) (*healthResponse, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode /health response: %w", err)
	}
	return &h, nil
}

type serverSummary struct {
	Name              string `json:"name"`
	BaseURL           string `json:"baseURL"`
	State             string `json:"state"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	LastError         string `json:"lastError,omitempty"`
	CapabilitySummary struct {
		Tools     int `json:"tools"`
		Resources int `json:"resources"`
		Prompts   int `json:"prompts"`
	} `json:"capabilitySummary"`
}

func fetchServers(addr string, timeout time.Duration) ([]serverSummary, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/servers", addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body struct {
		Servers []serverSummary `json:"servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode /servers response: %w", err)
	}
	return body.Servers, nil
}

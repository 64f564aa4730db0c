// Package app provides the entry point for the proxy command-line
// application: starting, stopping, and inspecting the MCP Hub
// aggregation proxy (spec §6's CLI surface), grounded on
// _teacher_ref/cmd_vmcp/app/commands.go's cobra/viper wiring and on
// original_source/mcpctl/proxy_commands.py's PID-file process model.
package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saxyguy81/mcp-hub/pkg/config"
	"github.com/saxyguy81/mcp-hub/pkg/controlplane"
	"github.com/saxyguy81/mcp-hub/pkg/logger"
	"github.com/saxyguy81/mcp-hub/pkg/metrics"
)

var rootCmd = &cobra.Command{
	Use:               "proxy",
	DisableAutoGenTag: true,
	Short:             "MCP Hub aggregation proxy",
	Long: `proxy aggregates multiple MCP (Model Context Protocol) servers described in a
Docker Compose file into a single JSON-RPC endpoint, health-checking each
backend and routing tool/resource/prompt calls to whichever backend owns
them.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd assembles the full proxy command tree.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Int("port", 0, "Port the running proxy listens on (default: PROXY_PORT or 3000)")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newServersCmd())
	rootCmd.AddCommand(newLogsCmd())

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd
}

// resolvedPort returns the --port flag if set, else PROXY_PORT, else
// the default 3000, matching spec §6's env var precedence.
func resolvedPort(cmd *cobra.Command) int {
	if p, err := cmd.Flags().GetInt("port"); err == nil && p != 0 {
		return p
	}
	v := viper.New()
	_ = v.BindEnv("port", "PROXY_PORT")
	v.SetDefault("port", config.Defaults().Port)
	return v.GetInt("port")
}

func loopbackAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the MCP Hub aggregation proxy",
		Long: `Start the MCP Hub aggregation proxy, discovering backends from the Docker
Compose file and probing them until at least one health sweep has run.`,
	}
	cmd.Flags().Int("port", config.Defaults().Port, "Port for the proxy's HTTP surface")
	cmd.Flags().String("config", config.Defaults().ComposeFile, "Path to the Docker Compose file to discover backends from")
	cmd.Flags().String("log-level", config.Defaults().LogLevel, "Logging level: DEBUG, INFO, WARN, ERROR")
	cmd.Flags().Bool("background", false, "Run the proxy detached from the terminal")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runStart(cmd)
	}
	return cmd
}

// buildStartConfig folds start's CLI flags into a Config via the
// environment-variable names spec §6 fixes, regardless of what the
// CLI happens to call its own flags.
func buildStartConfig(cmd *cobra.Command) *config.Config {
	port, _ := cmd.Flags().GetInt("port")
	composeFile, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")

	v := viper.New()
	v.SetDefault("port", port)
	v.SetDefault("compose-file", composeFile)
	v.SetDefault("log-level", logLevel)
	v.SetDefault("probe-interval-seconds", 30)
	v.SetDefault("fail-threshold", 3)
	v.SetDefault("request-timeout", 30*time.Second)
	v.SetDefault("health-check-timeout", 5*time.Second)
	v.SetDefault("shutdown-grace", 10*time.Second)
	_ = v.BindEnv("port", "PROXY_PORT")
	_ = v.BindEnv("compose-file", "MCP_COMPOSE_FILE")
	_ = v.BindEnv("log-level", "LOG_LEVEL")
	_ = v.BindEnv("probe-interval-seconds", "PROXY_PROBE_INTERVAL_SECONDS")
	_ = v.BindEnv("fail-threshold", "PROXY_FAIL_THRESHOLD")

	if cmd.Flags().Changed("port") {
		v.Set("port", port)
	}
	if cmd.Flags().Changed("config") {
		v.Set("compose-file", composeFile)
	}
	if cmd.Flags().Changed("log-level") {
		v.Set("log-level", logLevel)
	}
	return config.FromViper(v)
}

func runStart(cmd *cobra.Command) error {
	background, _ := cmd.Flags().GetBool("background")
	cfg := buildStartConfig(cmd)

	// A background child finds the PID file its parent wrote holding the
	// child's own PID; that is not another running proxy.
	if pid, running := readPID(); running && pid != os.Getpid() {
		fmt.Printf("proxy already running (PID %d)\n", pid)
		return nil
	}

	if _, err := os.Stat(cfg.ComposeFile); err != nil {
		return configErrorExit(fmt.Errorf("compose file not found: %s", cfg.ComposeFile))
	}

	if background {
		return startBackground(cfg)
	}
	return startForeground(cmd.Context(), cfg)
}

// startForeground runs the proxy in this process, blocking until
// cmd.Context() is canceled (main.go arranges that on SIGINT/SIGTERM).
func startForeground(ctx context.Context, cfg *config.Config) error {
	m, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}
	plane, err := controlplane.New(cfg, m)
	if err != nil {
		return configErrorExit(err)
	}
	if err := plane.Start(ctx); err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}
	if err := writePID(os.Getpid()); err != nil {
		logger.Warnw("could not write PID file", "error", err.Error())
	}
	defer removePIDFile()

	plane.WaitForInitialProbes()
	logger.Infow("proxy ready", "addr", plane.Addr())

	<-ctx.Done()
	logger.Infow("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+time.Second)
	defer cancel()
	completed, err := plane.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if !completed {
		logger.Warnw("shutdown grace period exceeded")
	}
	return nil
}

// startBackground re-execs the current binary without --background,
// redirecting its output to the proxy log file and detaching it into
// its own session, then polls /health until the child is ready. The
// pattern is grounded on proxy_commands.py's subprocess.Popen with
// start_new_session=True, translated to exec.Cmd/SysProcAttr.
func startBackground(cfg *config.Config) error {
	logPath, err := logFilePath()
	if err != nil {
		return fmt.Errorf("resolve log file: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	args := []string{"start",
		"--port", fmt.Sprintf("%d", cfg.Port),
		"--config", cfg.ComposeFile,
		"--log-level", cfg.LogLevel,
	}
	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	detach(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background process: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		logger.Warnw("could not write PID file", "error", err.Error())
	}

	addr := loopbackAddr(cfg.Port)
	if !waitForHealthy(addr, 10*time.Second) {
		fmt.Fprintln(os.Stderr, "proxy did not become healthy within 10s; check logs with: proxy logs")
		return warnExit(fmt.Errorf("proxy failed to start"))
	}
	fmt.Printf("proxy started (PID %d)\n", child.Process.Pid)
	fmt.Printf("endpoint: http://%s/mcp\n", addr)
	return nil
}

func waitForHealthy(addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h, err := fetchHealth(addr, time.Second); err == nil && h.Status == "healthy" {
			return true
		}
		time.Sleep(250 * time.Millisecond)
	}
	return false
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running proxy",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStop()
		},
	}
}

// runStop sends SIGTERM, waits for graceful exit, and SIGKILLs as a
// fallback, mirroring stop_proxy's escalation in proxy_commands.py.
func runStop() error {
	pid, running := readPID()
	if !running {
		fmt.Println("proxy not running")
		removePIDFile()
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		removePIDFile()
		return nil
	}
	if err := proc.Signal(syscallTerm); err != nil {
		removePIDFile()
		return nil
	}

	for i := 0; i < 20; i++ {
		if !processAlive(pid) {
			removePIDFile()
			fmt.Printf("stopped proxy (PID %d)\n", pid)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}

	fmt.Println("graceful shutdown timed out, force-killing")
	_ = proc.Kill()
	removePIDFile()
	return nil
}

func newRestartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the proxy",
	}
	cmd.Flags().Int("port", config.Defaults().Port, "Port for the proxy's HTTP surface")
	cmd.Flags().String("config", config.Defaults().ComposeFile, "Path to the Docker Compose file to discover backends from")
	cmd.Flags().String("log-level", config.Defaults().LogLevel, "Logging level: DEBUG, INFO, WARN, ERROR")
	cmd.Flags().Bool("background", true, "Run the proxy detached from the terminal")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if err := runStop(); err != nil {
			return err
		}
		time.Sleep(500 * time.Millisecond)
		return runStart(cmd)
	}
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the proxy is running and healthy",
		Long: `Exits 0 if the proxy is running and every discovered backend is
healthy, 1 if running but degraded (some backends not healthy), or 2 if
the proxy is not running or not reachable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	addr := loopbackAddr(resolvedPort(cmd))
	h, err := fetchHealth(addr, 3*time.Second)
	if err != nil {
		fmt.Println("proxy: NOT RUNNING")
		if pid, ok := readPID(); ok {
			fmt.Printf("stale PID file found (PID %d)\n", pid)
		}
		return notRunningExit(err)
	}

	fmt.Println("proxy: RUNNING")
	fmt.Printf("backends: %d/%d healthy\n", h.HealthyServers, h.Servers)
	if h.Servers > 0 && h.HealthyServers < h.Servers {
		return warnExit(fmt.Errorf("%d backend(s) unhealthy", h.Servers-h.HealthyServers))
	}
	return nil
}

func newServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List backend MCP servers and their capability summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServers(cmd)
		},
	}
}

func runServers(cmd *cobra.Command) error {
	addr := loopbackAddr(resolvedPort(cmd))
	servers, err := fetchServers(addr, 3*time.Second)
	if err != nil {
		return notRunningExit(fmt.Errorf("proxy not reachable at %s: %w", addr, err))
	}
	if len(servers) == 0 {
		fmt.Println("no backends discovered")
		return nil
	}
	for _, s := range servers {
		line := fmt.Sprintf("%s\t%s\t%s", s.Name, s.State, s.BaseURL)
		if s.ConsecutiveErrors > 0 {
			line += fmt.Sprintf("\t(errors: %d)", s.ConsecutiveErrors)
		}
		fmt.Println(line)
	}
	return nil
}

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the background proxy's log output",
	}
	cmd.Flags().Int("lines", 50, "Number of lines to show")
	cmd.Flags().Bool("follow", false, "Follow log output as it is written")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		follow, _ := cmd.Flags().GetBool("follow")
		return runLogs(lines, follow)
	}
	return cmd
}

func runLogs(lines int, follow bool) error {
	path, err := logFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Println("no proxy logs found (only written when the proxy runs with --background)")
		return nil
	}

	tailed, err := tailLines(path, lines)
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	fmt.Print(strings.Join(tailed, "\n"))
	if len(tailed) > 0 {
		fmt.Println()
	}
	if !follow {
		return nil
	}
	return followFile(path)
}

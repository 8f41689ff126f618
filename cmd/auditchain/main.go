// Package main is the CLI entry point for auditchain — a tamper-evident
// audit trail server for multi-tenant applications.
//
// auditchain accepts audit events over HTTP, appends each one to its
// organization's hash chain, evaluates it against configurable watch
// rules, and can detect after the fact whether any stored record has
// been modified, deleted, reordered, or forged.
//
// Architecture overview:
//
//	Tenant app --> auditchain (:3180) --> per-org chain files (JSONL)
//	                |                       |
//	                +-- freeze switch       +-- SQLite query index
//	                |-- canonicalize + hash-link each event
//	                |-- evaluate watch rules (flag suspicious events)
//	                |-- broadcast to dashboard live feed
//	                +-- periodic chain verification sweep
//
// CLI commands (cobra):
//
//	auditchain              - Interactive first-run setup
//	auditchain serve [-d]   - Start the server (foreground or daemon)
//	auditchain stop         - Stop the server
//	auditchain status       - Show server status + organizations
//	auditchain orgs         - List/inspect organizations
//	auditchain freeze       - Freeze an organization's trail
//	auditchain unfreeze     - Unfreeze an organization's trail
//	auditchain append       - Append an event from the command line
//	auditchain tail         - Show recent records
//	auditchain query        - Query records with filters
//	auditchain verify       - Verify chain integrity
//	auditchain export       - Export records (jsonl/json/csv)
//	auditchain alerts       - Manage watch rules
//	auditchain config       - View/edit server configuration
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditchain/auditchain/internal/alert"
	"github.com/auditchain/auditchain/internal/chain"
	"github.com/auditchain/auditchain/internal/config"
	"github.com/auditchain/auditchain/internal/dashboard"
	"github.com/auditchain/auditchain/internal/ingest"
	"github.com/auditchain/auditchain/internal/ledger"
	"github.com/auditchain/auditchain/internal/org"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-08-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.auditchain/ where all runtime
// state lives: config.yaml, alerts.yaml, orgs.yaml, frozen.yaml, and the
// ledger/ directory.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to current directory if home dir can't be determined.
		return ".auditchain"
	}
	return filepath.Join(home, ".auditchain")
}

// main is the entry point. It builds the cobra command tree and executes it.
// All commands share a common config directory (--config-dir flag on root).
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the auditchain config/state directory.
// Defaults to ~/.auditchain/ but can be overridden for testing or custom
// setups.
var configDir string

// rootCmd is the top-level cobra command. When run with no subcommand,
// it launches the interactive first-run setup.
var rootCmd = &cobra.Command{
	Use:   "auditchain",
	Short: "auditchain — Tamper-evident audit trails",
	Long: `auditchain is an audit trail server for multi-tenant applications. It
accepts audit events over HTTP, links each event into its organization's
hash chain, and can prove after the fact whether any stored record has
been modified, deleted, reordered, or forged.

Run 'auditchain serve' to start the server, or run 'auditchain' with no
arguments for interactive first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	// When no subcommand is provided, run the first-time interactive setup.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	// --config-dir: Override the default ~/.auditchain/ directory.
	// This flag is persistent so all subcommands inherit it.
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to auditchain config and state directory",
	)

	// Register all subcommands on the root command.
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(orgsCmd)
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(unfreezeCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(configCmd)
}

// ledgerDir resolves the chain file directory: the config override if
// set, otherwise <config-dir>/ledger.
func ledgerDir(cfg *config.Config) string {
	if cfg.Ledger.Dir != "" {
		return cfg.Ledger.Dir
	}
	return filepath.Join(configDir, "ledger")
}

// ============================================================================
// auditchain serve — Start the server
// ============================================================================

// daemonMode controls whether the server runs in the background (-d flag).
var daemonMode bool

// serveCmd starts the auditchain server. By default it runs in the
// foreground. With -d, it forks into the background as a daemon.
//
// The server listens on the host:port from config.yaml (default
// 127.0.0.1:3180) and serves the ingest API and the dashboard UI on the
// same port.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the auditchain server",
	Long: `Start the auditchain server. The server accepts audit events, links
them into per-organization hash chains, and serves the dashboard.

By default runs in the foreground. Use -d for daemon/background mode.

The server binds to the address configured in ~/.auditchain/config.yaml
(default: 127.0.0.1:3180). Both the ingest API and the web dashboard are
served on this port:
  - Ingest:    POST http://127.0.0.1:3180/api/orgs/{org}/events
  - Dashboard: http://127.0.0.1:3180/dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	// -d / --daemon: Run in background mode.
	serveCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run server in daemon/background mode")
}

// runServe initializes all subsystems and starts the HTTP server.
// This is where the entire auditchain stack gets wired together:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config from ~/.auditchain/config.yaml
//  3. Initialize the alert rule engine (loads alerts.yaml + built-ins)
//  4. Open the ledger (hash-chained JSONL + SQLite index)
//  5. Initialize the organization registry + freeze switch
//  6. Create the ingest handler and dashboard
//  7. Start the file watcher for hot-reload and the verification sweep
//  8. Write PID file for process management
//  9. Start listening and block until SIGINT/SIGTERM or HTTP shutdown
func runServe(cmd *cobra.Command, args []string) error {
	// --- Daemon mode ---
	// When -d is passed and we're NOT the re-exec'd child, we spawn a
	// detached child process and exit the parent. The child runs the
	// server in the background with stdout/stderr redirected to a log
	// file.
	//
	// We use AUDITCHAIN_DAEMONIZED=1 env var to distinguish the parent
	// (which re-execs and exits) from the child (which actually runs the
	// server). This is the standard Go daemonization pattern — Go can't
	// fork() safely because the runtime is multi-threaded.
	if daemonMode && os.Getenv("AUDITCHAIN_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	// Ensure the config directory exists (~/.auditchain/).
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	// --- Step 1: Load configuration ---
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// --- Step 2: Initialize the alert rule engine ---
	// The engine loads custom rules from alerts.yaml and merges them with
	// built-in watch rules (auth failures, privilege escalation, etc.).
	alertsPath := filepath.Join(configDir, "alerts.yaml")
	engine, err := alert.New(alertsPath)
	if err != nil {
		return fmt.Errorf("failed to initialize alert engine: %w", err)
	}
	fmt.Printf("[auditchain] Loaded %d watch rules (%d builtin + %d custom)\n",
		engine.TotalRules(), engine.BuiltinCount(), engine.CustomCount())

	// --- Step 3: Open the ledger ---
	// The ledger is a set of hash-chained append-only JSONL files (one
	// per organization) with a SQLite index for fast queries. Each
	// record's self_hash = SHA-256(canonical JSON of its content fields)
	// and prev_hash links it to its predecessor. Tampering breaks the
	// chain.
	led, err := ledger.Open(ledgerDir(cfg))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	// --- Step 4: Initialize organization registry + freeze switch ---
	// The registry auto-discovers organizations on first event (by
	// reading the org ID from the URL path). The freeze switch checks
	// frozen.yaml which is file-watched for live updates.
	registry, err := org.NewRegistry(filepath.Join(configDir, "orgs.yaml"))
	if err != nil {
		return fmt.Errorf("failed to initialize organization registry: %w", err)
	}

	freezeSwitch, err := org.NewFreezeSwitch(filepath.Join(configDir, "frozen.yaml"))
	if err != nil {
		return fmt.Errorf("failed to initialize freeze switch: %w", err)
	}

	// --- Step 5: Create the dashboard (before ingest, so we can wire
	// the broadcast callback) ---
	var dash *dashboard.Dashboard
	if cfg.Dashboard.Enabled {
		dash = dashboard.New(dashboard.Options{
			Ledger:       led,
			Registry:     registry,
			FreezeSwitch: freezeSwitch,
			Engine:       engine,
			AlertsPath:   alertsPath,
		})
	}

	// Wire the ingest handler with an optional broadcast callback so the
	// dashboard WebSocket live feed receives events in real time.
	ingestOpts := ingest.Options{
		Ledger:       led,
		Registry:     registry,
		FreezeSwitch: freezeSwitch,
		Engine:       engine,
	}
	if dash != nil {
		ingestOpts.OnRecord = func(rec chain.Record, d alert.Decision) {
			dash.BroadcastEvent(rec, d)
		}
	}
	ingestHandler := ingest.New(ingestOpts)

	// --- Step 6: Set up HTTP mux ---
	// The ingest API and dashboard share the same port. The mux routes:
	//   /api/orgs/  -> ingest handler (POST events)
	//   /dashboard* -> dashboard handler (web UI + WebSocket feed)
	//   /api/*      -> dashboard REST API (status, orgs, records, verify)
	//   /health     -> health check (used by `auditchain status`)
	//   /shutdown   -> graceful shutdown trigger (used by `auditchain stop`)
	mux := http.NewServeMux()

	// Mount the ingest handler for event appends.
	// URL format: POST /api/orgs/{orgID}/events
	mux.Handle("/api/orgs/", ingestHandler)

	// Mount the dashboard if enabled in config.
	if dash != nil {
		// Dashboard web UI (static HTML/JS/CSS embedded in binary).
		mux.Handle("/dashboard", dash)
		mux.Handle("/dashboard/", dash)
		// Dashboard WebSocket endpoint for the live event feed.
		mux.Handle("/dashboard/ws", dash.WebSocketHandler())
		// Dashboard REST API endpoints. The more specific /api/orgs/
		// pattern above still wins for event ingest.
		mux.Handle("/api/", dash.APIHandler())
	}

	// Health check endpoint — used by `auditchain status` to detect a
	// running server.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	// Shutdown endpoint — used by `auditchain stop` to trigger graceful
	// shutdown. This is the cross-platform way to stop the server (works
	// on Windows where Unix signals like SIGTERM are not available).
	// Only accepts POST from loopback addresses to prevent remote
	// shutdown.
	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		// Security: only accept shutdown requests from localhost.
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		// Signal the main goroutine to begin graceful shutdown.
		select {
		case shutdownCh <- struct{}{}:
		default:
			// Already shutting down.
		}
	})

	// --- Step 7: Start the HTTP server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Step 8: Write PID file ---
	// The PID file allows `auditchain stop` to find the running process.
	// Cleaned up on graceful shutdown.
	pidFile := filepath.Join(configDir, "auditchain.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	// --- Step 9: Start the file watcher for hot-reload ---
	// The watcher monitors alerts.yaml and frozen.yaml for changes.
	// When alerts.yaml changes, the rule engine reloads automatically.
	// When frozen.yaml changes, the freeze switch state updates live.
	// This is what makes `auditchain freeze` take effect instantly
	// without restarting the server — the CLI writes frozen.yaml, the
	// watcher picks up the change, and the freeze switch state updates
	// in memory.
	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnAlertsChange: func() {
			if reloadErr := engine.Reload(alertsPath); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[auditchain] Warning: failed to reload watch rules: %v\n", reloadErr)
			} else {
				fmt.Println("[auditchain] Watch rules reloaded")
			}
		},
		OnFreezeChange: func() {
			if reloadErr := freezeSwitch.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[auditchain] Warning: failed to reload freeze switch: %v\n", reloadErr)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer watcher.Close()

	// --- Step 10: Graceful shutdown on SIGINT/SIGTERM or HTTP /shutdown ---
	// Three ways the server can shut down:
	//   1. SIGINT (Ctrl+C) — user stops foreground process
	//   2. SIGTERM — sent by `auditchain stop` on Unix via PID file
	//   3. POST /shutdown — sent by `auditchain stop` cross-platform via HTTP
	// All three trigger the same graceful shutdown path: drain in-flight
	// requests, close chain files and SQLite, persist registry stats.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Step 11: Periodic verification sweep ---
	// On the configured interval, re-verify every organization's chain
	// and record the outcome in the registry. With autoFreeze enabled, a
	// broken chain freezes its organization's ingest automatically.
	if cfg.Verification.IntervalMinutes > 0 {
		go runVerificationSweep(ctx, cfg, led, registry, freezeSwitch)
	}

	// Start listening in a goroutine so we can block on the signal context.
	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[auditchain] Server listening on http://%s\n", addr)
		if cfg.Dashboard.Enabled {
			fmt.Printf("[auditchain] Dashboard at http://%s/dashboard\n", addr)
		}
		if !daemonMode {
			fmt.Println("[auditchain] Press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	// Block until shutdown signal, HTTP shutdown request, or server error.
	select {
	case <-ctx.Done():
		// OS signal received (SIGINT or SIGTERM).
		fmt.Println("\n[auditchain] Shutting down (signal received)...")
	case <-shutdownCh:
		// HTTP /shutdown endpoint was called by `auditchain stop`.
		fmt.Println("[auditchain] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown — give in-flight requests 10 seconds to drain so
	// no append is cut off mid-write.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[auditchain] Shutdown error: %v\n", shutdownErr)
	}

	// Persist organization stats to disk before exiting.
	if saveErr := registry.Save(); saveErr != nil {
		fmt.Fprintf(os.Stderr, "[auditchain] Warning: failed to save organization registry: %v\n", saveErr)
	}

	fmt.Println("[auditchain] Stopped")
	return nil
}

// runVerificationSweep re-verifies every organization's chain on the
// configured interval. Runs in a background goroutine until the server
// context is cancelled.
func runVerificationSweep(ctx context.Context, cfg *config.Config, led *ledger.Ledger, registry *org.Registry, freezeSwitch *org.FreezeSwitch) {
	interval := time.Duration(cfg.Verification.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range led.Organizations() {
				result, err := led.VerifyOrg(id)
				if err != nil {
					fmt.Fprintf(os.Stderr, "[auditchain] Verification sweep failed for %s: %v\n", id, err)
					continue
				}
				registry.RecordVerification(id, result.Valid, len(result.Errors))

				if !result.Valid {
					fmt.Fprintf(os.Stderr, "[auditchain] Chain BROKEN for %s: %d errors\n", id, len(result.Errors))
					if cfg.Verification.AutoFreeze && !freezeSwitch.IsFrozen(id) {
						if err := freezeSwitch.Freeze(id, "chain verification failed", "verification-sweep"); err != nil {
							fmt.Fprintf(os.Stderr, "[auditchain] Warning: auto-freeze failed for %s: %v\n", id, err)
						} else {
							registry.SetStatus(id, "frozen")
							fmt.Fprintf(os.Stderr, "[auditchain] Auto-froze organization %s\n", id)
						}
					}
				}
			}
		}
	}
}

// spawnDaemon re-executes the auditchain binary as a detached background
// process. The parent process prints the child PID and exits immediately.
//
// How it works:
//  1. Find our own executable path
//  2. Build the same command but with AUDITCHAIN_DAEMONIZED=1 env var
//  3. Redirect stdout/stderr to ~/.auditchain/auditchain.log
//  4. Start the child process detached from the terminal
//  5. Print the PID and exit
//
// The child process detects AUDITCHAIN_DAEMONIZED=1 at the top of
// runServe() and skips the re-exec, running the server normally.
func spawnDaemon() error {
	// Ensure config dir exists for the log file.
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Find our own executable.
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	// Open the log file for daemon stdout/stderr.
	logPath := filepath.Join(configDir, "auditchain.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	// Build the command: same binary, "serve" subcommand (without -d),
	// with the daemonized env var so the child doesn't re-exec again.
	daemonArgs := []string{"serve"}
	// Forward --config-dir if it was explicitly set.
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "AUDITCHAIN_DAEMONIZED=1")

	// Start the child process. It inherits no stdin and writes to the log.
	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[auditchain] Server started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[auditchain] Log file: %s\n", logPath)
	fmt.Println("[auditchain] Use 'auditchain stop' to stop the server")

	// Release the child process so it survives parent exit.
	// We don't call child.Wait() — the child is now independent.
	if err := child.Process.Release(); err != nil {
		// Non-fatal — child is already running.
		fmt.Fprintf(os.Stderr, "[auditchain] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

// writePIDFile writes the current process ID to the given file path.
// Used by `auditchain stop` to find the running server process.
func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// removePIDFile removes the PID file if it exists. Called on shutdown.
func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback checks if a remote address is a loopback address
// (127.x.x.x or ::1). Used to restrict the /shutdown endpoint to
// local-only access.
func isLoopback(remoteAddr string) bool {
	// remoteAddr is "ip:port" — strip the port.
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	// Strip brackets from IPv6 addresses like [::1].
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")

	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// auditchain stop — Stop the server
// ============================================================================

// stopCmd sends a stop signal to a running auditchain server.
//
// Uses two strategies (in order):
//  1. HTTP POST to /shutdown — works cross-platform (Windows + Unix)
//  2. PID file + SIGTERM — Unix fallback if HTTP fails
//
// On Windows, only the HTTP strategy works because Windows doesn't have
// Unix signals. The /shutdown endpoint is restricted to localhost.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running auditchain server",
	Long: `Stop a running auditchain server. Tries HTTP shutdown first
(cross-platform), then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

// runStop attempts to stop the running server via HTTP, then falls back
// to PID-based signal delivery on Unix.
func runStop(cmd *cobra.Command, args []string) error {
	// Load config to determine the server address.
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	// --- Strategy 1: HTTP shutdown (cross-platform) ---
	// POST to /shutdown on the running server. This is the primary method
	// and works on all platforms including Windows.
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[auditchain] Stop signal sent to server")
			// Clean up PID file since the server is shutting down.
			os.Remove(filepath.Join(configDir, "auditchain.pid"))
			return nil
		}
	}

	// --- Strategy 2: PID file + SIGTERM (Unix only) ---
	// If HTTP failed (server might be hung, or /shutdown not reachable),
	// try to send SIGTERM via the PID file. This only works on Unix.
	if runtime.GOOS == "windows" {
		return fmt.Errorf("server is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "auditchain.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("server is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	// Find the process and send SIGTERM for graceful shutdown.
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Process might already be dead — clean up PID file.
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop server (PID %d): %w", pid, err)
	}

	// Clean up the PID file after successful signal delivery.
	os.Remove(pidFile)
	fmt.Printf("[auditchain] Sent stop signal to server (PID %d)\n", pid)
	return nil
}

// ============================================================================
// auditchain status — Show server status
// ============================================================================

// statusCmd displays the current server status: whether it's running,
// which port it's listening on, and a summary of known organizations.
//
// Queries the running server via HTTP (/health and /api/orgs) to get
// live in-memory state rather than reading stale files from disk.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status and organizations",
	Long: `Display whether the auditchain server is running, its listen address,
and a summary of all known organizations with their trail health.

Queries the live server process for accurate real-time data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

// statusOrgJSON is the JSON schema returned by GET /api/orgs on the
// running server. We only decode the fields we need for display.
type statusOrgJSON struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Frozen bool   `json:"frozen"`
	Stats  struct {
		TotalEvents   uint64 `json:"total_events"`
		FlaggedEvents uint64 `json:"flagged_events"`
		ChainValid    bool   `json:"chain_valid"`
		ChainErrors   int    `json:"chain_errors"`
	} `json:"stats"`
}

// runStatus queries the live server via HTTP for status and org data.
func runStatus(cmd *cobra.Command, args []string) error {
	// Load config for the listen address.
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	// Check if the server is reachable via the health endpoint.
	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[auditchain] Status: NOT RUNNING")
		fmt.Printf("[auditchain] Expected at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[auditchain] Status: RUNNING")
	fmt.Printf("[auditchain] Listening on: %s\n", addr)

	// Query the live server for organization data via the dashboard API.
	// This gives us the accurate in-memory state (event counts, last
	// verification, etc.) rather than the stale-on-disk orgs.yaml.
	orgsResp, err := client.Get(addr + "/api/orgs")
	if err != nil {
		// Server is running but dashboard API might be disabled.
		fmt.Println("[auditchain] Could not query organization data (dashboard API may be disabled)")
		return nil
	}
	defer orgsResp.Body.Close()

	var orgs []statusOrgJSON
	if err := json.NewDecoder(orgsResp.Body).Decode(&orgs); err != nil {
		fmt.Println("[auditchain] Could not parse organization data")
		return nil
	}

	if len(orgs) == 0 {
		fmt.Println("[auditchain] No organizations registered yet")
		return nil
	}

	fmt.Printf("[auditchain] Organizations: %d total\n", len(orgs))
	fmt.Println()
	fmt.Printf("  %-20s %-10s %-10s %-10s %-10s\n",
		"ORGANIZATION", "STATUS", "EVENTS", "FLAGGED", "CHAIN")
	fmt.Printf("  %-20s %-10s %-10s %-10s %-10s\n",
		"------------", "------", "------", "-------", "-----")
	for _, o := range orgs {
		status := o.Status
		if o.Frozen {
			status = "frozen"
		}
		chainState := "valid"
		if !o.Stats.ChainValid && o.Stats.ChainErrors > 0 {
			chainState = fmt.Sprintf("BROKEN(%d)", o.Stats.ChainErrors)
		}
		fmt.Printf("  %-20s %-10s %-10d %-10d %-10s\n",
			o.ID, status, o.Stats.TotalEvents, o.Stats.FlaggedEvents, chainState)
	}
	return nil
}

// ============================================================================
// auditchain orgs — List and inspect organizations
// ============================================================================

// orgsCmd lists all known organizations, or shows details for a specific
// one. Organizations are auto-discovered when their first event arrives.
// The org ID comes from the ingest URL path: /api/orgs/{orgID}/events.
var orgsCmd = &cobra.Command{
	Use:   "orgs [org-id]",
	Short: "List all organizations or show details for one",
	Long: `List all organizations that have sent events, with their status, event
counts, and latest chain verification outcome. Optionally provide an
organization ID to see detailed information.

Organizations are auto-registered when their first event arrives. The
organization ID is extracted from the ingest URL path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrgs(cmd, args)
	},
}

// runOrgs displays organization information from the registry file.
func runOrgs(cmd *cobra.Command, args []string) error {
	registry, err := org.NewRegistry(filepath.Join(configDir, "orgs.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load organization registry: %w", err)
	}

	// If a specific org ID was provided, show detailed info.
	if len(args) == 1 {
		o, err := registry.Get(args[0])
		if err != nil {
			return fmt.Errorf("organization %q not found", args[0])
		}
		fmt.Printf("Organization: %s\n", o.ID)
		fmt.Printf("  Status:        %s\n", o.Status)
		fmt.Printf("  First seen:    %s\n", o.FirstSeen.Format(time.RFC3339))
		fmt.Printf("  Last seen:     %s\n", o.LastSeen.Format(time.RFC3339))
		fmt.Printf("  Events:        %d\n", o.Stats.TotalEvents)
		fmt.Printf("  Flagged:       %d\n", o.Stats.FlaggedEvents)
		if !o.Stats.LastVerified.IsZero() {
			fmt.Printf("  Last verified: %s\n", o.Stats.LastVerified.Format(time.RFC3339))
			if o.Stats.ChainValid {
				fmt.Printf("  Chain:         valid\n")
			} else {
				fmt.Printf("  Chain:         BROKEN (%d errors)\n", o.Stats.ChainErrors)
			}
		}
		return nil
	}

	// No org ID — list all organizations.
	orgs := registry.List()
	if len(orgs) == 0 {
		fmt.Println("No organizations registered yet. Start the server and send an event to register.")
		return nil
	}

	fmt.Printf("%-20s %-10s %-10s %-10s %-10s\n",
		"ORGANIZATION", "STATUS", "EVENTS", "FLAGGED", "CHAIN")
	fmt.Printf("%-20s %-10s %-10s %-10s %-10s\n",
		"------------", "------", "------", "-------", "-----")
	for _, o := range orgs {
		chainState := "-"
		if !o.Stats.LastVerified.IsZero() {
			if o.Stats.ChainValid {
				chainState = "valid"
			} else {
				chainState = fmt.Sprintf("BROKEN(%d)", o.Stats.ChainErrors)
			}
		}
		fmt.Printf("%-20s %-10s %-10d %-10d %-10s\n",
			o.ID, o.Status, o.Stats.TotalEvents, o.Stats.FlaggedEvents, chainState)
	}
	return nil
}

// ============================================================================
// auditchain freeze / unfreeze — Freeze an organization's trail
// ============================================================================

// freezeReason is the human-readable reason for freezing a trail.
var freezeReason string

// freezeCmd freezes an organization's trail by adding it to frozen.yaml.
// Once frozen, all ingest requests for the organization are rejected with
// 423 Locked until an operator unfreezes it. The running server picks up
// the change via file watching on frozen.yaml.
var freezeCmd = &cobra.Command{
	Use:   "freeze <org-id>",
	Short: "Freeze an organization's trail",
	Long: `Freeze an organization's audit trail. All subsequent ingest requests
for this organization are rejected until the trail is unfrozen. Use this
after chain verification reports tampering, to stop further writes while
the trail is investigated.

Use --reason to record why the trail was frozen.
The freeze can be reversed with 'auditchain unfreeze <org-id>'.

Takes effect immediately — the running server file-watches frozen.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFreeze(cmd, args)
	},
}

func init() {
	freezeCmd.Flags().StringVar(&freezeReason, "reason", "", "Reason for freezing the trail (required)")
	// Reason is required — we always want to know why a trail was frozen.
	freezeCmd.MarkFlagRequired("reason")
}

// runFreeze adds an organization to the freeze switch file. The server
// file-watches frozen.yaml, so this takes effect immediately without a
// restart.
func runFreeze(cmd *cobra.Command, args []string) error {
	freezeSwitch, err := org.NewFreezeSwitch(filepath.Join(configDir, "frozen.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load freeze switch: %w", err)
	}

	if err := freezeSwitch.Freeze(args[0], freezeReason, "user"); err != nil {
		return fmt.Errorf("failed to freeze organization %q: %w", args[0], err)
	}
	fmt.Printf("[auditchain] Froze organization: %s (reason: %s)\n", args[0], freezeReason)
	return nil
}

// unfreezeCmd removes an organization from the freeze switch, allowing
// its events to be ingested again.
var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze <org-id>",
	Short: "Unfreeze an organization's trail",
	Long: `Unfreeze a previously frozen organization, allowing its audit events
to be appended again. The freeze entry is removed from frozen.yaml and
the server picks up the change via file watching.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUnfreeze(cmd, args)
	},
}

// runUnfreeze removes an organization from the frozen list.
func runUnfreeze(cmd *cobra.Command, args []string) error {
	freezeSwitch, err := org.NewFreezeSwitch(filepath.Join(configDir, "frozen.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load freeze switch: %w", err)
	}

	if err := freezeSwitch.Unfreeze(args[0]); err != nil {
		return fmt.Errorf("failed to unfreeze organization %q: %w", args[0], err)
	}

	fmt.Printf("[auditchain] Unfroze organization: %s\n", args[0])
	return nil
}

// ============================================================================
// auditchain append — Append an event from the command line
// ============================================================================

// appendCmd appends a single event to an organization's chain from the
// command line. The event is posted to the running server so it goes
// through the full ingest path (freeze check, alert rules, broadcast).
var appendCmd = &cobra.Command{
	Use:   "append <org-id> <json>",
	Short: "Append an audit event",
	Long: `Append a single audit event to an organization's chain. The event is
posted to the running server so it passes through the full ingest path
(freeze switch, watch rules, live feed).

The JSON body must contain at least "event_type".

Example:
  auditchain append org-acme '{"event_type":"user.deleted","event_data":{"id":"u-1"},"user_id":"admin-3"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAppend(cmd, args)
	},
}

// runAppend posts an event to the running server's ingest endpoint.
func runAppend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d/api/orgs/%s/events", cfg.Server.Host, cfg.Server.Port, args[0])
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(addr, "application/json", bytes.NewReader([]byte(args[1])))
	if err != nil {
		return fmt.Errorf("server not reachable (is 'auditchain serve' running?): %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ID       string `json:"id"`
		SelfHash string `json:"self_hash"`
		Flagged  bool   `json:"flagged"`
		Rule     string `json:"rule"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse server response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("append rejected (%d): %s", resp.StatusCode, result.Error)
	}

	fmt.Printf("[auditchain] Appended record %s\n", result.ID)
	fmt.Printf("  self_hash: %s\n", result.SelfHash)
	if result.Flagged {
		fmt.Printf("  FLAGGED by rule %q\n", result.Rule)
	}
	return nil
}

// ============================================================================
// auditchain tail — Show recent records
// ============================================================================

// tailFollowMode enables real-time following of new records (-f flag).
var tailFollowMode bool

// tailLimit controls how many recent records to show.
var tailLimit int

// tailOrg restricts tail output to one organization (required for -f).
var tailOrg string

// tailCmd shows recent records, optionally following in real-time.
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit records",
	Long: `Show the most recent audit records across all organizations. Use -f
with --org to follow one organization's chain in real-time (like tail -f).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledgerForRead()
		if err != nil {
			return err
		}
		defer led.Close()

		if tailFollowMode && tailOrg == "" {
			return fmt.Errorf("--follow requires --org")
		}

		records, err := led.Tail(tailLimit)
		if err != nil {
			return fmt.Errorf("failed to read records: %w", err)
		}

		// Tail returns newest first — print oldest first like tail(1).
		for i := len(records) - 1; i >= 0; i-- {
			if tailOrg != "" && records[i].OrganizationID != tailOrg {
				continue
			}
			printRecord(records[i])
		}

		// If -f flag is set, keep watching for new records until Ctrl+C.
		if tailFollowMode {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := led.Follow(ctx, tailOrg, func(r chain.Record) {
				printRecord(r)
			}); err != nil && err != context.Canceled {
				return err
			}
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().BoolVarP(&tailFollowMode, "follow", "f", false, "Follow new records in real-time (requires --org)")
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "Number of recent records to show")
	tailCmd.Flags().StringVar(&tailOrg, "org", "", "Restrict to one organization")
}

// ============================================================================
// auditchain query — Query records with filters
// ============================================================================

// Query filter flags.
var (
	queryOrg   string
	queryEvent string
	querySince string
	queryLimit int
)

// queryCmd queries the ledger with filters (org, event glob, time range).
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit records with filters",
	Long: `Query the ledger with filters. Supports filtering by organization ID,
event type glob, and time range.

Event type globs use '.' as the separator: "auth.*" matches
"auth.login" but not "auth.login.failed"; "auth.**" matches both.

Examples:
  auditchain query --org org-acme --event "auth.**" --since 1h
  auditchain query --event "**.deleted" --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledgerForRead()
		if err != nil {
			return err
		}
		defer led.Close()

		records, err := led.Query(ledger.QueryParams{
			Org:   queryOrg,
			Event: queryEvent,
			Since: querySince,
			Limit: queryLimit,
		})
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No matching records found.")
			return nil
		}

		for _, r := range records {
			printRecord(r)
		}
		fmt.Printf("\n%d records found.\n", len(records))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryOrg, "org", "", "Filter by organization ID")
	queryCmd.Flags().StringVar(&queryEvent, "event", "", "Filter by event type glob (e.g. \"auth.**\")")
	queryCmd.Flags().StringVar(&querySince, "since", "", "Show records since duration (e.g., 1h, 30m, 24h)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 50, "Maximum number of records to return")
}

// ============================================================================
// auditchain verify — Verify chain integrity
// ============================================================================

// verifyAll controls whether all organizations are verified (--all flag).
var verifyAll bool

// verifyCmd verifies the integrity of one or all hash chains. A record's
// self_hash must match its canonical content, each prev_hash must match
// the predecessor's self_hash, and timestamps must not regress. All
// violations are reported, not just the first.
var verifyCmd = &cobra.Command{
	Use:   "verify [org-id]",
	Short: "Verify chain integrity",
	Long: `Verify the integrity of an organization's hash chain. Each record's
self_hash is recomputed from its canonical content and compared, each
prev_hash is checked against the predecessor, the genesis record must
have no predecessor, and timestamps must not regress.

All violations are collected and reported in a single pass — a broken
record does not hide later breaks.

Use --all to verify every organization's chain.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !verifyAll {
			return fmt.Errorf("provide an organization ID or use --all")
		}

		led, err := ledgerForRead()
		if err != nil {
			return err
		}
		defer led.Close()

		orgs := led.Organizations()
		if len(args) == 1 {
			orgs = []string{args[0]}
		}
		if len(orgs) == 0 {
			fmt.Println("No chains to verify.")
			return nil
		}

		broken := 0
		for _, id := range orgs {
			result, err := led.VerifyOrg(id)
			if err != nil {
				return fmt.Errorf("verification failed for %s: %w", id, err)
			}

			if result.Valid {
				fmt.Printf("[auditchain] %s: chain VALID (%d records verified)\n", id, result.TotalRecords)
				continue
			}

			broken++
			fmt.Printf("[auditchain] %s: chain BROKEN (%d records, %d errors)\n",
				id, result.TotalRecords, len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  #%-5d %-10s record=%s  %s\n", e.RecordIndex, e.Type, e.RecordID, e.Message)
			}
		}

		if broken > 0 {
			return fmt.Errorf("chain integrity violation detected in %d organization(s)", broken)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyAll, "all", false, "Verify every organization's chain")
}

// ============================================================================
// auditchain export — Export records
// ============================================================================

// Export flags.
var (
	exportFormat string
	exportOrg    string
)

// exportCmd exports records to stdout in the specified format.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records",
	Long: `Export audit records to stdout in the specified format.
Supported formats: csv, json, jsonl.

Example:
  auditchain export --org org-acme --format csv > acme_audit.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		led, err := ledgerForRead()
		if err != nil {
			return err
		}
		defer led.Close()

		return led.Export(os.Stdout, exportFormat, exportOrg)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "jsonl", "Export format: csv, json, jsonl")
	exportCmd.Flags().StringVar(&exportOrg, "org", "", "Restrict to one organization")
}

// ledgerForRead opens the ledger for CLI read commands.
func ledgerForRead() (*ledger.Ledger, error) {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	led, err := ledger.Open(ledgerDir(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return led, nil
}

// printRecord formats and prints a single record to stdout.
func printRecord(r chain.Record) {
	user := "-"
	if r.UserID != nil {
		user = *r.UserID
	}
	fmt.Printf("[%s] org=%-15s event=%-28s user=%-10s hash=%s\n",
		r.CreatedAt.Format(time.RFC3339), r.OrganizationID, r.EventType, user, r.SelfHash[:12])
}

// ============================================================================
// auditchain alerts — Manage watch rules
// ============================================================================

// alertsCmd is the parent command for watch rule management subcommands.
// Watch rules flag suspicious events as they are ingested.
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage watch rules",
	Long: `View, add, remove, and test watch rules. Rules flag suspicious audit
events as they arrive. They support matching on event type globs,
organization ID, user ID, payload substrings, payload regexes, and
source IP regexes. Flagged events are still appended — the trail is
append-only — but they increment the flagged counter and surface on
the dashboard.

Built-in rules cover common patterns like authentication failures,
privilege escalation, and bulk data exports.`,
}

func init() {
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)
	alertsCmd.AddCommand(alertsTestCmd)
}

// alertsListCmd shows all active rules (both built-in and custom).
var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all watch rules (builtin + custom)",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := alert.New(filepath.Join(configDir, "alerts.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load watch rules: %w", err)
		}

		rules := engine.ListRules()
		if len(rules) == 0 {
			fmt.Println("No watch rules configured.")
			return nil
		}

		fmt.Printf("%-25s %-10s %-10s %s\n", "NAME", "TYPE", "SEVERITY", "DESCRIPTION")
		fmt.Printf("%-25s %-10s %-10s %s\n", "----", "----", "--------", "-----------")
		for _, r := range rules {
			ruleType := "custom"
			if r.Builtin {
				ruleType = "builtin"
			}
			fmt.Printf("%-25s %-10s %-10s %s\n", r.Name, ruleType, r.Severity, r.Message)
		}
		return nil
	},
}

// alertsAddCmd adds a new custom rule from a YAML string argument.
var alertsAddCmd = &cobra.Command{
	Use:   "add <yaml>",
	Short: "Add a custom watch rule (YAML format)",
	Long: `Add a new custom watch rule. Provide the rule as a YAML string.

Example:
  auditchain alerts add 'name: watch-refunds
    match:
      event: billing.refund.**
      data_contains: manual
    severity: warning
    message: "manual refund issued"'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alertsPath := filepath.Join(configDir, "alerts.yaml")
		engine, err := alert.New(alertsPath)
		if err != nil {
			return fmt.Errorf("failed to load watch rules: %w", err)
		}

		if err := engine.AddRule(args[0]); err != nil {
			return fmt.Errorf("failed to add rule: %w", err)
		}

		// Persist the updated rules back to alerts.yaml. The running
		// server file-watches the file and reloads automatically.
		if err := engine.Save(alertsPath); err != nil {
			return fmt.Errorf("failed to save watch rules: %w", err)
		}

		fmt.Println("[auditchain] Watch rule added")
		return nil
	},
}

// alertsRemoveCmd removes a custom rule by name.
var alertsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a custom watch rule by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alertsPath := filepath.Join(configDir, "alerts.yaml")
		engine, err := alert.New(alertsPath)
		if err != nil {
			return fmt.Errorf("failed to load watch rules: %w", err)
		}

		if err := engine.RemoveRule(args[0]); err != nil {
			return fmt.Errorf("failed to remove rule: %w", err)
		}

		if err := engine.Save(alertsPath); err != nil {
			return fmt.Errorf("failed to save watch rules: %w", err)
		}

		fmt.Printf("[auditchain] Watch rule %q removed\n", args[0])
		return nil
	},
}

// alertsTestCmd tests an event JSON against the current rule set.
// This lets users verify rules without ingesting a real event.
var alertsTestCmd = &cobra.Command{
	Use:   "test <json>",
	Short: "Test an event against watch rules",
	Long: `Test an event JSON string against the current rule set to see whether
it would be flagged. Useful for verifying rules before relying on them.

Example:
  auditchain alerts test '{"event_type":"user.role.granted","event_data":{"role":"admin"}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := alert.New(filepath.Join(configDir, "alerts.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load watch rules: %w", err)
		}

		decision, err := engine.TestJSON(args[0])
		if err != nil {
			return fmt.Errorf("failed to test event: %w", err)
		}

		if decision.Flagged {
			fmt.Printf("[auditchain] FLAGGED by rule %q (%s): %s\n",
				decision.Rule, decision.Severity, decision.Message)
		} else {
			fmt.Println("[auditchain] NOT FLAGGED (no rule matched)")
		}
		return nil
	},
}

// ============================================================================
// auditchain config — Configuration management
// ============================================================================

// configCmd is the parent command for configuration operations.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit server configuration",
	Long: `Manage the auditchain server configuration. The config file lives at
~/.auditchain/config.yaml and defines the server bind address, ledger
directory, verification sweep settings, and dashboard toggle.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
}

// configShowCmd prints the current configuration to stdout.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'auditchain' for interactive setup.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

// configEditCmd opens the config file in the user's preferred editor.
// Uses $EDITOR or $VISUAL env vars, falling back to platform defaults.
var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  `Open the auditchain config file in your default editor ($EDITOR or $VISUAL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")

		// Determine which editor to use. Check standard env vars first,
		// then fall back to platform-appropriate defaults.
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		// Ensure the config file exists (create default if not).
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		// Launch the editor using exec.Command for cross-platform PATH
		// resolution. os.StartProcess requires an absolute binary path
		// and doesn't search PATH, making it unreliable.
		fmt.Printf("[auditchain] Opening %s in %s...\n", configPath, editor)
		editorCmd := exec.Command(editor, configPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	},
}

// ============================================================================
// First-run interactive setup
// ============================================================================

// runFirstTimeSetup runs when 'auditchain' is invoked with no subcommand.
// It guides the user through initial configuration:
//  1. Creates the ~/.auditchain/ directory
//  2. Generates a default config.yaml
//  3. Generates a default alerts.yaml with built-in rules in their
//     default toggle state
//  4. Shows how to send the first event
func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("=== auditchain — First-Time Setup ===")
	fmt.Println()

	// Check if already configured.
	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Println("Use 'auditchain serve' to start the server.")
		fmt.Println("Use 'auditchain config edit' to modify the configuration.")
		return nil
	}

	// Create the config directory.
	fmt.Printf("Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write default config.
	fmt.Println("Writing default config.yaml...")
	if err := config.WriteDefault(configPath); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	// Write default watch rules.
	alertsPath := filepath.Join(configDir, "alerts.yaml")
	fmt.Println("Writing default alerts.yaml (built-in watch rules enabled)...")
	if err := alert.WriteDefaultRules(alertsPath); err != nil {
		return fmt.Errorf("failed to write default watch rules: %w", err)
	}

	// Create the ledger directory.
	if err := os.MkdirAll(filepath.Join(configDir, "ledger"), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	fmt.Println()
	fmt.Println("Setup complete! Next steps:")
	fmt.Println()
	fmt.Println("  1. Start the server:")
	fmt.Println("     auditchain serve")
	fmt.Println()
	fmt.Println("  2. Send your first event:")
	fmt.Println(`     curl -X POST http://127.0.0.1:3180/api/orgs/org-acme/events \`)
	fmt.Println(`       -d '{"event_type":"auth.login.succeeded","user_id":"usr-1"}'`)
	fmt.Println()
	fmt.Println("  3. View the dashboard:")
	fmt.Println("     http://127.0.0.1:3180/dashboard")
	fmt.Println()
	fmt.Println("  4. Verify trail integrity at any time:")
	fmt.Println("     auditchain verify --all")
	fmt.Println()
	return nil
}

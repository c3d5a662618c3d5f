// Command agentloom runs a single agent workspace: an executor loop, an
// HTTP surface for message intake and repair signals, a cron-driven
// schedule runner, and background upkeep. It doubles as a small CLI for
// initializing a workspace and managing router bearer tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentloom/agentloom/internal/audit"
	"github.com/agentloom/agentloom/internal/cleanup"
	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/executor"
	"github.com/agentloom/agentloom/internal/history"
	"github.com/agentloom/agentloom/internal/httpapi"
	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/logger"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/router"
	"github.com/agentloom/agentloom/internal/schedule"
	"github.com/agentloom/agentloom/internal/wstore"
	"github.com/agentloom/agentloom/internal/workspace"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit(os.Args[2:])
			return
		case "token":
			cmdToken(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("agentloom %s\n", Version)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}
	cmdRun(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`agentloom %s - headless agent runtime

Usage: agentloom [command] [workspace]

Commands:
  (default)    Run the executor loop and HTTP server against a workspace
  init         Initialize a fresh workspace directory
  token        Mint or revoke router bearer tokens
  version      Print version and exit

Run Options:
  agentloom [workspace]     Path to the workspace directory (default: ./workspace)

Environment:
  WORKSPACE          Workspace directory (overridden by a positional arg)
  PORT               HTTP listen port (default: 3000, or runtime.jsonc server.address)
  SPAWN_WORKER=true  If set, this process boots as root and expects to spawn workers
  REPAIR_AGENT_URL   URL of an external agent to notify on unrecoverable errors

Examples:
  agentloom init ./workspace
  agentloom ./workspace
  SPAWN_WORKER=true agentloom ./root-workspace
  agentloom token create --workspace ./workspace --route slack
`, Version)
}

func resolveWorkspaceDir(args []string) string {
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		return args[0]
	}
	if dir := os.Getenv("WORKSPACE"); dir != "" {
		return dir
	}
	return "./workspace"
}

func cmdRun(args []string) {
	workspaceDir := resolveWorkspaceDir(args)
	absDir, err := filepath.Abs(workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid workspace path: %v\n", err)
		os.Exit(1)
	}
	workspaceDir = absDir

	role := config.RoleWorker
	if os.Getenv("SPAWN_WORKER") == "true" {
		role = config.RoleRoot
	}
	// Consumed here so a spawned child process, which inherits the parent's
	// environment, doesn't also elect itself root.
	_ = os.Unsetenv("SPAWN_WORKER")

	homeDir := filepath.Dir(workspaceDir)
	runtimeCfg, err := config.LoadRuntimeConfig(homeDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load runtime config: %v\n", err)
		os.Exit(1)
	}

	if err := workspace.Init(workspaceDir, role, runtimeCfg.Defaults.Provider, ""); err != nil {
		fmt.Fprintf(os.Stderr, "initialize workspace: %v\n", err)
		os.Exit(1)
	}

	audit.Default().SetEnabled(runtimeCfg.Audit.Enabled)

	logDir := filepath.Join(workspaceDir, "logs")
	if err := logger.Init(logDir); err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("agentloom starting", "workspace", workspaceDir, "role", role, "version", Version)

	needsReset, err := workspace.NeedsWorkerReset(workspaceDir)
	if err != nil {
		logger.Error("check worker reset", "error", err)
		os.Exit(1)
	}
	if needsReset && role == config.RoleWorker {
		logger.Info("resetting inherited state to a clean worker identity")
		if err := workspace.ResetToWorker(workspaceDir); err != nil {
			logger.Error("reset to worker", "error", err)
			os.Exit(1)
		}
	}

	q := queue.New()
	registry := jobs.NewRegistry()

	hist, err := history.Open(workspaceDir)
	if err != nil {
		logger.Error("open history store", "error", err)
		os.Exit(1)
	}

	if count, err := hist.CountRounds(); err != nil {
		logger.Error("count indexed rounds", "error", err)
	} else if count == 0 {
		rounds, err := wstore.ListRoundNumbers(workspaceDir)
		if err != nil {
			logger.Error("list round files", "error", err)
		} else if len(rounds) > 0 {
			logger.Info("index.db is empty but history/ is not, rebuilding", "rounds", len(rounds))
			if err := history.Rebuild(workspaceDir, hist); err != nil {
				logger.Error("rebuild history index", "error", err)
			}
		}
	}

	repairAgentURL := os.Getenv("REPAIR_AGENT_URL")
	loop, err := executor.New(workspaceDir, q, registry, hist, repairAgentURL)
	if err != nil {
		logger.Error("initialize executor", "error", err)
		os.Exit(1)
	}

	scheduleStore := schedule.OpenStore(workspaceDir)
	scheduler := schedule.NewRunner(scheduleStore, q)
	scheduler.Start()
	defer scheduler.Stop()

	cleaner := cleanup.New(cleanup.DefaultConfig(workspaceDir))
	cleaner.Start()
	defer cleaner.Stop()

	if err := workspace.InjectBoot(q, workspaceDir, role); err != nil {
		logger.Error("inject boot message", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	addr := resolveAddr(runtimeCfg)
	server := &httpapi.Server{
		WorkspaceDir: workspaceDir,
		Queue:        q,
		Jobs:         registry,
		Loop:         loop,
		History:      hist,
		Scheduler:    scheduler,
	}
	httpSrv := &http.Server{Addr: addr, Handler: server.Handler()}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-loopErr:
		if err != nil {
			logger.Error("executor loop exited with error", "error", err)
			_ = wstore.AppendCrash(workspaceDir, wstore.CrashEvent{
				Timestamp: time.Now(),
				Source:    "executor",
				Message:   err.Error(),
				PID:       os.Getpid(),
				Workspace: workspaceDir,
			})
			shutdown(httpSrv, cancel, scheduler, cleaner)
			os.Exit(1)
		}
		logger.Info("executor loop reached max rounds, shutting down")
		shutdown(httpSrv, cancel, scheduler, cleaner)
	case err := <-serverErr:
		logger.Error("http server error", "error", err)
		shutdown(httpSrv, cancel, scheduler, cleaner)
		os.Exit(1)
	case sig := <-shutdownChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
		shutdown(httpSrv, cancel, scheduler, cleaner)
	}
}

func resolveAddr(runtimeCfg *config.RuntimeConfig) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	if runtimeCfg.Server.Address != "" {
		return runtimeCfg.Server.Address
	}
	return ":3000"
}

func shutdown(httpSrv *http.Server, cancel context.CancelFunc, scheduler *schedule.Runner, cleaner *cleanup.Cleaner) {
	cancel()

	ctx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()
	_ = httpSrv.Shutdown(ctx)

	scheduler.Stop()
	cleaner.Stop()
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	roleFlag := fs.String("role", config.RoleWorker, "role to initialize as (root or worker)")
	providerFlag := fs.String("provider", "echo", "default provider script name")
	_ = fs.Parse(args)

	rest := fs.Args()
	workspaceDir := "./workspace"
	if len(rest) > 0 {
		workspaceDir = rest[0]
	}
	absDir, err := filepath.Abs(workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid workspace path: %v\n", err)
		os.Exit(1)
	}

	if *roleFlag != config.RoleRoot && *roleFlag != config.RoleWorker {
		fmt.Fprintf(os.Stderr, "invalid role %q: must be %q or %q\n", *roleFlag, config.RoleRoot, config.RoleWorker)
		os.Exit(1)
	}

	if err := workspace.Init(absDir, *roleFlag, *providerFlag, ""); err != nil {
		fmt.Fprintf(os.Stderr, "initialize workspace: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("initialized %s workspace at %s\n", *roleFlag, absDir)
}

func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("token", flag.ExitOnError)
	workspaceFlag := fs.String("workspace", "./workspace", "workspace directory")
	routeFlag := fs.String("route", "", "route prefix to scope the token to")
	idFlag := fs.String("id", "", "token id, for revoke")
	_ = fs.Parse(args[1:])

	store, err := router.OpenTokenStore(*workspaceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open token store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	switch args[0] {
	case "create":
		if *routeFlag == "" {
			fmt.Fprintln(os.Stderr, "--route is required")
			os.Exit(1)
		}
		token, secret, err := store.Mint(*routeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("id:     %s\nsecret: %s\nroute:  %s\n", token.ID, secret, token.Route)
		fmt.Println("copy the secret into routes.json now; it is not stored and cannot be shown again")
	case "list":
		tokens, err := store.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list tokens: %v\n", err)
			os.Exit(1)
		}
		for _, t := range tokens {
			fmt.Printf("%s\troute=%s\tcreated=%s\n", t.ID, t.Route, t.CreatedAt.Format(time.RFC3339))
		}
	case "revoke":
		if *idFlag == "" {
			fmt.Fprintln(os.Stderr, "--id is required")
			os.Exit(1)
		}
		if err := store.Revoke(*idFlag); err != nil {
			fmt.Fprintf(os.Stderr, "revoke token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("revoked")
	case "help", "-h", "--help":
		printTokenUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown token command: %s\n", args[0])
		printTokenUsage()
		os.Exit(1)
	}
}

func printTokenUsage() {
	fmt.Print(`Token management

Usage: agentloom token <command> [options]

Commands:
  create --workspace <dir> --route <prefix>   Mint a token scoped to a route prefix
  list --workspace <dir>                      List all tokens
  revoke --workspace <dir> --id <id>          Revoke a token
  help                                        Show this help
`)
}

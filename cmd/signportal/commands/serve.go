package commands

import (
	"context"
	"fmt"
	"log"
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

	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/output"
	"github.com/signportal/signportal/internal/schedule"
	"github.com/signportal/signportal/internal/server"
	"github.com/signportal/signportal/internal/source"
	"github.com/signportal/signportal/internal/store"
)

// ServeCommand implements the serve command.
func ServeCommand(args []string) error {
	// Parse arguments
	dir := "."
	var configPath string
	var port string
	var host string
	var watch *bool
	var operator string
	var noSignups bool
	var dbPath string
	var openBrowser bool

	// Parse flags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--watch" || arg == "-w" {
			watchVal := true
			watch = &watchVal
		} else if arg == "--port" || arg == "-p" {
			if i+1 < len(args) {
				port = args[i+1]
				i++
			}
		} else if arg == "--host" {
			if i+1 < len(args) {
				host = args[i+1]
				i++
			}
		} else if arg == "--config" || arg == "-c" {
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		} else if arg == "--operator" || arg == "-o" {
			if i+1 < len(args) {
				operator = args[i+1]
				i++
			}
		} else if arg == "--no-signups" {
			noSignups = true
		} else if arg == "--db" {
			if i+1 < len(args) {
				dbPath = args[i+1]
				i++
			}
		} else if arg == "--open" {
			openBrowser = true
		} else if !strings.HasPrefix(arg, "-") {
			// Positional argument (directory)
			dir = arg
		}
	}

	// Set operator identity (defaults to $USER if not specified)
	config.SetOperator(operator)

	// Registration stays open unless the operator closes it
	config.SetAllowRegistration(!noSignups)

	// Check if directory exists
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	// Get absolute path
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Load configuration
	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Printf("📝 Using config: %s\n", configPath)
	} else {
		// Try to load from directory
		cfg, err = config.LoadFromDir(absDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	// CLI flags override config
	if port != "" {
		portInt, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port: %s", port)
		}
		cfg.Server.Port = portInt
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if watch != nil {
		cfg.Features.HotReload = *watch
	}
	if dbPath != "" {
		// --db points at a sqlite file regardless of what the config says
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = dbPath
	}

	fmt.Printf("🪧 SignPortal Server\n\n")
	fmt.Printf("Serving: %s\n", absDir)

	// Open the users store
	st, err := store.Open(cfg.Database.GetDriver(), cfg.Database.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to open users store: %w", err)
	}
	if cfg.Database.GetDriver() == "sqlite" {
		fmt.Printf("💾 Users store: sqlite (%s)\n", cfg.Database.GetDSN())
	} else {
		// Never echo the DSN, it carries credentials
		fmt.Printf("💾 Users store: %s\n", cfg.Database.GetDriver())
	}

	// Build notification outputs
	outputs, err := output.NewRegistryFromConfig(cfg.Outputs)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to configure outputs: %w", err)
	}

	// Build content sources
	sources, err := source.NewRegistry(cfg, absDir)
	if err != nil {
		st.Close()
		outputs.Close()
		return fmt.Errorf("failed to configure sources: %w", err)
	}

	// Create server; Close releases the store, outputs and sources with it
	srv := server.NewWithConfig(absDir, cfg)
	srv.SetStore(st)
	srv.SetOutputs(outputs)
	srv.SetSources(sources)
	defer srv.Close()

	// Discover pages
	if err := srv.Discover(); err != nil {
		return fmt.Errorf("failed to discover pages: %w", err)
	}

	// Print discovered pages
	fmt.Printf("\nPages discovered:\n")
	for _, route := range srv.Routes() {
		fmt.Printf("  %-30s %s\n", route.Pattern, route.FilePath)
	}

	// Enable watch mode if requested
	if cfg.Features.HotReload {
		if err := srv.EnableWatch(); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
		fmt.Printf("\n👀 Watch mode enabled - pages auto-reload on changes\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Schedule signup digests
	if len(cfg.Digests) > 0 {
		runner := schedule.NewRunner(schedule.RunnerConfig{
			StateDir: filepath.Join(absDir, ".signportal"),
			Store:    st,
			Outputs:  outputs,
		})
		for _, d := range cfg.Digests {
			if err := runner.Add(d.Name, d.Every, d.Outputs); err != nil {
				return fmt.Errorf("failed to schedule digest: %w", err)
			}
		}
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("failed to start digest runner: %w", err)
		}
		defer runner.Stop()
		fmt.Printf("📬 %d signup digest(s) scheduled\n", len(cfg.Digests))
	}

	// Start server
	addr := cfg.Server.Addr()
	fmt.Printf("\n🌐 Portal running at http://%s\n", addr)
	if op := config.GetOperator(); op != "" {
		fmt.Printf("👤 Operator: %s\n", op)
	}
	if !config.IsRegistrationAllowed() {
		fmt.Printf("🚫 Registration closed (--no-signups)\n")
	}
	if cfg.Security.IsAuthEnabled() {
		fmt.Printf("🔑 API key required for /users\n")
	}
	if cfg.Features.HotReload {
		fmt.Printf("📝 Edit .md files and see changes instantly\n")
	}
	if cfg.Features.Compression {
		fmt.Printf("⚡ Gzip compression enabled\n")
	}
	fmt.Printf("Press Ctrl+C to stop\n\n")

	handler, cleanupDone := srv.Handler(ctx)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	if openBrowser && !cfg.Features.Headless {
		browseURL := "http://" + addr
		if cfg.Server.Host == "" || cfg.Server.Host == "0.0.0.0" {
			browseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		launchBrowser(browseURL)
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		<-cleanupDone
	}

	return nil
}

// launchBrowser opens url in the default browser. Best effort: a portal
// that serves fine but cannot pop a window is not an error.
func launchBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Printf("Could not open browser: %v\n", err)
	}
}

func init() {
	log.SetFlags(0) // Remove timestamp from logs
}

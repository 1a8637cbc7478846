// Package embedded runs a portal site from an embedded filesystem. It is
// the entry point for single-binary distributions: embed the site content,
// call Serve, and the portal comes up with the full registration stack.
package embedded

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
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

// Serve extracts contentFS and serves it on addr until interrupted.
//
//	//go:embed site/*
//	var siteFS embed.FS
//
//	func main() {
//	    embedded.Serve(siteFS, "site", "localhost:8080")
//	}
func Serve(contentFS fs.FS, rootPath string, addr string) error {
	return ServeWithOptions(Options{
		ContentFS: contentFS,
		RootPath:  rootPath,
		Addr:      addr,
	})
}

// Options configures the embedded server.
type Options struct {
	// ContentFS holds the portal pages and optional config.
	ContentFS fs.FS

	// RootPath is the path prefix inside ContentFS (e.g. "site").
	RootPath string

	// Addr is the listen address. Empty means the configured server address.
	Addr string

	// Config overrides the config shipped inside ContentFS (optional).
	Config *config.Config

	// OnReady runs once the server is accepting connections (optional).
	OnReady func()

	// Quiet suppresses startup messages.
	Quiet bool
}

// ServeWithOptions extracts the embedded site to a temporary directory and
// serves it with the same stack the serve command uses: users store,
// notification outputs, strip sources and signup digests.
func ServeWithOptions(opts Options) error {
	tmpDir, err := os.MkdirTemp("", "signportal-embedded-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractFS(opts.ContentFS, opts.RootPath, tmpDir); err != nil {
		return fmt.Errorf("failed to extract embedded content: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.LoadFromDir(tmpDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	// Relative sqlite paths resolve against the working directory, not the
	// extracted copy. The extracted copy is wiped on exit; registrations
	// must not be.
	st, err := store.Open(cfg.Database.GetDriver(), cfg.Database.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to open users store: %w", err)
	}

	outputs, err := output.NewRegistryFromConfig(cfg.Outputs)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to configure outputs: %w", err)
	}

	sources, err := source.NewRegistry(cfg, tmpDir)
	if err != nil {
		st.Close()
		outputs.Close()
		return fmt.Errorf("failed to configure sources: %w", err)
	}

	srv := server.NewWithConfig(tmpDir, cfg)
	srv.SetStore(st)
	srv.SetOutputs(outputs)
	srv.SetSources(sources)
	defer srv.Close()

	if err := srv.Discover(); err != nil {
		return fmt.Errorf("failed to discover pages: %w", err)
	}

	if !opts.Quiet {
		fmt.Printf("\nPages discovered:\n")
		for _, route := range srv.Routes() {
			fmt.Printf("  %-30s %s\n", route.Pattern, route.FilePath)
		}
		fmt.Println()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Digests) > 0 {
		// Digest state lives next to the users db so cadence survives
		// restarts of the binary.
		runner := schedule.NewRunner(schedule.RunnerConfig{
			StateDir: ".signportal",
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
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Server.Addr()
	}

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

	if !opts.Quiet {
		fmt.Printf("🌐 Portal running at http://%s\n", addr)
	}
	if opts.OnReady != nil {
		opts.OnReady()
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		if !opts.Quiet {
			fmt.Println("\nShutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		<-cleanupDone
	}

	return nil
}

// extractFS copies the embedded site onto disk so the server can walk it
// like any other directory.
func extractFS(contentFS fs.FS, rootPath string, destDir string) error {
	srcFS := contentFS
	if rootPath != "" && rootPath != "." {
		sub, err := fs.Sub(contentFS, rootPath)
		if err != nil {
			return fmt.Errorf("failed to get sub-filesystem at %q: %w", rootPath, err)
		}
		srcFS = sub
	}

	cleanDest := filepath.Clean(destDir)

	return fs.WalkDir(srcFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		destPath := filepath.Join(destDir, path)

		// Every extracted path must stay inside destDir.
		cleanPath := filepath.Clean(destPath)
		if cleanPath != cleanDest && !strings.HasPrefix(cleanPath, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("path traversal detected: %q resolves outside destination directory", path)
		}

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		content, err := fs.ReadFile(srcFS, path)
		if err != nil {
			return fmt.Errorf("failed to read embedded file %q: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return err
		}
		return os.WriteFile(destPath, content, 0644)
	})
}

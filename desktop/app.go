package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/signportal/signportal/internal/config"
	"github.com/signportal/signportal/internal/output"
	"github.com/signportal/signportal/internal/server"
	"github.com/signportal/signportal/internal/source"
	"github.com/signportal/signportal/internal/store"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// App holds the desktop preview state: the loaded portal and the local
// server behind the webview.
type App struct {
	ctx        context.Context
	server     *server.Server
	httpServer *http.Server
	serverPort int
	currentDir string
	mu         sync.RWMutex
}

// NewApp creates the application struct.
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// shutdown is called when the app is closing.
func (a *App) shutdown(ctx context.Context) {
	a.stopServer()
}

// stopServer tears down the running portal, if any. Closing the server
// releases the store, outputs and sources with it.
func (a *App) stopServer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpServer != nil {
		a.httpServer.Close()
		a.httpServer = nil
	}
	if a.server != nil {
		a.server.StopWatch()
		a.server.Close()
		a.server = nil
	}
	a.serverPort = 0
	a.currentDir = ""
}

// OpenPortal shows a directory picker and loads the selected portal site.
func (a *App) OpenPortal() (string, error) {
	selection, err := runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Open Portal Directory",
	})
	if err != nil {
		return "", err
	}

	if selection == "" {
		return "", nil
	}

	if err := a.loadDirectory(selection); err != nil {
		return "", err
	}

	return selection, nil
}

// loadDirectory starts a portal server for dir on a free local port.
func (a *App) loadDirectory(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	a.stopServer()

	cfg, err := config.LoadFromDir(absDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Previews always reload on edit.
	cfg.Features.HotReload = true

	// A relative sqlite path belongs to the portal, not to wherever the
	// desktop app was launched from.
	dsn := cfg.Database.GetDSN()
	if cfg.Database.GetDriver() == "sqlite" && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(absDir, dsn)
	}
	st, err := store.Open(cfg.Database.GetDriver(), dsn)
	if err != nil {
		return fmt.Errorf("failed to open users store: %w", err)
	}

	outputs, err := output.NewRegistryFromConfig(cfg.Outputs)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to configure outputs: %w", err)
	}

	sources, err := source.NewRegistry(cfg, absDir)
	if err != nil {
		st.Close()
		outputs.Close()
		return fmt.Errorf("failed to configure sources: %w", err)
	}

	srv := server.NewWithConfig(absDir, cfg)
	srv.SetStore(st)
	srv.SetOutputs(outputs)
	srv.SetSources(sources)

	if err := srv.Discover(); err != nil {
		srv.Close()
		return fmt.Errorf("failed to discover pages: %w", err)
	}

	if err := srv.EnableWatch(); err != nil {
		srv.Close()
		return fmt.Errorf("failed to enable watch mode: %w", err)
	}

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		srv.Close()
		return fmt.Errorf("failed to find free port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: server.WithCompression(srv),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	a.mu.Lock()
	a.server = srv
	a.httpServer = httpServer
	a.serverPort = port
	a.currentDir = absDir
	a.mu.Unlock()

	runtime.WindowSetTitle(a.ctx, fmt.Sprintf("SignPortal - %s", filepath.Base(absDir)))

	serverURL := fmt.Sprintf("http://127.0.0.1:%d/", port)
	runtime.EventsEmit(a.ctx, "navigate", serverURL)

	return nil
}

// GetCurrentDirectory returns the currently loaded portal directory.
func (a *App) GetCurrentDirectory() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentDir
}

// GetServerURL returns the URL of the running portal, or empty string if
// nothing is loaded.
func (a *App) GetServerURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.serverPort == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/", a.serverPort)
}

// GetRoutes returns the discovered pages for the frontend.
func (a *App) GetRoutes() []RouteInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.server == nil {
		return nil
	}

	routes := a.server.Routes()
	result := make([]RouteInfo, len(routes))
	for i, r := range routes {
		result[i] = RouteInfo{
			Pattern:  r.Pattern,
			FilePath: r.FilePath,
		}
	}
	return result
}

// RouteInfo represents a discovered page for the frontend.
type RouteInfo struct {
	Pattern  string `json:"pattern"`
	FilePath string `json:"filePath"`
}

// GetHandler serves the loaded portal, or the welcome screen before a
// portal is opened.
func (a *App) GetHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		srv := a.server
		a.mu.RUnlock()

		if srv != nil {
			server.WithCompression(srv).ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(welcomeHTML))
	})
}

const welcomeHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8"/>
    <meta content="width=device-width, initial-scale=1.0" name="viewport"/>
    <title>SignPortal Desktop</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            background: linear-gradient(135deg, #0f172a 0%, #1e293b 100%);
            color: #fff;
            min-height: 100vh;
            display: flex;
            flex-direction: column;
            align-items: center;
            justify-content: center;
            padding: 2rem;
        }
        .container {
            text-align: center;
            max-width: 600px;
        }
        h1 {
            font-size: 2.5rem;
            margin-bottom: 1rem;
            background: linear-gradient(90deg, #38bdf8, #6366f1);
            -webkit-background-clip: text;
            -webkit-text-fill-color: transparent;
            background-clip: text;
        }
        p {
            color: #94a3b8;
            font-size: 1.1rem;
            line-height: 1.6;
            margin-bottom: 2rem;
        }
        button {
            background: linear-gradient(135deg, #6366f1 0%, #38bdf8 100%);
            border: none;
            color: white;
            padding: 0.875rem 1.75rem;
            font-size: 1rem;
            border-radius: 8px;
            cursor: pointer;
            transition: transform 0.2s, box-shadow 0.2s;
        }
        button:hover {
            transform: translateY(-2px);
            box-shadow: 0 4px 20px rgba(99, 102, 241, 0.4);
        }
        button:active {
            transform: translateY(0);
        }
        .keyboard-hint {
            margin-top: 2rem;
            color: #64748b;
            font-size: 0.875rem;
        }
        kbd {
            background: #334155;
            border-radius: 4px;
            padding: 0.25rem 0.5rem;
            font-family: monospace;
        }
        #status {
            margin-top: 1rem;
            font-size: 0.875rem;
            min-height: 1.5em;
        }
        .error { color: #ef4444; }
        .success { color: #22c55e; }
    </style>
</head>
<body>
    <div class="container">
        <h1>SignPortal Desktop</h1>
        <p>Open a portal directory to preview its landing pages, account dialog and live strips.</p>
        <button id="openPortal">Open Portal</button>
        <p class="keyboard-hint">
            <kbd>Cmd+O</kbd> / <kbd>Ctrl+O</kbd> to open
        </p>
        <p id="status"></p>
    </div>
    <script>
        function initApp() {
            const statusEl = document.getElementById('status');

            function showStatus(message, type) {
                statusEl.textContent = message;
                statusEl.className = type || '';
            }

            showStatus('Ready', 'success');

            document.getElementById('openPortal').addEventListener('click', async function() {
                try {
                    showStatus('Opening directory dialog...');
                    const dir = await window.go.main.App.OpenPortal();
                    if (dir) {
                        showStatus('Loading ' + dir + '...', 'success');
                        setTimeout(async () => {
                            const url = await window.go.main.App.GetServerURL();
                            if (url) {
                                window.location.href = url;
                            } else {
                                showStatus('Server not started', 'error');
                            }
                        }, 500);
                    } else {
                        showStatus('Ready', 'success');
                    }
                } catch (err) {
                    showStatus('Error: ' + err, 'error');
                }
            });
        }

        // Wait for the Wails runtime to be available
        function waitForWails() {
            if (window.go && window.runtime) {
                initApp();
                window.runtime.EventsOn('navigate', function(url) {
                    window.location.href = url;
                });
            } else {
                setTimeout(waitForWails, 50);
            }
        }

        if (document.readyState === 'loading') {
            document.addEventListener('DOMContentLoaded', waitForWails);
        } else {
            waitForWails();
        }
    </script>
</body>
</html>`

// Package app wires the markmux registries together.
//
// It is the composition root: every registry is constructed here,
// explicitly, and handed to its consumers by reference. Nothing in the
// engine reaches for a global.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"

	"markmux/internal/command"
	"markmux/internal/config"
	"markmux/internal/docstore"
	"markmux/internal/document"
	"markmux/internal/modetrack"
	"markmux/internal/session"
	"markmux/internal/surface"
	"markmux/internal/surface/transport"
	"markmux/internal/vfs"
	"markmux/internal/watcher"
)

var log = commonlog.GetLogger("app")

// Options are the command-line level settings.
type Options struct {
	// ConfigPath is the TOML configuration file; empty uses defaults.
	ConfigPath string

	// Mode overrides the configured default presentation mode.
	Mode string
}

// App owns the full registry stack.
type App struct {
	cfg config.Config

	docs     *docstore.Store
	modes    *modetrack.Tracker
	commands *command.Registry
	sessions *session.Store
	surfaces *surface.Registry

	policy *modetrack.LuaPolicy
	server *http.Server

	openMode document.Mode
}

// stderrNotifier is the user-visible error channel of a terminal host.
type stderrNotifier struct{}

func (stderrNotifier) NotifyError(message string) {
	fmt.Fprintf(os.Stderr, "error: %s\n", message)
}

// New builds the application from its configuration.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	openMode := cfg.Mode()
	if opts.Mode != "" {
		openMode = document.Mode(opts.Mode)
		if !openMode.Valid() {
			return nil, fmt.Errorf("%w: unknown mode %q", config.ErrInvalidConfig, opts.Mode)
		}
	}

	base, err := watcher.NewFSNotifyWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	var watch watcher.Watcher = base
	if delay := cfg.DebounceDelay(); delay > 0 {
		watch = watcher.NewDebouncedWatcher(base, delay)
	}

	docs := docstore.NewStore(vfs.NewOSFS(), watch,
		docstore.WithDefaultMode(cfg.Mode()),
		docstore.WithMaxFileSize(cfg.Limits.MaxFileSize),
	)

	modeOpts := []modetrack.Option{modetrack.WithDefaultMode(cfg.Mode())}
	var policy *modetrack.LuaPolicy
	if cfg.ModePolicyScript != "" {
		policy, err = modetrack.NewLuaPolicy(cfg.ModePolicyScript)
		if err != nil {
			docs.Shutdown()
			return nil, fmt.Errorf("loading mode policy: %w", err)
		}
		modeOpts = append(modeOpts, modetrack.WithPolicy(policy.Policy()))
	}
	modes := modetrack.NewTracker(docs, modeOpts...)

	commands := command.NewRegistry()
	commands.Register(command.Command{
		Name:        "save-all",
		Description: "Save every dirty document",
		Handler: func(ctx context.Context, args []string) error {
			failures := docs.SaveAll(ctx)
			for id, err := range failures {
				log.Errorf("save %s: %v", id, err)
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d documents failed to save", len(failures))
			}
			return nil
		},
	})

	surfaceOpts := []surface.Option{surface.WithNotifier(stderrNotifier{})}
	var sessions *session.Store
	if cfg.Session.Path != "" {
		sessions, err = session.NewStore(cfg.Session.Path)
		if err != nil {
			modes.Dispose()
			docs.Shutdown()
			if policy != nil {
				policy.Close()
			}
			return nil, err
		}
		surfaceOpts = append(surfaceOpts, surface.WithSessions(sessions))
	}

	surfaces := surface.NewRegistry(docs, modes, commands, surfaceOpts...)

	return &App{
		cfg:      cfg,
		docs:     docs,
		modes:    modes,
		commands: commands,
		sessions: sessions,
		surfaces: surfaces,
		policy:   policy,
		openMode: openMode,
	}, nil
}

// Surfaces returns the surface registry, for hosts embedding the engine.
func (a *App) Surfaces() *surface.Registry {
	return a.surfaces
}

// Commands returns the command registry.
func (a *App) Commands() *command.Registry {
	return a.commands
}

// Run restores persisted surfaces, opens the requested resources and,
// when configured, serves remote surfaces over websocket. It blocks
// until the context is cancelled.
func (a *App) Run(ctx context.Context, paths []string) error {
	a.surfaces.RestoreAll(ctx)

	for _, path := range paths {
		if _, err := a.surfaces.Create(ctx, path, a.openMode); err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
	}

	if a.cfg.Listen != "" {
		if err := a.serveRemote(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// serveRemote accepts websocket surfaces. A client connects with the
// resource path and mode as query parameters and then speaks the surface
// protocol.
func (a *App) serveRemote(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/surface", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			http.Error(w, "missing path", http.StatusBadRequest)
			return
		}
		mode := document.Mode(r.URL.Query().Get("mode"))
		if mode == "" {
			mode = a.openMode
		}
		if !mode.Valid() {
			http.Error(w, "invalid mode", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warningf("websocket upgrade: %v", err)
			return
		}

		if _, err := a.surfaces.Attach(r.Context(), path, mode, transport.NewWSChannel(conn)); err != nil {
			log.Errorf("attaching remote surface for %s: %v", path, err)
		}
	})

	a.server = &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Give a failing bind a moment to surface before reporting startup.
	select {
	case err := <-errCh:
		return fmt.Errorf("serving remote surfaces: %w", err)
	case <-time.After(100 * time.Millisecond):
		log.Infof("serving remote surfaces on %s", a.cfg.Listen)
		return nil
	}
}

// Shutdown persists surface state and tears the stack down in reverse
// construction order.
func (a *App) Shutdown() {
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.server.Shutdown(shutdownCtx)
		cancel()
	}

	a.surfaces.PersistAll()
	a.surfaces.Shutdown()
	a.modes.Dispose()
	a.docs.Shutdown()

	if a.sessions != nil {
		_ = a.sessions.Close()
	}
	if a.policy != nil {
		a.policy.Close()
	}
}

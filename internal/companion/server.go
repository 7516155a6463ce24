// Package companion embeds the LAN-facing HTTP server: a JSON API under
// /api mirroring the local read/write contract, PIN-gated behind a session
// cookie, plus the static single-page web client. It reuses the exact same
// cache readers and action service the CLI uses, so every invariant of the
// write path (optimistic update + enqueue in one step, single-flight per
// local comment) holds regardless of which surface the user came in from.
package companion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ultragitlab/ultragitlab/internal/actions"
	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/cachedb"
	"github.com/ultragitlab/ultragitlab/internal/cacheread"
	"github.com/ultragitlab/ultragitlab/internal/companionauth"
	"github.com/ultragitlab/ultragitlab/internal/config"
	"github.com/ultragitlab/ultragitlab/internal/eventbus"
	"github.com/ultragitlab/ultragitlab/internal/queue"
	"github.com/ultragitlab/ultragitlab/internal/syncengine"
)

// SyncEngine is the slice of the sync engine the companion API needs:
// status for /api/sync/status and the fire-and-forget trigger for
// /api/sync/trigger and the post-write approval flush.
type SyncEngine interface {
	Status() syncengine.Status
	TriggerSync()
}

// Server is the companion HTTP server.
type Server struct {
	reader   *cacheread.Reader
	queue    *queue.Queue
	actions  *actions.Service
	auth     *companionauth.Authenticator
	settings *config.Manager
	engine   SyncEngine
	bus      *eventbus.Bus
	port     int

	httpServer *http.Server
}

// New wires a Server. engine may be nil when no sync loop is running (the
// API still serves reads; trigger becomes a no-op).
func New(db *cachedb.DB, settings *config.Manager, engine SyncEngine, bus *eventbus.Bus) *Server {
	var notifier actions.Notifier
	if engine != nil {
		notifier = engine
	}
	s := &Server{
		reader:   cacheread.New(db),
		queue:    queue.New(db),
		actions:  actions.New(db, notifier),
		auth:     companionauth.New(settings),
		settings: settings,
		engine:   engine,
		bus:      bus,
		port:     settings.Settings().CompanionServer.Port,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Auth exposes the authenticator for the CLI's pin-regeneration command
// when it runs in the same process as the server.
func (s *Server) Auth() *companionauth.Authenticator { return s.auth }

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }

// Run serves until ctx is canceled, then drains in-flight requests with a
// bounded graceful shutdown. It also watches settings.json so a PIN
// regenerated by the CLI takes effect without a restart.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("companion listen on %s: %w", s.httpServer.Addr, err)
	}

	watcherDone := make(chan struct{})
	go s.watchSettings(ctx, watcherDone)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()
	applog.Info("companion: listening on %s", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			applog.Warn("companion: shutdown: %v", err)
		}
		<-watcherDone
		return nil
	case err := <-serveErr:
		<-watcherDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// watchSettings reloads the settings manager when settings.json changes on
// disk, so PIN changes made by another process (the CLI) apply live. Port
// changes still require a restart; that is logged rather than acted on.
func (s *Server) watchSettings(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		applog.Warn("companion: settings watcher unavailable: %v", err)
		return
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and the atomic
	// rename-into-place in config replace the inode, which a file watch
	// would silently lose.
	if err := watcher.Add(filepath.Dir(s.settings.Path())); err != nil {
		applog.Warn("companion: watch settings dir: %v", err)
		return
	}

	var debounce *time.Timer
	reload := func() {
		if err := s.settings.Reload(); err != nil {
			applog.Warn("companion: reload settings: %v", err)
			return
		}
		if newPort := s.settings.Settings().CompanionServer.Port; newPort != s.port {
			applog.Warn("companion: port changed to %d in settings; restart to apply", newPort)
		}
		applog.Info("companion: settings reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(s.settings.Path()) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			applog.Warn("companion: settings watcher: %v", err)
		}
	}
}

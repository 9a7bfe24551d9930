package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/livefir/vivid"
	"github.com/livefir/vivid/cmd/vivid/internal/config"
	"github.com/livefir/vivid/internal/metrics"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a vivid.yaml config file")
	listen := fs.String("listen", "", "override the listen address")
	root := fs.String("root", "", "override the page root directory")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *root != "" {
		cfg.Root = *root
		cfg.BaseDir = *root
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	srv := newPageServer(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.routes(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("vivid: serving %s on http://%s", cfg.Root, cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if cfg.ReloadInterval() > 0 {
		g.Go(func() error {
			srv.watch(ctx)
			return nil
		})
	}
	return g.Wait()
}

// pageServer maps request paths onto HTML files under the configured root
// and serves each through its own live handler. Pages are discovered
// lazily on first request.
type pageServer struct {
	cfg     *config.Config
	metrics *metrics.Collector
	logger  *log.Logger

	mu    sync.Mutex
	pages map[string]*livePage // keyed by absolute file path
}

// livePage is one served HTML file: the current handler plus the sessions
// watching it, so a file change can re-mount and push to every client.
type livePage struct {
	file    string
	handler atomic.Pointer[vivid.LiveHandler]

	mu       sync.Mutex
	modTime  time.Time
	sessions map[*vivid.Session]struct{}
}

func (p *livePage) track(s *vivid.Session) {
	p.mu.Lock()
	p.sessions[s] = struct{}{}
	p.mu.Unlock()
}

func (p *livePage) untrack(s *vivid.Session) {
	p.mu.Lock()
	delete(p.sessions, s)
	p.mu.Unlock()
}

func (p *livePage) snapshot() []*vivid.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*vivid.Session, 0, len(p.sessions))
	for s := range p.sessions {
		out = append(out, s)
	}
	return out
}

func newPageServer(cfg *config.Config, logger *log.Logger) *pageServer {
	return &pageServer{
		cfg:     cfg,
		metrics: metrics.NewCollector(),
		logger:  logger,
		pages:   make(map[string]*livePage),
	}
}

func (s *pageServer) routes() http.Handler {
	r := mux.NewRouter()
	if s.cfg.Metrics {
		r.HandleFunc("/metrics", s.serveMetrics).Methods(http.MethodGet)
	}
	r.PathPrefix("/").HandlerFunc(s.servePage)
	return r
}

func (s *pageServer) serveMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.metrics.Snapshot()); err != nil {
		s.logger.Printf("vivid: encode metrics: %v", err)
	}
}

func (s *pageServer) servePage(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	if rel == "" {
		rel = "index.html"
	}
	full := filepath.Join(s.cfg.Root, filepath.Clean("/"+rel))

	if filepath.Ext(full) == "" {
		full += ".html"
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	if filepath.Ext(full) != ".html" {
		http.ServeFile(w, r, full)
		return
	}

	page, err := s.page(full, info.ModTime())
	if err != nil {
		s.logger.Printf("vivid: page %s: %v", full, err)
		http.Error(w, "page failed to load", http.StatusInternalServerError)
		return
	}
	page.handler.Load().ServeHTTP(w, r)
}

func (s *pageServer) page(file string, modTime time.Time) (*livePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[file]; ok {
		return p, nil
	}
	p := &livePage{
		file:     file,
		modTime:  modTime,
		sessions: make(map[*vivid.Session]struct{}),
	}
	h, err := s.buildHandler(p)
	if err != nil {
		return nil, err
	}
	p.handler.Store(h)
	s.pages[file] = p
	return p, nil
}

func (s *pageServer) buildHandler(p *livePage) (*vivid.LiveHandler, error) {
	markup, err := os.ReadFile(p.file)
	if err != nil {
		return nil, err
	}
	seed, err := loadStateFile(sidecarPath(p.file))
	if err != nil {
		s.logger.Printf("vivid: state sidecar for %s: %v", p.file, err)
	}

	setup := func(st *vivid.State) {
		for k, v := range seed {
			st.Set(k, v)
		}
	}
	return vivid.Live(string(markup), setup,
		vivid.WithDocOptions(
			vivid.WithBaseDir(s.cfg.BaseDir),
			vivid.WithMetrics(s.metrics),
			vivid.WithMinify(s.cfg.Minify),
			vivid.WithLogger(s.logger),
		),
		vivid.WithOnConnect(p.track),
		vivid.WithOnDisconnect(p.untrack),
	), nil
}

// sidecarPath is the YAML state file paired with an HTML page.
func sidecarPath(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file)) + ".yaml"
}

// watch polls served pages and their sidecars for changes, swapping in a
// fresh handler and re-mounting connected sessions when a file changes.
func (s *pageServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReloadInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range s.snapshotPages() {
				s.checkPage(p)
			}
		}
	}
}

func (s *pageServer) snapshotPages() []*livePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*livePage, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	return out
}

func (s *pageServer) checkPage(p *livePage) {
	latest := fileModTime(p.file)
	if side := fileModTime(sidecarPath(p.file)); side.After(latest) {
		latest = side
	}
	p.mu.Lock()
	changed := latest.After(p.modTime)
	if changed {
		p.modTime = latest
	}
	p.mu.Unlock()
	if !changed {
		return
	}

	s.logger.Printf("vivid: reloading %s", p.file)
	h, err := s.buildHandler(p)
	if err != nil {
		s.logger.Printf("vivid: reload %s: %v", p.file, err)
		return
	}
	p.handler.Store(h)

	markup, err := os.ReadFile(p.file)
	if err != nil {
		return
	}
	seed, _ := loadStateFile(sidecarPath(p.file))
	for _, sess := range p.snapshot() {
		for k, v := range seed {
			sess.State().Set(k, v)
		}
		if err := sess.Document().Mount(string(markup)); err != nil {
			s.logger.Printf("vivid: remount %s: %v", p.file, err)
			continue
		}
		if err := sess.Push(); err != nil {
			s.logger.Printf("vivid: push %s: %v", p.file, err)
		}
	}
}

func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

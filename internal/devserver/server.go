// Package devserver serves the project during development: it proxies the
// local site, injects a live-reload client into HTML pages and pushes reload
// signals to connected browsers over a websocket.
package devserver

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kination/assetflow/internal/metrics"
	"github.com/kination/assetflow/internal/store"
)

var log = logf.Log.WithName("devserver")

const (
	SocketPath  = "/__assetflow/livereload"
	ClientPath  = "/__assetflow/livereload.js"
	MetricsPath = "/__assetflow/metrics"
	RunsPath    = "/__assetflow/runs"

	shutdownTimeout = 5 * time.Second
)

var ErrNotStarted = errors.New("dev server not started")

//go:embed livereload.js
var clientScript []byte

// Config holds dev server settings
type Config struct {
	// Listen is the local address
	Listen string
	// Proxy is the upstream site; empty serves files from Root
	Proxy string
	// Root is the project directory
	Root string
}

// Server is the development server. It implements scheduler.Reloader.
type Server struct {
	config  Config
	metrics *metrics.Metrics
	history store.Store
	hub     *hub

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	hooks    []func()
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on the metrics endpoint and counts reloads.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHistory serves the build runs recorded in st on the runs endpoint.
func WithHistory(st store.Store) Option {
	return func(s *Server) { s.history = st }
}

// OnReload registers fn to run when the server starts and before every
// reload or stream signal.
func OnReload(fn func()) Option {
	return func(s *Server) { s.hooks = append(s.hooks, fn) }
}

// New creates a dev server. Init starts it.
func New(config Config, opts ...Option) *Server {
	s := &Server{config: config, hub: newHub()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init starts listening and serving. It returns once the listener is bound;
// the server stops when ctx is cancelled or Close is called.
func (s *Server) Init(ctx context.Context) error {
	handler, err := s.handler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.mu.Unlock()

	s.runHooks()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Dev server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	upstream := s.config.Proxy
	if upstream == "" {
		upstream = s.config.Root
	}
	log.Info("Dev server started", "url", "http://"+displayAddr(ln.Addr()), "upstream", upstream)
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil, ErrNotStarted
	}
	return s.listener.Addr(), nil
}

// Clients returns the number of connected browsers.
func (s *Server) Clients() int {
	return s.hub.count()
}

// Reload asks every browser to reload the page.
func (s *Server) Reload() {
	s.runHooks()
	s.metrics.ObserveReload(metrics.ReloadPage)
	log.Info("Reloading browsers", "clients", s.hub.count())
	s.hub.broadcast(Message{Type: MessageReload})
}

// Stream asks every browser to refresh its style sheets.
func (s *Server) Stream(paths []string) {
	s.runHooks()
	s.metrics.ObserveReload(metrics.ReloadStream)
	log.Info("Injecting styles", "clients", s.hub.count(), "paths", paths)
	s.hub.broadcast(Message{Type: MessageCSS, Paths: paths})
}

// Notify shows msg in every browser.
func (s *Server) Notify(msg string) {
	s.hub.broadcast(Message{Type: MessageNotify, Message: msg})
}

// Close stops the server and disconnects every browser.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.hub.closeAll()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) runHooks() {
	for _, fn := range s.hooks {
		fn()
	}
}

func (s *Server) handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(SocketPath, s.hub.serveWS)
	mux.HandleFunc(ClientPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(clientScript)
	})
	if s.metrics != nil {
		mux.Handle(MetricsPath, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if s.history != nil {
		mux.HandleFunc("GET "+RunsPath, s.serveRuns)
		mux.HandleFunc("GET "+RunsPath+"/{id}", s.serveRun)
	}

	if s.config.Proxy == "" {
		mux.Handle("/", s.fileHandler())
		return mux, nil
	}

	target, err := url.Parse(s.config.Proxy)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", s.config.Proxy)
	}
	mux.Handle("/", s.proxyHandler(target))
	return mux, nil
}

func (s *Server) proxyHandler(target *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			// Bodies are rewritten, so ask for them uncompressed.
			r.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: func(resp *http.Response) error {
			if !isHTML(resp.Header.Get("Content-Type")) || resp.Header.Get("Content-Encoding") != "" {
				return nil
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return err
			}
			body = inject(body)
			resp.Body = io.NopCloser(bytes.NewReader(body))
			resp.ContentLength = int64(len(body))
			resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error(err, "Proxy request failed", "path", r.URL.Path, "upstream", target.String())
			http.Error(w, fmt.Sprintf("upstream %s unavailable: %v", target.Host, err), http.StatusBadGateway)
		},
	}
}

// fileHandler serves the project root, injecting the client into HTML files.
func (s *Server) fileHandler() http.Handler {
	files := http.FileServer(http.Dir(s.config.Root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		p := filepath.Join(s.config.Root, filepath.FromSlash(name))
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			p = filepath.Join(p, "index.html")
		}
		if !strings.HasSuffix(strings.ToLower(p), ".html") {
			files.ServeHTTP(w, r)
			return
		}
		body, err := os.ReadFile(p)
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}
		body = inject(body)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(body)
	})
}

func displayAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

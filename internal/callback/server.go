package callback

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"

	"remoteauth/pkg/oauth"
)

const (
	// DefaultHost is the host the redirect URI names.
	DefaultHost = "localhost"

	// loopbackIP is bound when the host is "localhost", so the listener does
	// not depend on how the resolver orders 127.0.0.1 and ::1.
	loopbackIP = "127.0.0.1"

	// DefaultPath is the redirect path.
	DefaultPath = "/oauth/callback"

	// shutdownTimeout bounds graceful shutdown in Stop.
	shutdownTimeout = 5 * time.Second
)

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Funcs(sprig.FuncMap()).Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Funcs(sprig.FuncMap()).Parse(callbackErrorHTML))
)

// Result is the outcome carried by the authorization redirect.
type Result struct {
	// Code is the authorization code.
	Code string

	// State is the state parameter, if the request carried one.
	State string

	// Error is the OAuth error code if authorization failed.
	Error string

	// ErrorDescription is the human-readable error description.
	ErrorDescription string
}

// IsError returns true if the redirect reported an authorization error.
func (r *Result) IsError() bool {
	return r.Error != ""
}

// Config configures the callback listener.
type Config struct {
	// Host defaults to localhost. "localhost" binds 127.0.0.1 and is kept in
	// the redirect URI.
	Host string

	// Port 0 binds an ephemeral port.
	Port int

	// Path defaults to /oauth/callback.
	Path string

	// Application is shown on the success page.
	Application string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is a local HTTP listener for the authorization redirect.
//
// The first request carrying a code or an error is delivered to Wait; later
// requests still get a page but are not delivered. The server does not stop
// itself: the owner calls Stop, which is safe to repeat.
type Server struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	port     int

	resultCh    chan *Result
	errorCh     chan error
	deliverOnce sync.Once
	stopOnce    sync.Once
}

// NewServer creates a callback listener. Nothing is bound until Start.
func NewServer(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:   cfg,
		logger:   logger,
		port:     cfg.Port,
		resultCh: make(chan *Result, 1),
		errorCh:  make(chan error, 1),
	}
}

// Start binds the listener and begins serving. It returns the redirect URI.
// A bind failure is a configuration error; no other port is tried.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.redirectURILocked(), nil
	}

	addr := net.JoinHostPort(bindHost(s.config.Host), strconv.Itoa(s.config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", oauth.NewError(oauth.KindConfiguration, "bind callback listener on "+addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}(s.server, listener)

	s.logger.Debug("Callback listener started", "address", listener.Addr().String(), "path", s.config.Path)

	return s.redirectURILocked(), nil
}

// Wait blocks until a code or error is delivered, serving fails, or ctx ends.
func (s *Server) Wait(ctx context.Context) (*Result, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the listener down. Errors are logged, not returned.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return
	}

	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("Callback listener shutdown failed", "error", err)
			if err := srv.Close(); err != nil {
				s.logger.Warn("Callback listener close failed", "error", err)
			}
		}
		s.logger.Debug("Callback listener stopped", "port", s.Port())
	})
}

// RedirectURI returns the redirect URI the listener answers.
func (s *Server) RedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirectURILocked()
}

func (s *Server) redirectURILocked() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(s.config.Host, strconv.Itoa(s.port)), s.config.Path)
}

// Port returns the bound port, or the configured one before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.config.Path {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	setSecurityHeaders(w)

	query := r.URL.Query()
	result := &Result{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	switch {
	case result.IsError():
		s.deliver(result)
		s.render(w, http.StatusBadRequest, errorTemplate, map[string]string{
			"Error":       result.Error,
			"Description": result.ErrorDescription,
		})
	case result.Code != "":
		s.deliver(result)
		s.render(w, http.StatusOK, successTemplate, map[string]string{
			"Application": s.config.Application,
		})
	default:
		s.logger.Debug("Callback request without code or error", "remote_addr", r.RemoteAddr)
		s.render(w, http.StatusBadRequest, errorTemplate, map[string]string{
			"Error":       "invalid_request",
			"Description": "The redirect did not include an authorization code.",
		})
	}
}

// deliver hands the first meaningful result to Wait; later ones are dropped.
func (s *Server) deliver(result *Result) {
	delivered := false
	s.deliverOnce.Do(func() {
		delivered = true
		s.resultCh <- result
	})
	if !delivered {
		s.logger.Debug("Ignoring repeated callback request")
	}
}

func (s *Server) render(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		s.logger.Error("Failed to render callback page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// bindHost maps the configured host to the address the listener binds.
func bindHost(host string) string {
	if strings.EqualFold(host, DefaultHost) {
		return loopbackIP
	}
	return host
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

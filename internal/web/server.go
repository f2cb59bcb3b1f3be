package web

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/gorilla/mux"
)

// Auth enables HTTP basic auth when Password is set.
type Auth struct {
	Username string
	Password string
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	auth     Auth
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, auth Auth, broadcaster *LogBroadcaster, hub *Hub, service *Service, rotor Rotor) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: failed to sub static fs: %w", err)
	}

	return &Server{
		addr:     addr,
		auth:     auth,
		handlers: NewHandlers(broadcaster, hub, service, rotor, subFS),
	}, nil
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	if s.auth.Password != "" {
		r.Use(s.basicAuth)
	}

	r.HandleFunc("/ws", s.handlers.HandleWS).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handlers.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/log/stream", s.handlers.HandleLogStream).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	r.HandleFunc("/", s.handlers.ServeIndex).Methods(http.MethodGet)

	return r
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.auth.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.auth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="RotorGo"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Package web serves the proxy's inbound JSON-RPC endpoint over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"btcproxy/internal/shared/logger"
	"btcproxy/internal/shared/types"
)

const maxRequestBody = 32 << 20

// Submitter schedules one request unit and waits for its answer.
type Submitter interface {
	Submit(ctx context.Context, name string, fn func(ctx context.Context) []byte) ([]byte, error)
}

// BodyHandler turns one raw JSON-RPC request body into a response body.
type BodyHandler interface {
	Handle(ctx context.Context, body []byte) []byte
}

// A listener that logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
	log zerolog.Logger
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Connection accepted.")
	}
	return conn, err
}

// basicAuthMiddleware enforces HTTP Basic Authentication when both user and
// pass are configured, and is a no-op otherwise.
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="btcproxy"`)
			writeJSON(w, http.StatusUnauthorized, types.ErrorBody(nil, types.CodeInvalidRequest, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Server accepts JSON-RPC POSTs on any path and runs each as a supervised unit.
type Server struct {
	addr     string
	sup      Submitter
	handler  BodyHandler
	http     *http.Server
	listener net.Listener
	log      zerolog.Logger
}

// NewServer creates a Server for addr. Inbound Basic Auth is enforced when
// user and pass are both non-empty.
func NewServer(addr string, sup Submitter, h BodyHandler, user, pass string) *Server {
	s := &Server{
		addr:    addr,
		sup:     sup,
		handler: h,
		log:     logger.WithComponent("WebServer"),
	}
	s.http = &http.Server{
		Handler:           basicAuthMiddleware(s, user, pass),
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

// Listen binds the listening socket. Calling it again is a no-op.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = loggingListener{Listener: l, log: s.log}
	s.log.Info().Msgf("Proxy is listening on http://%s", l.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve handles connections until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Info().Msg("Web server stopped.")
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for active ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed,
			types.ErrorBody(nil, types.CodeInvalidRequest, "only POST is supported"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			types.ErrorBody(nil, types.CodeInvalidRequest, "read request body: "+err.Error()))
		return
	}

	resp, err := s.sup.Submit(r.Context(), "Request Task#", func(ctx context.Context) []byte {
		return s.handler.Handle(ctx, body)
	})
	if err != nil {
		s.log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("Request task failed.")
		writeJSON(w, http.StatusInternalServerError,
			types.ErrorBody(nil, types.CodeInternalError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

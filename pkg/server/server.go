// Package server exposes the bridge over HTTP: message delivery, command
// registration, status and a websocket tap of inbound interactions.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/discordbridge/pkg/bridge"
	"github.com/go-go-golems/discordbridge/pkg/discord/commands"
)

const shutdownTimeout = 30 * time.Second

// Service is the bridge surface the handlers call.
type Service interface {
	Send(ctx context.Context, identity string, req bridge.SendRequest) (bridge.SendResult, error)
	RegisterCommands(ctx context.Context, specs []commands.CommandSpec, scopeID string) ([]commands.PublishedCommand, error)
	ListCommands(ctx context.Context, scopeID string) ([]commands.PublishedCommand, error)
	Status() bridge.Status
}

type Option func(*Server)

// WithAPIKeys maps API keys to caller identities. An empty map disables
// authentication.
func WithAPIKeys(keys map[string]string) Option {
	return func(s *Server) { s.keys = keys }
}

func WithEventTap(t *EventTap) Option {
	return func(s *Server) { s.tap = t }
}

type Server struct {
	svc     Service
	keys    map[string]string
	tap     *EventTap
	httpSrv *http.Server
}

func New(addr string, svc Service, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: service is nil")
	}
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Handler builds the routed handler with request ids and authentication.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/messages", s.handleSend)
	api.HandleFunc("GET /api/commands", s.handleListCommands)
	api.HandleFunc("PUT /api/commands", s.handleRegisterCommands)
	api.HandleFunc("GET /api/status", s.handleStatus)
	if s.tap != nil {
		api.Handle("GET /ws/events", s.tap)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", withAuth(s.keys, api))
	return withRequestID(mux)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req bridge.SendRequest
	if err := decodeJSON(r, w, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := s.svc.Send(r.Context(), IdentityFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, res)
}

type registerRequest struct {
	ScopeID  string                 `json:"scopeId,omitempty"`
	Commands []commands.CommandSpec `json:"commands"`
}

func (s *Server) handleRegisterCommands(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, w, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	out, err := s.svc.RegisterCommands(r.Context(), req.Commands, strings.TrimSpace(req.ScopeID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, out)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListCommands(r.Context(), strings.TrimSpace(r.URL.Query().Get("scopeId")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []commands.PublishedCommand{}
	}
	writeData(w, r, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, s.svc.Status())
}

// Run serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if s.tap != nil {
			s.tap.CloseAll()
		}
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("component", "server").Msg("server shutdown error")
			return err
		}
		log.Info().Str("component", "server").Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("component", "server").Str("addr", s.httpSrv.Addr).Msg("starting discordbridge server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "server").Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

// Package status serves the health and session endpoints of the bot process, plus a
// small operator API for driving sessions without chat commands.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/encore/internal/app/playback"
	"github.com/osa030/encore/internal/app/session"
	domain "github.com/osa030/encore/internal/domain/session"
	"github.com/osa030/encore/internal/domain/track"
)

// Sessions is the session registry the endpoints operate on.
type Sessions interface {
	Snapshot() []playback.Status
	Join(ctx context.Context, guildID, channelID, notifyChannelID snowflake.ID) (*playback.Controller, error)
	Play(ctx context.Context, guildID snowflake.ID, query string) (track.Track, error)
	Controller(guildID snowflake.ID) (*playback.Controller, error)
	Leave(ctx context.Context, guildID snowflake.ID) error
}

// Backend reports audio backend connectivity.
type Backend interface {
	Connected() bool
}

// Handler routes the status and operator endpoints.
type Handler struct {
	sessions Sessions
	backend  Backend
	router   *http.ServeMux
}

// NewHandler creates the HTTP handler. backend may be nil.
func NewHandler(sessions Sessions, backend Backend) *Handler {
	h := &Handler{
		sessions: sessions,
		backend:  backend,
		router:   http.NewServeMux(),
	}
	h.routes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /healthz", h.health)
	h.router.HandleFunc("GET /sessions", h.list)
	h.router.HandleFunc("POST /sessions/{guild}/join", h.join)
	h.router.HandleFunc("POST /sessions/{guild}/play", h.play)
	h.router.HandleFunc("POST /sessions/{guild}/skip", h.control(func(ctx context.Context, c *playback.Controller) error { return c.Skip(ctx) }))
	h.router.HandleFunc("POST /sessions/{guild}/pause", h.control(func(ctx context.Context, c *playback.Controller) error { return c.Pause(ctx) }))
	h.router.HandleFunc("POST /sessions/{guild}/resume", h.control(func(ctx context.Context, c *playback.Controller) error { return c.Resume(ctx) }))
	h.router.HandleFunc("POST /sessions/{guild}/repeat", h.repeat)
	h.router.HandleFunc("DELETE /sessions/{guild}", h.leave)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.backend != nil && !h.backend.Connected() {
		http.Error(w, "audio backend disconnected", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Snapshot())
}

type joinRequest struct {
	ChannelID       snowflake.ID `json:"channel_id"`
	NotifyChannelID snowflake.ID `json:"notify_channel_id"`
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == 0 {
		http.Error(w, "channel_id is required", http.StatusBadRequest)
		return
	}

	ctrl, err := h.sessions.Join(r.Context(), guildID, req.ChannelID, req.NotifyChannelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Status())
}

type playRequest struct {
	Query string `json:"query"`
}

type playResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Duration string `json:"duration"`
	URI      string `json:"uri,omitempty"`
}

func (h *Handler) play(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	t, err := h.sessions.Play(r.Context(), guildID, req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playResponse{
		ID:       t.ID,
		Title:    t.Title,
		Author:   t.Author,
		Duration: t.Duration.String(),
		URI:      t.URI,
	})
}

type repeatRequest struct {
	Mode string `json:"mode"`
}

func (h *Handler) repeat(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	var req repeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctrl, err := h.sessions.Controller(guildID)
	if err != nil {
		writeError(w, err)
		return
	}
	ctrl.SetRepeat(domain.ParseRepeatMode(req.Mode))
	writeJSON(w, http.StatusOK, ctrl.Status())
}

func (h *Handler) control(fn func(ctx context.Context, c *playback.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guildID, ok := guildParam(w, r)
		if !ok {
			return
		}
		ctrl, err := h.sessions.Controller(guildID)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := fn(r.Context(), ctrl); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Status())
	}
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Leave(r.Context(), guildID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func guildParam(w http.ResponseWriter, r *http.Request) (snowflake.ID, bool) {
	id, err := snowflake.Parse(r.PathValue("guild"))
	if err != nil || id == 0 {
		http.Error(w, "invalid guild id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrNoResults):
		code = http.StatusNotFound
	case errors.Is(err, playback.ErrClosed),
		errors.Is(err, playback.ErrNoTrack),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused):
		code = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		zlog.Warn().Err(err).Msg("status: request failed")
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("status: failed to encode response")
	}
}

// Server serves a Handler over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	srv *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listener and serves in the background. Serve errors after a
// successful bind are sent to errCh.
func (s *Server) Start(errCh chan<- error) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.srv.Addr)
	}
	zlog.Info().Msgf("status: listening, addr=%s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Package interviews serves the interview HTTP API: session creation and
// state, streamed chat turns over SSE or WebSocket, and topic responses.
package interviews

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tjfontaine/deep-interviewer/internal/codec"
	"github.com/tjfontaine/deep-interviewer/internal/interview"
	"github.com/tjfontaine/deep-interviewer/internal/server"
	"github.com/tjfontaine/deep-interviewer/internal/session"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/stream"
)

// Service is the session API the handlers drive.
type Service interface {
	CreateOrResume(ctx context.Context, code string) (*session.CreateResult, error)
	ListSessions(ctx context.Context) ([]storage.SessionInfo, error)
	GetState(ctx context.Context, sessionID string) (*session.StateView, error)
	Chat(ctx context.Context, sessionID, message string, open func() (stream.Sink, error)) error
	GetResponse(ctx context.Context, sessionID, topicID string) (*interview.TopicResponse, error)
	PutResponse(ctx context.Context, sessionID, topicID string, data map[string]any) (*interview.TopicResponse, error)
	AllResponses(ctx context.Context, sessionID string) (*session.ResponsesView, error)
	Results(ctx context.Context, sessionID string) (*session.Results, error)
}

var _ Service = (*session.Service)(nil)

type Handler struct {
	svc         Service
	logger      *slog.Logger
	chatTimeout time.Duration
	now         func() time.Time
	upgrader    websocket.Upgrader
}

type Option func(*Handler)

// WithChatTimeout bounds a single chat turn.
func WithChatTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.chatTimeout = d
		}
	}
}

// WithAllowedOrigins lets WebSocket upgrades from the listed origins
// through; "*" allows any. Without it only same-origin upgrades succeed.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		}
	}
}

// WithClock overrides the health check timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func NewHandler(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		svc:         svc,
		logger:      logger,
		chatTimeout: 5 * time.Minute,
		now:         time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the health check and the interview API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.health)
	r.Route("/api/interviews", func(r chi.Router) {
		r.Get("/", h.listInterviews)
		r.Post("/", h.createInterview)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getInterview)
			r.Post("/chat", h.chat)
			r.Get("/ws", h.chatSocket)
			r.Get("/results", h.results)
			r.Get("/responses", h.allResponses)
			r.Get("/responses/{topic}", h.getResponse)
			r.Put("/responses/{topic}", h.putResponse)
		})
	})
}

// IsStreamRequest reports whether r opens a chat stream. Stream requests
// are bounded by the chat timeout instead of the request timeout.
func IsStreamRequest(r *http.Request) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	return strings.HasPrefix(path, "/api/interviews/") &&
		(strings.HasSuffix(path, "/chat") || strings.HasSuffix(path, "/ws"))
}

type createRequest struct {
	Code string `json:"code"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, healthResponse{Status: "ok", Timestamp: h.now().UTC()})
}

func (h *Handler) listInterviews(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []storage.SessionInfo{}
	}
	codec.WriteJSON(w, map[string]any{"sessions": sessions})
}

func (h *Handler) createInterview(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := codec.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.CreateOrResume(r.Context(), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "session_id", res.ID)
	codec.WriteJSON(w, res)
}

func (h *Handler) getInterview(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(r)
	view, err := h.svc.GetState(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codec.WriteJSON(w, view)
}

// chat streams one turn as Server-Sent Events. Errors found before the
// stream opens are plain JSON responses; later ones arrive as an error
// event.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(r)
	var req chatRequest
	if err := codec.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.chatTimeout)
	defer cancel()

	opened := false
	err := h.svc.Chat(ctx, id, req.Message, func() (stream.Sink, error) {
		sse, err := stream.NewSSEWriter(w)
		if err != nil {
			return nil, err
		}
		opened = true
		return sse, nil
	})
	if err == nil {
		return
	}
	if !opened {
		h.fail(w, r, err)
		return
	}
	server.AddError(r.Context(), err)
}

// chatSocket runs turns for every {"message": ...} frame received on the
// connection, one at a time.
func (h *Handler) chatSocket(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(r)
	if _, err := h.svc.GetState(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		server.AddError(r.Context(), err)
		return
	}
	defer conn.Close()

	sink := stream.NewWebSocketWriter(conn)
	for {
		var frame chatRequest
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket closed unexpectedly",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		opened := false
		ctx, cancel := context.WithTimeout(r.Context(), h.chatTimeout)
		err := h.svc.Chat(ctx, id, frame.Message, func() (stream.Sink, error) {
			opened = true
			return sink, nil
		})
		cancel()
		if err == nil || opened {
			continue
		}
		// Request errors never reached the encoder; report them as an
		// error frame and keep the connection.
		if sendErr := sink.Send(stream.Event{Type: stream.EventError, Data: stream.Error{Error: codec.ToCanonicalError(err).Message}}); sendErr != nil {
			return
		}
	}
}

func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Results(r.Context(), h.sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codec.WriteJSON(w, res)
}

func (h *Handler) allResponses(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.AllResponses(r.Context(), h.sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codec.WriteJSON(w, view)
}

func (h *Handler) getResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetResponse(r.Context(), h.sessionID(r), chi.URLParam(r, "topic"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codec.WriteJSON(w, resp)
}

func (h *Handler) putResponse(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := codec.DecodeJSON(r, &data); err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.svc.PutResponse(r.Context(), h.sessionID(r), chi.URLParam(r, "topic"), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codec.WriteJSON(w, resp)
}

func (h *Handler) sessionID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	server.AddLogField(r.Context(), "session_id", id)
	return id
}

// fail writes err as a JSON error response. Server-side failures are
// logged with the request ID; client errors only reach the request log.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)
	apiErr := codec.ToCanonicalError(err)
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.Error("request failed",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	codec.WriteError(w, apiErr)
}

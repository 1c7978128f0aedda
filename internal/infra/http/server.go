package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spok95/repair-bot/internal/domain/conversations"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/orchestrator"
)

// Turns — то, что HTTP-транспорт умеет делать с разговорами.
type Turns interface {
	RecordInbound(ctx context.Context, in orchestrator.Inbound) (*conversations.Conversation, error)
	HandleText(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
	HandleExtraction(ctx context.Context, ev orchestrator.ExtractionEvent) (orchestrator.Outbound, error)
	HandleExtractionTimeout(ctx context.Context, conversationID uuid.UUID) (orchestrator.Outbound, error)
	History(ctx context.Context, conversationID uuid.UUID) ([]conversations.Message, error)
}

type Server struct {
	srv *http.Server
}

// New: turns == nil — только /health и /metrics.
func New(addr string, exposeMetrics bool, turns Turns, log *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if exposeMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if turns != nil {
		h := &handlers{turns: turns, log: log}
		mux.HandleFunc("POST /v1/inbound", h.inbound)
		mux.HandleFunc("POST /v1/messages", h.message)
		mux.HandleFunc("POST /v1/extractions", h.extraction)
		mux.HandleFunc("POST /v1/extractions/timeout", h.timeout)
		mux.HandleFunc("GET /v1/conversations/{id}/messages", h.history)
	}

	return &Server{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

/* API */

type handlers struct {
	turns Turns
	log   *slog.Logger
}

type inboundRequest struct {
	ShopID         uuid.UUID `json:"shop_id"`
	ExternalUserID string    `json:"external_user_id"`
	Text           string    `json:"text"`
}

func (r inboundRequest) toInbound() orchestrator.Inbound {
	return orchestrator.Inbound{
		ShopID:         r.ShopID,
		Channel:        conversations.ChannelAPI,
		ExternalUserID: r.ExternalUserID,
		ExternalChatID: r.ExternalUserID,
		Text:           r.Text,
	}
}

func (r inboundRequest) valid() bool {
	return r.ShopID != uuid.Nil && r.ExternalUserID != ""
}

type inboundResponse struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Step           string    `json:"step"`
}

// inbound только записывает сообщение: разбор сделает внешний экстрактор
// и пришлёт результат в /v1/extractions.
func (h *handlers) inbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.valid() {
		writeError(w, http.StatusBadRequest, "shop_id and external_user_id are required")
		return
	}
	conv, err := h.turns.RecordInbound(r.Context(), req.toInbound())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inboundResponse{ConversationID: conv.ID, Step: string(conv.State.Step)})
}

func (h *handlers) message(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.valid() {
		writeError(w, http.StatusBadRequest, "shop_id and external_user_id are required")
		return
	}
	out, err := h.turns.HandleText(r.Context(), req.toInbound())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) extraction(w http.ResponseWriter, r *http.Request) {
	var ev orchestrator.ExtractionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.ConversationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	out, err := h.turns.HandleExtraction(r.Context(), ev)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) timeout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID uuid.UUID `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	out, err := h.turns.HandleExtractionTimeout(r.Context(), req.ConversationID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type messageView struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Step      string    `json:"step"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad conversation id")
		return
	}
	msgs, err := h.turns.History(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{Role: string(m.Role), Text: m.Text, Step: string(m.Step), CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversations.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, pricing.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown shop")
	default:
		h.log.Error("api turn failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

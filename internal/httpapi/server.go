// Package httpapi exposes the RAG service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"
	"go.uber.org/zap"

	"flightrag/internal/domain"
	"flightrag/internal/service"
	"flightrag/internal/summarizer"
)

// Service is the subset of the RAG service the HTTP shell calls.
type Service interface {
	Ask(ctx context.Context, userID, query string, useAgent bool) (domain.Answer, error)
	Clear(ctx context.Context, userID string) error
	Summary(ctx context.Context, userID string) (summarizer.Summary, error)
	Health(ctx context.Context) service.HealthReport
}

// Handler routes HTTP requests to a Service.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

type chatRequest struct {
	UserID   string `json:"user_id"`
	Query    string `json:"query"`
	UseAgent bool   `json:"use_agent"`
}

type chatResponse struct {
	UserID string `json:"user_id"`
	domain.Answer
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes registers all endpoints on a new router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/chat", h.chat(false)).Methods(http.MethodPost)
	r.HandleFunc("/chat/agent", h.chat(true)).Methods(http.MethodPost)
	r.HandleFunc("/chat/{user_id}", h.clear).Methods(http.MethodDelete)
	r.HandleFunc("/chat/{user_id}/summary", h.summary).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	return r
}

// Middleware wraps the router with recovery and request logging.
func (h *Handler) Middleware() *negroni.Negroni {
	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.HandlerFunc(h.logRequest))
	n.UseHandler(h.Routes())
	return n
}

func (h *Handler) logRequest(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)
	status := 0
	if rw, ok := w.(negroni.ResponseWriter); ok {
		status = rw.Status()
	}
	h.logger.Info("http request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)))
}

// chat serves POST /chat and POST /chat/agent. The agent route ignores use_agent.
func (h *Handler) chat(forceAgent bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
		answer, err := h.svc.Ask(r.Context(), req.UserID, req.Query, forceAgent || req.UseAgent)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{UserID: req.UserID, Answer: answer})
	}
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if err := h.svc.Clear(r.Context(), userID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "conversation cleared", "user_id": userID})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		summarizer.Summary
		Text string `json:"summary"`
	}{sum, sum.String()})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// StatusOf maps service errors to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGenerationProvider), errors.Is(err, domain.ErrEmbeddingProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewServer returns an http.Server for h with conservative timeouts.
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Middleware(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// generation with several agent rounds is slow
		WriteTimeout: 5 * time.Minute,
	}
}

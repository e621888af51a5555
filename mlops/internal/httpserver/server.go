package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
	"github.com/ILLUVRSE/mlops/mlops/internal/store"
)

// PollScope must appear in the scope claim of bearer tokens.
const PollScope = "gate:poll"

type Poller interface {
	Poll(ctx context.Context) (gate.Outcome, error)
}

type Server struct {
	cfg    config.Service
	poller Poller
	store  store.Store
	log    *zap.SugaredLogger
}

func New(cfg config.Service, poller Poller, st store.Store, log *zap.SugaredLogger) *Server {
	return &Server{cfg: cfg, poller: poller, store: st, log: logging.OrNop(log)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/gate", func(r chi.Router) {
		r.Get("/decisions", s.handleListDecisions)
		r.Get("/decisions/{executionId}", s.handleGetDecision)
		r.Group(func(r chi.Router) {
			r.Use(s.writeAuth)
			r.Post("/poll", s.handlePoll)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":       true,
		"time":     time.Now().UTC(),
		"pipeline": s.cfg.PipelineName,
		"model":    s.cfg.ModelName,
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil || offset < 0 {
		respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	filter := store.ListDecisionsFilter{
		PipelineName: q.Get("pipeline"),
		Limit:        limit,
		Offset:       offset,
	}
	switch status := models.ApprovalStatus(q.Get("status")); status {
	case "", models.ApprovalApproved, models.ApprovalRejected:
		filter.Status = status
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	decisions, err := s.store.ListDecisions(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDecisionByExecution(r.Context(), chi.URLParam(r, "executionId"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "decision not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type pollResponse struct {
	Message string       `json:"message"`
	Outcome gate.Outcome `json:"outcome"`
	Error   string       `json:"error,omitempty"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	out, err := s.poller.Poll(r.Context())
	switch {
	case errors.Is(err, gate.ErrNoPendingApproval):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil && out.ExecutionID == "":
		s.log.Errorw("poll failed", "requestId", middleware.GetReqID(r.Context()), "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		// resolved but a follow-up call failed
		s.log.Errorw("poll partially failed", "requestId", middleware.GetReqID(r.Context()), "executionId", out.ExecutionID, "error", err)
		respondJSON(w, http.StatusBadGateway, pollResponse{Message: out.Message(), Outcome: out, Error: err.Error()})
	default:
		respondJSON(w, http.StatusOK, pollResponse{Message: out.Message(), Outcome: out})
	}
}

// writeAuth accepts an HS256 bearer token carrying PollScope when a secret is
// configured, and the debug token otherwise.
func (s *Server) writeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret != "" {
			if err := s.verifyBearer(r.Header.Get("Authorization")); err != nil {
				respondError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.DebugToken != "" {
			if token := r.Header.Get("X-Debug-Token"); token != "" && token == s.cfg.DebugToken {
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, http.StatusUnauthorized, "debug token required")
			return
		}
		respondError(w, http.StatusUnauthorized, "authentication not configured")
	})
}

func (s *Server) verifyBearer(header string) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return errors.New("bearer token required")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	scope, _ := claims["scope"].(string)
	for _, sc := range strings.Fields(scope) {
		if sc == PollScope {
			return nil
		}
	}
	return errors.New("missing required scope")
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

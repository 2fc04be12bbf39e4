// Package api 通过 HTTP 暴露推荐引擎：读取推荐集合、提交反馈、请求重算、查询指标。
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/metrics"
)

const maxBodyBytes = 1 << 16

// Service 是 HTTP 层依赖的引擎能力，由 engine.Engine 实现。
type Service interface {
	GetActiveRecommendations(ctx context.Context, userID string) (*core.RecommendationSet, error)
	SubmitFeedback(ctx context.Context, userID, recommendationID string, action core.FeedbackAction, relevant *bool) error
	EnqueueRefresh(ctx context.Context, userID string, priority core.Priority, reason string) (string, error)
	Metrics(ctx context.Context, userID string, period core.Period) (*core.Metrics, error)
}

// FeedbackRequest 是 POST /v1/users/{userID}/feedback 的请求体。
type FeedbackRequest struct {
	RecommendationID string `json:"recommendationId" validate:"required"`
	Action           string `json:"action" validate:"required,oneof=click ignore dismiss save"`
	Relevant         *bool  `json:"relevant,omitempty"`
}

// RefreshRequest 是 POST /v1/users/{userID}/refresh 的请求体，字段均可省略。
type RefreshRequest struct {
	Priority string `json:"priority" validate:"omitempty,oneof=high normal"`
	Reason   string `json:"reason" validate:"omitempty,max=128"`
}

// RefreshResponse 返回任务 ID。
type RefreshResponse struct {
	TaskID string `json:"taskId"`
}

// MetricsResponse 同时返回原始计数与读取时计算的比率。
type MetricsResponse struct {
	UserID    string      `json:"userId"`
	Period    core.Period `json:"period"`
	StartDate time.Time   `json:"startDate"`
	EndDate   time.Time   `json:"endDate"`
	Counts    Counts      `json:"counts"`
	Rates     core.Rates  `json:"rates"`
}

// Counts 是统计桶内的原始计数。
type Counts struct {
	Total      float64 `json:"totalRecommendations"`
	Interacted float64 `json:"interactedRecommendations"`
	Clicks     float64 `json:"clicks"`
	Relevant   float64 `json:"relevant"`
	Saves      float64 `json:"saves"`
}

// Server 是 HTTP 服务。
type Server struct {
	Service Service
	Logger  zerolog.Logger

	validate *validator.Validate
}

// NewServer 创建 HTTP 服务。
func NewServer(svc Service, logger zerolog.Logger) *Server {
	return &Server{
		Service:  svc,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler 返回路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/recommendations", s.getRecommendations)
		r.Post("/feedback", s.postFeedback)
		r.Post("/refresh", s.postRefresh)
		r.Get("/metrics", s.getMetrics)
	})
	return r
}

// instrument 按路由模板统计请求数并记录 debug 日志。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.Logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// decode 解析可选的 JSON 请求体并做字段校验，错误统一为 INVALID_INPUT。
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return core.InvalidInput(core.ModuleEngine, "malformed request body: %v", err)
		}
	}
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return core.InvalidInput(core.ModuleEngine, "%s: failed %q validation", verrs[0].Field(), verrs[0].Tag())
	}
	return core.InvalidInput(core.ModuleEngine, "%v", err)
}

func (s *Server) getRecommendations(w http.ResponseWriter, r *http.Request) {
	set, err := s.Service.GetActiveRecommendations(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, set)
}

func (s *Server) postFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	err := s.Service.SubmitFeedback(r.Context(), chi.URLParam(r, "userID"), req.RecommendationID, core.FeedbackAction(req.Action), req.Relevant)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, s.Logger, err)
		return
	}
	id, err := s.Service.EnqueueRefresh(r.Context(), chi.URLParam(r, "userID"), core.Priority(req.Priority), req.Reason)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusAccepted, RefreshResponse{TaskID: id})
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	period := core.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = core.PeriodDaily
	}
	m, err := s.Service.Metrics(r.Context(), chi.URLParam(r, "userID"), period)
	if err != nil {
		writeError(w, s.Logger, err)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, MetricsResponse{
		UserID:    m.UserID,
		Period:    m.Period,
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		Counts: Counts{
			Total:      m.TotalRecommendations,
			Interacted: m.InteractedRecommendations,
			Clicks:     m.ClickThroughRate,
			Relevant:   m.AverageRelevanceScore,
			Saves:      m.ConversionRate,
		},
		Rates: m.Rates(),
	})
}

package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"salesinsight/internal/core"
	applog "salesinsight/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.deps.Readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := s.deps.Readiness.Count(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Store not ready", applog.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleInitialize fetches the seed feed and loads it.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentIngest)

	report, err := s.deps.Loader.Reload(ctx)
	if err != nil {
		applog.NewStructuredLogger(logger).LogError(ctx, "Database initialization failed", err,
			applog.OpInitialize, applog.NewFields().WithErrorKind(kindName(err)))
		BadRequestError(msgInitializeFailed).Write(w)
		return
	}

	logger.InfoContext(ctx, "Database initialized",
		applog.FieldRunID, report.RunID,
		applog.FieldInserted, report.InsertedCount)
	MessageResponse(msgInitialized).Write(w)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	serveMonth(s, w, r, applog.OpStatistics, msgStatisticsFailed, s.deps.Aggregates.Statistics)
}

func (s *Server) handleBarChart(w http.ResponseWriter, r *http.Request) {
	serveMonth(s, w, r, applog.OpBarChart, msgBarChartFailed, s.deps.Aggregates.Histogram)
}

func (s *Server) handlePieChart(w http.ResponseWriter, r *http.Request) {
	serveMonth(s, w, r, applog.OpPieChart, msgPieChartFailed, s.deps.Aggregates.CategoryDistribution)
}

func (s *Server) handleCombined(w http.ResponseWriter, r *http.Request) {
	serveMonth(s, w, r, applog.OpCombined, msgCombinedFailed, s.deps.Reports.Combined)
}

// serveMonth gates the request on the month parameter, runs view and encodes
// its result. The store is never reached for an invalid month.
func serveMonth[T any](s *Server, w http.ResponseWriter, r *http.Request, op, failMsg string, view func(context.Context, string) (T, error)) {
	ctx := r.Context()
	sl := applog.NewStructuredLogger(applog.FromContext(ctx).WithComponent(applog.ComponentReport))

	month := r.URL.Query().Get("month")
	key, err := core.ParseMonth(month)
	if err != nil {
		sl.LogRejected(ctx, "Invalid month parameter", op, applog.NewFields().WithMonth(month, ""))
		BadRequestError(msgInvalidMonth).Write(w)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	result, err := view(ctx, key)
	if err != nil {
		sl.LogError(ctx, "Report failed", err, op,
			applog.NewFields().WithMonth(month, key).WithErrorKind(kindName(err)))
		if errors.Is(err, core.ErrValidation) {
			BadRequestError(msgInvalidMonth).Write(w)
			return
		}
		BadRequestError(failMsg).Write(w)
		return
	}

	OK(result).Write(w)
}

func kindName(err error) string {
	if kind := core.KindOf(err); kind != nil {
		return kind.Error()
	}
	return "unclassified"
}

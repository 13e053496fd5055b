// Package server exposes the greenhouse over HTTP and WebSocket.
package server

import (
	"bufio"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/config"
	"github.com/afroash/greenhouse-monitor/internal/metrics"
	"github.com/afroash/greenhouse-monitor/internal/models"
)

// HealthCheck reports on one dependency. A nil error means healthy.
type HealthCheck struct {
	Name  string
	Check func() error
}

// Deps are the collaborators of the HTTP server. DB and Metrics may be nil.
type Deps struct {
	Greenhouse Greenhouse
	Recent     *RecentReadings
	Stream     *Stream
	DB         Database
	Metrics    *metrics.Metrics
	Info       models.SystemInfo
	Checks     []HealthCheck
}

// Server routes requests to the API handlers
type Server struct {
	deps     Deps
	settings config.ServerSettings
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a server
func New(deps Deps, settings config.ServerSettings, logger zerolog.Logger) *Server {
	if deps.Recent == nil {
		deps.Recent = NewRecentReadings(0)
	}
	return &Server{
		deps:     deps,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Handler builds the full handler tree
func (s *Server) Handler(metricsPath string) http.Handler {
	r := mux.NewRouter()
	r.Use(s.deps.Metrics.Middleware(routeTemplate))

	protected := alice.New(s.requireToken)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle(metricsPath, s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.deps.Stream != nil {
		r.Handle("/ws", s.deps.Stream).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/dashboard/realtime", s.handleRealtime).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/stats", s.handleDashboardStats).Methods(http.MethodGet)

	api.HandleFunc("/sensor/current", s.handleCurrent).Methods(http.MethodGet)
	api.Handle("/sensor/override", protected.ThenFunc(s.handleOverride)).Methods(http.MethodPut)
	api.HandleFunc("/sensor/recent", s.handleRecent).Methods(http.MethodGet)

	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.Handle("/alerts/read-all", protected.ThenFunc(s.handleMarkAllAlertsRead)).Methods(http.MethodPut)
	api.Handle("/alerts/{id}/read", protected.ThenFunc(s.handleMarkAlertRead)).Methods(http.MethodPut)
	api.Handle("/alerts/{id}", protected.ThenFunc(s.handleDeleteAlert)).Methods(http.MethodDelete)

	api.Handle("/irrigation/start", protected.ThenFunc(s.handleStartWatering)).Methods(http.MethodPost)
	api.Handle("/irrigation/stop", protected.ThenFunc(s.handleStopWatering)).Methods(http.MethodPost)
	api.HandleFunc("/irrigation/state", s.handleIrrigationState).Methods(http.MethodGet)
	api.HandleFunc("/irrigation/config", s.handleIrrigationConfig).Methods(http.MethodGet)
	api.Handle("/irrigation/config", protected.ThenFunc(s.handleUpdateIrrigationConfig)).Methods(http.MethodPut)
	api.Handle("/irrigation/schedule", protected.ThenFunc(s.handleScheduleWatering)).Methods(http.MethodPost)
	api.HandleFunc("/irrigation/scheduled", s.handleScheduledWaterings).Methods(http.MethodGet)
	api.Handle("/irrigation/scheduled/{id}", protected.ThenFunc(s.handleCancelScheduled)).Methods(http.MethodDelete)

	api.HandleFunc("/records", s.handleRecords).Methods(http.MethodGet)
	api.HandleFunc("/records/daily", s.handleDailyRecords).Methods(http.MethodGet)
	api.HandleFunc("/reports", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/storage/stats", s.handleStorageStats).Methods(http.MethodGet)

	api.HandleFunc("/calendars", s.handleListCalendars).Methods(http.MethodGet)
	api.Handle("/calendars", protected.ThenFunc(s.handleCreateCalendar)).Methods(http.MethodPost)
	api.HandleFunc("/calendars/today", s.handleCalendarsToday).Methods(http.MethodGet)
	api.HandleFunc("/calendars/{id:[0-9]+}", s.handleGetCalendar).Methods(http.MethodGet)
	api.Handle("/calendars/{id:[0-9]+}", protected.ThenFunc(s.handleUpdateCalendar)).Methods(http.MethodPut)
	api.Handle("/calendars/{id:[0-9]+}", protected.ThenFunc(s.handleDeleteCalendar)).Methods(http.MethodDelete)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.Handle("/notifications", protected.ThenFunc(s.handleCreateNotification)).Methods(http.MethodPost)
	api.Handle("/notifications/{id:[0-9]+}/read", protected.ThenFunc(s.handleMarkNotificationRead)).Methods(http.MethodPut)
	api.Handle("/notifications/{id:[0-9]+}", protected.ThenFunc(s.handleDeleteNotification)).Methods(http.MethodDelete)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "route not found"})
	})

	if s.settings.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.settings.StaticDir))).Methods(http.MethodGet)
	}

	standard := alice.New(
		handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}), handlers.PrintRecoveryStack(false)),
		s.logRequest,
		s.cors(),
	)
	return standard.Then(r)
}

// cors allows the configured dashboard origins
func (s *Server) cors() alice.Constructor {
	return handlers.CORS(
		handlers.AllowedOrigins(s.settings.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
}

// requireToken rejects requests without the configured bearer token.
// Without a configured token every request passes.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.settings.AuthToken == "" || validateToken(r.Header.Get("Authorization"), s.settings.AuthToken) {
			next.ServeHTTP(w, r)
			return
		}
		s.logger.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Rejected request: invalid token")
		writeJSON(w, http.StatusUnauthorized, envelope{Message: "unauthorized"})
	})
}

// validateToken checks an "Authorization: Bearer <token>" header
func validateToken(authHeader, want string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

type loggingWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (lw *loggingWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	n, err := lw.ResponseWriter.Write(b)
	lw.bytes += n
	return n, err
}

func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// Hijack passes WebSocket upgrades through to the underlying writer
func (lw *loggingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	lw.status = http.StatusSwitchingProtocols
	return http.NewResponseController(lw.ResponseWriter).Hijack()
}

// logRequest writes one structured line per request
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lw, r)

		event := s.logger.Debug()
		if lw.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lw.status).
			Int("bytes", lw.bytes).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// routeTemplate labels metrics with the matched route pattern
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// recoveryLogger adapts zerolog to handlers.RecoveryHandlerLogger
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from panic in handler")
}

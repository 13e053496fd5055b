package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/afroash/greenhouse-monitor/internal/alerts"
	"github.com/afroash/greenhouse-monitor/internal/irrigation"
	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/storage"
)

const (
	defaultRecentLimit = 50
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	maxBodyBytes       = 1 << 20
)

// errDatabaseDisabled is returned by persisted routes when no database is configured
var errDatabaseDisabled = errors.New("database is disabled")

// envelope is the JSON shape of every API response
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	body.Success = status < http.StatusBadRequest
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// writeError maps domain errors onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var verr *models.ValidationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, envelope{Data: verr, Message: verr.Error()})
		return
	case errors.Is(err, irrigation.ErrAlreadyWatering):
		status = http.StatusConflict
	case errors.Is(err, irrigation.ErrNotWatering):
		status = http.StatusConflict
	case errors.Is(err, irrigation.ErrNotFuture),
		errors.Is(err, irrigation.ErrInvalidTime),
		errors.Is(err, irrigation.ErrInvalidDuration),
		errors.Is(err, irrigation.ErrInvalidFrequency),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, irrigation.ErrScheduleNotFound),
		errors.Is(err, alerts.ErrAlertNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errDatabaseDisabled),
		errors.Is(err, loop.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, envelope{Message: err.Error()})
}

// errBadRequest marks malformed input
var errBadRequest = errors.New("bad request")

type badRequest struct {
	msg string
}

func (b badRequest) Error() string { return b.msg }
func (b badRequest) Unwrap() error { return errBadRequest }

// decodeJSON reads a JSON body. An empty body leaves v untouched when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest{"invalid JSON body: " + err.Error()}
	}
	return nil
}

// queryInt parses an integer query parameter, falling back to def.
// Values outside [1, max] are rejected.
func queryInt(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || (max > 0 && n > max) {
		return 0, badRequest{name + " must be an integer between 1 and " + strconv.Itoa(max)}
	}
	return n, nil
}

// queryTime parses an RFC 3339 timestamp or a YYYY-MM-DD date
func queryTime(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, badRequest{name + " must be RFC 3339 or YYYY-MM-DD"}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest{"id must be a positive integer"}
	}
	return id, nil
}

func (s *Server) database() (Database, error) {
	if s.deps.DB == nil {
		return nil, errDatabaseDisabled
	}
	return s.deps.DB, nil
}

// Health

type healthResponse struct {
	Status       string            `json:"status"`
	Greenhouse   models.SystemInfo `json:"greenhouse"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Time         time.Time         `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Greenhouse: s.deps.Info,
		Uptime:     s.deps.Info.Uptime().Round(time.Second).String(),
		Time:       s.now(),
	}
	if len(s.deps.Checks) > 0 {
		resp.Dependencies = make(map[string]string, len(s.deps.Checks))
		for _, c := range s.deps.Checks {
			if err := c.Check(); err != nil {
				resp.Dependencies[c.Name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Dependencies[c.Name] = "ok"
		}
	}
	writeData(w, resp)
}

// Dashboard

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Greenhouse.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, snap)
}

type dashboardStats struct {
	Recent           RecentStats                     `json:"recent"`
	UnreadAlerts     int                             `json:"unread_alerts"`
	TotalAlerts      int                             `json:"total_alerts"`
	DaysSinceLast    int                             `json:"days_since_last_watering"`
	DaysUntilNext    *int                            `json:"days_until_next_watering"`
	Scheduled        int                             `json:"scheduled_waterings"`
	Today            *storage.StatusCounts           `json:"today,omitempty"`
	Notifications    map[models.NotificationType]int `json:"notifications,omitempty"`
	DashboardClients int                             `json:"dashboard_clients"`
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Greenhouse.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stats := dashboardStats{
		Recent:        s.deps.Recent.Stats(),
		UnreadAlerts:  snap.UnreadAlerts,
		TotalAlerts:   snap.TotalAlerts,
		DaysSinceLast: snap.Irrigation.DaysSinceLast,
		DaysUntilNext: snap.Irrigation.DaysUntilNext,
		Scheduled:     len(snap.Irrigation.ScheduledWaterings),
	}
	if s.deps.Stream != nil {
		stats.DashboardClients = len(s.deps.Stream.Clients())
	}
	if db := s.deps.DB; db != nil {
		now := s.now()
		y, m, d := now.Date()
		counts, err := db.GetStatusCounts(snap.GreenhouseID, time.Date(y, m, d, 0, 0, 0, 0, now.Location()), now)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		stats.Today = &counts
		if stats.Notifications, err = db.CountNotificationsByType(); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeData(w, stats)
}

// Sensor

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	reading, err := s.deps.Greenhouse.CurrentReading(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, reading)
}

type overrideRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Temperature == nil && req.Humidity == nil {
		s.writeError(w, r, badRequest{"temperature or humidity is required"})
		return
	}

	reading, err := s.deps.Greenhouse.SetReading(r.Context(), req.Temperature, req.Humidity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().Float64("temperature", reading.Temperature).Float64("humidity", reading.Humidity).Msg("Sensor reading overridden")
	writeJSON(w, http.StatusOK, envelope{Data: reading, Message: "reading updated"})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentLimit, maxRecordLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, s.deps.Recent.Latest(limit))
}

// Alerts

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0, maxRecordLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.deps.Greenhouse.Alerts(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, page)
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Greenhouse.MarkAlertRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "alert marked as read"})
}

func (s *Server) handleMarkAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Greenhouse.MarkAllAlertsRead(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]int{"updated": n}, Message: "all alerts marked as read"})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Greenhouse.DeleteAlert(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "alert deleted"})
}

// Irrigation

type startRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (s *Server) handleStartWatering(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Greenhouse.StartWatering(r.Context(), req.DurationMinutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]int{"duration_minutes": d}, Message: "watering started"})
}

func (s *Server) handleStopWatering(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Greenhouse.StopWatering(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]float64{"progress_at_stop": p}, Message: "watering stopped"})
}

func (s *Server) handleIrrigationState(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Greenhouse.IrrigationState(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, state)
}

func (s *Server) handleIrrigationConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Greenhouse.IrrigationConfig(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, cfg)
}

func (s *Server) handleUpdateIrrigationConfig(w http.ResponseWriter, r *http.Request) {
	var patch models.IrrigationPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.deps.Greenhouse.UpdateIrrigationConfig(r.Context(), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: cfg, Message: "irrigation config updated"})
}

type scheduleRequest struct {
	Date            string `json:"date"` // YYYY-MM-DD
	Time            string `json:"time"` // HH:MM
	DurationMinutes int    `json:"duration_minutes"`
}

func (s *Server) handleScheduleWatering(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
	if err != nil {
		s.writeError(w, r, badRequest{"date must use YYYY-MM-DD"})
		return
	}

	sw, err := s.deps.Greenhouse.ScheduleWatering(r.Context(), date, req.Time, req.DurationMinutes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: sw, Message: "watering scheduled"})
}

func (s *Server) handleScheduledWaterings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Greenhouse.ScheduledWaterings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, list)
}

func (s *Server) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Greenhouse.CancelScheduledWatering(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "scheduled watering cancelled"})
}

package server

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/storage"
)

// reportPeriods maps a report period name onto its length in days
var reportPeriods = map[string]int{
	"today":   1,
	"week":    7,
	"month":   30,
	"quarter": 90,
}

func (s *Server) greenhouseID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("greenhouse_id")
	if raw == "" {
		return s.deps.Info.GreenhouseID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest{"greenhouse_id must be a positive integer"}
	}
	return id, nil
}

// Records

type recordsResponse struct {
	Source  string                 `json:"source"` // database or simulated
	Start   time.Time              `json:"start"`
	End     time.Time              `json:"end"`
	Records []*models.SensorRecord `json:"records"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecordLimit, maxRecordLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gid, err := s.greenhouseID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := queryTime(r, "end", s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	start, err := queryTime(r, "start", end.Add(-24*time.Hour))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if start.After(end) {
		s.writeError(w, r, badRequest{"start must not be after end"})
		return
	}

	resp := recordsResponse{Start: start, End: end}

	if s.deps.DB == nil {
		history, err := s.deps.Greenhouse.History(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Source = "simulated"
		resp.Records = make([]*models.SensorRecord, 0, len(history))
		for _, h := range history {
			resp.Records = append(resp.Records, models.NewSensorRecord(gid, h))
		}
		if len(history) > 0 {
			resp.Start = history[0].Timestamp
			resp.End = history[len(history)-1].Timestamp
		}
		writeData(w, resp)
		return
	}

	records, err := s.deps.DB.GetReadingsInRange(gid, start, end, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp.Source = "database"
	resp.Records = records
	if resp.Records == nil {
		resp.Records = []*models.SensorRecord{}
	}
	writeData(w, resp)
}

func (s *Server) handleDailyRecords(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days, err := queryInt(r, "days", 7, 90)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gid, err := s.greenhouseID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	end := s.now()
	stats, err := db.GetDailyStats(gid, end.AddDate(0, 0, -days), end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}
	writeData(w, stats)
}

// Report summarises a period of recorded readings
type Report struct {
	Period         string               `json:"period"`
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	Readings       int                  `json:"readings"`
	AvgTemperature float64              `json:"avg_temperature"`
	MinTemperature float64              `json:"min_temperature"`
	MaxTemperature float64              `json:"max_temperature"`
	AvgHumidity    float64              `json:"avg_humidity"`
	MinHumidity    float64              `json:"min_humidity"`
	MaxHumidity    float64              `json:"max_humidity"`
	Statuses       storage.StatusCounts `json:"statuses"`
	Daily          []storage.DailyStat  `json:"daily"`
}

// buildReport folds daily aggregates into period totals, weighting averages by reading count
func buildReport(period string, start, end time.Time, daily []storage.DailyStat, counts storage.StatusCounts) Report {
	rep := Report{Period: period, Start: start, End: end, Statuses: counts, Daily: daily}
	if rep.Daily == nil {
		rep.Daily = []storage.DailyStat{}
	}

	var tempSum, humSum float64
	for i, d := range daily {
		if i == 0 {
			rep.MinTemperature, rep.MaxTemperature = d.MinTemperature, d.MaxTemperature
			rep.MinHumidity, rep.MaxHumidity = d.MinHumidity, d.MaxHumidity
		}
		rep.MinTemperature = min(rep.MinTemperature, d.MinTemperature)
		rep.MaxTemperature = max(rep.MaxTemperature, d.MaxTemperature)
		rep.MinHumidity = min(rep.MinHumidity, d.MinHumidity)
		rep.MaxHumidity = max(rep.MaxHumidity, d.MaxHumidity)
		tempSum += d.AvgTemperature * float64(d.ReadingCount)
		humSum += d.AvgHumidity * float64(d.ReadingCount)
		rep.Readings += d.ReadingCount
	}
	if rep.Readings > 0 {
		rep.AvgTemperature = tempSum / float64(rep.Readings)
		rep.AvgHumidity = humSum / float64(rep.Readings)
	}
	return rep
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}
	days, ok := reportPeriods[period]
	if !ok {
		s.writeError(w, r, badRequest{"period must be one of today, week, month, quarter"})
		return
	}
	gid, err := s.greenhouseID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	end := s.now()
	start := end.AddDate(0, 0, -days)
	daily, err := db.GetDailyStats(gid, start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counts, err := db.GetStatusCounts(gid, start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, buildReport(period, start, end, daily, counts))
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := db.GetStorageStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, stats)
}

// Calendars

type calendarRequest struct {
	GreenhouseID    int64          `json:"greenhouse_id"`
	Name            string         `json:"name"`
	TimeOfDay       string         `json:"time_of_day"`
	DurationMinutes int            `json:"duration_minutes"`
	Days            []time.Weekday `json:"days"`
	Active          *bool          `json:"active"`
}

// apply copies the set fields of the request onto c
func (req calendarRequest) apply(c *models.IrrigationCalendar) {
	if req.GreenhouseID != 0 {
		c.GreenhouseID = req.GreenhouseID
	}
	if req.Name != "" {
		c.Name = req.Name
	}
	if req.TimeOfDay != "" {
		c.TimeOfDay = req.TimeOfDay
	}
	if req.DurationMinutes != 0 {
		c.DurationMinutes = req.DurationMinutes
	}
	if req.Days != nil {
		c.Days = req.Days
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
}

func (s *Server) handleListCalendars(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gid, err := s.greenhouseID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := db.ListCalendars(gid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.IrrigationCalendar{}
	}
	writeData(w, list)
}

func (s *Server) handleCreateCalendar(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req calendarRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	c := &models.IrrigationCalendar{GreenhouseID: s.deps.Info.GreenhouseID, Active: true}
	req.apply(c)
	if err := db.CreateCalendar(c); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: c, Message: "calendar created"})
}

func (s *Server) handleGetCalendar(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := db.GetCalendar(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, c)
}

func (s *Server) handleUpdateCalendar(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req calendarRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := db.GetCalendar(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.apply(c)
	if err := db.UpdateCalendar(c); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: c, Message: "calendar updated"})
}

func (s *Server) handleDeleteCalendar(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := db.DeleteCalendar(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "calendar deleted"})
}

// CalendarDay is a calendar with its next watering
type CalendarDay struct {
	Calendar     *models.IrrigationCalendar `json:"calendar"`
	WatersToday  bool                       `json:"waters_today"`
	NextWatering *time.Time                 `json:"next_watering"`
}

func (s *Server) handleCalendarsToday(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gid, err := s.greenhouseID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := db.ListCalendars(gid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := s.now()
	out := []CalendarDay{}
	for _, c := range list {
		if !c.WatersOn(now) {
			continue
		}
		day := CalendarDay{Calendar: c, WatersToday: true}
		if next, ok := c.NextWatering(now); ok {
			day.NextWatering = &next
		}
		out = append(out, day)
	}
	slices.SortFunc(out, func(a, b CalendarDay) int {
		return cmp.Compare(a.Calendar.TimeOfDay, b.Calendar.TimeOfDay)
	})
	writeData(w, out)
}

// Notifications

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50, maxRecordLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.NotificationFilter{
		Type:       models.NotificationType(q.Get("type")),
		UnreadOnly: q.Get("unread") == "true",
		Limit:      limit,
	}

	list, err := db.ListNotifications(filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	writeData(w, list)
}

type notificationRequest struct {
	Type       models.NotificationType `json:"type"`
	Title      string                  `json:"title"`
	Message    string                  `json:"message"`
	Priority   models.Priority         `json:"priority"`
	Recipients []int64                 `json:"recipients"`
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req notificationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	now := s.now()
	n := &models.Notification{
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		Priority:   req.Priority,
		Recipients: req.Recipients,
		CreatedAt:  now,
		SentAt:     &now,
	}
	if err := db.CreateNotification(n); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: n, Message: "notification created"})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := db.MarkNotificationRead(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "notification marked as read"})
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	db, err := s.database()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := db.DeleteNotification(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "notification deleted"})
}

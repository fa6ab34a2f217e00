package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"eventcal/internal/caldate"
	"eventcal/internal/calendar"
	"eventcal/internal/config"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/notify"
	"eventcal/internal/series"
	"eventcal/internal/store"
)

const maxBodyBytes = 1 << 20

// ReminderSource lists recently fired reminders.
type ReminderSource interface {
	Reminders() []notify.Reminder
}

// Server exposes the calendar service as a JSON HTTP API.
type Server struct {
	cfg       *config.Config
	svc       *calendar.Service
	reminders ReminderSource
	mux       *http.ServeMux
	now       func() time.Time
}

// NewServer constructs a new Server. reminders may be nil when the notifier
// is disabled.
func NewServer(cfg *config.Config, svc *calendar.Service, reminders ReminderSource) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		reminders: reminders,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호(해시)가 설정된 경우에는 비활성화로 취급한다.
	ba := s.cfg.BasicAuth
	return ba.Username != "" && (ba.Password != "" || ba.PasswordHash != "")
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password
	hash := s.cfg.BasicAuth.PasswordHash

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !checkPassword(p, password, hash) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkPassword verifies p against the bcrypt hash when one is configured,
// otherwise against the plain password.
func checkPassword(p, password, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
	}
	return secureCompare(p, password)
}

// HashPassword returns the bcrypt hash stored as basic_auth.password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, svc *calendar.Service, reminders ReminderSource) error {
	s := NewServer(cfg, svc, reminders)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ctx 가 cancel 되면 Shutdown 으로 진행 중인 요청을 마무리한 뒤 종료한다.
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/options", s.handleOptions)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}/move", s.handleMoveEvent)

	s.mux.HandleFunc("GET /api/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/reminders", s.handleReminders)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// optionsResponse lists the choices an event form offers.
type optionsResponse struct {
	Categories          []model.Category   `json:"categories"`
	RepeatTypes         []model.RepeatType `json:"repeatTypes"`
	NotificationOptions []int              `json:"notificationOptions"`
	WeekStart           string             `json:"weekStart"`
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, optionsResponse{
		Categories: model.Categories,
		RepeatTypes: []model.RepeatType{
			model.RepeatNone, model.RepeatDaily, model.RepeatWeekly, model.RepeatMonthly, model.RepeatYearly,
		},
		NotificationOptions: model.NotificationOptions,
		WeekStart:           s.cfg.WeekStart,
	})
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	Events []model.Event `json:"events"`
	View   calendar.View `json:"view"`
	Query  string        `json:"query,omitempty"`
}

// handleListEvents returns stored events.
//
// GET /api/events?q=&view=all|week|month&date=YYYY-MM-DD
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := calendar.ParseView(q.Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	anchor, err := parseDateDefault(q.Get("date"), caldate.FromTime(s.now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.svc.List(r.Context(), calendar.Filter{Query: q.Get("q"), View: view, Anchor: anchor})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, View: view, Query: q.Get("q")})
}

// handleCreateEvent creates an event or series from the body.
//
// POST /api/events?force=1
//   - 201 with the created instances
//   - 409 with the overlap report when not forced
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var seed model.Event
	if !decodeBody(w, r, &seed) {
		return
	}

	res, err := s.svc.Create(r.Context(), seed, calendar.CreateOptions{Force: parseBool(r.URL.Query().Get("force"))})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !res.Committed {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// promptResponse asks the client to pick a scope for a series instance.
type promptResponse struct {
	State   series.State   `json:"state"`
	Action  series.Action  `json:"action"`
	Event   model.Event    `json:"event"`
	Choices []series.Scope `json:"choices"`
	Message string         `json:"message"`
}

// beginChange resolves the session for action on the event in the path,
// using the scope query parameter. It writes the response and returns nil
// when the request cannot proceed.
func (s *Server) beginChange(w http.ResponseWriter, r *http.Request, action series.Action) *series.Session {
	session, err := s.svc.BeginChange(r.Context(), action, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	if session.State() != series.StatePrompt {
		return session
	}

	raw := r.URL.Query().Get("scope")
	if raw == "" {
		msg := "해당 일정만 수정하시겠어요?"
		if action == series.ActionDelete {
			msg = "해당 일정만 삭제하시겠어요?"
		}
		writeJSON(w, http.StatusPreconditionRequired, promptResponse{
			State:   series.StatePrompt,
			Action:  action,
			Event:   session.Target(),
			Choices: []series.Scope{series.ScopeSingle, series.ScopeAll},
			Message: msg,
		})
		return nil
	}
	scope, err := series.ParseScope(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	if err := session.Choose(scope); err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	return session
}

// handleUpdateEvent edits an event.
//
// PUT /api/events/{id}?scope=single|all&force=1
//   - 428 with a prompt when the event belongs to a series and scope is empty
//   - 409 with the overlap report when not forced
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var edited model.Event
	if !decodeBody(w, r, &edited) {
		return
	}
	session := s.beginChange(w, r, series.ActionEdit)
	if session == nil {
		return
	}

	res, err := s.svc.ApplyEdit(r.Context(), session, edited, calendar.EditOptions{Force: parseBool(r.URL.Query().Get("force"))})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !res.Committed {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteEvent deletes an event.
//
// DELETE /api/events/{id}?scope=single|all
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	session := s.beginChange(w, r, series.ActionDelete)
	if session == nil {
		return
	}
	res, err := s.svc.ApplyDelete(r.Context(), session)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type moveRequest struct {
	Date caldate.Date `json:"date"`
}

// handleMoveEvent relocates an event to another date, as a drag and drop
// in the month view does.
//
// PATCH /api/events/{id}/move?force=1 {"date":"YYYY-MM-DD"}
func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.Move(r.Context(), r.PathValue("id"), req.Date, calendar.EditOptions{Force: parseBool(r.URL.Query().Get("force"))})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !res.Committed {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/month?date=YYYY-MM-DD
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseDateDefault(r.URL.Query().Get("date"), caldate.FromTime(s.now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.svc.Month(r.Context(), anchor)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/week?date=YYYY-MM-DD
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseDateDefault(r.URL.Query().Get("date"), caldate.FromTime(s.now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.svc.Week(r.Context(), anchor)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type remindersResponse struct {
	Reminders []notify.Reminder `json:"reminders"`
}

func (s *Server) handleReminders(w http.ResponseWriter, _ *http.Request) {
	resp := remindersResponse{Reminders: []notify.Reminder{}}
	if s.reminders != nil {
		resp.Reminders = s.reminders.Reminders()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/export.ics
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.List(r.Context(), calendar.Filter{View: calendar.ViewAll})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	body, err := ics.Export(events, s.now())
	if err != nil {
		appLog.Error("api export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="eventcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeServiceError maps service errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *model.ValidationError
		order      *model.TimeOrderError
		rule       *model.InvalidRuleError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &order), errors.As(err, &rule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, calendar.ErrSessionTarget):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, series.ErrNotPrompting), errors.Is(err, series.ErrNotResolved), errors.Is(err, calendar.ErrWrongAction):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func parseDateDefault(s string, def caldate.Date) (caldate.Date, error) {
	if s == "" {
		return def, nil
	}
	return caldate.Parse(s)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

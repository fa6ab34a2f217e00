package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/calendar"
	"eventcal/internal/config"
	"eventcal/internal/model"
	"eventcal/internal/notify"
	"eventcal/internal/recur"
	"eventcal/internal/store"
)

type fakeReminders []notify.Reminder

func (f fakeReminders) Reminders() []notify.Reminder { return f }

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig(t.TempDir())
	}
	st, err := store.NewJSONStore(filepath.Join(t.TempDir(), "events.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := 0
	svc := calendar.New(st, calendar.Options{
		Expander: recur.NewExpander(recur.Config{NewID: func() string {
			n++
			return fmt.Sprintf("id-%03d", n)
		}}),
		Holidays: calendar.StaticHolidays{"2025-11-03": "테스트 공휴일"},
	})
	s := NewServer(cfg, svc, fakeReminders{{EventID: "id-001", Title: "회의", Minutes: 10, Message: "10분 후 회의 일정이 시작됩니다."}})
	s.now = func() time.Time { return time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const meeting = `{"title":"회의","date":"2025-11-10","startTime":"10:00","endTime":"11:00","category":"업무","repeat":{"type":"none"},"notificationTime":10}`

const jogging = `{"title":"조깅","date":"2025-11-08","startTime":"06:00","endTime":"07:00","category":"개인",
"repeat":{"type":"daily","interval":1,"endDate":"2025-11-12"},"notificationTime":null}`

func TestHealthIsOpenWithBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig(t.TempDir())
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := newTestServer(t, cfg).Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthOffWithEmptyCredentials(t *testing.T) {
	for _, ba := range []*config.BasicAuthConfig{
		{Username: "", Password: "secret"},
		{Username: "admin"},
	} {
		cfg := config.DefaultConfig(t.TempDir())
		cfg.BasicAuth = ba
		s := newTestServer(t, cfg)
		assert.False(t, s.basicAuthEnabled())

		rec := do(t, s.Handler(), http.MethodGet, "/api/options", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCreateAndList(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/events", meeting)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[calendar.Result](t, rec)
	require.Len(t, res.Saved, 1)
	assert.Equal(t, "회의", res.Saved[0].Title)
	minutes, ok := res.Saved[0].NotificationTime.Get()
	assert.True(t, ok)
	assert.Equal(t, 10, minutes)

	rec = do(t, h, http.MethodGet, "/api/events?q=%ED%9A%8C%EC%9D%98", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[eventsResponse](t, rec)
	assert.Len(t, list.Events, 1)
	assert.Equal(t, calendar.ViewAll, list.View)
}

func TestCreateValidationError(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/events",
		`{"title":"역전","date":"2025-11-10","startTime":"11:00","endTime":"10:00","category":"업무"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateConflictThenForce(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/events", meeting).Code)

	overlapping := strings.Replace(meeting, `"10:00","endTime":"11:00"`, `"10:30","endTime":"11:30"`, 1)
	rec := do(t, h, http.MethodPost, "/api/events", overlapping)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	res := decode[calendar.Result](t, rec)
	assert.False(t, res.Committed)
	assert.False(t, res.Conflicts.Empty())

	rec = do(t, h, http.MethodPost, "/api/events?force=1", overlapping)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpdateRecurringPromptsForScope(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/events", jogging)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[calendar.Result](t, rec)
	require.Len(t, created.Saved, 5)
	target := created.Saved[1]

	edited := target
	edited.Title = "산책"
	body, err := json.Marshal(edited)
	require.NoError(t, err)

	rec = do(t, h, http.MethodPut, "/api/events/"+target.ID, string(body))
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)
	prompt := decode[promptResponse](t, rec)
	assert.Equal(t, "prompt", string(prompt.State))
	assert.Equal(t, target.ID, prompt.Event.ID)

	rec = do(t, h, http.MethodPut, "/api/events/"+target.ID+"?scope=bogus", string(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/events/"+target.ID+"?scope=single", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[calendar.Result](t, rec)
	require.Len(t, res.Saved, 1)
	assert.Equal(t, "산책", res.Saved[0].Title)
	assert.Empty(t, res.Saved[0].SeriesID)
	assert.Equal(t, model.RepeatNone, res.Saved[0].Repeat.Type)
}

func TestUpdateUnknownEvent(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := do(t, h, http.MethodPut, "/api/events/missing", meeting)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAllInstances(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/events", jogging)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[calendar.Result](t, rec)

	rec = do(t, h, http.MethodDelete, "/api/events/"+created.Saved[0].ID, "")
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/events/"+created.Saved[0].ID+"?scope=all", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[calendar.Result](t, rec)
	assert.Len(t, res.Deleted, 5)

	list := decode[eventsResponse](t, do(t, h, http.MethodGet, "/api/events", ""))
	assert.Empty(t, list.Events)
}

func TestDeleteStandaloneNeedsNoScope(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	created := decode[calendar.Result](t, do(t, h, http.MethodPost, "/api/events", meeting))
	rec := do(t, h, http.MethodDelete, "/api/events/"+created.Saved[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{created.Saved[0].ID}, decode[calendar.Result](t, rec).Deleted)
}

func TestMoveEvent(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	created := decode[calendar.Result](t, do(t, h, http.MethodPost, "/api/events", meeting))
	id := created.Saved[0].ID

	rec := do(t, h, http.MethodPatch, "/api/events/"+id+"/move", `{"date":"2025-11-12"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[calendar.Result](t, rec)
	require.Len(t, res.Saved, 1)
	assert.Equal(t, "2025-11-12", res.Saved[0].Date.String())

	rec = do(t, h, http.MethodPatch, "/api/events/"+id+"/move", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonthAndWeekViews(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/events", meeting).Code)

	rec := do(t, h, http.MethodGet, "/api/month?date=2025-11-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	month := decode[calendar.MonthView](t, rec)
	assert.Equal(t, "테스트 공휴일", month.Holidays["2025-11-03"])
	assert.Len(t, month.Events["2025-11-10"], 1)

	// Without a date the server clock (2025-11-10) anchors the week.
	rec = do(t, h, http.MethodGet, "/api/week", "")
	require.Equal(t, http.StatusOK, rec.Code)
	week := decode[calendar.WeekView](t, rec)
	assert.Len(t, week.Events["2025-11-10"], 1)

	rec = do(t, h, http.MethodGet, "/api/month?date=2025-13-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRejectsUnknownView(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := do(t, h, http.MethodGet, "/api/events?view=year", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminders(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	rec := do(t, h, http.MethodGet, "/api/reminders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[remindersResponse](t, rec)
	require.Len(t, resp.Reminders, 1)
	assert.Equal(t, "id-001", resp.Reminders[0].EventID)
}

func TestOptions(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	resp := decode[optionsResponse](t, do(t, h, http.MethodGet, "/api/options", ""))
	assert.Equal(t, model.Categories, resp.Categories)
	assert.Equal(t, model.NotificationOptions, resp.NotificationOptions)
	assert.Equal(t, "sunday", resp.WeekStart)
}

func TestExportICS(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/events", meeting).Code)

	rec := do(t, h, http.MethodGet, "/api/export.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")

	cal, err := ical.ParseCalendar(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "회의", events[0].GetProperty(ical.ComponentPropertySummary).Value)
	assert.Len(t, events[0].Alarms(), 1)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}

func TestBasicAuthWithPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	cfg := config.DefaultConfig(t.TempDir())
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", PasswordHash: hash}
	h := newTestServer(t, cfg).Handler()

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"correct", "s3cret", http.StatusOK},
		{"wrong", "secret", http.StatusUnauthorized},
		{"hash itself", hash, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/options", nil)
			req.SetBasicAuth("admin", tt.password)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	_, err = HashPassword("")
	assert.Error(t, err)
}

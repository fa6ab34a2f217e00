package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/caldate"
	"eventcal/internal/model"
)

const holidayFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//holidays//KO
BEGIN:VEVENT
UID:newyear@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240101
DTEND;VALUE=DATE:20240102
SUMMARY:신정
RRULE:FREQ=YEARLY
EXDATE;VALUE=DATE:20260101
END:VEVENT
BEGIN:VEVENT
UID:chuseok-2025@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20251006
DTEND;VALUE=DATE:20251007
SUMMARY:추석
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20250101
SUMMARY:no uid
END:VEVENT
END:VCALENDAR
`

func TestParseHolidays(t *testing.T) {
	feed := Feed{ID: "kr"}
	hs, err := ParseHolidays(feed, []byte(holidayFeed))
	require.NoError(t, err)
	require.Len(t, hs, 2)

	assert.Equal(t, "newyear@test", hs[0].UID)
	assert.Equal(t, "신정", hs[0].Name)
	assert.Equal(t, caldate.MustParse("2024-01-01"), hs[0].Date)
	assert.True(t, hs[0].AllDay)
	assert.Equal(t, "FREQ=YEARLY", hs[0].RRule)
	assert.Equal(t, []caldate.Date{caldate.MustParse("2026-01-01")}, hs[0].ExDates)

	assert.Equal(t, "추석", hs[1].Name)
	assert.Empty(t, hs[1].RRule)
	assert.Equal(t, feed, hs[1].Feed)
}

func TestParseHolidaysRejectsEmptyOrBroken(t *testing.T) {
	_, err := ParseHolidays(Feed{}, nil)
	assert.Error(t, err)

	_, err = ParseHolidays(Feed{}, []byte("not a calendar"))
	assert.Error(t, err)
}

func TestParseICSDate(t *testing.T) {
	d, err := parseICSDate("20251006")
	require.NoError(t, err)
	assert.Equal(t, caldate.MustParse("2025-10-06"), d)

	d, err = parseICSDate("20251006T120000")
	require.NoError(t, err)
	assert.Equal(t, caldate.MustParse("2025-10-06"), d)

	_, err = parseICSDate("")
	assert.Error(t, err)
}

func TestExpandHolidays(t *testing.T) {
	hs, err := ParseHolidays(Feed{ID: "kr"}, []byte(holidayFeed))
	require.NoError(t, err)

	res, err := ExpandHolidays(hs, ExpandConfig{
		From: caldate.MustParse("2025-01-01"),
		To:   caldate.MustParse("2027-12-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"2025-01-01": "신정",
		"2025-10-06": "추석",
		"2027-01-01": "신정",
	}, res.Days)
	assert.Empty(t, res.Truncated)
}

func TestExpandHolidaysCap(t *testing.T) {
	daily := Holiday{UID: "d", Name: "매일", Date: caldate.MustParse("2025-01-01"), RRule: "FREQ=DAILY"}
	res, err := ExpandHolidays([]Holiday{daily}, ExpandConfig{
		From:          caldate.MustParse("2025-01-01"),
		To:            caldate.MustParse("2025-12-31"),
		MaxPerHoliday: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Days, 10)
	assert.Equal(t, []string{"d"}, res.Truncated)
}

func TestExpandHolidaysBadRange(t *testing.T) {
	_, err := ExpandHolidays(nil, ExpandConfig{
		From: caldate.MustParse("2025-02-01"),
		To:   caldate.MustParse("2025-01-01"),
	})
	assert.Error(t, err)
}

func TestFetcherCachesWithETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "kr", URL: srv.URL + "/kr.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, holidayFeed, string(first.Body))

	second, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, holidayFeed, string(second.Body))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestFetcherFallsBackToCache(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "kr", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	_, err = NewFetcher(t.TempDir()).FetchOne(context.Background(), feed)
	assert.Error(t, err)
}

func TestFetchAllCollectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing.ics") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	results, errs := f.FetchAll(context.Background(), []Feed{
		{ID: "ok", URL: srv.URL + "/ok.ics"},
		{ID: "missing", URL: srv.URL + "/missing.ics"},
		{ID: "empty"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Feed.ID)
	assert.Len(t, errs, 2)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)",
		redactURL("https://calendar.example.com/private/abc.ics?token=xyz"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestOverlay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer srv.Close()

	o := NewOverlay(
		map[string]string{"2025-12-25": "크리스마스", "2025-10-06": "추석 연휴", "bad": "x"},
		[]Feed{{ID: "kr", URL: srv.URL}},
		NewFetcher(t.TempDir()),
	)
	ctx := context.Background()

	before := o.Holidays(ctx, caldate.MustParse("2025-01-01"), caldate.MustParse("2025-12-31"))
	assert.Equal(t, map[string]string{"2025-12-25": "크리스마스", "2025-10-06": "추석 연휴"}, before)
	assert.True(t, o.RefreshedAt().IsZero())

	require.NoError(t, o.Refresh(ctx))
	assert.False(t, o.RefreshedAt().IsZero())

	got := o.Holidays(ctx, caldate.MustParse("2025-01-01"), caldate.MustParse("2025-12-31"))
	assert.Equal(t, map[string]string{
		"2025-01-01": "신정",
		"2025-10-06": "추석 연휴",
		"2025-12-25": "크리스마스",
	}, got)

	october := o.Holidays(ctx, caldate.MustParse("2025-10-01"), caldate.MustParse("2025-10-31"))
	assert.Equal(t, map[string]string{"2025-10-06": "추석 연휴"}, october)
}

func TestOverlayRefreshReportsFailures(t *testing.T) {
	o := NewOverlay(nil, []Feed{{ID: "broken", URL: "http://127.0.0.1:1/none.ics"}}, NewFetcher(t.TempDir()))
	assert.Error(t, o.Refresh(context.Background()))
	assert.Empty(t, o.Holidays(context.Background(), caldate.MustParse("2025-01-01"), caldate.MustParse("2025-12-31")))

	assert.NoError(t, NewOverlay(nil, nil, nil).Refresh(context.Background()))
}

func TestRuleString(t *testing.T) {
	end := caldate.MustParse("2025-11-15")
	tests := []struct {
		name string
		rule model.Repeat
		want string
	}{
		{"none", model.NoRepeat(), ""},
		{"daily open", model.Repeat{Type: model.RepeatDaily, Interval: 1}, "FREQ=DAILY;INTERVAL=1"},
		{"weekly until", model.Repeat{Type: model.RepeatWeekly, Interval: 2, EndDate: &end}, "FREQ=WEEKLY;INTERVAL=2;UNTIL=20251115T235959Z"},
		{"yearly", model.Repeat{Type: model.RepeatYearly, Interval: 1}, "FREQ=YEARLY;INTERVAL=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RuleString(tt.rule))
		})
	}
}

func TestExport(t *testing.T) {
	end := caldate.MustParse("2025-11-09")
	events := []model.Event{
		{
			ID:               "a",
			SeriesID:         "s1",
			Title:            "아침 조깅",
			Date:             caldate.MustParse("2025-11-08"),
			StartTime:        model.MustClock("06:00"),
			EndTime:          model.MustClock("07:00"),
			Location:         "공원",
			Category:         model.CategoryPersonal,
			Repeat:           model.Repeat{Type: model.RepeatDaily, Interval: 1, EndDate: &end},
			NotificationTime: mo.Some(10),
		},
		{
			ID:        "b",
			Title:     "회의",
			Date:      caldate.MustParse("2025-11-10"),
			StartTime: model.MustClock("14:00"),
			EndTime:   model.MustClock("15:30"),
			Category:  model.CategoryWork,
			Repeat:    model.NoRepeat(),
		},
	}

	out, err := Export(events, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	cal, err := ical.ParseCalendar(strings.NewReader(string(out)))
	require.NoError(t, err)
	vevents := cal.Events()
	require.Len(t, vevents, 2)

	first := vevents[0]
	assert.Equal(t, "a", first.Id())
	assert.Equal(t, "20251108T060000", first.GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20251108T070000", first.GetProperty(ical.ComponentPropertyDtEnd).Value)
	assert.Equal(t, "아침 조깅", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "공원", first.GetProperty(ical.ComponentPropertyLocation).Value)
	assert.Equal(t, "s1", first.GetProperty(PropertySeriesID).Value)
	assert.Equal(t, "FREQ=DAILY;INTERVAL=1;UNTIL=20251109T235959Z", first.GetProperty(PropertySeriesRule).Value)
	require.Len(t, first.Alarms(), 1)
	assert.Equal(t, "-PT10M", first.Alarms()[0].GetProperty(ical.ComponentPropertyTrigger).Value)

	second := vevents[1]
	assert.Equal(t, "20251110T153000", second.GetProperty(ical.ComponentPropertyDtEnd).Value)
	assert.Nil(t, second.GetProperty(PropertySeriesRule))
	assert.Empty(t, second.Alarms())
}

func TestExportRejectsMissingID(t *testing.T) {
	_, err := Export([]model.Event{{Title: "x"}}, time.Now())
	assert.Error(t, err)
}

package ics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"eventcal/internal/caldate"
	appLog "eventcal/internal/log"
)

// Overlay combines a static holiday table with the holidays of subscribed
// feeds. Feed data is loaded by Refresh and served from memory.
type Overlay struct {
	static  map[string]string
	feeds   []Feed
	fetcher *Fetcher

	mu          sync.RWMutex
	holidays    []Holiday
	refreshedAt time.Time
}

// NewOverlay returns an Overlay. static maps YYYY-MM-DD to a name; fetcher
// may be nil when feeds is empty.
func NewOverlay(static map[string]string, feeds []Feed, fetcher *Fetcher) *Overlay {
	table := make(map[string]string, len(static))
	for k, v := range static {
		d, err := caldate.Parse(k)
		if err != nil {
			appLog.Warn("holiday overlay: skipping invalid date", "date", k)
			continue
		}
		table[d.String()] = v
	}
	return &Overlay{static: table, feeds: feeds, fetcher: fetcher}
}

// Refresh fetches and parses every feed. Feeds that fail keep nothing; the
// ones that succeed replace the previous feed data. The returned error
// aggregates per-feed failures.
func (o *Overlay) Refresh(ctx context.Context) error {
	if len(o.feeds) == 0 || o.fetcher == nil {
		return nil
	}

	results, errs := o.fetcher.FetchAll(ctx, o.feeds)
	parsed := make([]Holiday, 0)
	for _, res := range results {
		hs, err := ParseHolidays(res.Feed, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, hs...)
	}

	o.mu.Lock()
	o.holidays = parsed
	o.refreshedAt = time.Now()
	o.mu.Unlock()

	appLog.Info("holiday overlay refreshed", "feeds", len(o.feeds), "holidays", len(parsed), "errors", len(errs))
	return errorsAggregate(errs)
}

// RefreshedAt reports when Refresh last completed; zero if never.
func (o *Overlay) RefreshedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.refreshedAt
}

// Holidays returns holiday names by date for [from, to]. Static entries win
// over feed entries on the same date.
func (o *Overlay) Holidays(_ context.Context, from, to caldate.Date) map[string]string {
	o.mu.RLock()
	hs := o.holidays
	o.mu.RUnlock()

	out := make(map[string]string)
	if len(hs) > 0 {
		res, err := ExpandHolidays(hs, ExpandConfig{From: from, To: to})
		if err != nil {
			appLog.Error("holiday overlay: expand failed", err)
		} else {
			for k, v := range res.Days {
				out[k] = v
			}
		}
	}

	for k, v := range o.static {
		d := caldate.MustParse(k)
		if d.Before(from) || d.After(to) {
			continue
		}
		out[k] = v
	}
	return out
}

func errorsAggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var b strings.Builder
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}

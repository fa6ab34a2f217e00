package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFirstRunWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, "json", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "nested", "events.json"), cfg.Store.Path)
	assert.Equal(t, 1000, cfg.Recurrence.MaxInstances)
	assert.Equal(t, "삼일절", cfg.Holidays["2025-03-01"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Second load reads the written file back.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
listen: ":9090"
week_start: tuesday
store:
  driver: sqlite
recurrence:
  default_end: "2025-12-31"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sunday", cfg.WeekStart)
	assert.Equal(t, time.Sunday, cfg.FirstWeekday())
	assert.Equal(t, filepath.Join(dir, "events.db"), cfg.Store.Path)
	assert.Equal(t, defaultNotifyCron, cfg.Notify.Cron)
	assert.Equal(t, defaultHolidayCron, cfg.HolidayRefreshCron)
	assert.NotNil(t, cfg.Holidays)

	end, err := cfg.DefaultEnd()
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, "2025-12-31", end.String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"driver", "store:\n  driver: mongo\n"},
		{"default end", "recurrence:\n  default_end: tomorrow\n"},
		{"cron", "notify:\n  cron: \"every minute\"\n"},
		{"holiday date", "holidays:\n  \"12-25\": 크리스마스\n"},
		{"holiday cron", "holiday_refresh_cron: hourly\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig(filepath.Dir(path))
	cfg.WeekStart = "monday"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	cfg.HolidayFeeds = []FeedConfig{{ID: "kr", Name: "대한민국 공휴일", URL: "https://example.com/kr.ics"}}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, loaded.FirstWeekday())
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "admin", loaded.BasicAuth.Username)
	require.Len(t, loaded.HolidayFeeds, 1)
	assert.Equal(t, "kr", loaded.HolidayFeeds[0].ID)
}

func TestSaveRejectsEmptyInput(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig(".")))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

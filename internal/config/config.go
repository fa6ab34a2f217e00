package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"eventcal/internal/caldate"
)

// FeedConfig describes a single holiday ICS subscription.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	// PasswordHash is a bcrypt hash; when set it is checked instead of
	// Password.
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	// Driver is "json" (default) or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the events file or database path.
	Path string `yaml:"path" json:"path"`
}

// RecurrenceConfig bounds series expansion.
type RecurrenceConfig struct {
	// MaxInstances caps the number of instances one series may produce.
	MaxInstances int `yaml:"max_instances" json:"max_instances"`
	// DefaultEnd (YYYY-MM-DD) bounds series created without an end date.
	// Empty means only MaxInstances bounds them.
	DefaultEnd string `yaml:"default_end" json:"default_end"`
}

// NotifyConfig controls the reminder job.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Cron is a cron-style schedule (e.g. "* * * * *") for reminder checks.
	Cron string `yaml:"cron" json:"cron"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// WeekStart controls which weekday is treated as the first day of the
	// week in week views. Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	Store      StoreConfig      `yaml:"store" json:"store"`
	Recurrence RecurrenceConfig `yaml:"recurrence" json:"recurrence"`
	Notify     NotifyConfig     `yaml:"notify" json:"notify"`

	// Holidays maps YYYY-MM-DD to a holiday name shown as an overlay.
	Holidays map[string]string `yaml:"holidays" json:"holidays"`

	// HolidayFeeds are ICS calendars merged into the holiday overlay.
	HolidayFeeds []FeedConfig `yaml:"holiday_feeds" json:"holiday_feeds"`

	// HolidayRefreshCron schedules holiday feed refreshes (cron syntax).
	HolidayRefreshCron string `yaml:"holiday_refresh_cron" json:"holiday_refresh_cron"`

	// CacheDir stores fetched holiday feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultNotifyCron   = "* * * * *"
	defaultHolidayCron  = "0 */6 * * *"
	defaultMaxInstances = 1000
)

// DefaultConfig returns an in-memory default configuration. dataDir is
// where the events file and caches live.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Listen:    defaultListen,
		LogLevel:  "info",
		WeekStart: "sunday",
		Store: StoreConfig{
			Driver: "json",
			Path:   filepath.Join(dataDir, "events.json"),
		},
		Recurrence: RecurrenceConfig{
			MaxInstances: defaultMaxInstances,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Cron:    defaultNotifyCron,
		},
		Holidays: map[string]string{
			"2025-01-01": "신정",
			"2025-03-01": "삼일절",
			"2025-05-05": "어린이날",
			"2025-06-06": "현충일",
			"2025-08-15": "광복절",
			"2025-10-03": "개천절",
			"2025-10-09": "한글날",
			"2025-12-25": "크리스마스",
		},
		HolidayFeeds:       []FeedConfig{},
		HolidayRefreshCron: defaultHolidayCron,
		CacheDir:           filepath.Join(dataDir, "ics-cache"),
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. dataDir anchors relative defaults.
func (c *Config) Normalize(dataDir string) {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		// 알 수 없는 값이나 빈 값은 일요일 시작으로 맞춘다.
		c.WeekStart = "sunday"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "json"
	}
	if c.Store.Path == "" {
		name := "events.json"
		if c.Store.Driver == "sqlite" {
			name = "events.db"
		}
		// 상대 경로 기본값은 설정 파일 옆(dataDir)에 둔다.
		c.Store.Path = filepath.Join(dataDir, name)
	}
	if c.Recurrence.MaxInstances <= 0 {
		c.Recurrence.MaxInstances = defaultMaxInstances
	}
	if c.Notify.Cron == "" {
		c.Notify.Cron = defaultNotifyCron
	}
	if c.Holidays == nil {
		c.Holidays = map[string]string{}
	}
	if c.HolidayFeeds == nil {
		c.HolidayFeeds = []FeedConfig{}
	}
	if c.HolidayRefreshCron == "" {
		c.HolidayRefreshCron = defaultHolidayCron
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(dataDir, "ics-cache")
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := c.DefaultEnd(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Notify.Cron); err != nil {
		return fmt.Errorf("config: notify.cron: %w", err)
	}
	if _, err := cron.ParseStandard(c.HolidayRefreshCron); err != nil {
		return fmt.Errorf("config: holiday_refresh_cron: %w", err)
	}
	for date := range c.Holidays {
		if _, err := caldate.Parse(date); err != nil {
			return fmt.Errorf("config: holidays: %w", err)
		}
	}
	return nil
}

// DefaultEnd parses Recurrence.DefaultEnd; nil when unset.
func (c *Config) DefaultEnd() (*caldate.Date, error) {
	if c.Recurrence.DefaultEnd == "" {
		return nil, nil
	}
	d, err := caldate.Parse(c.Recurrence.DefaultEnd)
	if err != nil {
		return nil, fmt.Errorf("config: recurrence.default_end: %w", err)
	}
	return &d, nil
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
//
// Relative defaults (events file, cache) are placed next to the config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	dataDir := filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// 최초 실행: 기본 설정 파일을 생성한다.
			cfg := DefaultConfig(dataDir)
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize(dataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	cfg.Normalize(dir)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

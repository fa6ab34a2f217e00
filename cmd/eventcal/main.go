package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"eventcal/internal/calendar"
	"eventcal/internal/config"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/notify"
	"eventcal/internal/recur"
	"eventcal/internal/store"
	"eventcal/internal/web"
)

const version = "0.1.0"

var configPath string

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".eventcal", "config.yaml")

	rootCmd := &cobra.Command{
		Use:           "eventcal",
		Short:         "Event calendar with recurring series, overlap checks and reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(monthCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(passwdCmd())

	if err := rootCmd.Execute(); err != nil {
		appLog.Error("eventcal failed", err)
		os.Exit(1)
	}
}

// app bundles the components every command needs.
type app struct {
	cfg     *config.Config
	store   store.Store
	overlay *ics.Overlay
	svc     *calendar.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if cfg == nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		// First run with an unwritable config dir: keep the defaults.
		appLog.Warn("config not saved, using defaults", "config_path", configPath, "err", err.Error())
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	defaultEnd, err := cfg.DefaultEnd()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	feeds := make([]ics.Feed, 0, len(cfg.HolidayFeeds))
	for _, f := range cfg.HolidayFeeds {
		feeds = append(feeds, ics.Feed{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	overlay := ics.NewOverlay(cfg.Holidays, feeds, ics.NewFetcher(cfg.CacheDir))

	svc := calendar.New(st, calendar.Options{
		Expander: recur.NewExpander(recur.Config{
			MaxInstances: cfg.Recurrence.MaxInstances,
			DefaultEnd:   defaultEnd,
		}),
		Holidays:  overlay,
		WeekStart: cfg.FirstWeekday(),
	})

	return &app{cfg: cfg, store: st, overlay: overlay, svc: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the reminder job and holiday refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// --listen overrides the config file.
			if listen != "" {
				a.cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			appLog.Info("eventcal starting",
				"version", version,
				"listen", a.cfg.Listen,
				"store", a.cfg.Store.Driver,
				"store_path", a.cfg.Store.Path,
				"holiday_feeds", len(a.cfg.HolidayFeeds),
				"notify", a.cfg.Notify.Enabled,
			)

			if len(a.cfg.HolidayFeeds) > 0 {
				refresh := func() {
					if err := a.overlay.Refresh(ctx); err != nil {
						appLog.Error("holiday refresh failed", err)
					}
				}
				refresh()

				sched := cron.New()
				if _, err := sched.AddFunc(a.cfg.HolidayRefreshCron, refresh); err != nil {
					return fmt.Errorf("schedule holiday refresh: %w", err)
				}
				sched.Start()
				defer func() { <-sched.Stop().Done() }()
			}

			var reminders web.ReminderSource
			if a.cfg.Notify.Enabled {
				n := notify.NewNotifier(a.store, notify.Config{Schedule: a.cfg.Notify.Cron})
				if err := n.Start(ctx); err != nil {
					return fmt.Errorf("start notifier: %w", err)
				}
				defer n.Stop()
				reminders = n
			}

			err = web.StartServer(ctx, a.cfg, a.svc, reminders)
			appLog.Info("eventcal exiting")
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

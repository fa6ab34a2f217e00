package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"eventcal/internal/caldate"
	"eventcal/internal/calendar"
	"eventcal/internal/config"
	"eventcal/internal/ics"
	"eventcal/internal/model"
	"eventcal/internal/series"
	"eventcal/internal/store"
	"eventcal/internal/web"
)

// eventFlags holds the add command's event fields as typed on the command
// line.
type eventFlags struct {
	title       string
	date        string
	start       string
	end         string
	category    string
	description string
	location    string
	repeat      string
	interval    int
	until       string
	notify      int
}

// seed converts the flags into an event seed. An empty date means today;
// a negative notify value means no reminder.
func (f eventFlags) seed(today caldate.Date) (model.Event, error) {
	ev := model.Event{
		Title:       f.title,
		Date:        today,
		Description: f.description,
		Location:    f.location,
		Category:    model.Category(f.category),
		Repeat:      model.Repeat{Type: model.RepeatType(f.repeat), Interval: f.interval},
	}

	if f.date != "" {
		d, err := caldate.Parse(f.date)
		if err != nil {
			return model.Event{}, fmt.Errorf("--date: %w", err)
		}
		ev.Date = d
	}

	var err error
	if ev.StartTime, err = model.ParseClock(f.start); err != nil {
		return model.Event{}, fmt.Errorf("--start: %w", err)
	}
	if ev.EndTime, err = model.ParseClock(f.end); err != nil {
		return model.Event{}, fmt.Errorf("--end: %w", err)
	}

	if f.until != "" {
		d, err := caldate.Parse(f.until)
		if err != nil {
			return model.Event{}, fmt.Errorf("--until: %w", err)
		}
		ev.Repeat.EndDate = &d
	}

	if f.notify >= 0 {
		ev.NotificationTime = mo.Some(f.notify)
	}
	return ev, nil
}

func addCmd() *cobra.Command {
	var (
		f     eventFlags
		force bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an event or a recurring series",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := f.seed(caldate.Today())
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Create(cmd.Context(), seed, calendar.CreateOptions{Force: force})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Committed {
				fmt.Fprintln(out, "다음 일정과 겹칩니다:")
				fmt.Fprintln(out, res.Conflicts.Summary())
				return fmt.Errorf("%d overlapping events; use --force to save anyway", len(res.Conflicts.Conflicts))
			}

			fmt.Fprintf(out, "Added %d event(s)\n", len(res.Saved))
			if res.Truncated {
				fmt.Fprintln(out, "(series truncated at the instance limit)")
			}
			printEvents(out, res.Saved)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.title, "title", "", "event title")
	cmd.Flags().StringVar(&f.date, "date", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&f.start, "start", "09:00", "start time HH:MM")
	cmd.Flags().StringVar(&f.end, "end", "10:00", "end time HH:MM")
	cmd.Flags().StringVar(&f.category, "category", string(model.CategoryWork), "category (업무, 개인, 가족, 기타)")
	cmd.Flags().StringVar(&f.description, "desc", "", "description")
	cmd.Flags().StringVar(&f.location, "location", "", "location")
	cmd.Flags().StringVar(&f.repeat, "repeat", string(model.RepeatNone), "none, daily, weekly, monthly or yearly")
	cmd.Flags().IntVar(&f.interval, "interval", 1, "repeat interval")
	cmd.Flags().StringVar(&f.until, "until", "", "repeat end date YYYY-MM-DD")
	cmd.Flags().IntVar(&f.notify, "notify", -1, "reminder minutes before start (-1 for none)")
	cmd.Flags().BoolVar(&force, "force", false, "save even when the event overlaps others")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func listCmd() *cobra.Command {
	var query, view, date string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := calendar.ParseView(view)
			if err != nil {
				return err
			}
			anchor := caldate.Today()
			if date != "" {
				if anchor, err = caldate.Parse(date); err != nil {
					return err
				}
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.svc.List(cmd.Context(), calendar.Filter{Query: query, View: v, Anchor: anchor})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "검색 결과가 없습니다.")
				return nil
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive text search")
	cmd.Flags().StringVar(&view, "view", "all", "all, week or month")
	cmd.Flags().StringVar(&date, "date", "", "anchor date for week/month views (default today)")
	return cmd
}

func rmCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an event, or every event of its series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveID(cmd.Context(), a.svc, args[0])
			if err != nil {
				return err
			}
			session, err := a.svc.BeginChange(cmd.Context(), series.ActionDelete, id)
			if err != nil {
				return err
			}
			if session.State() == series.StatePrompt {
				if scope == "" {
					return fmt.Errorf("event %s belongs to a series; pass --scope single or --scope all", shortID(id))
				}
				sc, err := series.ParseScope(scope)
				if err != nil {
					return err
				}
				if err := session.Choose(sc); err != nil {
					return err
				}
			}

			res, err := a.svc.ApplyDelete(cmd.Context(), session)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d event(s)\n", len(res.Deleted))
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "single or all (required for series instances)")
	return cmd
}

func monthCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "month",
		Short: "Print a month calendar with events and holidays",
		RunE: func(cmd *cobra.Command, args []string) error {
			anchor := caldate.Today()
			if date != "" {
				var err error
				if anchor, err = caldate.Parse(date); err != nil {
					return err
				}
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.svc.Month(cmd.Context(), anchor)
			if err != nil {
				return err
			}
			printMonth(cmd.OutOrStdout(), view)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "any date in the month (default today)")
	return cmd
}

func exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all events as iCalendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.svc.List(cmd.Context(), calendar.Filter{View: calendar.ViewAll})
			if err != nil {
				return err
			}
			body, err := ics.Export(events, time.Now())
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			return os.WriteFile(output, body, 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username> <password>",
		Short: "Enable HTTP basic auth with a bcrypt-hashed password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			hash, err := web.HashPassword(args[1])
			if err != nil {
				return err
			}
			cfg.BasicAuth = &config.BasicAuthConfig{Username: args[0], PasswordHash: hash}
			if err := cfg.Save(configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Basic auth enabled for %s\n", args[0])
			return nil
		},
	}
}

func printEvents(w io.Writer, events []model.Event) {
	for _, ev := range events {
		line := fmt.Sprintf("%s  %s %s-%s  [%s] %s", shortID(ev.ID), ev.Date, ev.StartTime, ev.EndTime, ev.Category, ev.Title)
		if ev.IsRecurring() {
			line += fmt.Sprintf("  (%s/%d)", ev.Repeat.Type, ev.Repeat.Interval)
		}
		if ev.Location != "" {
			line += "  @" + ev.Location
		}
		fmt.Fprintln(w, line)
	}
}

// printMonth renders the grid with a '*' after days that have events, then
// the holidays and events of the month.
func printMonth(w io.Writer, view calendar.MonthView) {
	fmt.Fprintln(w, view.Title)
	fmt.Fprintln(w, " 일   월   화   수   목   금   토")
	for _, week := range view.Weeks {
		var b strings.Builder
		for _, day := range week {
			if day == 0 {
				b.WriteString("     ")
				continue
			}
			mark := " "
			key := caldate.New(view.Month.Year, view.Month.Month, day).String()
			if len(view.Events[key]) > 0 {
				mark = "*"
			}
			fmt.Fprintf(&b, "%3d%s ", day, mark)
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}

	days := caldate.DaysInMonth(view.Month.Year, view.Month.Month)
	for day := 1; day <= days; day++ {
		key := caldate.New(view.Month.Year, view.Month.Month, day).String()
		if name, ok := view.Holidays[key]; ok {
			fmt.Fprintf(w, "%s  %s\n", key, name)
		}
		printEvents(w, view.Events[key])
	}
}

// resolveID maps an id or a unique id prefix, as printed by list, to the
// stored id.
func resolveID(ctx context.Context, svc *calendar.Service, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("event id is empty")
	}
	events, err := svc.List(ctx, calendar.Filter{View: calendar.ViewAll})
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 1)
	for _, ev := range events {
		if ev.ID == prefix {
			return ev.ID, nil
		}
		if strings.HasPrefix(ev.ID, prefix) {
			matches = append(matches, ev.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("event %s: %w", prefix, store.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("event id prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

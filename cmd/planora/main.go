package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/planora/planora/config"
	"github.com/planora/planora/internal/caldav"
	"github.com/planora/planora/internal/logger"
	"github.com/planora/planora/internal/service"
	"github.com/planora/planora/internal/storage"
)

func main() {
	days := flag.Int("days", 7, "window size in days for the agenda")
	sync := flag.Bool("sync", false, "pull the configured CalDAV calendar before printing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogDevelopment); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("open storage", err)
		os.Exit(1)
	}
	defer store.Close()

	eventSvc := service.NewEventService(store)
	subtaskSvc := service.NewSubtaskService(store)

	ctx := context.Background()
	from := time.Now().UTC()
	to := from.AddDate(0, 0, *days)

	if *sync {
		if !cfg.CalDAVConfigured() {
			fmt.Fprintln(os.Stderr, "caldav credentials not configured")
			os.Exit(1)
		}
		client := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword)
		syncSvc := service.NewSyncService(store, client, cfg.CalDAVCalendar)
		if _, err := syncSvc.Pull(ctx, from, to); err != nil {
			logger.Error("calendar pull", err)
			os.Exit(1)
		}
	}

	occurrences, err := eventSvc.OccurrencesBetween(ctx, from, to)
	if err != nil {
		logger.Error("expand occurrences", err)
		os.Exit(1)
	}

	for _, occ := range occurrences {
		var seriesID *int64
		if occ.SeriesID != 0 {
			id := occ.SeriesID
			seriesID = &id
		}
		subtasks, err := subtaskSvc.Resolve(ctx, occ.ID, seriesID)
		if err != nil {
			logger.Error("resolve subtasks", err)
			os.Exit(1)
		}

		when := occ.Start.Format("Mon 02 Jan 15:04")
		if occ.AllDay {
			when = occ.Start.Format("Mon 02 Jan") + " (all day)"
		}
		line := fmt.Sprintf("%s  %s", when, occ.Title)
		if len(subtasks) > 0 {
			done := 0
			for _, st := range subtasks {
				if st.Completed {
					done++
				}
			}
			line += fmt.Sprintf("  [%d/%d]", done, len(subtasks))
		}
		fmt.Println(line)
	}
}

package gtfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"motionbus.dev/gtfs/parse"
)

// A static feed to load. Name is used for reporting only.
type Feed struct {
	Name string
	FS   fs.FS
}

type FolderReport struct {
	Name   string
	Report *parse.Report

	// Set if the folder could not be loaded. Its writes were rolled
	// back.
	Err error
}

type LoadReport struct {
	Date     string
	Duration time.Duration
	Folders  []*FolderReport
}

// Rows loaded per file, across folders.
func (r *LoadReport) Loaded() map[string]int {
	loaded := map[string]int{}
	for _, f := range r.Folders {
		if f.Report == nil {
			continue
		}
		for file, n := range f.Report.Loaded() {
			loaded[file] += n
		}
	}
	return loaded
}

// Malformed rows per file, across folders.
func (r *LoadReport) Malformed() map[string]int {
	malformed := map[string]int{}
	for _, f := range r.Folders {
		if f.Report == nil {
			continue
		}
		for _, rowErr := range f.Report.Malformed() {
			malformed[rowErr.File]++
		}
	}
	return malformed
}

// Drops all schedule data and loads the given feed folders (or zip
// files) for today's service date. If no folders are given, the
// engine's StaticFolders are used. Nothing is dropped if a folder
// can't be opened.
func (e *Engine) Reload(ctx context.Context, folders ...string) (*LoadReport, error) {
	if len(folders) == 0 {
		folders = e.StaticFolders
	}

	feeds := []Feed{}
	for _, folder := range folders {
		fsys, closer, err := parse.OpenFeed(folder)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", folder, err)
		}
		defer closer.Close()
		feeds = append(feeds, Feed{Name: folder, FS: fsys})
	}

	return e.ReloadFeeds(ctx, feeds)
}

// Drops all schedule data and loads feeds, in order, each in its own
// transaction. A folder failing to load doesn't stop the others, but
// is reported in the returned error. Once storage has been reset the
// date counts as loaded, failed folders included: what did load is
// committed, and reloading again would drop the day's realtime state.
func (e *Engine) ReloadFeeds(ctx context.Context, feeds []Feed) (*LoadReport, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	logger := e.logger("static")
	start := time.Now()

	report := &LoadReport{Date: e.today()}

	err := e.storage.Reset(ctx)
	if err != nil {
		e.Metrics.ObserveReload(false, 0, nil, nil)
		return nil, fmt.Errorf("resetting storage: %w", err)
	}
	e.loadedDate = report.Date

	errs := []error{}
	for _, feed := range feeds {
		fr := &FolderReport{Name: feed.Name}
		report.Folders = append(report.Folders, fr)

		fr.Report, fr.Err = e.loadFeed(ctx, feed, report.Date)
		if fr.Err != nil {
			logger.Error("loading feed failed", "feed", feed.Name, "error", fr.Err)
			errs = append(errs, fmt.Errorf("loading %s: %w", feed.Name, fr.Err))
			continue
		}

		logReport(logger, feed.Name, fr.Report)
	}

	report.Duration = time.Since(start)
	e.Metrics.ObserveReload(len(errs) == 0, report.Duration, report.Loaded(), report.Malformed())

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}

	logger.Info("reload complete", "date", report.Date, "folders", len(feeds), "duration_ms", report.Duration.Milliseconds())

	return report, nil
}

func (e *Engine) loadFeed(ctx context.Context, feed Feed, date string) (*parse.Report, error) {
	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	report, err := parse.ParseStatic(ctx, tx, feed.FS, date)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}

	return report, nil
}

func logReport(logger *slog.Logger, name string, report *parse.Report) {
	if !report.ServiceFound {
		logger.Warn("no service today", "feed", name, "date", report.Date)
	}
	for _, file := range report.Missing() {
		logger.Warn("missing file", "feed", name, "file", file)
	}
	for _, rowErr := range report.Malformed() {
		logger.Warn("malformed row", "feed", name, "file", rowErr.File, "row", rowErr.Row, "error", rowErr.Err)
	}
	if report.OrphanedTrips > 0 {
		logger.Warn("dropped trips without route", "feed", name, "trips", report.OrphanedTrips)
	}
	logger.Info("feed loaded", "feed", name, "service_id", report.ServiceID, "rows", report.Loaded())
}

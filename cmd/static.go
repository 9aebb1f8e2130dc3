package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"motionbus.dev/gtfs/parse"
	"motionbus.dev/gtfs/storage"
)

var reloadCmd = &cobra.Command{
	Use:   "reload [folder...]",
	Short: "Drops all schedule data and loads static feeds for today",
	Long:  "Drops all schedule data and loads static feeds for today. Folders default to those in the config.",
	RunE:  reload,
}

var validateCmd = &cobra.Command{
	Use:   "validate <folder>",
	Short: "Parses a static feed without writing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  validate,
}

var validateDate string

func init() {
	validateCmd.Flags().StringVarP(&validateDate, "date", "d", "", "Service date (YYYYMMDD), defaults to today")
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
}

func reload(cmd *cobra.Command, args []string) error {
	e, _, cleanup, err := buildEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := e.Reload(context.Background(), args...)
	if report != nil {
		for _, folder := range report.Folders {
			if folder.Err != nil {
				fmt.Printf("%s: failed: %s\n", folder.Name, folder.Err)
				continue
			}
			printReport(folder.Name, folder.Report)
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("loaded %s in %s\n", report.Date, report.Duration.Round(time.Millisecond))
	return nil
}

func validate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	date := validateDate
	if date == "" {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		date = parse.ServiceDate(time.Now(), loc)
	}

	fsys, closer, err := parse.OpenFeed(args[0])
	if err != nil {
		return err
	}
	defer closer.Close()

	feed := storage.NewMemoryFeed()
	report, err := parse.ParseStatic(context.Background(), feed, fsys, date)
	if err != nil {
		return err
	}

	printReport(args[0], report)
	fmt.Printf("%d routes, %d trips, %d stops, %d stop_times\n",
		len(feed.Routes()), len(feed.Trips()), len(feed.Stops()), len(feed.StopTimes()))

	return nil
}

func printReport(name string, report *parse.Report) {
	if report.ServiceFound {
		fmt.Printf("%s: service %d on %s\n", name, report.ServiceID, report.Date)
	} else {
		fmt.Printf("%s: no service on %s\n", name, report.Date)
	}

	for _, fr := range report.Files {
		if fr.Missing {
			fmt.Printf("  %-20s missing\n", fr.File)
			continue
		}
		fmt.Printf("  %-20s %d loaded, %d filtered, %d duplicate, %d unresolved, %d malformed\n",
			fr.File, fr.Loaded, fr.Filtered, fr.Duplicate, fr.Unresolved, len(fr.Malformed))
	}

	for _, rowErr := range report.Malformed() {
		fmt.Printf("  %s\n", rowErr)
	}
	if report.OrphanedTrips > 0 {
		fmt.Printf("  %d trips dropped, route missing\n", report.OrphanedTrips)
	}
}

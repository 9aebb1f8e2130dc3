package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"motionbus.dev/gtfs/model"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Runs a single realtime reconciliation cycle",
	Args:  cobra.NoArgs,
	RunE:  reconcile,
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Runs a reconciliation cycle and lists vehicle positions",
	Args:  cobra.NoArgs,
	RunE:  positions,
}

var resolveTripCmd = &cobra.Command{
	Use:   "resolve-trip <route_id> <start_time> <direction_id>",
	Short: "Resolves an added trip to a trip ID, allocating one if needed",
	Args:  cobra.ExactArgs(3),
	RunE:  resolveTrip,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reloads daily and reconciles continuously",
	Args:  cobra.NoArgs,
	RunE:  run,
}

var (
	reconcileJSON bool
	lookupOnly    bool
)

func init() {
	reconcileCmd.Flags().BoolVarP(&reconcileJSON, "json", "j", false, "Print the full report as JSON")
	resolveTripCmd.Flags().BoolVarP(&lookupOnly, "lookup", "", false, "Only look up, never allocate")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(resolveTripCmd)
	rootCmd.AddCommand(runCmd)
}

func reconcile(cmd *cobra.Command, args []string) error {
	e, _, cleanup, err := buildEngine(true)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := e.Reconcile(context.Background())
	if err != nil {
		return err
	}

	if reconcileJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("cycle %s: %d updated, %d unchanged, %d inserted, %d canceled, %d allocated, %d skipped, %d malformed, %d positions\n",
		report.CycleID,
		report.Updated,
		report.Unchanged,
		report.Inserted,
		report.Canceled,
		report.Allocated,
		len(report.Skipped),
		len(report.Malformed),
		len(report.Positions),
	)
	for _, s := range report.Skipped {
		fmt.Printf("  skipped %s trip=%d seq=%d: %s\n", s.EntityID, s.TripID, s.StopSequence, s.Reason)
	}
	for _, m := range report.Malformed {
		fmt.Printf("  malformed %s\n", m)
	}

	return nil
}

func positions(cmd *cobra.Command, args []string) error {
	e, _, cleanup, err := buildEngine(true)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := e.Reconcile(context.Background())
	if err != nil {
		return err
	}

	for _, pos := range report.Positions {
		fmt.Printf("%-8s %-8s %.6f,%.6f\n", pos.RouteShortName, tripString(pos), pos.Lat, pos.Lon)
	}

	return nil
}

func tripString(pos model.VehiclePosition) string {
	if pos.TripID == nil {
		return "-"
	}
	return strconv.Itoa(*pos.TripID)
}

func resolveTrip(cmd *cobra.Command, args []string) error {
	routeID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid route_id: %w", err)
	}
	direction, err := strconv.Atoi(args[2])
	if err != nil || direction < 0 || direction > 1 {
		return fmt.Errorf("invalid direction_id '%s'", args[2])
	}

	key := model.AddedTripKey{
		RouteID:     routeID,
		StartTime:   args[1],
		DirectionID: int8(direction),
	}

	e, _, cleanup, err := buildEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	if lookupOnly {
		tripID, found, err := e.LookupTrip(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no trip allocated for %s", key)
		}
		fmt.Println(tripID)
		return nil
	}

	tripID, allocated, err := e.ResolveTrip(ctx, key)
	if err != nil {
		return err
	}
	if allocated {
		fmt.Printf("%d (allocated)\n", tripID)
	} else {
		fmt.Println(tripID)
	}

	return nil
}

func run(cmd *cobra.Command, args []string) error {
	e, cfg, cleanup, err := buildEngine(true)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		server := e.Metrics.Serve(cfg.MetricsAddr, e.Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.Logger.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	e.Logger.Info("starting",
		"folders", cfg.Static.Folders,
		"realtime_url", cfg.Realtime.URL,
		"interval", cfg.Realtime.Interval.String(),
		"timezone", cfg.Timezone,
	)

	return e.Run(ctx)
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"motionbus.dev/gtfs/parse"
)

var arrivalsCmd = &cobra.Command{
	Use:   "arrivals <stop_id>",
	Short: "Lists upcoming arrivals at a stop",
	Args:  cobra.ExactArgs(1),
	RunE:  arrivals,
}

var routeStopsCmd = &cobra.Command{
	Use:   "route-stops <route_id>",
	Short: "Lists stops visited by a route",
	Args:  cobra.ExactArgs(1),
	RunE:  routeStops,
}

var stopRoutesCmd = &cobra.Command{
	Use:   "stop-routes <stop_id>",
	Short: "Lists routes serving a stop",
	Args:  cobra.ExactArgs(1),
	RunE:  stopRoutes,
}

var shapeCmd = &cobra.Command{
	Use:   "shape <route_id>",
	Short: "Prints a route's polyline",
	Args:  cobra.ExactArgs(1),
	RunE:  shape,
}

var (
	window time.Duration
	limit  int
)

func init() {
	arrivalsCmd.Flags().DurationVarP(&window, "window", "W", 60*time.Minute, "Time window to search for arrivals")
	arrivalsCmd.Flags().IntVarP(&limit, "limit", "l", -1, "Limit the number of arrivals returned")

	rootCmd.AddCommand(arrivalsCmd)
	rootCmd.AddCommand(routeStopsCmd)
	rootCmd.AddCommand(stopRoutesCmd)
	rootCmd.AddCommand(shapeCmd)
}

func arrivals(cmd *cobra.Command, args []string) error {
	stopID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid stop_id: %w", err)
	}

	e, _, cleanup, err := buildEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	arrivals, err := e.Arrivals(context.Background(), stopID, window)
	if err != nil {
		return err
	}

	if limit >= 0 && len(arrivals) > limit {
		arrivals = arrivals[:limit]
	}

	for _, a := range arrivals {
		fmt.Printf("%s %3d min  %-6s %s\n", parse.FormatTime(a.ArrivalTime), a.Minutes, a.RouteShortName, a.Headsign)
	}

	return nil
}

func routeStops(cmd *cobra.Command, args []string) error {
	routeID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid route_id: %w", err)
	}

	e, _, cleanup, err := buildEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	stops, err := e.StopsOnRoute(context.Background(), routeID)
	if err != nil {
		return err
	}

	for _, stop := range stops {
		fmt.Printf("%d: %s\n", stop.ID, stop.Name)
	}

	return nil
}

func stopRoutes(cmd *cobra.Command, args []string) error {
	stopID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid stop_id: %w", err)
	}

	e, _, cleanup, err := buildEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	routes, err := e.RoutesAtStop(context.Background(), stopID)
	if err != nil {
		return err
	}

	for _, route := range routes {
		fmt.Printf("%d: %s %s\n", route.ID, route.ShortName, route.LongName)
	}

	return nil
}

func shape(cmd *cobra.Command, args []string) error {
	routeID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid route_id: %w", err)
	}

	e, _, cleanup, err := buildEngine(false)
	if err != nil {
		return err
	}
	defer cleanup()

	points, err := e.Shape(context.Background(), routeID)
	if err != nil {
		return err
	}

	for _, p := range points {
		fmt.Printf("%.6f,%.6f\n", p.Lat, p.Lon)
	}

	return nil
}

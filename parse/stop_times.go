package parse

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

type StopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  string `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
}

// Writes stop_times for active trips. Rows referencing stops not in
// stops are skipped, as are repeated (trip_id, stop_sequence) pairs.
//
// A blank arrival_time falls back to departure_time and vice
// versa. Both blank is an error.
func ParseStopTimes(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	active *ActiveSet,
	stops map[int]bool,
	fr *FileReport,
) error {

	type key struct {
		tripID int
		seq    int
	}
	seen := map[key]bool{}

	return eachRecord(data, func(row int, st *StopTimeCSV) error {
		tripID, err := parseInt("trip_id", st.TripID)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		if !active.TripIDs[tripID] {
			fr.Filtered++
			return nil
		}

		stopTime, err := stopTimeFromCSV(tripID, st)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		if !stops[stopTime.StopID] {
			fr.Unresolved++
			return nil
		}

		k := key{stopTime.TripID, stopTime.StopSequence}
		if seen[k] {
			fr.Duplicate++
			return nil
		}
		seen[k] = true

		err = writer.WriteStopTime(ctx, stopTime)
		if err != nil {
			return errors.Wrapf(err, "writing stop_time (row %d)", row)
		}
		fr.Loaded++

		return nil
	})
}

func stopTimeFromCSV(tripID int, st *StopTimeCSV) (model.StopTime, error) {
	stopID, err := parseInt("stop_id", st.StopID)
	if err != nil {
		return model.StopTime{}, err
	}

	seq, err := parseInt("stop_sequence", st.StopSequence)
	if err != nil {
		return model.StopTime{}, err
	}
	if seq < 0 {
		return model.StopTime{}, fmt.Errorf("negative stop_sequence %d", seq)
	}

	arrivalStr := strings.TrimSpace(st.ArrivalTime)
	departureStr := strings.TrimSpace(st.DepartureTime)
	if arrivalStr == "" {
		arrivalStr = departureStr
	}
	if departureStr == "" {
		departureStr = arrivalStr
	}
	if arrivalStr == "" {
		return model.StopTime{}, fmt.Errorf("missing arrival_time and departure_time")
	}

	arrival, err := ParseTime(arrivalStr)
	if err != nil {
		return model.StopTime{}, errors.Wrap(err, "parsing arrival_time")
	}

	departure, err := ParseTime(departureStr)
	if err != nil {
		return model.StopTime{}, errors.Wrap(err, "parsing departure_time")
	}

	return model.StopTime{
		TripID:       tripID,
		StopSequence: seq,
		StopID:       stopID,
		Arrival:      arrival,
		Departure:    departure,
	}, nil
}

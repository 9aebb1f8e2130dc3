package parse

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

const (
	CalendarDatesFile = "calendar_dates.txt"
	TripsFile         = "trips.txt"
	RoutesFile        = "routes.txt"
	ShapesFile        = "shapes.txt"
	StopsFile         = "stops.txt"
	StopTimesFile     = "stop_times.txt"
)

var ErrMalformedRow = errors.New("malformed row")

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present. Rows
	// with missing trailing columns are let through and fail
	// validation individually.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := gocsv.LazyCSVReader(bom.NewReader(in))
		if cr, ok := r.(*csv.Reader); ok {
			cr.FieldsPerRecord = -1
		}
		return r
	})
}

// A single row that failed validation. Row is the 1-based data row,
// not counting the header.
type RowError struct {
	File string
	Row  int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d: %v", e.File, e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

func (e *RowError) Is(target error) bool {
	return target == ErrMalformedRow
}

// Outcome of loading a single file.
type FileReport struct {
	File    string
	Missing bool

	// Rows written.
	Loaded int

	// Rows not belonging to today's service.
	Filtered int

	// Rows already present, or repeated within the file.
	Duplicate int

	// Rows referencing a trip or stop that doesn't exist.
	Unresolved int

	Malformed []*RowError
}

func (r *FileReport) malformed(row int, err error) {
	r.Malformed = append(r.Malformed, &RowError{File: r.File, Row: row, Err: err})
}

// Outcome of a static load pass over one feed folder.
type Report struct {
	Date         string
	ServiceID    int
	ServiceFound bool

	// Active trips dropped since their route was absent from
	// routes.txt.
	OrphanedTrips int

	Files []*FileReport
}

// Report for the named file, or nil if it wasn't processed.
func (r *Report) File(name string) *FileReport {
	for _, f := range r.Files {
		if f.File == name {
			return f
		}
	}
	return nil
}

// Rows loaded per file.
func (r *Report) Loaded() map[string]int {
	loaded := map[string]int{}
	for _, f := range r.Files {
		loaded[f.File] = f.Loaded
	}
	return loaded
}

// All malformed rows, across files.
func (r *Report) Malformed() []*RowError {
	rows := []*RowError{}
	for _, f := range r.Files {
		rows = append(rows, f.Malformed...)
	}
	return rows
}

// Names of files that were missing from the feed.
func (r *Report) Missing() []string {
	missing := []string{}
	for _, f := range r.Files {
		if f.Missing {
			missing = append(missing, f.File)
		}
	}
	return missing
}

// Routes and trips used by today's service. Computed while loading
// trips and handed to the later steps of the same pass.
type ActiveSet struct {
	RouteIDs map[int]bool
	TripIDs  map[int]bool

	tripRoute map[int]int
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{
		RouteIDs:  map[int]bool{},
		TripIDs:   map[int]bool{},
		tripRoute: map[int]int{},
	}
}

func (a *ActiveSet) add(trip model.Trip) {
	a.RouteIDs[trip.RouteID] = true
	a.TripIDs[trip.ID] = true
	a.tripRoute[trip.ID] = trip.RouteID
}

// Removes routes, and all trips on them, from the set. Returns the
// removed trip IDs in ascending order.
func (a *ActiveSet) DropRoutes(routeIDs []int) []int {
	drop := map[int]bool{}
	for _, id := range routeIDs {
		drop[id] = true
		delete(a.RouteIDs, id)
	}

	tripIDs := []int{}
	for tripID, routeID := range a.tripRoute {
		if drop[routeID] {
			tripIDs = append(tripIDs, tripID)
			delete(a.TripIDs, tripID)
			delete(a.tripRoute, tripID)
		}
	}
	sort.Ints(tripIDs)

	return tripIDs
}

// Opens a static feed. Both directories and zip archives are
// supported.
func OpenFeed(path string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening feed: %w", err)
	}

	if info.IsDir() {
		return os.DirFS(path), io.NopCloser(nil), nil
	}

	if !strings.HasSuffix(strings.ToLower(path), ".zip") {
		return nil, nil, fmt.Errorf("feed %s is neither directory nor zip", path)
	}

	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("unzipping: %w", err)
	}
	return rc, rc, nil
}

// Loads a static feed into writer, restricted to the service active
// on date (YYYYMMDD). Files are processed in foreign key order, each
// step using the sets computed by earlier steps.
//
// Missing files and malformed rows are reported, not returned as
// errors. An error means writer failed, and the pass must be rolled
// back.
func ParseStatic(
	ctx context.Context,
	writer storage.FeedWriter,
	fsys fs.FS,
	date string,
) (*Report, error) {

	report := &Report{
		Date:      date,
		ServiceID: -1,
	}

	// Resolve today's service.
	err := withFile(fsys, CalendarDatesFile, report, func(data io.Reader, fr *FileReport) error {
		serviceID, found, err := ParseServiceID(data, date, fr)
		if err != nil {
			return err
		}
		report.ServiceID = serviceID
		report.ServiceFound = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Trips on today's service. Yields the active route and trip
	// sets.
	active := NewActiveSet()
	err = withFile(fsys, TripsFile, report, func(data io.Reader, fr *FileReport) error {
		if !report.ServiceFound {
			return nil
		}
		active, err = ParseTrips(ctx, writer, data, report.ServiceID, fr)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Routes used by those trips.
	present := map[int]bool{}
	err = withFile(fsys, RoutesFile, report, func(data io.Reader, fr *FileReport) error {
		present, err = ParseRoutes(ctx, writer, data, active, fr)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Trips whose route never showed up would violate the foreign
	// key. Drop them.
	orphaned := []int{}
	for routeID := range active.RouteIDs {
		if !present[routeID] {
			orphaned = append(orphaned, routeID)
		}
	}
	if len(orphaned) > 0 {
		tripIDs := active.DropRoutes(orphaned)
		err = writer.DeleteTrips(ctx, tripIDs)
		if err != nil {
			return nil, fmt.Errorf("deleting orphaned trips: %w", err)
		}
		report.OrphanedTrips = len(tripIDs)
	}

	err = withFile(fsys, ShapesFile, report, func(data io.Reader, fr *FileReport) error {
		return ParseShapes(ctx, writer, data, active, fr)
	})
	if err != nil {
		return nil, err
	}

	// Stops are shared between feeds, so start from what's
	// already in storage.
	stops, err := writer.StopIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting stop ids: %w", err)
	}
	err = withFile(fsys, StopsFile, report, func(data io.Reader, fr *FileReport) error {
		return ParseStops(ctx, writer, data, stops, fr)
	})
	if err != nil {
		return nil, err
	}

	err = withFile(fsys, StopTimesFile, report, func(data io.Reader, fr *FileReport) error {
		err := writer.BeginStopTimes(ctx)
		if err != nil {
			return fmt.Errorf("beginning stop_times: %w", err)
		}
		err = ParseStopTimes(ctx, writer, data, active, stops, fr)
		if err != nil {
			return err
		}
		err = writer.EndStopTimes(ctx)
		if err != nil {
			return fmt.Errorf("ending stop_times: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// Opens name in fsys and passes it to f along with a new FileReport
// appended to report. Missing files are recorded and f is not
// called.
func withFile(fsys fs.FS, name string, report *Report, f func(io.Reader, *FileReport) error) error {
	fr := &FileReport{File: name}
	report.Files = append(report.Files, fr)

	file, err := fsys.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		fr.Missing = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer file.Close()

	err = f(file, fr)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}

	return nil
}

// Wraps data for gocsv. Returns nil if there's nothing at all to
// read.
func csvInput(data io.Reader) (io.Reader, error) {
	buf := bufio.NewReader(data)
	_, err := buf.Peek(1)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}
	return buf, nil
}

// Decodes CSV records of type *T from data, calling f for each with
// its 1-based row number.
func eachRecord[T any](data io.Reader, f func(row int, rec *T) error) error {
	in, err := csvInput(data)
	if err != nil {
		return err
	}
	if in == nil {
		return nil
	}

	row := 0
	err = gocsv.UnmarshalToCallbackWithError(in, func(rec *T) error {
		row++
		return f(row, rec)
	})
	if err != nil {
		return fmt.Errorf("unmarshaling csv: %w", err)
	}

	return nil
}

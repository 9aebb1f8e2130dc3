package parse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format of service dates in calendar_dates.txt.
const DateFormat = "20060102"

// Parses a GTFS "HH:MM:SS" time into seconds after midnight. Hours
// may exceed 23 for trips running past midnight.
func ParseTime(s string) (int, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return 0, fmt.Errorf("invalid hour in '%s'", s)
	}

	if hms[1] < 0 || hms[1] > 59 {
		return 0, fmt.Errorf("invalid minute in '%s'", s)
	}

	if hms[2] < 0 || hms[2] > 59 {
		return 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}

// Formats seconds after midnight as "HH:MM:SS".
func FormatTime(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

// The YYYYMMDD date code of t in loc.
func ServiceDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateFormat)
}

// Seconds since midnight of t's civil date in loc.
func SecondsSinceMidnight(t time.Time, loc *time.Location) int {
	h, m, s := t.In(loc).Clock()
	return h*3600 + m*60 + s
}

// Converts a unix epoch timestamp to seconds since midnight in
// loc. Zero means absent, and stays zero.
func EpochToSeconds(epoch int64, loc *time.Location) int {
	if epoch == 0 {
		return 0
	}
	return SecondsSinceMidnight(time.Unix(epoch, 0), loc)
}

package parse

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type CalendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType string `csv:"exception_type"`
}

// Finds the service running on date (YYYYMMDD). If several rows
// match, the last one wins. Rows removing service (exception_type 2)
// never match.
func ParseServiceID(data io.Reader, date string, fr *FileReport) (int, bool, error) {
	serviceID := -1
	found := false

	err := eachRecord(data, func(row int, cd *CalendarDateCSV) error {
		d := strings.TrimSpace(cd.Date)
		if _, err := time.Parse(DateFormat, d); err != nil {
			fr.malformed(row, errors.Errorf("invalid date '%s'", cd.Date))
			return nil
		}

		if et := strings.TrimSpace(cd.ExceptionType); et != "" && et != "1" && et != "2" {
			fr.malformed(row, errors.Errorf("illegal exception_type '%s'", cd.ExceptionType))
			return nil
		}

		id, err := strconv.Atoi(strings.TrimSpace(cd.ServiceID))
		if err != nil {
			fr.malformed(row, errors.Wrapf(err, "parsing service_id"))
			return nil
		}

		if d != date || strings.TrimSpace(cd.ExceptionType) == "2" {
			fr.Filtered++
			return nil
		}

		serviceID = id
		found = true
		fr.Loaded++

		return nil
	})
	if err != nil {
		return -1, false, err
	}

	return serviceID, found, nil
}

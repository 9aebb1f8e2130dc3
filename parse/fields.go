package parse

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func parseInt(name string, value string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Errorf("invalid %s '%s'", name, value)
	}
	return i, nil
}

// Like parseInt, but blank values are 0.
func parseOptionalInt(name string, value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return parseInt(name, value)
}

func parseFloat(name string, value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, errors.Errorf("invalid %s '%s'", name, value)
	}
	return f, nil
}

func parseLatLon(latValue string, lonValue string) (float64, float64, error) {
	lat, err := parseFloat("latitude", latValue)
	if err != nil {
		return 0, 0, err
	}
	lon, err := parseFloat("longitude", lonValue)
	if err != nil {
		return 0, 0, err
	}
	if lat < -90 || lat > 90 {
		return 0, 0, errors.Errorf("latitude %f out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, errors.Errorf("longitude %f out of range", lon)
	}
	return lat, lon, nil
}

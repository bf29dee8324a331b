package entity

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// FormatEpoch encodes t as fractional epoch seconds, the on-disk timestamp format.
func FormatEpoch(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// ParseEpoch decodes a value written by FormatEpoch. Integer seconds are accepted.
func ParseEpoch(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch %q: %w", s, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), nil
}

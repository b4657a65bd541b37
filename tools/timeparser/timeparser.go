package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// ParseCollectedAt parses a measurement timestamp sent by a mobile client.
// Browsers emit ISO-8601 with milliseconds; older builds sent locale strings.
func ParseCollectedAt(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	formats := []string{
		time.RFC3339Nano,      // 2025-03-01T10:00:00.000Z
		time.RFC3339,          // 2025-03-01T10:00:00+07:00
		"2006-01-02 15:04:05", // YYYY-MM-DD HH:mm:ss
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the collection time is within tolerance of the submission time
func IsWithinTolerance(collectedAt, submittedAt time.Time, tolerance time.Duration) bool {
	diff := collectedAt.Sub(submittedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

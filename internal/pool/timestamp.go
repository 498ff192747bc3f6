package pool

import "time"

// Common timestamp layouts ordered by likelihood.
var commonLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00", // ISO 8601 with millis
	"2006-01-02T15:04:05Z07:00",     // ISO 8601
	"2006-01-02T15:04:05.000Z",      // ISO 8601 UTC with millis
	"2006-01-02T15:04:05Z",          // ISO 8601 UTC
	"2006-01-02T15:04:05",           // ISO 8601 local
	"2006-01-02 15:04:05.000",       // Space separator with millis
	"2006-01-02 15:04:05,000",       // Log4j-style comma millis
	"2006-01-02 15:04:05",           // Space separator
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseEventTime parses a timestamp byte slice into a time.Time.
// Uses byte inspection to fast-path the ISO 8601 family, then falls back
// to layout parsing and bare Unix epoch values.
func ParseEventTime(b []byte) (time.Time, error) {
	if len(b) == 0 {
		return time.Time{}, ErrInvalidTimestamp
	}

	// Fast path: ISO 8601 / "YYYY-MM-DD ..." (most common)
	if len(b) >= 10 && b[4] == '-' && b[7] == '-' {
		return parseISO8601Fast(b)
	}

	// Unix epoch, seconds or fractional seconds
	if isNumeric(b) {
		return parseUnixEpoch(b)
	}

	s := BytesToString(b)
	for _, layout := range commonLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// parseISO8601Fast parses ISO 8601 format using direct byte arithmetic.
func parseISO8601Fast(b []byte) (time.Time, error) {
	if len(b) < 10 {
		return time.Time{}, ErrInvalidTimestamp
	}

	// Parse YYYY-MM-DD
	year := parseInt4(b[0:4])
	month := parseInt2(b[5:7])
	day := parseInt2(b[8:10])

	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, ErrInvalidTimestamp
	}

	var hour, minute, second, nsec int
	loc := time.UTC

	// Check for time component
	if len(b) > 10 && (b[10] == 'T' || b[10] == ' ') {
		if len(b) < 19 {
			return time.Time{}, ErrInvalidTimestamp
		}
		hour = parseInt2(b[11:13])
		minute = parseInt2(b[14:16])
		second = parseInt2(b[17:19])
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 60 {
			return time.Time{}, ErrInvalidTimestamp
		}

		// Fractional seconds, '.' or log4j-style ','
		if len(b) > 19 && (b[19] == '.' || b[19] == ',') {
			fracEnd := 20
			for fracEnd < len(b) && b[fracEnd] >= '0' && b[fracEnd] <= '9' {
				fracEnd++
			}
			nsec = parseFraction(b[20:fracEnd])
		}

		// Timezone suffix
		for i := 19; i < len(b); i++ {
			if b[i] == 'Z' {
				loc = time.UTC
				break
			}
			if b[i] == '+' || b[i] == '-' {
				if i+5 <= len(b) {
					offsetHours := parseInt2(b[i+1 : i+3])
					offsetMins := 0
					if i+6 <= len(b) && b[i+3] == ':' {
						offsetMins = parseInt2(b[i+4 : i+6])
					} else if i+5 <= len(b) {
						offsetMins = parseInt2(b[i+3 : i+5])
					}
					offset := offsetHours*3600 + offsetMins*60
					if b[i] == '-' {
						offset = -offset
					}
					loc = time.FixedZone("", offset)
				}
				break
			}
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc), nil
}

// parseUnixEpoch parses a bare numeric timestamp. 13+ digit integers are
// milliseconds, everything else seconds with an optional fraction. Values
// below 1e9 are rejected as non-epochs; eight-digit compact dates land
// there.
func parseUnixEpoch(b []byte) (time.Time, error) {
	val, err := ParseFloat64(b)
	if err != nil || val < 1e9 {
		return time.Time{}, ErrInvalidTimestamp
	}

	// Millisecond epoch heuristic: 13-digit integers
	if val > 1e12 {
		return time.UnixMilli(int64(val)).UTC(), nil
	}

	sec := int64(val)
	nsec := int64((val - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}

// parseInt4 parses a 4-byte integer without allocation.
func parseInt4(b []byte) int {
	if len(b) != 4 {
		return -1
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1
		}
	}
	return int(b[0]-'0')*1000 + int(b[1]-'0')*100 + int(b[2]-'0')*10 + int(b[3]-'0')
}

// parseInt2 parses a 2-byte integer without allocation.
func parseInt2(b []byte) int {
	if len(b) != 2 {
		return -1
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1
		}
	}
	return int(b[0]-'0')*10 + int(b[1]-'0')
}

// parseFraction parses fractional seconds to nanoseconds.
func parseFraction(b []byte) int {
	if len(b) == 0 {
		return 0
	}

	var result int64
	multiplier := int64(100000000) // 10^8

	for i := 0; i < len(b) && i < 9; i++ {
		digit := int64(b[i] - '0')
		result += digit * multiplier
		multiplier /= 10
	}

	return int(result)
}

// isNumeric checks if a byte slice contains only numeric characters.
func isNumeric(b []byte) bool {
	if len(b) == 0 {
		return false
	}

	dotCount := 0
	for i, c := range b {
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '.' && dotCount == 0 {
			dotCount++
			continue
		}
		if c == '-' && i == 0 {
			continue
		}
		return false
	}
	return true
}

// ErrInvalidTimestamp indicates a timestamp parsing error.
var ErrInvalidTimestamp = &TimestampError{"invalid timestamp format"}

// TimestampError represents a timestamp parsing error.
type TimestampError struct {
	msg string
}

func (e *TimestampError) Error() string {
	return e.msg
}

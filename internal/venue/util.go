package venue

import "strconv"

// parseFloat parses venue responses that carry numbers as strings.
// Malformed values come back as zero rather than failing the whole call.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

package capabilities

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Coerce converts the text of an element to an int64 or a float64 when it looks numeric.
// Text containing an underscore always stays a string, so codes like "3857_18" are kept as-is.
// Zero-padded integers ("07") and integers beyond int64 stay strings too, so identifiers survive verbatim.
func Coerce(text string) any {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "_") {
		return text
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err == nil {
		if hasRedundantLeadingZero(text) {
			return text
		}
		return i
	}
	if errors.Is(err, strconv.ErrRange) {
		return text
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		// ParseFloat also accepts words like "Inf" and "NaN", those stay strings
		return f
	}
	return text
}

// hasRedundantLeadingZero reports whether an integer text starts with a zero that
// is not its only digit value, e.g. "07" or "-007". "0" and "00" are plain zeros.
func hasRedundantLeadingZero(text string) bool {
	digits := strings.TrimLeft(text, "+-")
	return len(digits) > 1 && digits[0] == '0' && strings.Trim(digits, "0") != ""
}

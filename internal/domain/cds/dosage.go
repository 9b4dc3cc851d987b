package cds

import (
	"regexp"
	"strconv"
	"strings"
)

var dosagePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?|\.\d+)\s*(mcg|mg|ml|g|units|unit|iu)\b`)

// ParseDosage reads a leading decimal amount and unit from free text such as
// "500 mg PO q6h". Units are lower-cased and "units" becomes "unit".
func ParseDosage(s string) (value float64, unit string, ok bool) {
	m := dosagePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", false
	}
	unit = strings.ToLower(m[2])
	if unit == "units" {
		unit = "unit"
	}
	return value, unit, true
}

package utils

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Slach/logs-insights/pkg/backend"
)

var printer = message.NewPrinter(language.English)

// FormatReadable abbreviates value with a K/M/G suffix.
func FormatReadable(value float64, digits uint64) string {
	format := fmt.Sprintf("%%.%df%%s", digits)
	switch {
	case value >= 1e9:
		return fmt.Sprintf(format, value/1e9, "G")
	case value >= 1e6:
		return fmt.Sprintf(format, value/1e6, "M")
	case value >= 1e3:
		return fmt.Sprintf(format, value/1e3, "K")
	}
	return fmt.Sprintf("%.0f", value)
}

// FormatBytes renders a byte count in binary units.
func FormatBytes(value float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", value, units[i])
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}

// FormatStatistics is the one-line summary shown under results, e.g.
// "22,380 records matched, 23,234 records scanned (4.6 MiB)".
func FormatStatistics(s *backend.Statistics) string {
	if s == nil {
		return ""
	}
	return printer.Sprintf("%d records matched, %d records scanned (%s)",
		int64(s.RecordsMatched), int64(s.RecordsScanned), FormatBytes(s.BytesScanned))
}

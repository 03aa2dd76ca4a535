package merge

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// formatValue renders a resolved leaf for substitution. Numbers pick up the
// locale's grouping and decimal separators; strings pass through verbatim.
// Containers and nil render empty, matching the missing-leaf behavior.
func formatValue(v any, loc language.Tag, tz *time.Location) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return message.NewPrinter(loc).Sprint(number.Decimal(val))
	case float32:
		return message.NewPrinter(loc).Sprint(number.Decimal(float64(val)))
	case int:
		return message.NewPrinter(loc).Sprint(number.Decimal(val))
	case int64:
		return message.NewPrinter(loc).Sprint(number.Decimal(val))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return message.NewPrinter(loc).Sprint(number.Decimal(f))
		}
		return val.String()
	case time.Time:
		return val.In(tz).Format("2006-01-02 15:04")
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func parseLocale(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	return tag
}

func parseTimezone(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		return time.UTC
	}
	return loc
}

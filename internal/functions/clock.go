package functions

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Clock implements get_current_time.
type Clock struct {
	now func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Name() string { return "get_current_time" }

// Aliases the model tends to produce for common US zones.
var timezoneAliases = map[string]string{
	"utc": "UTC",
	"est": "America/New_York",
	"edt": "America/New_York",
	"cst": "America/Chicago",
	"cdt": "America/Chicago",
	"mst": "America/Denver",
	"mdt": "America/Denver",
	"pst": "America/Los_Angeles",
	"pdt": "America/Los_Angeles",
}

func (c *Clock) Handle(_ context.Context, params map[string]any) (Result, error) {
	format, _ := params["format"].(string)
	timezone, _ := params["timezone"].(string)

	loc := time.Local
	zoneName := "local"
	if tz := strings.TrimSpace(timezone); tz != "" && !strings.EqualFold(tz, "local") {
		name := tz
		if alias, ok := timezoneAliases[strings.ToLower(tz)]; ok {
			name = alias
		}
		parsed, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", timezone)
		}
		loc = parsed
		zoneName = name
	}

	now := c.now().In(loc)
	if zoneName == "local" {
		zoneName = now.Format("MST")
	}

	var timeString string
	switch format {
	case "24h", "24-hour":
		timeString = now.Format("15:04:05")
	default:
		timeString = now.Format("3:04:05 PM")
	}
	dateString := now.Format("Monday, January 2, 2006")

	return Result{
		"current_time":  timeString,
		"current_date":  dateString,
		"full_datetime": fmt.Sprintf("%s at %s", dateString, timeString),
		"timestamp":     now.UTC().Format(time.RFC3339),
		"timezone":      zoneName,
	}, nil
}

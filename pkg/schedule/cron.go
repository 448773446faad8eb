package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// specParser accepts five-field expressions and descriptors such as "@every 1m" and "@hourly"
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Spec is a parsed worker schedule bound to a timezone
type Spec struct {
	Expr     string
	Location *time.Location

	schedule cron.Schedule
}

// ParseSpec parses expr; an empty timezone means UTC
func ParseSpec(expr, timezone string) (*Spec, error) {
	schedule, err := specParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	return &Spec{Expr: expr, Location: loc, schedule: schedule}, nil
}

// Next returns the first activation after from, in UTC
func (s *Spec) Next(from time.Time) time.Time {
	return s.schedule.Next(from.In(s.Location)).UTC()
}

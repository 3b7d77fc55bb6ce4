package domain

type Frequency string

const (
	FrequencyMinutely Frequency = "minutely"
	FrequencyHourly   Frequency = "hourly"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
)

// ScheduleConfig is a recurrence rule: a base frequency plus optional
// filters restricting when it fires. An empty filter means
// "unrestricted", never "never". Weekdays follow time.Weekday
// numbering (0 = Sunday).
type ScheduleConfig struct {
	Frequency   Frequency `json:"frequency"`
	Minutes     []int     `json:"minutes,omitempty"`
	Hours       []int     `json:"hours,omitempty"`
	Weekdays    []int     `json:"weekdays,omitempty"`
	DaysOfMonth []int     `json:"days_of_month,omitempty"`
	Months      []int     `json:"months,omitempty"`
}

func (c *ScheduleConfig) Validate() error {
	switch c.Frequency {
	case FrequencyMinutely, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return Invalid("schedule.frequency", "unknown frequency "+string(c.Frequency))
	}
	if err := inRange("schedule.minutes", c.Minutes, 0, 59); err != nil {
		return err
	}
	if err := inRange("schedule.hours", c.Hours, 0, 23); err != nil {
		return err
	}
	if err := inRange("schedule.weekdays", c.Weekdays, 0, 6); err != nil {
		return err
	}
	if err := inRange("schedule.days_of_month", c.DaysOfMonth, 1, 31); err != nil {
		return err
	}
	return inRange("schedule.months", c.Months, 1, 12)
}

func inRange(field string, values []int, lo, hi int) error {
	for _, v := range values {
		if v < lo || v > hi {
			return Invalid(field, "values must lie between their valid bounds")
		}
	}
	return nil
}

package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DispatchTask is the task every export entry is bound to.
const DispatchTask = "export.dispatch"

var (
	ErrNotFound    = errors.New("schedule: entry not found")
	ErrInvalidCron = errors.New("schedule: invalid cron expression")
)

// Sentinel never fires: February 31st.
var Sentinel = CronFields{
	Minute:     "0",
	Hour:       "0",
	DayOfMonth: "31",
	Month:      "2",
	DayOfWeek:  "*",
}

type CronFields struct {
	Minute     string `json:"minute"`
	Hour       string `json:"hour"`
	DayOfMonth string `json:"day_of_month"`
	Month      string `json:"month_of_year"`
	DayOfWeek  string `json:"day_of_week"`
}

// ParseCronFields splits a standard 5-field expression. The expression must
// have exactly five whitespace separated fields and parse as a standard cron
// spec.
func ParseCronFields(expr string) (CronFields, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return CronFields{}, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidCron, expr, len(parts))
	}

	if _, err := cron.ParseStandard(strings.Join(parts, " ")); err != nil {
		return CronFields{}, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}

	return CronFields{
		Minute:     parts[0],
		Hour:       parts[1],
		DayOfMonth: parts[2],
		Month:      parts[3],
		DayOfWeek:  parts[4],
	}, nil
}

func (c CronFields) String() string {
	return fmt.Sprintf("%s %s %s %s %s",
		c.Minute,
		c.Hour,
		c.DayOfMonth,
		c.Month,
		c.DayOfWeek,
	)
}

func (c CronFields) IsSentinel() bool {
	return c == Sentinel
}

// Entry is a persisted recurring trigger for one export job.
type Entry struct {
	Name        string     `json:"name"`
	Task        string     `json:"task"`
	JobID       int64      `json:"job_id"`
	Queue       string     `json:"queue"`
	Cron        CronFields `json:"cron"`
	Enabled     bool       `json:"enabled"`
	Description string     `json:"description"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EntryName derives the entry identity from a job id.
func EntryName(jobID int64) string {
	return fmt.Sprintf("export_email_job_%d", jobID)
}

// Same reports whether two entries carry the same reconciled state.
func (e Entry) Same(other Entry) bool {
	return e.Name == other.Name &&
		e.Task == other.Task &&
		e.JobID == other.JobID &&
		e.Queue == other.Queue &&
		e.Cron == other.Cron &&
		e.Enabled == other.Enabled &&
		e.Description == other.Description
}

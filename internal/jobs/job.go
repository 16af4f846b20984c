package jobs

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

var ErrNotFound = errors.New("jobs: job definition not found")

type CodeType string

const (
	CodeSQL     CodeType = "SQL"
	CodeScript  CodeType = "SCRIPT"
	CodeUnknown CodeType = ""
)

const (
	ScheduleOnDemand  = "ON_DEMAND"
	ScheduleRecurring = "RECURRING"
)

// JobDefinition is one row of the job table, normalized.
type JobDefinition struct {
	ID               int64    `json:"id"`
	Subject          string   `json:"subject"`
	Body             string   `json:"body"`
	Code             string   `json:"-"`
	CodeType         string   `json:"code_type"`
	Recipients       []string `json:"recipients"`
	CCRecipients     []string `json:"cc_recipients"`
	ScheduleType     string   `json:"schedule_type"`
	CronExpression   string   `json:"cron_expression,omitempty"`
	QueueName        string   `json:"queue_name"`
	Active           bool     `json:"active"`
	FilenameTemplate string   `json:"filename_template,omitempty"`
}

// Kind folds the raw CODE_TYPE column into a known code type. The legacy
// value "python" is accepted as a script.
func (j JobDefinition) Kind() CodeType {
	switch cases.Fold().String(strings.TrimSpace(j.CodeType)) {
	case "sql":
		return CodeSQL
	case "script", "python":
		return CodeScript
	default:
		return CodeUnknown
	}
}

func (j JobDefinition) IsOnDemand() bool {
	return j.ScheduleType == ScheduleOnDemand
}

// ParseRecipients splits a comma-delimited address list, trimming entries and
// dropping empty ones.
func ParseRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0xPuncker/export-mailer/pkg/utils"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// JobEvent describes one finished job execution.
type JobEvent struct {
	JobID    int64
	Queue    string
	Status   string
	Duration time.Duration
	Details  string
}

// ReconcileEvent describes one reconciliation pass.
type ReconcileEvent struct {
	Created, Updated, Unchanged, Disabled, Skipped, Failed int
	Duration                                               time.Duration
}

type NotificationService struct {
	slackService *SlackService
}

func NewNotificationService(slackService *SlackService) *NotificationService {
	return &NotificationService{
		slackService: slackService,
	}
}

func (s *NotificationService) Enabled() bool {
	return s != nil && s.slackService.Enabled()
}

func statusStyle(status string) (color, icon string) {
	switch {
	case status == "completed":
		return "good", "✅"
	case strings.HasPrefix(status, "error"):
		return "danger", "❌"
	case strings.HasPrefix(status, "skipped"):
		return "warning", "⏭️"
	default:
		return "#808080", "ℹ️"
	}
}

func (s *NotificationService) formatJobNotification(ev JobEvent) *SlackMessage {
	color, icon := statusStyle(ev.Status)

	fields := []Field{
		{
			Title: "Job",
			Value: fmt.Sprintf("export_email_job_%d", ev.JobID),
			Short: true,
		},
		{
			Title: "Status",
			Value: ev.Status,
			Short: true,
		},
	}

	if ev.Queue != "" {
		fields = append(fields, Field{
			Title: "Queue",
			Value: cases.Title(language.English).String(strings.ReplaceAll(ev.Queue, "_", " ")),
			Short: true,
		})
	}

	if ev.Duration > 0 {
		fields = append(fields, Field{
			Title: "Duration",
			Value: utils.FormatDuration(ev.Duration),
			Short: true,
		})
	}

	if ev.Details != "" {
		fields = append(fields, Field{
			Title: "Details",
			Value: ev.Details,
			Short: false,
		})
	}

	return &SlackMessage{
		Text: fmt.Sprintf("%s Export Job Status Update", icon),
		Attachments: []Attachment{
			{
				Color:  color,
				Fields: fields,
				Footer: fmt.Sprintf("Job ID: %d", ev.JobID),
				Ts:     time.Now().Unix(),
			},
		},
	}
}

func (s *NotificationService) formatReconcileNotification(ev ReconcileEvent) *SlackMessage {
	color := "good"
	if ev.Failed > 0 {
		color = "danger"
	} else if ev.Skipped > 0 {
		color = "warning"
	}

	return &SlackMessage{
		Text: "🗓️ Schedule Reconciliation",
		Attachments: []Attachment{
			{
				Color: color,
				Text: fmt.Sprintf("created %d | updated %d | unchanged %d | disabled %d | skipped %d | failed %d",
					ev.Created, ev.Updated, ev.Unchanged, ev.Disabled, ev.Skipped, ev.Failed),
				Footer: fmt.Sprintf("Took %s", utils.FormatDuration(ev.Duration)),
				Ts:     time.Now().Unix(),
			},
		},
	}
}

func (s *NotificationService) SendJobNotification(ctx context.Context, ev JobEvent) error {
	return s.slackService.SendSlackMessage(ctx, s.formatJobNotification(ev))
}

func (s *NotificationService) SendReconcileNotification(ctx context.Context, ev ReconcileEvent) error {
	return s.slackService.SendSlackMessage(ctx, s.formatReconcileNotification(ev))
}

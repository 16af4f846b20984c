package utils

import (
	"fmt"
	"time"
)

// FormatDuration renders d for logs and alerts. Run durations under a minute
// keep second precision; schedule offsets are rounded to minutes.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "overdue"
	}

	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%d days, %d hours", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%d hours, %d minutes", hours, minutes)
	}
	return fmt.Sprintf("%d minutes", minutes)
}

package report

import (
	"path/filepath"
	"strings"
	"time"
)

const DefaultFilename = "output_file"

// ResolveFilename substitutes the date tokens in template using now. Tokens
// are matched literally and case-sensitively. The result is reduced to its
// base name so a template cannot escape the output directory.
func ResolveFilename(template string, now time.Time) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultFilename
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	r := strings.NewReplacer(
		":today", now.Format(time.DateOnly),
		":yesterday", now.AddDate(0, 0, -1).Format(time.DateOnly),
		":this_month", now.Format("2006-01"),
		":month_start", monthStart.Format(time.DateOnly),
	)

	name := filepath.Base(r.Replace(template))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return DefaultFilename
	}
	return name
}

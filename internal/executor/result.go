package executor

import "strings"

const (
	StatusCompleted = "completed"

	ReasonNotFound        = "not_found"
	ReasonEmptyResult     = "empty_result"
	ReasonMissingCodeType = "missing_code_type"
	ReasonDuplicateFiring = "duplicate_firing"

	DetailReportFailed = "report_generation_failed"
	DetailQueryFailed  = "query_failed"
	DetailLookupFailed = "job_lookup_failed"
)

// Result is the outcome of one execution. Status is "completed",
// "error:<detail>" or "skipped:<reason>".
type Result struct {
	Status string `json:"status"`
	JobID  int64  `json:"job_id"`
}

func completed(jobID int64) Result {
	return Result{Status: StatusCompleted, JobID: jobID}
}

func failed(jobID int64, detail string) Result {
	return Result{Status: "error:" + detail, JobID: jobID}
}

func skipped(jobID int64, reason string) Result {
	return Result{Status: "skipped:" + reason, JobID: jobID}
}

func (r Result) IsError() bool {
	return strings.HasPrefix(r.Status, "error:")
}

func (r Result) IsSkipped() bool {
	return strings.HasPrefix(r.Status, "skipped:")
}

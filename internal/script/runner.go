package script

import (
	"context"
	"errors"
)

var ErrScriptFailed = errors.New("script: execution failed")

// Output is what a finished script printed.
type Output struct {
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// Runner executes job-supplied source outside the service process. Source
// goes in, output or an error wrapping ErrScriptFailed comes out.
type Runner interface {
	Run(ctx context.Context, source string) (*Output, error)
}

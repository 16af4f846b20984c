package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/0xPuncker/export-mailer/pkg/utils"
	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCommand = "python3 -I -"
	maxOutput      = 1 << 20
)

// ProcessRunner pipes the source into a separate interpreter process. The
// child gets a scratch working directory, a minimal environment and a hard
// deadline.
type ProcessRunner struct {
	argv    []string
	timeout time.Duration
	logger  *logrus.Logger
}

func NewProcessRunner(command string, timeout time.Duration, logger *logrus.Logger) (*ProcessRunner, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("script command is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &ProcessRunner{
		argv:    argv,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (r *ProcessRunner) Run(ctx context.Context, source string) (*Output, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty script", ErrScriptFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	workDir, err := os.MkdirTemp("", "script-")
	if err != nil {
		return nil, fmt.Errorf("failed to create script workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	stdout := &cappedBuffer{limit: maxOutput}
	stderr := &cappedBuffer{limit: maxOutput}

	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=C.UTF-8",
	}
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}

	fields := logrus.Fields{
		"command":  r.argv[0],
		"duration": utils.FormatDuration(time.Since(start)),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, fmt.Errorf("%w: timed out after %s", ErrScriptFailed, r.timeout)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			fields["exit_code"] = exitErr.ExitCode()
		}
		r.logger.WithFields(fields).WithError(err).Debug("Script process failed")
		msg := err.Error()
		if s := strings.TrimSpace(out.Stderr); s != "" {
			msg = fmt.Sprintf("%s: %s", msg, truncate(s, 500))
		}
		return out, fmt.Errorf("%w: %s", ErrScriptFailed, msg)
	}

	r.logger.WithFields(fields).Debug("Script process finished")
	return out, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

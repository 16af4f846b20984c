package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ExecuteRequest is the request body for /api/python/execute.
type ExecuteRequest struct {
	Code             string `json:"code"`
	CaptureVariables bool   `json:"capture_variables"`
}

// ExecuteResponse is the response body from /api/python/execute.
type ExecuteResponse struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SandboxClient sends scripts to an isolated evaluation service.
type SandboxClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewSandboxClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *SandboxClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SandboxClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *SandboxClient) Run(ctx context.Context, source string) (*Output, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty script", ErrScriptFailed)
	}

	reqBody, err := json.Marshal(ExecuteRequest{Code: source})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/python/execute", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: sandbox request failed: %w", ErrScriptFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutput))
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox response: %w", err)
	}

	var execResp ExecuteResponse
	if err := json.Unmarshal(body, &execResp); err != nil {
		return nil, fmt.Errorf("%w: unexpected sandbox response (status %d): %s", ErrScriptFailed, resp.StatusCode, truncate(string(body), 200))
	}

	out := &Output{Stdout: execResp.Stdout, Stderr: execResp.Stderr}
	if !execResp.Success {
		msg := execResp.Error
		if msg == "" {
			msg = "no error message"
		}
		if execResp.Stderr != "" {
			msg = fmt.Sprintf("%s: %s", msg, truncate(execResp.Stderr, 500))
		}
		return out, fmt.Errorf("%w: %s", ErrScriptFailed, msg)
	}

	c.logger.WithField("stdout_length", len(out.Stdout)).Debug("Sandbox script finished")
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

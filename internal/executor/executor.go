// Package executor talks to the workflow node that actually performs the
// audits and discovery runs. The node is an external collaborator: calls can
// fail or time out, and the metering orchestrator compensates with a refund
// when they do.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Run struct {
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	Inputs     json.RawMessage `json:"inputs"`
}

// Receipt is the node's proof of execution.
type Receipt struct {
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	Status     string          `json:"status"`
	Outputs    json.RawMessage `json:"outputs,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
}

const StatusSuccess = "success"

type Client interface {
	Execute(ctx context.Context, run Run) (*Receipt, error)
}

// HTTPClient posts runs to the workflow node's /run endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Execute(ctx context.Context, run Run) (*Receipt, error) {
	body, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("executor returned %d: %s", resp.StatusCode, string(msg))
	}
	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	if receipt.Status != StatusSuccess {
		return &receipt, fmt.Errorf("workflow %s failed: %s", run.WorkflowID, receipt.Error)
	}
	return &receipt, nil
}

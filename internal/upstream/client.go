// Package upstream is the typed client for the job execution service: job
// submission, status, artifacts, log streaming and contract verification.
// The peer is treated as opaque; it may be slow, drop connections, or return
// non-2xx at any time.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnreachable covers connect and transport failures: the peer never
// produced an HTTP status.
var ErrUnreachable = errors.New("upstream unreachable")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.Code)
}

type Client struct {
	baseURL    string
	builderURL string
	http       *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

func NewClient(baseURL, builderURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		builderURL: strings.TrimRight(builderURL, "/"),
		http:       &http.Client{Timeout: timeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
		logger:     logger,
	}
}

// SubmitJobRequest mirrors the pipeline create payload. Extra fields the
// caller forwarded verbatim ride along untouched.
type SubmitJobRequest struct {
	Prompt     string `json:"prompt"`
	Network    string `json:"network"`
	MaxIters   int    `json:"maxIters,omitempty"`
	Filename   string `json:"filename,omitempty"`
	StrictArgs *bool  `json:"strictArgs,omitempty"`
}

// SubmitJobResult keeps the full response body alongside the extracted job
// id; the upstream contract has shipped the id under several names.
type SubmitJobResult struct {
	JobID string
	Raw   json.RawMessage
}

// JobDetail is the job record with the deployment result fields lifted out.
// Raw retains the entire body for forward compatibility.
type JobDetail struct {
	State   string
	Address string
	Network string
	FQName  string
	Raw     json.RawMessage
}

// Deployed reports whether the job finished with a deployed contract.
func (d *JobDetail) Deployed() bool {
	return (d.State == "deployed" || d.State == "completed") && d.Address != ""
}

type VerifyRequest struct {
	JobID              string `json:"jobId"`
	Network            string `json:"network"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
}

type VerifyResult struct {
	OK       bool
	Verified bool
	Err      string
	Raw      json.RawMessage
}

func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*SubmitJobResult, error) {
	raw, err := c.postJSON(ctx, c.baseURL+"/api/ai/pipeline", req)
	if err != nil {
		return nil, err
	}
	var probe struct {
		JobID string `json:"jobId"`
		ID    string `json:"id"`
		Data  struct {
			JobID string `json:"jobId"`
		} `json:"data"`
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	_ = json.Unmarshal(raw, &probe)
	jobID := probe.JobID
	if jobID == "" {
		jobID = probe.ID
	}
	if jobID == "" {
		jobID = probe.Data.JobID
	}
	if jobID == "" {
		jobID = probe.Job.ID
	}
	return &SubmitJobResult{JobID: jobID, Raw: raw}, nil
}

func (c *Client) JobDetail(ctx context.Context, jobID string) (*JobDetail, error) {
	raw, err := c.getJSON(ctx, c.baseURL+"/api/job/"+url.PathEscape(jobID))
	if err != nil {
		return nil, err
	}
	type resultShape struct {
		Address string `json:"address"`
		Network string `json:"network"`
		FQName  string `json:"fqName"`
	}
	type detailShape struct {
		State   string      `json:"state"`
		Network string      `json:"network"`
		Result  resultShape `json:"result"`
	}
	var probe struct {
		detailShape
		Data detailShape `json:"data"`
	}
	_ = json.Unmarshal(raw, &probe)
	d := &JobDetail{Raw: raw}
	// Some upstream versions wrap the record in a data envelope.
	for _, shape := range []detailShape{probe.Data, probe.detailShape} {
		if d.State == "" {
			d.State = shape.State
		}
		if d.Address == "" {
			d.Address = shape.Result.Address
		}
		if d.Network == "" {
			d.Network = shape.Result.Network
		}
		if d.Network == "" {
			d.Network = shape.Network
		}
		if d.FQName == "" {
			d.FQName = shape.Result.FQName
		}
	}
	return d, nil
}

func (c *Client) JobStatus(ctx context.Context, jobID string, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + "/api/job/" + url.PathEscape(jobID) + "/status"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.getJSON(ctx, u)
}

func (c *Client) Artifacts(ctx context.Context, jobID string) (json.RawMessage, error) {
	return c.getJSON(ctx, c.baseURL+"/api/artifacts?jobId="+url.QueryEscape(jobID))
}

func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	raw, err := c.postJSON(ctx, c.baseURL+"/api/verify/byJob", req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			raw = se.Body
		} else {
			return nil, err
		}
	}
	var probe struct {
		OK       bool            `json:"ok"`
		Verified *bool           `json:"verified"`
		Error    json.RawMessage `json:"error"`
		Message  string          `json:"message"`
	}
	_ = json.Unmarshal(raw, &probe)
	res := &VerifyResult{OK: probe.OK && err == nil, Raw: raw}
	if probe.Verified != nil {
		res.Verified = *probe.Verified
	} else {
		res.Verified = res.OK
	}
	if !res.OK {
		res.Err = verifyErrorMessage(probe.Error, probe.Message, err)
	}
	return res, nil
}

func verifyErrorMessage(rawErr json.RawMessage, message string, err error) string {
	var s string
	if json.Unmarshal(rawErr, &s) == nil && s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(rawErr, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	if message != "" {
		return message
	}
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("verification failed (HTTP %d)", se.Code)
	}
	return "verification failed"
}

// OpenLogStream opens the job's SSE log stream. The caller owns the body and
// must close it; cancelling ctx aborts the stream mid-read.
func (c *Client) OpenLogStream(ctx context.Context, jobID string, query url.Values) (io.ReadCloser, error) {
	u := c.baseURL + "/api/job/" + url.PathEscape(jobID) + "/logs/stream"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	// Streams outlive any sane request timeout; rely on ctx alone.
	resp, err := c.streamClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: body}
	}
	return resp.Body, nil
}

func (c *Client) streamClient() *http.Client {
	return &http.Client{Timeout: 0, Transport: c.http.Transport}
}

// DialBuilder connects to the interactive builder socket for a project.
func (c *Client) DialBuilder(ctx context.Context, projectID string) (*websocket.Conn, error) {
	u, err := toWebsocketURL(c.builderURL, "/ws/"+url.PathEscape(projectID))
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return conn, nil
}

func toWebsocketURL(base, path string) (string, error) {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	case base == "":
		return "", errors.New("builder base url not configured")
	}
	return base + path, nil
}

func (c *Client) getJSON(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, u string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: raw}
	}
	return raw, nil
}

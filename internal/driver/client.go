package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
)

// maxResponseBytes caps agent response body reads.
const maxResponseBytes = 256 << 10

// Client is the HTTP transport to the device-automation agent.
//
// The agent exposes a small JSON API: open/close a device session, drive
// an upload or deletion inside a session, and report health. Errors from
// the agent carry a failure code from the taxonomy in errors.go; errors
// in transit are classified here.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	sessionTimeout time.Duration
	commandTimeout time.Duration
}

// NewClient creates an agent client from driver configuration.
func NewClient(cfg config.DriverConfig) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.Endpoint, "/"),
		sessionTimeout: cfg.SessionTimeout,
		commandTimeout: cfg.CommandTimeout,
		// Per-call deadlines come from contexts; no client-wide timeout
		// so long upload commands aren't cut short.
		httpClient: &http.Client{},
	}
}

// agentError is the agent's JSON error envelope.
type agentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type openSessionRequest struct {
	UDID     string `json:"udid"`
	Platform string `json:"platform"`
	Username string `json:"username"`
}

type openSessionResponse struct {
	SessionID string `json:"session_id"`
}

type uploadRequest struct {
	MediaPath string `json:"media_path"`
	Caption   string `json:"caption"`
}

type uploadResponse struct {
	Handle string `json:"handle"`
}

type deleteRequest struct {
	Handle string `json:"handle"`
}

// OpenSession opens an exclusive automation session on a device,
// switching the app to the given account if it is not already active.
func (c *Client) OpenSession(ctx context.Context, udid, platform, username string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	var resp openSessionResponse
	err := c.do(ctx, "open_session", http.MethodPost, "/v1/sessions",
		openSessionRequest{UDID: udid, Platform: platform, Username: username}, &resp, false)
	if err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", &Failure{Code: CodeTransient, Op: "open_session", Message: "agent returned empty session id"}
	}
	return resp.SessionID, nil
}

// CloseSession tears down an automation session. Closing an already-gone
// session is not an error.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	err := c.do(ctx, "close_session", http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil, false)
	var f *Failure
	if errors.As(err, &f) && f.Code == CodeDeviceDisconnected {
		return nil
	}
	return err
}

// Upload drives one video upload inside a session and returns the handle
// the agent assigned to the posted video.
func (c *Client) Upload(ctx context.Context, sessionID, mediaPath, caption string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	var resp uploadResponse
	err := c.do(ctx, "upload", http.MethodPost, "/v1/sessions/"+sessionID+"/upload",
		uploadRequest{MediaPath: mediaPath, Caption: caption}, &resp, true)
	if err != nil {
		return "", err
	}
	if resp.Handle == "" {
		return "", &Failure{Code: CodeUnknownOutcome, Op: "upload", Message: "agent returned no handle"}
	}
	return resp.Handle, nil
}

// Delete drives the deletion of a previously uploaded video.
func (c *Client) Delete(ctx context.Context, sessionID, handle string) error {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	return c.do(ctx, "delete", http.MethodPost, "/v1/sessions/"+sessionID+"/delete",
		deleteRequest{Handle: handle}, nil, true)
}

// Health checks the agent's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck // draining for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAgentUnavailable, resp.StatusCode)
	}
	return nil
}

// do executes one agent call and classifies any failure.
//
// mutating marks calls whose effect cannot be assumed absent on a lost
// response (upload, delete). For those, transport errors after the
// request may have been sent classify as unknown_outcome rather than
// transient.
func (c *Client) do(ctx context.Context, op, method, path string, reqBody, respBody any, mutating bool) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshalling %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(op, err, mutating)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(op, err, mutating)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae agentError
		if json.Unmarshal(raw, &ae) == nil && ae.Code != "" {
			return &Failure{Code: Code(ae.Code), Op: op, Message: ae.Message}
		}
		return &Failure{
			Code:    CodeTransient,
			Op:      op,
			Message: fmt.Sprintf("agent returned status %d", resp.StatusCode),
		}
	}

	if respBody != nil {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return &Failure{Code: CodeTransient, Op: op, Message: "decoding agent response: " + err.Error()}
		}
	}

	return nil
}

// classifyTransport maps transport-level errors onto the failure taxonomy.
func classifyTransport(op string, err error, mutating bool) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if mutating {
			// The agent may still be mid-gesture; the action's outcome
			// is unknowable from here.
			return &Failure{Code: CodeUnknownOutcome, Op: op, Message: "command timed out: " + err.Error()}
		}
		return &Failure{Code: CodeTimeout, Op: op, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown or operator cancel, not a device fault.
		return fmt.Errorf("driver: %s cancelled: %w", op, err)
	}

	// Dial failures mean the request never left: safe to call transient
	// even for mutating ops.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Failure{Code: CodeTransient, Op: op, Message: "agent unreachable: " + err.Error()}
	}

	if mutating {
		// The request may have reached the agent before the connection
		// broke. Retrying could duplicate the action.
		return &Failure{Code: CodeUnknownOutcome, Op: op, Message: err.Error()}
	}
	return &Failure{Code: CodeTransient, Op: op, Message: err.Error()}
}

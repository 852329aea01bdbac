package netbrain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"netbrain/internal/config"
	"netbrain/internal/constants"
	"netbrain/internal/logger"
	"netbrain/internal/storage"
	"netbrain/pkg/metrics"
	"netbrain/pkg/retry"
)

const (
	apiPrefix   = "/ServicesAPI/API/V1"
	tokenHeader = "token"
)

// API is the part of NetBrain the benchmark pipeline talks to.
type API interface {
	SubmitBenchmark(ctx context.Context, benchmark storage.Benchmark) error
	TaskStatus(ctx context.Context, taskName string) (TaskStatus, error)
	DeviceRawData(ctx context.Context, ipAddress, command string) (string, error)
	DeleteTask(ctx context.Context, taskName string) error
}

// TaskStatus is NetBrain's answer for a benchmark task.
type TaskStatus struct {
	Description string `json:"statusDescription"`
}

func (s TaskStatus) Done() bool {
	return s.Description == constants.NetBrainSuccess
}

func (s TaskStatus) Failed() bool {
	return strings.Contains(strings.ToLower(s.Description), "fail")
}

type Client struct {
	baseURL  string
	username string
	password string
	tokenTTL time.Duration
	policy   retry.Policy
	http     *http.Client
	tokens   TokenStore
	logger   logger.Logger

	loginMu sync.Mutex
}

func NewClient(cfg config.NetBrainConfig, tokens TokenStore, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/") + apiPrefix,
		username: cfg.Username,
		password: cfg.Password,
		tokenTTL: cfg.TokenTTL,
		policy:   retry.FromSettings(cfg.Retry),
		http: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		logger: log,
	}
}

type statusResponse struct {
	StatusDescription string `json:"statusDescription"`
}

// Login opens a session and caches its token.
func (c *Client) Login(ctx context.Context) (string, error) {
	body := map[string]string{
		"username": c.username,
		"password": c.password,
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, "login", http.MethodPost, "/Session", nil, body, "", &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", ErrNoToken
	}

	if err := c.tokens.Set(ctx, resp.Token, c.tokenTTL); err != nil {
		return "", err
	}
	c.logger.InfowCtx(ctx, "Logged in to NetBrain")
	return resp.Token, nil
}

// Logout closes the cached session, if any.
func (c *Client) Logout(ctx context.Context) error {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	if err := c.send(ctx, "logout", http.MethodDelete, "/Session", nil, nil, token, nil); err != nil {
		return err
	}
	return c.tokens.Delete(ctx)
}

func (c *Client) SubmitBenchmark(ctx context.Context, benchmark storage.Benchmark) error {
	var resp statusResponse
	if err := c.call(ctx, "submit_benchmark", http.MethodPost, "/CMDB/Benchmark/Tasks", nil, benchmark, &resp); err != nil {
		return err
	}
	// A missing statusDescription is treated as accepted.
	if resp.StatusDescription != "" && resp.StatusDescription != constants.NetBrainSuccess {
		return fmt.Errorf("%w: %s", ErrRejected, resp.StatusDescription)
	}
	return nil
}

func (c *Client) TaskStatus(ctx context.Context, taskName string) (TaskStatus, error) {
	var status TaskStatus
	path := "/CMDB/Benchmark/Tasks/" + url.PathEscape(taskName) + "/Status"
	if err := c.call(ctx, "task_status", http.MethodGet, path, nil, nil, &status); err != nil {
		return TaskStatus{}, err
	}
	return status, nil
}

// DeviceRawData returns the output of command as NetBrain last collected it
// from the device.
func (c *Client) DeviceRawData(ctx context.Context, ipAddress, command string) (string, error) {
	query := url.Values{}
	query.Set("IP", ipAddress)
	query.Set("dataType", constants.NetBrainRawDataType)
	query.Set("cmd", command)

	var resp struct {
		Content string `json:"content"`
	}
	if err := c.call(ctx, "device_raw_data", http.MethodGet, "/CMDB/Devices/DeviceRawData", query, nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskName string) error {
	var resp statusResponse
	path := "/CMDB/Benchmark/Tasks/" + url.PathEscape(taskName)
	if err := c.call(ctx, "delete_task", http.MethodDelete, path, nil, nil, &resp); err != nil {
		return err
	}
	if resp.StatusDescription != constants.NetBrainSuccess {
		return fmt.Errorf("%w: %s", ErrRejected, resp.StatusDescription)
	}
	return nil
}

// call runs an authenticated request with retries. A rejected token is
// dropped and the next attempt logs in again.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	return retry.RetryWithCallback(ctx, c.policy, func() error {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		return c.send(ctx, op, method, path, query, body, token, out)
	}, func(attempt int, err error, next time.Duration) {
		c.logger.WarnwCtx(ctx, "NetBrain request failed, retrying",
			"operation", op,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
}

func (c *Client) token(ctx context.Context) (string, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	// another caller may have logged in while we waited
	if token, err = c.tokens.Get(ctx); err != nil || token != "" {
		return token, err
	}
	return c.Login(ctx)
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body interface{}, token string, out interface{}) error {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.ObserveNetBrainRequest(op, outcome, time.Since(start))
	}()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return retry.NewFatalError(fmt.Errorf("failed to encode %s request: %w", op, err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("netbrain %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		outcome = "unauthorized"
		if err := c.tokens.Delete(ctx); err != nil {
			c.logger.WarnwCtx(ctx, "Failed to drop rejected NetBrain token", "error", err)
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	case resp.StatusCode == http.StatusNotFound:
		outcome = "not_found"
		return retry.NewFatalError(fmt.Errorf("%w: %s", ErrTaskNotFound, path))
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("netbrain %s returned status: %d", op, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		outcome = "rejected"
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.NewFatalError(fmt.Errorf("%w: %s returned status %d: %s", ErrRejected, op, resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	outcome = "ok"
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		outcome = "error"
		return retry.NewFatalError(fmt.Errorf("failed to decode %s response: %w", op, err))
	}
	return nil
}

// Package stackstorm sends alerts and benchmark results to StackStorm
// webhooks.
package stackstorm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"netbrain/internal/config"
	"netbrain/internal/constants"
	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
	"netbrain/pkg/retry"
)

const apiKeyParam = "st2-api-key"

type Alert struct {
	CID         string            `json:"cid"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Source      string            `json:"source"`
	Details     map[string]string `json:"details,omitempty"`
	Stage       messagebus.Stage  `json:"target_stage"`
}

// Result is posted as a comment on the support ticket that asked for the
// benchmark.
type Result struct {
	CID           string           `json:"-"`
	SupportTicket string           `json:"support_ticket"`
	Comment       string           `json:"comment"`
	TestName      string           `json:"testname"`
	Passed        bool             `json:"passed"`
	Stage         messagebus.Stage `json:"-"`
}

type Notifier interface {
	SendAlert(ctx context.Context, alert Alert) error
	NotifyResults(ctx context.Context, result Result) error
}

type Client struct {
	dev            config.StackstormInstance
	prod           config.StackstormInstance
	alertWebhook   string
	commentWebhook string
	policy         retry.Policy
	http           *http.Client
	logger         logger.Logger
}

func NewClient(cfg config.StackstormConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &Client{
		dev:            cfg.Dev,
		prod:           cfg.Prod,
		alertWebhook:   cfg.AlertWebhook,
		commentWebhook: cfg.CommentWebhook,
		policy:         retry.FromSettings(cfg.Retry),
		http: &http.Client{
			Timeout: timeout,
		},
		logger: log,
	}
}

func (c *Client) instance(stage messagebus.Stage) config.StackstormInstance {
	if stage == messagebus.StageProd || stage == "" {
		return c.prod
	}
	return c.dev
}

// SendAlert posts to the alert webhook of the instance serving alert.Stage.
func (c *Client) SendAlert(ctx context.Context, alert Alert) error {
	target := c.instance(alert.Stage)
	if alert.Source == "" {
		alert.Source = constants.ServiceName
	}
	return c.post(ctx, alert.CID, "alert", target.BaseURL+c.alertWebhook, target.APIKey, alert)
}

func (c *Client) NotifyResults(ctx context.Context, result Result) error {
	target := c.instance(result.Stage)
	return c.post(ctx, result.CID, "results", target.BaseURL+c.commentWebhook, target.CommentAPIKey, result)
}

func (c *Client) post(ctx context.Context, cid, kind, endpoint, apiKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	err = retry.RetryWithCallback(ctx, c.policy, func() error {
		return c.send(ctx, endpoint, apiKey, data)
	}, func(attempt int, err error, next time.Duration) {
		c.logger.WarnwCtx(ctx, "StackStorm request failed, retrying",
			"cid", cid,
			"kind", kind,
			"url", endpoint,
			"attempt", attempt,
			"error", err,
		)
	})
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send to StackStorm", "cid", cid, "kind", kind, "url", endpoint, "error", err)
		return err
	}

	c.logger.InfowCtx(ctx, "Sent to StackStorm", "cid", cid, "kind", kind, "url", endpoint)
	return nil
}

func (c *Client) send(ctx context.Context, endpoint, apiKey string, body []byte) error {
	target := endpoint
	if apiKey != "" {
		target += "?" + url.Values{apiKeyParam: []string{apiKey}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return retry.NewFatalError(fmt.Errorf("failed to create request for %s", endpoint))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// the request URL carries the api key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = endpoint
		}
		return fmt.Errorf("stackstorm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("stackstorm returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= http.StatusInternalServerError {
		return err
	}
	return retry.NewFatalError(err)
}

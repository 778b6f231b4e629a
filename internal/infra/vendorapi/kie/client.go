package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain/ports/adapter"
	"telegram-image-gen/internal/infra/metrics"
	"telegram-image-gen/internal/infra/vendorapi"
)

// Compile-time assurance this client satisfies the port
var _ adapter.VendorGateway = (*Client)(nil)

const (
	createMaxAttempts = 5
	statusMaxAttempts = 3

	createBackoffStart = 2 * time.Second
	createBackoffCap   = 30 * time.Second
	statusBackoffCap   = 15 * time.Second

	pollDelayStart = 2 * time.Second
	pollDelayStep  = 500 * time.Millisecond
	pollDelayCap   = 6 * time.Second

	downloadAttempts = 3
	downloadTimeout  = 120 * time.Second
)

// Client talks to the KIE jobs API (createTask / recordInfo).
// Authorization: Bearer <api key>. All create calls go through the shared
// pacer before touching the network.
type Client struct {
	createURL string
	statusURL string
	apiKey    string

	modelCreate    string
	modelEdit      string
	modelProCreate string
	modelProEdit   string
	outputFormat   string
	imageSize      string

	pacer  *vendor.Pacer
	client *http.Client
	log    *zerolog.Logger
}

func NewClient(cfg *config.VendorConfig, pacer *vendor.Pacer, log *zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("kie api key empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		createURL:      base + "/jobs/createTask",
		statusURL:      base + "/jobs/recordInfo",
		apiKey:         cfg.APIKey,
		modelCreate:    cfg.ModelCreate,
		modelEdit:      cfg.ModelEdit,
		modelProCreate: cfg.ModelProCreate,
		modelProEdit:   cfg.ModelProEdit,
		outputFormat:   cfg.OutputFormat,
		imageSize:      cfg.ImageSize,
		pacer:          pacer,
		client: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 90 * time.Second,
			},
		},
		log: log,
	}, nil
}

// modelFor picks the vendor model identifier for a tier, and for whether the
// job edits input images or creates from scratch.
func (c *Client) modelFor(tier string, hasImages bool) string {
	if tier == "pro" {
		if hasImages {
			return c.modelProEdit
		}
		return c.modelProCreate
	}
	if hasImages {
		return c.modelEdit
	}
	return c.modelCreate
}

type createRequest struct {
	Model       string      `json:"model"`
	Input       createInput `json:"input"`
	CallBackURL string      `json:"callBackUrl,omitempty"`
}

type createInput struct {
	Prompt       string   `json:"prompt"`
	OutputFormat string   `json:"output_format"`
	ImageSize    string   `json:"image_size"`
	ImageURLs    []string `json:"image_urls,omitempty"`
}

type createResponse struct {
	vendor.Envelope
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// CreateTask submits a generation job and returns the vendor task id.
// Up to 5 attempts with exponential backoff capped at 30s; 429s honor a
// numeric Retry-After; HTTP 200 bodies carrying rate-limit phrasing retry the
// same way; 5xx with the upstream edge fingerprint waits twice as long.
// Anything else non-success fails immediately as a bad request.
func (c *Client) CreateTask(ctx context.Context, p adapter.CreateTaskParams) (string, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return "", adapter.NewVendorError(adapter.ErrKindBadRequest, "prompt is empty")
	}
	if runes := []rune(prompt); len(runes) > 2000 {
		c.log.Warn().Int("original_len", len(runes)).Msg("kie create prompt truncated")
		prompt = string(runes[:2000])
	}

	imageURLs := p.ImageURLs
	if len(imageURLs) > 5 {
		imageURLs = imageURLs[:5]
	}

	outputFormat := p.OutputFormat
	if outputFormat == "" {
		outputFormat = c.outputFormat
	}
	imageSize := p.ImageSize
	if imageSize == "" {
		imageSize = c.imageSize
	}

	model := c.modelFor(p.Tier, len(imageURLs) > 0)
	reqBody := createRequest{
		Model: model,
		Input: createInput{
			Prompt:       prompt,
			OutputFormat: outputFormat,
			ImageSize:    imageSize,
			ImageURLs:    imageURLs,
		},
		CallBackURL: p.CallbackURL,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	c.log.Info().Str("model", model).Int("urls", len(imageURLs)).Int("prompt_len", len(prompt)).
		Msg("kie create request")

	if err := c.pacer.Acquire(ctx); err != nil {
		return "", err
	}

	started := time.Now()
	defer func() { metrics.ObserveVendorCall("create", time.Since(started).Seconds()) }()

	delay := createBackoffStart
	for attempt := 1; attempt <= createMaxAttempts; attempt++ {
		resp, err := c.post(ctx, c.createURL, payload)
		if err != nil {
			kind := adapter.ErrKindUnknown
			if isTimeout(err) {
				kind = adapter.ErrKindTimeout
			}
			metrics.IncVendorCall("create", "network_error")
			if attempt < createMaxAttempts {
				c.log.Warn().Err(err).Int("attempt", attempt).Msg("kie create network error")
				if err := sleep(ctx, delay); err != nil {
					return "", err
				}
				delay = nextDelay(delay, createBackoffCap)
				continue
			}
			return "", adapter.NewVendorError(kind, trim(err.Error(), 100))
		}

		body, env := readEnvelope(resp)

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp, delay)
			metrics.IncVendorCall("create", "http_429")
			c.log.Warn().Int("attempt", attempt).Dur("retry_after", wait).Msg("kie create http 429")
			if attempt < createMaxAttempts {
				if err := sleep(ctx, wait); err != nil {
					return "", err
				}
				delay = nextDelay(delay, createBackoffCap)
				continue
			}
			return "", adapter.NewVendorError(adapter.ErrKindRateLimited, "http 429")
		}

		if resp.StatusCode == http.StatusOK && vendor.IsSoftRateLimit(env) {
			metrics.IncVendorCall("create", "soft_rate_limit")
			c.log.Warn().Int("attempt", attempt).Str("msg", trim(env.Text(), 200)).
				Msg("kie create rate limit in body")
			if attempt < createMaxAttempts {
				if err := sleep(ctx, delay); err != nil {
					return "", err
				}
				delay = nextDelay(delay, createBackoffCap)
				continue
			}
			return "", adapter.NewVendorError(adapter.ErrKindRateLimited, trim(env.Text(), 200))
		}

		if resp.StatusCode >= 500 && resp.StatusCode < 600 {
			edge := vendor.IsUpstreamEdgeError(body)
			metrics.IncVendorCall("create", "http_5xx")
			c.log.Error().Int("status", resp.StatusCode).Bool("edge", edge).
				Str("body", trim(body, 400)).Int("attempt", attempt).Msg("kie create 5xx")
			if attempt < createMaxAttempts {
				wait := delay
				if edge {
					wait = delay * 2
				}
				if err := sleep(ctx, wait); err != nil {
					return "", err
				}
				delay = nextDelay(delay, createBackoffCap)
				continue
			}
			if edge {
				return "", adapter.NewVendorError(adapter.ErrKindServerUnavailable, "upstream edge error")
			}
			return "", adapter.NewVendorError(adapter.ErrKindServerUnavailable, fmt.Sprintf("http %d", resp.StatusCode))
		}

		if resp.StatusCode != http.StatusOK || env.Code != 200 {
			msg := env.Text()
			if msg == "" {
				msg = body
			}
			metrics.IncVendorCall("create", "bad_request")
			c.log.Error().Int("status", resp.StatusCode).Int("code", env.Code).
				Str("msg", trim(msg, 200)).Msg("kie create bad response")
			return "", adapter.NewVendorError(adapter.ErrKindBadRequest, trim(msg, 200))
		}

		var parsed createResponse
		if err := json.Unmarshal([]byte(body), &parsed); err != nil || parsed.Data.TaskID == "" {
			return "", adapter.NewVendorError(adapter.ErrKindUnknown, "no task id in response")
		}

		metrics.IncVendorCall("create", "ok")
		c.log.Info().Str("task_id", parsed.Data.TaskID).Str("model", model).
			Int("attempt", attempt).Msg("kie create ok")
		return parsed.Data.TaskID, nil
	}

	return "", adapter.NewVendorError(adapter.ErrKindRateLimited, "max retries exceeded")
}

type statusResponse struct {
	vendor.Envelope
	Data struct {
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailCode   string `json:"failCode"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

// GetStatus fetches a single status snapshot for a vendor task.
func (c *Client) GetStatus(ctx context.Context, vendorTaskID string) (*adapter.TaskResult, error) {
	delay := createBackoffStart
	for attempt := 1; attempt <= statusMaxAttempts; attempt++ {
		u := c.statusURL + "?taskId=" + url.QueryEscape(vendorTaskID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if attempt < statusMaxAttempts {
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
				delay = nextDelay(delay, statusBackoffCap)
				continue
			}
			return nil, adapter.NewVendorError(adapter.ErrKindUnknown, trim(err.Error(), 100))
		}

		body, env := readEnvelope(resp)

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp, delay)
			c.log.Warn().Str("task_id", vendorTaskID).Int("attempt", attempt).
				Dur("retry_after", wait).Msg("kie status http 429")
			if attempt < statusMaxAttempts {
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				delay = nextDelay(delay, statusBackoffCap)
				continue
			}
			return nil, adapter.NewVendorError(adapter.ErrKindRateLimited, "http 429")
		}

		if resp.StatusCode == http.StatusOK && vendor.IsSoftRateLimit(env) {
			if attempt < statusMaxAttempts {
				c.log.Warn().Str("task_id", vendorTaskID).Int("attempt", attempt).
					Msg("kie status rate limit in body")
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
				delay = nextDelay(delay, statusBackoffCap)
				continue
			}
			return nil, adapter.NewVendorError(adapter.ErrKindRateLimited, trim(env.Text(), 200))
		}

		if resp.StatusCode != http.StatusOK || env.Code != 200 {
			msg := env.Text()
			if msg == "" {
				msg = body
			}
			c.log.Error().Str("task_id", vendorTaskID).Int("status", resp.StatusCode).
				Int("code", env.Code).Str("msg", trim(msg, 200)).Msg("kie status bad response")
			return nil, adapter.NewVendorError(vendor.Classify(resp.StatusCode, env, body), trim(msg, 200))
		}

		var parsed statusResponse
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return nil, adapter.NewVendorError(adapter.ErrKindUnknown, "malformed status body")
		}

		result := &adapter.TaskResult{
			State:    strings.ToLower(parsed.Data.State),
			FailCode: parsed.Data.FailCode,
			FailMsg:  parsed.Data.FailMsg,
		}
		if result.State == "success" && parsed.Data.ResultJSON != "" {
			var rj struct {
				ResultURLs []string `json:"resultUrls"`
			}
			// Best effort; an unparsable resultJson leaves URLs empty.
			_ = json.Unmarshal([]byte(parsed.Data.ResultJSON), &rj)
			result.ResultURLs = rj.ResultURLs
		}

		c.log.Info().Str("task_id", vendorTaskID).Str("state", result.State).
			Int("n", len(result.ResultURLs)).Int("attempt", attempt).Msg("kie status ok")
		return result, nil
	}

	return nil, adapter.NewVendorError(adapter.ErrKindUnknown, "max retries exceeded")
}

// WaitUntilDone polls until the task reaches a terminal state or timeout
// elapses. This is the fallback path only; webhook delivery is primary.
func (c *Client) WaitUntilDone(ctx context.Context, vendorTaskID string, timeout time.Duration) (*adapter.TaskResult, error) {
	deadline := time.Now().Add(timeout)
	delay := pollDelayStart
	consecutiveRateLimits := 0

	for time.Now().Before(deadline) {
		res, err := c.GetStatus(ctx, vendorTaskID)
		if err != nil {
			if adapter.VendorErrorKind(err) == adapter.ErrKindRateLimited {
				consecutiveRateLimits++
				backoff := 5 * time.Second << consecutiveRateLimits
				if backoff > time.Minute {
					backoff = time.Minute
				}
				c.log.Warn().Str("task_id", vendorTaskID).Int("consecutive", consecutiveRateLimits).
					Dur("backoff", backoff).Msg("kie wait rate limited")
				if err := sleep(ctx, backoff); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		consecutiveRateLimits = 0
		if res.Terminal() {
			c.log.Info().Str("task_id", vendorTaskID).Str("final_state", res.State).Msg("kie done")
			return res, nil
		}

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay += pollDelayStep
		if delay > pollDelayCap {
			delay = pollDelayCap
		}
	}

	return nil, adapter.NewVendorError(adapter.ErrKindTimeout, "poll timeout")
}

// DownloadArtifact fetches a result URL into dir with the vendor bearer
// token, 3 attempts 2s apart.
func (c *Client) DownloadArtifact(ctx context.Context, vendorTaskID, rawURL, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	localPath := filepath.Join(dir, vendorTaskID+".png")

	started := time.Now()
	defer func() { metrics.ObserveVendorCall("download", time.Since(started).Seconds()) }()

	dl := &http.Client{Timeout: downloadTimeout}
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := dl.Do(req)
		if err == nil && resp.StatusCode >= 300 {
			err = fmt.Errorf("download http %d", resp.StatusCode)
			resp.Body.Close()
		}
		if err == nil {
			err = writeBody(localPath, resp.Body)
			resp.Body.Close()
		}
		if err == nil {
			metrics.IncVendorCall("download", "ok")
			c.log.Info().Str("task_id", vendorTaskID).Int("attempt", attempt).Msg("kie download ok")
			return localPath, nil
		}

		lastErr = err
		c.log.Warn().Str("task_id", vendorTaskID).Int("attempt", attempt).
			Str("error", trim(err.Error(), 200)).Msg("kie download retry")
		if attempt < downloadAttempts {
			if err := sleep(ctx, 2*time.Second); err != nil {
				return "", err
			}
		}
	}
	metrics.IncVendorCall("download", "network_error")
	return "", fmt.Errorf("download artifact: %w", lastErr)
}

// ---- helpers ----

func (c *Client) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.client.Do(req)
}

// readEnvelope drains the body and parses the common wrapper. A body that is
// not JSON yields an envelope with the raw status code.
func readEnvelope(resp *http.Response) (string, vendor.Envelope) {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	body := string(b)
	var env vendor.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		env = vendor.Envelope{Code: resp.StatusCode, Message: body}
	}
	return body, env
}

func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func nextDelay(d, cap time.Duration) time.Duration {
	d *= 2
	if d > cap {
		return cap
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func writeBody(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

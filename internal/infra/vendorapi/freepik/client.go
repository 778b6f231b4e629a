package freepik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain/ports/adapter"
)

var _ adapter.VendorGateway = (*Client)(nil)

// Client is the secondary image vendor. Auth goes in the x-freepik-api-key
// header; tasks are created with POST on the base URL and polled with
// GET base/{task_id}. Freepik accepts at most 3 reference images.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zerolog.Logger
}

func NewClient(cfg *config.FreepikConfig, log *zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("freepik api key empty")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}, nil
}

type createRequest struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	WebhookURL      string   `json:"webhook_url,omitempty"`
}

type taskData struct {
	TaskID    string   `json:"task_id"`
	Status    string   `json:"status"`
	Generated []string `json:"generated"`
}

type apiResponse struct {
	Data taskData `json:"data"`
}

func (c *Client) CreateTask(ctx context.Context, p adapter.CreateTaskParams) (string, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return "", adapter.NewVendorError(adapter.ErrKindBadRequest, "prompt is empty")
	}
	refs := p.ImageURLs
	if len(refs) > 3 {
		refs = refs[:3]
	}

	payload, err := json.Marshal(createRequest{
		Prompt:          prompt,
		ReferenceImages: refs,
		WebhookURL:      p.CallbackURL,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-freepik-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", adapter.NewVendorError(adapter.ErrKindUnknown, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", adapter.NewVendorError(adapter.ErrKindRateLimited, "http 429")
	}
	if resp.StatusCode >= 500 {
		return "", adapter.NewVendorError(adapter.ErrKindServerUnavailable, fmt.Sprintf("http %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", adapter.NewVendorError(adapter.ErrKindBadRequest, string(b))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Data.TaskID == "" {
		return "", adapter.NewVendorError(adapter.ErrKindUnknown, "no task id in response")
	}

	c.log.Info().Str("task_id", parsed.Data.TaskID).Msg("freepik create ok")
	return parsed.Data.TaskID, nil
}

func (c *Client) GetStatus(ctx context.Context, vendorTaskID string) (*adapter.TaskResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+vendorTaskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-freepik-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, adapter.NewVendorError(adapter.ErrKindUnknown, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, adapter.NewVendorError(adapter.ErrKindUnknown, fmt.Sprintf("http %d", resp.StatusCode))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, adapter.NewVendorError(adapter.ErrKindUnknown, "malformed status body")
	}

	// Freepik reports CREATED / IN_PROGRESS / COMPLETED / FAILED.
	res := &adapter.TaskResult{ResultURLs: parsed.Data.Generated}
	switch strings.ToUpper(parsed.Data.Status) {
	case "COMPLETED":
		res.State = "success"
	case "FAILED":
		res.State = "fail"
		res.FailMsg = "generation failed"
	default:
		res.State = "waiting"
	}
	return res, nil
}

func (c *Client) WaitUntilDone(ctx context.Context, vendorTaskID string, timeout time.Duration) (*adapter.TaskResult, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := c.GetStatus(ctx, vendorTaskID)
		if err != nil {
			return nil, err
		}
		if res.Terminal() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return nil, adapter.NewVendorError(adapter.ErrKindTimeout, "poll timeout")
}

func (c *Client) DownloadArtifact(ctx context.Context, vendorTaskID, rawURL, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	localPath := filepath.Join(dir, vendorTaskID+".png")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("download http %d", resp.StatusCode)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return localPath, nil
}

package kie

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain/ports/adapter"
	"telegram-image-gen/internal/infra/vendorapi"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log := zerolog.Nop()
	c, err := NewClient(&config.VendorConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		ModelCreate:    "google/nano-banana",
		ModelEdit:      "google/nano-banana-edit",
		ModelProCreate: "google/nano-banana-pro",
		ModelProEdit:   "google/nano-banana-pro-edit",
		OutputFormat:   "png",
		ImageSize:      "auto",
	}, vendor.NewPacer(1000), &log)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func TestCreateTask_Success(t *testing.T) {
	var gotBody createRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"code":200,"msg":"ok","data":{"taskId":"task-abc"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{
		Prompt:    "  a red fox  ",
		ImageURLs: []string{"https://public.example/proxy/image/a.png"},
		Tier:      "standard",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "task-abc" {
		t.Errorf("task id = %q, want task-abc", id)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody.Model != "google/nano-banana-edit" {
		t.Errorf("model = %q, want edit model when images attached", gotBody.Model)
	}
	if gotBody.Input.Prompt != "a red fox" {
		t.Errorf("prompt = %q, want trimmed", gotBody.Input.Prompt)
	}
}

func TestCreateTask_ModelSelection(t *testing.T) {
	cases := []struct {
		tier   string
		images int
		want   string
	}{
		{"standard", 0, "google/nano-banana"},
		{"standard", 2, "google/nano-banana-edit"},
		{"pro", 0, "google/nano-banana-pro"},
		{"pro", 1, "google/nano-banana-pro-edit"},
	}

	var gotModel atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body createRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel.Store(body.Model)
		fmt.Fprint(w, `{"code":200,"data":{"taskId":"t"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	for _, tc := range cases {
		urls := make([]string, tc.images)
		for i := range urls {
			urls[i] = "https://public.example/a.png"
		}
		if _, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{
			Prompt: "x", Tier: tc.tier, ImageURLs: urls,
		}); err != nil {
			t.Fatalf("%s/%d: %v", tc.tier, tc.images, err)
		}
		if got := gotModel.Load().(string); got != tc.want {
			t.Errorf("tier=%s images=%d: model = %q, want %q", tc.tier, tc.images, got, tc.want)
		}
	}
}

func TestCreateTask_RetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"code":200,"data":{"taskId":"task-retry"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	id, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{Prompt: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "task-retry" {
		t.Errorf("task id = %q", id)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestCreateTask_RetriesSoftRateLimit(t *testing.T) {
	// HTTP 200 with rate-limit phrasing in the body is a throttle in disguise.
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, `{"code":200,"msg":"your call frequency is too high, try again later"}`)
			return
		}
		fmt.Fprint(w, `{"code":200,"data":{"taskId":"task-soft"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	start := time.Now()
	id, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{Prompt: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "task-soft" {
		t.Errorf("task id = %q", id)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Errorf("elapsed = %v, want at least the first backoff delay", elapsed)
	}
}

func TestCreateTask_ExhaustsRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{Prompt: "x"})
	if adapter.VendorErrorKind(err) != adapter.ErrKindRateLimited {
		t.Fatalf("err = %v, want rate_limited", err)
	}
	if n := atomic.LoadInt32(&calls); n != createMaxAttempts {
		t.Errorf("calls = %d, want %d", n, createMaxAttempts)
	}
}

func TestCreateTask_TruncatesPromptByRunes(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body createRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPrompt = body.Input.Prompt
		fmt.Fprint(w, `{"code":200,"data":{"taskId":"t"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	prompt := strings.Repeat("ж", 2500)
	if _, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{Prompt: prompt}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := utf8.RuneCountInString(gotPrompt); got != 2000 {
		t.Errorf("prompt runes = %d, want 2000", got)
	}
	if !utf8.ValidString(gotPrompt) {
		t.Error("truncated prompt is not valid utf-8")
	}
}

func TestCreateTask_BadRequestFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"code":422,"msg":"prompt contains prohibited content"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{Prompt: "x"})
	if adapter.VendorErrorKind(err) != adapter.ErrKindBadRequest {
		t.Fatalf("err = %v, want bad_request", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry on rejection)", n)
	}
}

func TestCreateTask_EmptyPromptRejectedLocally(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:0")
	_, err := c.CreateTask(context.Background(), adapter.CreateTaskParams{Prompt: "   "})
	if adapter.VendorErrorKind(err) != adapter.ErrKindBadRequest {
		t.Fatalf("err = %v, want bad_request", err)
	}
}

func TestGetStatus_ParsesResultJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("taskId"); got != "task-abc" {
			t.Errorf("taskId query = %q", got)
		}
		fmt.Fprint(w, `{"code":200,"data":{"state":"SUCCESS","resultJson":"{\"resultUrls\":[\"https://cdn/img.png\"]}"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.GetStatus(context.Background(), "task-abc")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.State != "success" || !res.Terminal() {
		t.Errorf("state = %q, want terminal success", res.State)
	}
	if len(res.ResultURLs) != 1 || res.ResultURLs[0] != "https://cdn/img.png" {
		t.Errorf("result urls = %v", res.ResultURLs)
	}
}

func TestGetStatus_FailState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":{"state":"fail","failCode":"501","failMsg":"generation error"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.GetStatus(context.Background(), "task-abc")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.State != "fail" || res.FailCode != "501" || res.FailMsg != "generation error" {
		t.Errorf("res = %+v", res)
	}
}

func TestWaitUntilDone_PollsToTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			fmt.Fprint(w, `{"code":200,"data":{"state":"waiting"}}`)
			return
		}
		fmt.Fprint(w, `{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/x.png\"]}"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.WaitUntilDone(context.Background(), "task-abc", 30*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.State != "success" {
		t.Errorf("state = %q", res.State)
	}
	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("calls = %d, want >= 2", n)
	}
}

func TestDownloadArtifact(t *testing.T) {
	payload := []byte("fake png bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("download auth = %q", got)
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := testClient(t, srv.URL)
	path, err := c.DownloadArtifact(context.Background(), "task-abc", srv.URL+"/img.png", dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(got) != string(payload) {
		t.Error("artifact content mismatch")
	}
}

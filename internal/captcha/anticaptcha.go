package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"rccrawler/internal/logging"
)

const (
	AntiCaptchaBaseURL = "https://api.anti-captcha.com/"

	errNoSlotAvailable = "ERROR_NO_SLOT_AVAILABLE"
)

// ErrServiceUnavailable means anti-captcha answered with an HTTP error status
var ErrServiceUnavailable = errors.New("anti-captcha service is unavailable")

// APIError is an error reported in an anti-captcha response body
type APIError struct {
	ID          int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s - %d]: %s", e.Code, e.ID, e.Description)
}

type apiResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		Text string `json:"text"`
	} `json:"solution"`
}

type imageTask struct {
	Type string `json:"type"`
	Body string `json:"body"`
	Case bool   `json:"case"`
}

// AntiCaptchaSolver delegates recognition to human workers at anti-captcha.com
type AntiCaptchaSolver struct {
	ClientKey      string
	BaseURL        string
	HTTPClient     *http.Client
	CreateInterval time.Duration
	PollInterval   time.Duration
}

// NewAntiCaptchaSolver returns a solver using the service defaults
func NewAntiCaptchaSolver(clientKey string) *AntiCaptchaSolver {
	return &AntiCaptchaSolver{
		ClientKey:      clientKey,
		BaseURL:        AntiCaptchaBaseURL,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		CreateInterval: 10 * time.Second,
		PollInterval:   2500 * time.Millisecond,
	}
}

// Solve submits img and waits for the answer
func (s *AntiCaptchaSolver) Solve(ctx context.Context, img []byte) (string, error) {
	if _, err := DecodeImage(img); err != nil {
		return "", err
	}
	taskID, err := s.CreateTask(ctx, base64.StdEncoding.EncodeToString(img))
	if err != nil {
		return "", err
	}
	logging.For("anti_captcha").Debug("submitted task to anti-captcha.com", "task_id", taskID)
	return s.TaskResult(ctx, taskID)
}

// CreateTask submits a base64 image, retrying while the service has no free
// worker slot.
func (s *AntiCaptchaSolver) CreateTask(ctx context.Context, body string) (int64, error) {
	payload := map[string]any{
		"clientKey": s.ClientKey,
		"task":      imageTask{Type: "ImageToTextTask", Body: body, Case: true},
	}
	for {
		res, err := s.request(ctx, "createTask", payload)
		if err == nil {
			return res.TaskID, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != errNoSlotAvailable {
			return 0, err
		}
		logging.For("anti_captcha").Warn("no slot available, retrying", "error", err)
		if err := sleep(ctx, s.CreateInterval); err != nil {
			return 0, err
		}
	}
}

// TaskResult polls until the task is ready
func (s *AntiCaptchaSolver) TaskResult(ctx context.Context, taskID int64) (string, error) {
	payload := map[string]any{
		"clientKey": s.ClientKey,
		"taskId":    taskID,
	}
	for {
		res, err := s.request(ctx, "getTaskResult", payload)
		if err != nil {
			return "", err
		}
		if res.Status == "ready" {
			return res.Solution.Text, nil
		}
		if err := sleep(ctx, s.PollInterval); err != nil {
			return "", err
		}
	}
}

func (s *AntiCaptchaSolver) request(ctx context.Context, endpoint string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	url := strings.TrimSuffix(s.BaseURL, "/") + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var res apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if res.ErrorID != 0 {
		logging.For("anti_captcha").Error("api error", "url", url)
		return nil, &APIError{ID: res.ErrorID, Code: res.ErrorCode, Description: res.ErrorDescription}
	}
	return &res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

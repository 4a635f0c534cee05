// Package client talks to a running meetrec API.
package client

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

	"github.com/povchingiz/google-meet-recording/internal/model"
)

type StartRequest struct {
	MeetingURL      string  `json:"meeting_url"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	UploadToDrive   *bool   `json:"upload_to_drive,omitempty"`
	FolderName      *string `json:"folder_name,omitempty"`
}

type StartResponse struct {
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	MeetingURL      string `json:"meeting_url"`
	DurationMinutes int    `json:"duration_minutes"`
}

type Status struct {
	SessionID     string  `json:"session_id" yaml:"session_id"`
	Status        string  `json:"status" yaml:"status"`
	RecordingFile *string `json:"recording_file" yaml:"recording_file"`
	DriveLink     *string `json:"drive_link" yaml:"drive_link"`
	ErrorMessage  *string `json:"error_message" yaml:"error_message"`
	CreatedAt     string  `json:"created_at" yaml:"created_at"`
	UpdatedAt     string  `json:"updated_at" yaml:"updated_at"`
}

func (s Status) Terminal() bool {
	return model.SessionStatus(s.Status).Terminal()
}

type Info struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (%d %s, request %s)", e.Message, e.StatusCode, e.Code, e.RequestID)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	err := c.do(ctx, http.MethodGet, "/", nil, &out)
	return out, err
}

func (c *Client) StartRecording(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPost, "/start-recording", req, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) List(ctx context.Context) ([]model.Session, error) {
	var out struct {
		Sessions []model.Session `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &out)
	return out.Sessions, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// Wait polls the session until it reaches a terminal status. onChange, if
// set, sees every status change including the first observation.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onChange func(Status)) (Status, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := ""
	for {
		st, err := c.Status(ctx, id)
		if err != nil {
			return Status{}, err
		}
		if st.Status != last {
			last = st.Status
			if onChange != nil {
				onChange(st)
			}
		}
		if st.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "http_error", Message: resp.Status}
		var payload struct {
			Error struct {
				Code      string `json:"code"`
				Message   string `json:"message"`
				RequestID string `json:"request_id"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil && payload.Error.Code != "" {
			apiErr.Code = payload.Error.Code
			apiErr.Message = payload.Error.Message
			apiErr.RequestID = payload.Error.RequestID
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"whatif-backend/internal/model"
)

// DefaultBaseURL 本地模拟引擎地址
const DefaultBaseURL = "http://127.0.0.1:8000"

// TransportError covers network failures and non-2xx answers from the engine.
// StatusCode is 0 when no response was received.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return "Request failed: " + e.Err.Error()
	}
	return fmt.Sprintf("Request failed: %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError 响应无法解析为 SimulationResponse
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return "malformed engine response: " + e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// Client talks to the simulation engine. It keeps no per-call state, applies no
// timeout of its own and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建引擎客户端；httpClient 为 nil 时使用不带超时的默认客户端
func New(baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// BaseURL returns the engine address requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SeedDemoData asks the engine to populate its demo data. The response body is
// not interpreted.
func (c *Client) SeedDemoData(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/demo/seed", nil)
	return err
}

// Submit 提交模拟请求并解析响应
func (c *Client) Submit(ctx context.Context, req model.SimulationRequest) (*model.SimulationResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode simulation request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/simulate", payload)
	if err != nil {
		return nil, err
	}

	var resp model.SimulationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	return &resp, nil
}

// Health checks that the engine answers on /health.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Package client is a ledger.Store backed by the ledger HTTP API.
package client

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
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

var (
	_ ledger.Store  = (*Client)(nil)
	_ ledger.Pinger = (*Client)(nil)
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 4 << 20

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *log.Logger
}

// transactionRequest is the body of POST and PUT requests. Date is omitted
// when zero so that an update keeps the stored date.
type transactionRequest struct {
	Title    string `json:"title"`
	Amount   string `json:"amount"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Date     string `json:"date,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// New returns a client for the API at baseURL, for example
// http://127.0.0.1:8081. A nil httpClient gets one with the given timeout.
func New(baseURL string, timeout time.Duration, httpClient *http.Client, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid ledger API URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = newHTTPClient(timeout)
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		logger:     logger.WithComponent(log.ComponentClient),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}),
	}
}

func (c *Client) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	var out core.Transaction
	if err := c.do(ctx, http.MethodPost, "/api/transactions", nil, toRequest(t), &out); err != nil {
		return core.Transaction{}, c.classify(log.OpCreate, "", err)
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, id string, t core.Transaction) (core.Transaction, error) {
	var out core.Transaction
	if err := c.do(ctx, http.MethodPut, transactionPath(id), nil, toRequest(t), &out); err != nil {
		return core.Transaction{}, c.classify(log.OpUpdate, id, err)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, transactionPath(id), nil, nil, nil); err != nil {
		return c.classify(log.OpDelete, id, err)
	}
	return nil
}

func (c *Client) Query(ctx context.Context, p core.Period) ([]core.Transaction, error) {
	q := url.Values{}
	if !p.IsAllTime() {
		q.Set("month", p.String())
	}
	var out []core.Transaction
	if err := c.do(ctx, http.MethodGet, "/api/transactions", q, nil, &out); err != nil {
		return nil, c.classify(log.OpList, "", err)
	}
	if out == nil {
		out = []core.Transaction{}
	}
	return out, nil
}

// Ping checks the server's readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/readyz", nil, nil, nil); err != nil {
		return fmt.Errorf("ledger API not ready: %w", err)
	}
	return nil
}

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   errorResponse
}

func (e *statusError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body.Error)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Ledger API call",
		log.FieldMethod, method,
		log.FieldPath, path,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &statusError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &se.Body)
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify maps transport and status failures onto the core error types.
func (c *Client) classify(op, id string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var se *statusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusNotFound:
			return &core.NotFoundError{ID: id}
		case http.StatusUnprocessableEntity:
			field, reason := se.Body.Field, se.Body.Reason
			if field == "" {
				field = "request"
			}
			if reason == "" {
				reason = se.Body.Error
			}
			return &core.ValidationError{Field: field, Reason: reason}
		}
	}
	return &core.StoreError{Op: op, Cause: err}
}

func transactionPath(id string) string {
	return "/api/transactions/" + url.PathEscape(id)
}

func toRequest(t core.Transaction) transactionRequest {
	req := transactionRequest{
		Title:    t.Title,
		Amount:   t.Amount.String(),
		Type:     string(t.Type),
		Category: t.Category,
	}
	if !t.Date.IsZero() {
		req.Date = t.Date.UTC().Format(time.RFC3339Nano)
	}
	return req
}

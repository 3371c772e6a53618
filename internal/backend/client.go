package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grocery-pos-terminal/internal/model"

	"github.com/rs/zerolog/log"
)

var ErrUnreachable = errors.New("backend unreachable")

// APIError is a non-success envelope. Message is the backend's localized text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Message returns the backend's own message for err, or fallback when there is none.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// Client talks to the remote POS backend. Every response is wrapped in
// {status, response}.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := c.do(ctx, http.MethodGet, "products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) CreatePayment(ctx context.Context, req model.CreatePaymentRequest) (*model.CreatePaymentResponse, error) {
	var out model.CreatePaymentResponse
	if err := c.do(ctx, http.MethodPost, "payments/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelPayment(ctx context.Context, orderCode int64) error {
	return c.do(ctx, http.MethodDelete, "payments/"+strconv.FormatInt(orderCode, 10), nil, nil)
}

func (c *Client) CashPayment(ctx context.Context, req model.CashPaymentRequest) (*model.SaleReceipt, error) {
	var out model.SaleReceipt
	if err := c.do(ctx, http.MethodPost, "sell/cash-payment", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCustomer(ctx context.Context, req model.CreateCustomerRequest) (*model.Customer, error) {
	var out model.Customer
	if err := c.do(ctx, http.MethodPost, "debit/create/customer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDebit(ctx context.Context, req model.CreateDebitRequest) (*model.Debit, error) {
	var out model.Debit
	if err := c.do(ctx, http.MethodPost, "debit/create/debit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("backend: marshal %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, body)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("backend call")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend: read %s: %w", path, err)
	}

	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("backend: decode envelope of %s: %w", path, err)
	}

	if env.Status != model.EnvelopeSuccess || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Message: extractMessage(env.Response)}
	}

	if out == nil || len(env.Response) == 0 || string(env.Response) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

// extractMessage reads the error text from a failure envelope, which is either
// a bare string or an object carrying message or error.
func extractMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Error
	}
	return ""
}

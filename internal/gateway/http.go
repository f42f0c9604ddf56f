package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"checkout-service/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// HTTPClient talks to a REST payment gateway exposing /v1/payment_intents.
// Calls are guarded by a circuit breaker that only trips on transient failures.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Intent]
	logger  *zap.Logger
}

// NewHTTPClient creates a gateway client for baseURL
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	logger := util.ComponentLogger("gateway")
	breaker := gobreaker.NewCircuitBreaker[*Intent](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type createIntentBody struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type confirmIntentBody struct {
	PaymentMethod string `json:"payment_method"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	body := createIntentBody{
		Amount:      params.Amount,
		Currency:    params.Currency,
		Description: params.Description,
		Metadata:    params.Metadata,
	}
	return c.do(ctx, "create", http.MethodPost, "/v1/payment_intents", body, params.IdempotencyKey)
}

func (c *HTTPClient) ConfirmIntent(ctx context.Context, id, paymentMethod string) (*Intent, error) {
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", url.PathEscape(id))
	return c.do(ctx, "confirm", http.MethodPost, path, confirmIntentBody{PaymentMethod: paymentMethod}, "")
}

func (c *HTTPClient) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	path := fmt.Sprintf("/v1/payment_intents/%s", url.PathEscape(id))
	return c.do(ctx, "retrieve", http.MethodGet, path, nil, "")
}

func (c *HTTPClient) CancelIntent(ctx context.Context, id string) (*Intent, error) {
	path := fmt.Sprintf("/v1/payment_intents/%s/cancel", url.PathEscape(id))
	return c.do(ctx, "cancel", http.MethodPost, path, nil, "")
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body interface{}, idempotencyKey string) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "Gateway."+op)
	start := time.Now()

	intent, err := c.breaker.Execute(func() (*Intent, error) {
		return c.roundTrip(ctx, op, method, path, body, idempotencyKey)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Op: op, Message: "gateway unavailable: " + err.Error(), Transient: true, Err: err}
	}

	util.GatewayRequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues(op, errorKind(err)).Inc()
	}
	util.EndSpan(span, err)
	return intent, err
}

func (c *HTTPClient) roundTrip(ctx context.Context, op, method, path string, body interface{}, idempotencyKey string) (*Intent, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Message: err.Error(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Message: "failed to read response: " + err.Error(), Transient: true, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var intent Intent
		if err := json.Unmarshal(data, &intent); err != nil {
			return nil, &Error{Op: op, Code: "invalid_response", Message: err.Error()}
		}
		return &intent, nil
	}

	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrIntentNotFound
	}

	gwErr := &Error{
		Op:        op,
		Code:      eb.Error.Code,
		Message:   eb.Error.Message,
		Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
	if gwErr.Message == "" {
		gwErr.Message = http.StatusText(resp.StatusCode)
	}
	return nil, gwErr
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrIntentNotFound):
		return "not_found"
	case IsTransient(err):
		return "transient"
	default:
		return "rejected"
	}
}

// Package gateway talks to the hosted payment gateway: it creates payment
// intents ("gateway orders") and verifies the signature returned to the
// client after checkout.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Intent is the gateway's view of a payment intent
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		timeout:   timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: util.GetLogger(),
	}
}

// KeyID is the public key the hosted checkout is opened with
func (c *Client) KeyID() string {
	return c.keyID
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateOrder registers a payment intent for amountMinor (paise). A call that
// does not complete in time returns GatewayTimeoutError; any other failure
// returns GatewayError.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Intent, error) {
	const op = "create_order"
	ctx, span := util.StartSpan(ctx, "Gateway.CreateOrder")
	defer span.End()

	if amountMinor <= 0 {
		return nil, apperr.Validation("amount", "must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(createOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, &apperr.GatewayError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, &apperr.GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	util.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(ctx, err) {
			util.GatewayErrorsTotal.WithLabelValues(op, "timeout").Inc()
			return nil, &apperr.GatewayTimeoutError{Op: op, Err: err}
		}
		util.GatewayErrorsTotal.WithLabelValues(op, "transport").Inc()
		return nil, &apperr.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			util.GatewayErrorsTotal.WithLabelValues(op, "timeout").Inc()
			return nil, &apperr.GatewayTimeoutError{Op: op, Err: err}
		}
		return nil, &apperr.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.GatewayErrorsTotal.WithLabelValues(op, "status").Inc()
		c.logger.Warn("Gateway rejected order creation",
			zap.Int("status", resp.StatusCode),
			zap.String("receipt", receipt))
		return nil, &apperr.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(truncate(string(payload), 200))}
	}

	var intent Intent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return nil, &apperr.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if intent.ID == "" {
		return nil, &apperr.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("response carried no order id")}
	}
	return &intent, nil
}

// VerifyPaymentSignature checks a callback against the key secret
func (c *Client) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return VerifySignature(c.keySecret, gatewayOrderID, gatewayPaymentID, signature)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client sends text messages through the SMS provider's HTTP API
type Client struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, sender string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// Send delivers body to an E.164 phone number
func (c *Client) Send(ctx context.Context, phone, body string) error {
	payload, err := json.Marshal(sendRequest{To: phone, From: c.sender, Body: body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

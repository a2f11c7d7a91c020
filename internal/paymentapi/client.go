package paymentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type Client struct {
	StoreURL   string
	PaymentURL string
	SignupURL  string
	client     *http.Client
}

func NewClient(storeURL, paymentURL, signupURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		StoreURL:   strings.TrimRight(storeURL, "/"),
		PaymentURL: strings.TrimRight(paymentURL, "/"),
		SignupURL:  signupURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) LookupStore(ctx context.Context, storeID string) (StoreProfile, error) {
	var profile StoreProfile

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/stores/%s", c.StoreURL, url.PathEscape(storeID)), nil)
	if err != nil {
		return profile, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return profile, err
	}

	// Some deployments wrap the profile in {"data": {...}}.
	raw := gjson.ParseBytes(body)
	if data := raw.Get("data"); data.IsObject() {
		raw = data
	}
	if !raw.IsObject() {
		return profile, &APIError{Kind: KindDecode, Message: "store profile is not a JSON object"}
	}
	if err := json.Unmarshal([]byte(raw.Raw), &profile); err != nil {
		return profile, &APIError{Kind: KindDecode, Message: "invalid store profile", Err: err}
	}
	return profile, nil
}

func (c *Client) Signup(ctx context.Context, in SignupRequest) error {
	req, err := c.jsonRequest(ctx, c.SignupURL, in)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) VerifyPayment(ctx context.Context, storeID string, in VerificationRequest) error {
	endpoint := fmt.Sprintf("%s/stores/%s/external_store_payments", c.PaymentURL, url.PathEscape(storeID))
	req, err := c.jsonRequest(ctx, endpoint, in)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) jsonRequest(ctx context.Context, endpoint string, body any) (*http.Request, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Kind: KindStatus, Status: resp.StatusCode, Message: ErrorMessage(resp.StatusCode, body)}
	}
	return body, nil
}

// ErrorMessage picks the human-readable message out of an error body: the
// "message" field, then "error", then the raw body, then the status text.
func ErrorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		for _, field := range []string{"message", "error"} {
			if v := res.Get(field); v.Exists() && v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
		if v := res.Get("error.message"); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	if raw := strings.TrimSpace(string(body)); raw != "" {
		return raw
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", status)
}

package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
)

type Contact struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Street        string
	City          string
	State         string
	PostalCode    string
	Country       string
	TrxnHash      string
	WalletAddress string
	Status        Status
}

type Notifier interface {
	Push(ctx context.Context, c Contact) error
}

type contactPayload struct {
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Phone       string            `json:"phone"`
	Address1    string            `json:"address1"`
	City        string            `json:"city"`
	State       string            `json:"state"`
	PostalCode  string            `json:"postalCode"`
	Country     string            `json:"country"`
	Tags        []string          `json:"tags"`
	CustomField map[string]string `json:"customField"`
}

type apiError struct {
	Message string `json:"message"`
}

type GoHighLevel struct {
	client  *resty.Client
	limiter *rate.Limiter
}

type Option func(*GoHighLevel)

// WithRetryWait sets the first retry delay. Later retries double it.
func WithRetryWait(d time.Duration) Option {
	return func(g *GoHighLevel) {
		g.client.SetRetryWaitTime(d).SetRetryMaxWaitTime(d * 8)
	}
}

// WithRateLimit caps outgoing pushes per second.
func WithRateLimit(perSecond float64) Option {
	return func(g *GoHighLevel) {
		if perSecond <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func NewGoHighLevel(baseURL, apiKey string, opts ...Option) *GoHighLevel {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		})

	g := &GoHighLevel{client: client, limiter: rate.NewLimiter(rate.Limit(5), 1)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GoHighLevel) Push(ctx context.Context, c Contact) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	status := c.Status
	if status == "" {
		status = StatusIncomplete
	}
	payload := contactPayload{
		Email:      c.Email,
		Name:       strings.TrimSpace(c.FirstName + " " + c.LastName),
		Phone:      c.Phone,
		Address1:   c.Street,
		City:       c.City,
		State:      c.State,
		PostalCode: c.PostalCode,
		Country:    c.Country,
		Tags:       []string{string(status)},
		CustomField: map[string]string{
			"trxn_hash":      c.TrxnHash,
			"wallet_address": c.WalletAddress,
			"payment_status": string(status),
		},
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetError(&apiError{}).
		Post("/contacts/")
	if err != nil {
		return fmt.Errorf("gohighlevel push failed: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return errors.New("rate limit exceeded after multiple retries")
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
			return errors.New(e.Message)
		}
		return fmt.Errorf("Error %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.paystack.co"

type Config struct {
	SecretKey string
	// BaseURL must be https outside of tests.
	BaseURL     string
	CallbackURL string
	Client      *http.Client
	Logger      *slog.Logger
}

// Client talks to the Paystack transaction API.
type Client struct {
	secret      string
	baseURL     *url.URL
	callbackURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		secret:      cfg.SecretKey,
		baseURL:     u,
		callbackURL: cfg.CallbackURL,
		httpClient:  client,
		logger:      logger,
	}
	logger.Info("Paystack initialized",
		"baseURL", safeURL(u),
		"tls", u.Scheme == "https",
		"callbackURL_set", c.callbackURL != "",
	)
	return c, nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeRequest opens a checkout session. Amount is in kobo.
type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	Metadata    map[string]any
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"reference": req.Reference,
	}
	if c.callbackURL != "" {
		body["callback_url"] = c.callbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out InitializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return InitializeResponse{}, err
	}
	if strings.TrimSpace(out.AuthorizationURL) == "" {
		return InitializeResponse{}, errors.New("paystack: empty authorization_url")
	}
	return out, nil
}

// Gateway transaction statuses as reported by verify.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusReversed   = "reversed"
	StatusAbandoned  = "abandoned"
	StatusOngoing    = "ongoing"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusQueued     = "queued"
)

type Verification struct {
	Reference       string     `json:"reference"`
	Status          string     `json:"status"`
	AmountMinor     int64      `json:"amount"`
	Currency        string     `json:"currency"`
	GatewayResponse string     `json:"gateway_response"`
	PaidAt          *time.Time `json:"paid_at"`
}

func (v Verification) Succeeded() bool { return strings.EqualFold(v.Status, StatusSuccess) }

// Failed is true only for outcomes the gateway will not change any more.
func (v Verification) Failed() bool {
	switch strings.ToLower(v.Status) {
	case StatusFailed, StatusReversed:
		return true
	}
	return false
}

func (c *Client) Verify(ctx context.Context, reference string) (Verification, error) {
	var out Verification
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return Verification{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, p string, body any, dst any) error {
	logger := c.logger.With("op", method+" "+p)

	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, p)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paystack request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	logger.Debug("paystack raw", "status", resp.Status, "body", trim(string(b), 2000))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode paystack response: %w", err)
	}
	if !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: env.Message}
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("decode paystack data: %w", err)
	}
	return nil
}

func trim(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func safeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	return c.String()
}

type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("paystack error: %s", e.Status)
	}
	return fmt.Sprintf("paystack error: %s: %s", e.Status, bt)
}

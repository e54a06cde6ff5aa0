package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL      = "https://api.telegram.org"
	DefaultMinInterval = 50 * time.Millisecond
)

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: code=%d, description=%s", e.Method, e.Code, e.Description)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Client talks to the Bot API. Every call waits on one shared limiter so
// consecutive calls are at least minInterval apart.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

type Option func(*Client)

func WithAPIURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultAPIURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) error {
	return c.call(ctx, "sendMessage", msg)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{
		"callback_query_id": callbackID,
		"text":              text,
	})
}

func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", payload)
}

func (c *Client) call(ctx context.Context, method string, payload interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &APIError{Method: method, Code: resp.StatusCode, Description: "malformed response"}
	}
	if !out.OK {
		return &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
	}

	c.log.Debug().Str("method", method).Dur("took", time.Since(start)).Msg("telegram call")
	return nil
}
